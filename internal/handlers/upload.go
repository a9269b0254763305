package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/Ash564738/DoctorAppointment-sub003/internal/models"
	"github.com/Ash564738/DoctorAppointment-sub003/internal/services"
	apperrors "github.com/Ash564738/DoctorAppointment-sub003/pkg/errors"
	"github.com/Ash564738/DoctorAppointment-sub003/pkg/logger"
	"github.com/Ash564738/DoctorAppointment-sub003/pkg/utils"
	"github.com/gin-gonic/gin"
)

const multipartOverhead = 1 << 20

// UploadAttachment accepts one multipart file and posts it to the room as a file/image message
func (h *ChatHandler) UploadAttachment(c *gin.Context) {
	userID, role := currentUser(c)

	// Refuse strangers and closed rooms before reading any of the body
	room, err := h.Rooms.GetRoomFor(c.Request.Context(), c.Param("roomId"), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	if room.Status != models.RoomActive {
		respondError(c, services.ErrRoomNotActive)
		return
	}

	// Leave room for multipart framing on top of the file itself
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, services.MaxUploadBytes+multipartOverhead)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.Error(apperrors.BadRequest("file exceeds the upload size limit"))
		} else {
			c.Error(apperrors.BadRequest("No file provided"))
		}
		c.Abort()
		return
	}
	defer file.Close()

	msg, err := h.Coordinator.UploadAttachment(c.Request.Context(), services.UploadInput{
		RoomID:     room.ID,
		SenderID:   userID,
		SenderRole: role,
		FileName:   header.Filename,
		MimeType:   header.Header.Get("Content-Type"),
		Size:       header.Size,
		Body:       file,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":    msg,
		"attachment": msg.Attachment,
	})
}

// DownloadAttachment streams an attachment to one of its room's participants
func (h *ChatHandler) DownloadAttachment(c *gin.Context) {
	userID, _ := currentUser(c)

	attachmentID := c.Param("attachmentId")
	if !utils.IsUUID(attachmentID) {
		c.Error(apperrors.NotFound("not found"))
		c.Abort()
		return
	}

	att, body, err := h.Coordinator.OpenAttachment(c.Request.Context(), attachmentID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	defer body.Close()

	disposition := "attachment"
	if att.IsImage {
		disposition = "inline"
	}

	c.Header("Content-Type", att.MimeType)
	c.Header("Content-Length", fmt.Sprintf("%d", att.Size))
	c.Header("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": att.OriginalName}))
	c.Header("X-Content-Type-Options", "nosniff")
	c.Status(http.StatusOK)

	if _, err := io.Copy(c.Writer, body); err != nil {
		logger.Warn().Err(err).Str("attachment_id", att.ID).Msg("Attachment download interrupted")
	}
}
