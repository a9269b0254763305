package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/Ash564738/DoctorAppointment-sub003/internal/metrics"
	"github.com/Ash564738/DoctorAppointment-sub003/internal/models"
	"github.com/Ash564738/DoctorAppointment-sub003/pkg/logger"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// UploadInput is one multipart file posted to a room
type UploadInput struct {
	RoomID     string
	SenderID   string
	SenderRole models.Role
	FileName   string
	MimeType   string
	Size       int64
	Body       io.Reader
}

// AttachmentURL is the client-facing download path of an attachment
func AttachmentURL(attachmentID string) string {
	return fmt.Sprintf("/api/chat/attachments/%s/download", attachmentID)
}

// UploadAttachment stores a file and appends the file/image message that
// carries it. The bytes are written before the transaction; if the message
// cannot be committed the stored object is removed again.
func (c *Coordinator) UploadAttachment(ctx context.Context, in UploadInput) (*models.Message, error) {
	room, err := c.rooms.GetRoomFor(ctx, in.RoomID, in.SenderID)
	if err != nil {
		metrics.SendFailures.WithLabelValues(failureLabel(err)).Inc()
		return nil, err
	}
	if room.Status != models.RoomActive {
		metrics.SendFailures.WithLabelValues("closed").Inc()
		return nil, ErrRoomNotActive
	}

	mimeType, err := ValidateUpload(in.FileName, in.MimeType, in.Size, c.maxUpload)
	if err != nil {
		metrics.SendFailures.WithLabelValues("invalid").Inc()
		return nil, err
	}
	if c.blobs == nil {
		return nil, storage(errors.New("no blob store configured"))
	}

	// Read one byte past the limit so a lying Content-Length is still caught
	data, err := io.ReadAll(io.LimitReader(in.Body, c.maxUpload+1))
	if err != nil {
		return nil, invalid("failed to read upload")
	}
	if int64(len(data)) > c.maxUpload {
		metrics.SendFailures.WithLabelValues("invalid").Inc()
		return nil, invalid("file exceeds the upload size limit")
	}
	if len(data) == 0 {
		return nil, invalid("file is empty")
	}

	ext := strings.ToLower(filepath.Ext(in.FileName))
	storedName := ulid.Make().String() + ext

	putCtx := context.WithoutCancel(ctx)
	if err := c.blobs.Put(putCtx, storedName, data, mimeType); err != nil {
		logger.Error().Err(err).Str("room_id", room.ID).Msg("Attachment write failed")
		return nil, storage(err)
	}

	isImage := strings.HasPrefix(mimeType, "image/")
	kind := models.KindFile
	if isImage {
		kind = models.KindImage
	}

	msg := &models.Message{
		ID:         uuid.New().String(),
		RoomID:     room.ID,
		SenderID:   in.SenderID,
		SenderRole: in.SenderRole,
		Kind:       kind,
	}
	att := &models.Attachment{
		ID:           uuid.New().String(),
		MessageID:    msg.ID,
		RoomID:       room.ID,
		UploaderID:   in.SenderID,
		StoredName:   storedName,
		OriginalName: CleanFileName(in.FileName),
		Size:         int64(len(data)),
		MimeType:     mimeType,
		IsImage:      isImage,
	}
	att.URL = AttachmentURL(att.ID)
	msg.AttachmentID = &att.ID

	err = c.appendMessage(putCtx, room.ID, in.SenderID, msg, func(tx *gorm.DB) error {
		att.CreatedAt = msg.CreatedAt
		return tx.Create(att).Error
	})
	if err != nil {
		if delErr := c.blobs.Delete(putCtx, storedName); delErr != nil && !errors.Is(delErr, ErrBlobNotFound) {
			logger.Warn().Err(delErr).Str("stored_name", storedName).Msg("Failed to remove orphaned attachment")
		}
		metrics.SendFailures.WithLabelValues(failureLabel(err)).Inc()
		return nil, err
	}
	msg.Attachment = att

	metrics.AttachmentsUploaded.WithLabelValues(string(kind)).Inc()
	metrics.AttachmentBytes.Add(float64(att.Size))
	metrics.MessagesSent.WithLabelValues(string(kind)).Inc()
	logger.Info().
		Str("room_id", room.ID).
		Str("attachment_id", att.ID).
		Int64("size", att.Size).
		Str("mime", mimeType).
		Msg("Attachment uploaded")

	c.broadcast(room.ID, EventNewMessage, NewMessageEvent{Message: msg, RoomID: room.ID})
	return msg, nil
}

// OpenAttachment checks that userID belongs to the attachment's room and
// returns its metadata with a reader over the stored bytes.
// The caller closes the reader.
func (c *Coordinator) OpenAttachment(ctx context.Context, attachmentID, userID string) (*models.Attachment, io.ReadCloser, error) {
	att, err := c.store.GetAttachment(ctx, attachmentID)
	if err != nil {
		return nil, nil, err
	}
	if _, err := c.rooms.GetRoomFor(ctx, att.RoomID, userID); err != nil {
		return nil, nil, err
	}
	if c.blobs == nil {
		return nil, nil, storage(errors.New("no blob store configured"))
	}

	rc, err := c.blobs.Open(ctx, att.StoredName)
	if errors.Is(err, ErrBlobNotFound) {
		logger.Warn().Str("attachment_id", att.ID).Msg("Attachment metadata without stored bytes")
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, storage(err)
	}

	if err := c.db.WithContext(ctx).Model(&models.Attachment{}).Where("id = ?", att.ID).
		UpdateColumn("download_count", gorm.Expr("download_count + 1")).Error; err != nil {
		logger.Warn().Err(err).Str("attachment_id", att.ID).Msg("Failed to bump download count")
	}
	metrics.AttachmentDownloads.Inc()
	return att, rc, nil
}

// AnnounceAttachment re-broadcasts the message that carries an existing
// attachment. Nothing is persisted and no counter moves.
func (c *Coordinator) AnnounceAttachment(ctx context.Context, roomID, userID, attachmentID string) (*models.Message, error) {
	room, err := c.rooms.GetRoomFor(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	att, err := c.store.GetAttachment(ctx, attachmentID)
	if err != nil {
		return nil, err
	}
	if att.RoomID != room.ID {
		return nil, invalid("attachment belongs to another room")
	}
	if att.UploaderID != userID {
		return nil, invalid("only the uploader can announce an attachment")
	}
	msg, err := c.store.GetMessage(ctx, att.MessageID)
	if err != nil {
		return nil, err
	}

	c.broadcast(room.ID, EventNewMessage, NewMessageEvent{Message: msg, RoomID: room.ID})
	return msg, nil
}
