package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/Ash564738/DoctorAppointment-sub003/internal/models"
	"github.com/Ash564738/DoctorAppointment-sub003/internal/services"
	apperrors "github.com/Ash564738/DoctorAppointment-sub003/pkg/errors"
	"github.com/Ash564738/DoctorAppointment-sub003/pkg/logger"
	"github.com/gin-gonic/gin"
)

// ChatHandler serves the request/response side of chat. Every route runs
// behind AuthMiddleware, which sets userId and userRole from storage.
type ChatHandler struct {
	Rooms       *services.RoomService
	Store       *services.ChatStore
	Coordinator *services.Coordinator
}

func NewChatHandler(rooms *services.RoomService, store *services.ChatStore, coord *services.Coordinator) *ChatHandler {
	return &ChatHandler{Rooms: rooms, Store: store, Coordinator: coord}
}

// respondError attaches the AppError matching err for ErrorHandlerMiddleware to render
func respondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	switch {
	case errors.Is(err, services.ErrAccessDenied):
		appErr = apperrors.Forbidden(services.Reason(err))
	case errors.Is(err, services.ErrNotFound):
		appErr = apperrors.NotFound(services.Reason(err))
	case errors.Is(err, services.ErrInvalidMessage):
		appErr = apperrors.BadRequest(services.Reason(err))
	default:
		logger.Error().Err(err).Str("path", c.FullPath()).Msg("Chat request failed")
		appErr = apperrors.ErrInternalServer
	}
	c.Error(appErr)
	c.Abort()
}

func currentUser(c *gin.Context) (string, models.Role) {
	userID := c.GetString("userId")
	role, _ := c.Get("userRole")
	r, _ := role.(models.Role)
	return userID, r
}

// ResolveContextRoom opens (or returns) the consultation room of an appointment
func (h *ChatHandler) ResolveContextRoom(c *gin.Context) {
	userID, _ := currentUser(c)

	room, err := h.Rooms.ResolveOrCreateContextualRoom(c.Request.Context(), c.Param("contextId"), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"room": room})
}

type directRoomRequest struct {
	UserID string `json:"userId" binding:"required"`
}

// ResolveDirectRoom opens (or returns) the active direct room with another user
func (h *ChatHandler) ResolveDirectRoom(c *gin.Context) {
	userID, _ := currentUser(c)

	var req directRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.BadRequest("userId is required"))
		c.Abort()
		return
	}

	room, err := h.Rooms.ResolveOrCreateDirectRoom(c.Request.Context(), userID, req.UserID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"room": room})
}

// ListRooms returns the caller's rooms with last message and own unread count
func (h *ChatHandler) ListRooms(c *gin.Context) {
	userID, _ := currentUser(c)

	status := c.Query("status")
	if status != "" && !models.IsValidRoomStatus(status) {
		c.Error(apperrors.BadRequest("status must be one of active, closed, archived"))
		c.Abort()
		return
	}

	rooms, err := h.Store.ListRoomsForUser(c.Request.Context(), userID, status)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// GetMessages returns one page of history, newest page first, chronological within the page
func (h *ChatHandler) GetMessages(c *gin.Context) {
	userID, _ := currentUser(c)
	ctx := c.Request.Context()

	room, err := h.Rooms.GetRoomFor(ctx, c.Param("roomId"), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(services.DefaultPageSize)))
	page, limit = services.NormalizePage(page, limit)

	messages, err := h.Store.ListMessages(ctx, room.ID, page, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	total, err := h.Store.CountMessages(ctx, room.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": messages,
		"page":     page,
		"limit":    limit,
		"total":    total,
		"hasMore":  int64(page*limit) < total,
	})
}

// MarkRead clears the caller's unread counter for a room
func (h *ChatHandler) MarkRead(c *gin.Context) {
	userID, _ := currentUser(c)

	receipt, err := h.Coordinator.MarkRead(c.Request.Context(), c.Param("roomId"), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"receipt": receipt})
}

// CloseRoom moves a room to closed; closed rooms reject new messages
func (h *ChatHandler) CloseRoom(c *gin.Context) {
	userID, _ := currentUser(c)

	room, err := h.Coordinator.CloseRoom(c.Request.Context(), c.Param("roomId"), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"room": room})
}
