package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Ash564738/DoctorAppointment-sub003/internal/metrics"
	"github.com/Ash564738/DoctorAppointment-sub003/internal/models"
	"github.com/Ash564738/DoctorAppointment-sub003/pkg/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Coordinator runs every write against room state: validate, persist,
// update counters, broadcast. Socket sends and HTTP uploads share one
// instance so they share the per-room critical section.
type Coordinator struct {
	db          *gorm.DB
	rooms       *RoomService
	store       *ChatStore
	locks       *RoomLocks
	blobs       BlobStore
	broadcaster Broadcaster
	maxUpload   int64
	now         func() time.Time
}

type CoordinatorConfig struct {
	Blobs          BlobStore
	Broadcaster    Broadcaster
	MaxUploadBytes int64
}

func NewCoordinator(db *gorm.DB, rooms *RoomService, store *ChatStore, cfg CoordinatorConfig) *Coordinator {
	c := &Coordinator{
		db:          db,
		rooms:       rooms,
		store:       store,
		locks:       NewRoomLocks(),
		blobs:       cfg.Blobs,
		broadcaster: cfg.Broadcaster,
		maxUpload:   cfg.MaxUploadBytes,
		now:         time.Now,
	}
	if c.broadcaster == nil {
		c.broadcaster = nopBroadcaster{}
	}
	if c.maxUpload <= 0 || c.maxUpload > MaxUploadBytes {
		c.maxUpload = MaxUploadBytes
	}
	return c
}

// SendInput is one message as submitted by a participant.
// SenderRole must come from storage, never from the client.
type SendInput struct {
	RoomID       string
	SenderID     string
	SenderRole   models.Role
	Kind         models.MessageKind
	Content      string
	AttachmentID string
	ReplyToID    string

	// ServerOriginated allows kind=system. Transports never set it.
	ServerOriginated bool
}

// SendMessage validates, persists and broadcasts one message
func (c *Coordinator) SendMessage(ctx context.Context, in SendInput) (*models.Message, error) {
	room, err := c.rooms.GetRoomFor(ctx, in.RoomID, in.SenderID)
	if err != nil {
		metrics.SendFailures.WithLabelValues(failureLabel(err)).Inc()
		return nil, err
	}
	if room.Status != models.RoomActive {
		metrics.SendFailures.WithLabelValues("closed").Inc()
		return nil, ErrRoomNotActive
	}

	msg, err := c.buildMessage(ctx, room, in)
	if err != nil {
		metrics.SendFailures.WithLabelValues(failureLabel(err)).Inc()
		return nil, err
	}

	// The sender going away must not abort a send that reached this point
	if err := c.appendMessage(context.WithoutCancel(ctx), room.ID, in.SenderID, msg, nil); err != nil {
		metrics.SendFailures.WithLabelValues(failureLabel(err)).Inc()
		return nil, err
	}

	metrics.MessagesSent.WithLabelValues(string(msg.Kind)).Inc()
	c.broadcast(room.ID, EventNewMessage, NewMessageEvent{Message: msg, RoomID: room.ID})
	return msg, nil
}

func (c *Coordinator) buildMessage(ctx context.Context, room *models.Room, in SendInput) (*models.Message, error) {
	kind := in.Kind
	if kind == "" {
		kind = models.KindText
	}
	if !kind.IsValid() {
		return nil, invalid("unknown message kind")
	}
	if kind == models.KindSystem && !in.ServerOriginated {
		return nil, invalid("system messages cannot be sent by participants")
	}

	msg := &models.Message{
		ID:         uuid.New().String(),
		RoomID:     room.ID,
		SenderID:   in.SenderID,
		SenderRole: in.SenderRole,
		Kind:       kind,
	}

	if kind.NeedsAttachment() {
		if in.AttachmentID == "" {
			return nil, invalid("file messages require an attachment")
		}
		if strings.TrimSpace(in.Content) != "" {
			return nil, invalid("file messages cannot carry text content")
		}
		att, err := c.store.GetAttachment(ctx, in.AttachmentID)
		if errors.Is(err, ErrNotFound) {
			return nil, invalid("attachment not found")
		}
		if err != nil {
			return nil, err
		}
		if att.RoomID != room.ID {
			return nil, invalid("attachment belongs to another room")
		}
		if (kind == models.KindImage) != att.IsImage {
			return nil, invalid("message kind does not match the attachment type")
		}
		msg.AttachmentID = &att.ID
		msg.Attachment = att
	} else {
		if in.AttachmentID != "" {
			return nil, invalid("text messages cannot carry an attachment")
		}
		content, err := SanitizeMessageContent(in.Content)
		if err != nil {
			return nil, err
		}
		msg.Content = content
	}

	if in.ReplyToID != "" {
		var count int64
		err := c.db.WithContext(ctx).Model(&models.Message{}).
			Where("id = ? AND room_id = ?", in.ReplyToID, room.ID).
			Count(&count).Error
		if err != nil {
			return nil, storage(err)
		}
		if count == 0 {
			return nil, invalid("reply target is not in this room")
		}
		replyTo := in.ReplyToID
		msg.ReplyToID = &replyTo
	}

	return msg, nil
}

// appendMessage is the single place where a message becomes visible. Under the
// room lock and inside one transaction it assigns the next sequence number,
// inserts the message, bumps the recipient's unread counter and touches
// last_activity_at. Either all of it commits or none of it does.
// before runs inside the transaction once the sequence number is assigned.
func (c *Coordinator) appendMessage(ctx context.Context, roomID, senderID string, msg *models.Message, before func(tx *gorm.DB) error) error {
	unlock := c.locks.Lock(roomID)
	defer unlock()

	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var room models.Room
		if err := lockRoomRow(tx).First(&room, "id = ?", roomID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if room.Status != models.RoomActive {
			return ErrRoomNotActive
		}

		recipient, ok := room.Counterpart(senderID)
		if !ok {
			return ErrAccessDenied
		}
		column, _ := room.UnreadColumn(recipient)

		now := c.now()
		msg.Seq = room.LastSeq + 1
		msg.CreatedAt = now
		msg.IsRead = false
		msg.ReadAt = nil

		if before != nil {
			if err := before(tx); err != nil {
				return err
			}
		}

		if err := tx.Omit(clause.Associations).Create(msg).Error; err != nil {
			return err
		}

		// last_seq guards against a writer on another instance that bypassed this process's lock
		res := tx.Model(&models.Room{}).
			Where("id = ? AND last_seq = ?", roomID, room.LastSeq).
			Updates(map[string]interface{}{
				column:             gorm.Expr(column + " + 1"),
				"last_seq":         msg.Seq,
				"last_activity_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrConflict
		}
		return nil
	})

	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAccessDenied) || errors.Is(err, ErrInvalidMessage) {
		return err
	}
	logger.Error().Err(err).Str("room_id", roomID).Str("sender_id", senderID).Msg("Message append aborted")
	return storage(err)
}

// lockRoomRow takes the room row with SELECT ... FOR UPDATE on postgres so
// writers on other instances queue behind this transaction. SQLite already
// serializes writers and has no row locks.
func lockRoomRow(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// MarkRead marks every message from the other party as read and zeroes the
// reader's counter. Calling it again with no new messages changes nothing.
func (c *Coordinator) MarkRead(ctx context.Context, roomID, readerID string) (*ReadReceipt, error) {
	room, err := c.rooms.GetRoomFor(ctx, roomID, readerID)
	if err != nil {
		return nil, err
	}
	column, _ := room.UnreadColumn(readerID)

	receipt := &ReadReceipt{ReaderID: readerID, RoomID: room.ID}

	unlock := c.locks.Lock(room.ID)
	err = c.db.WithContext(context.WithoutCancel(ctx)).Transaction(func(tx *gorm.DB) error {
		now := c.now()
		res := tx.Model(&models.Message{}).
			Where("room_id = ? AND sender_id <> ? AND is_read = ?", room.ID, readerID, false).
			Updates(map[string]interface{}{
				"is_read": true,
				"read_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		receipt.ReadAt = now
		receipt.Count = res.RowsAffected

		return tx.Model(&models.Room{}).Where("id = ?", room.ID).UpdateColumn(column, 0).Error
	})
	unlock()

	if err != nil {
		logger.Error().Err(err).Str("room_id", room.ID).Str("reader_id", readerID).Msg("Mark read failed")
		return nil, storage(err)
	}

	// Notify the other side only when something changed
	if receipt.Count > 0 {
		metrics.ReadReceipts.Inc()
		c.broadcast(room.ID, EventMessagesRead, receipt)
	}
	return receipt, nil
}

// CloseRoom moves a room to closed. A closed direct room releases its pair key
// so the same two users can open a fresh one later.
func (c *Coordinator) CloseRoom(ctx context.Context, roomID, userID string) (*models.Room, error) {
	room, err := c.rooms.GetRoomFor(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	if room.Status == models.RoomClosed {
		return room, nil
	}

	unlock := c.locks.Lock(room.ID)
	defer unlock()

	err = c.db.WithContext(ctx).Model(&models.Room{}).Where("id = ?", room.ID).
		Updates(map[string]interface{}{
			"status":     models.RoomClosed,
			"direct_key": nil,
		}).Error
	if err != nil {
		return nil, storage(err)
	}

	room.Status = models.RoomClosed
	room.DirectKey = nil
	logger.Info().Str("room_id", room.ID).Str("user_id", userID).Msg("Chat room closed")
	return room, nil
}

// broadcast never fails the caller: by the time it runs the data is committed
func (c *Coordinator) broadcast(roomID, event string, payload interface{}) {
	if err := c.broadcaster.BroadcastToRoom(roomID, event, payload); err != nil {
		metrics.BroadcastFailures.WithLabelValues(event).Inc()
		logger.Warn().Err(err).Str("room_id", roomID).Str("event", event).Msg("Broadcast failed")
	}
}

func failureLabel(err error) string {
	switch {
	case errors.Is(err, ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidMessage):
		return "invalid"
	}
	return "storage"
}
