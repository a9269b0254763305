package services

import (
	"context"
	"errors"

	"github.com/Ash564738/DoctorAppointment-sub003/internal/models"
	"gorm.io/gorm"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// ChatStore serves the read side: room lists, history pages and attachment lookups.
// Access checks happen in the callers.
type ChatStore struct {
	db *gorm.DB
}

func NewChatStore(db *gorm.DB) *ChatStore {
	return &ChatStore{db: db}
}

// ListRoomsForUser returns userID's rooms, most recently active first. The last
// message is looked up at read time so the summary is never stale.
func (s *ChatStore) ListRoomsForUser(ctx context.Context, userID string, status string) ([]models.RoomSummary, error) {
	db := s.db.WithContext(ctx)

	q := db.Preload("PartyA").Preload("PartyB").
		Where("(party_a_id = ? OR party_b_id = ?)", userID, userID)
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var rooms []models.Room
	if err := q.Order("last_activity_at DESC").Find(&rooms).Error; err != nil {
		return nil, storage(err)
	}

	summaries := make([]models.RoomSummary, 0, len(rooms))
	for i := range rooms {
		room := rooms[i]

		var last []models.Message
		err := db.Preload("Attachment").
			Where("room_id = ?", room.ID).
			Order("seq DESC").
			Limit(1).
			Find(&last).Error
		if err != nil {
			return nil, storage(err)
		}

		counterpart, _ := room.Counterpart(userID)
		summary := models.RoomSummary{
			Room:          room,
			CounterpartID: counterpart,
			UnreadCount:   room.UnreadFor(userID),
		}
		if len(last) > 0 {
			summary.LastMessage = &last[0]
		}
		summaries = append(summaries, summary)
	}

	return summaries, nil
}

// ListMessages returns one history page. Pages are cut newest-first
// (page 1 holds the newest pageSize messages) and each page is then put
// back in chronological order.
func (s *ChatStore) ListMessages(ctx context.Context, roomID string, page, pageSize int) ([]models.Message, error) {
	page, pageSize = NormalizePage(page, pageSize)

	var messages []models.Message
	err := s.db.WithContext(ctx).
		Preload("Attachment").
		Where("room_id = ?", roomID).
		Order("seq DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&messages).Error
	if err != nil {
		return nil, storage(err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// CountMessages counts every message in a room
func (s *ChatStore) CountMessages(ctx context.Context, roomID string) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Message{}).Where("room_id = ?", roomID).Count(&count).Error; err != nil {
		return 0, storage(err)
	}
	return count, nil
}

// GetMessage loads a message with its attachment
func (s *ChatStore) GetMessage(ctx context.Context, messageID string) (*models.Message, error) {
	var msg models.Message
	err := s.db.WithContext(ctx).Preload("Attachment").First(&msg, "id = ?", messageID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storage(err)
	}
	return &msg, nil
}

// GetAttachment loads attachment metadata
func (s *ChatStore) GetAttachment(ctx context.Context, attachmentID string) (*models.Attachment, error) {
	var att models.Attachment
	err := s.db.WithContext(ctx).First(&att, "id = ?", attachmentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storage(err)
	}
	return &att, nil
}

// NormalizePage clamps paging input to page >= 1 and 1 <= size <= MaxPageSize
func NormalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}
