package services

import (
	"context"
	"errors"
	"time"

	"github.com/Ash564738/DoctorAppointment-sub003/internal/models"
	"github.com/Ash564738/DoctorAppointment-sub003/pkg/logger"
	"gorm.io/gorm"
)

// CanAccess is true iff userID is one of the room's two stored participants
func CanAccess(room *models.Room, userID string) bool {
	return room != nil && room.HasParticipant(userID)
}

// RoomService resolves room identity and answers participant questions
type RoomService struct {
	db        *gorm.DB
	contexts  ContextDirectory
	onCreated func(room *models.Room)
}

func NewRoomService(db *gorm.DB, contexts ContextDirectory) *RoomService {
	return &RoomService{db: db, contexts: contexts}
}

// OnCreated registers fn to run after a new room row is inserted.
// A creation race that resolves to an existing room does not call it.
func (s *RoomService) OnCreated(fn func(room *models.Room)) {
	s.onCreated = fn
}

// GetRoom loads a room by id
func (s *RoomService) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	var room models.Room
	err := s.db.WithContext(ctx).First(&room, "id = ?", roomID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storage(err)
	}
	return &room, nil
}

// GetRoomFor loads a room and checks that userID may use it
func (s *RoomService) GetRoomFor(ctx context.Context, roomID, userID string) (*models.Room, error) {
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !CanAccess(room, userID) {
		return nil, ErrAccessDenied
	}
	return room, nil
}

// ResolveOrCreateContextualRoom returns the consultation room of an appointment,
// creating it on first contact. The patient is party A and the doctor party B.
func (s *RoomService) ResolveOrCreateContextualRoom(ctx context.Context, contextID, requesterID string) (*models.Room, error) {
	patientID, doctorID, err := s.contexts.Parties(ctx, contextID)
	if err != nil {
		return nil, err
	}
	if requesterID != patientID && requesterID != doctorID {
		return nil, ErrAccessDenied
	}

	find := func() (*models.Room, error) {
		return s.findOne(ctx, "context_id = ?", contextID)
	}

	if room, err := find(); err == nil || !errors.Is(err, ErrNotFound) {
		return room, err
	}

	now := time.Now()
	room := &models.Room{
		ContextID:      &contextID,
		IsDirect:       false,
		PartyAID:       patientID,
		PartyBID:       doctorID,
		Status:         models.RoomActive,
		LastActivityAt: now,
	}
	return s.create(ctx, room, find)
}

// ResolveOrCreateDirectRoom returns the active direct room between two users,
// creating it if none exists. The caller's own id goes first.
func (s *RoomService) ResolveOrCreateDirectRoom(ctx context.Context, partyA, partyB string) (*models.Room, error) {
	if partyA == "" || partyB == "" {
		return nil, invalid("both participants are required")
	}
	if partyA == partyB {
		return nil, invalid("cannot open a room with yourself")
	}

	key := models.DirectPairKey(partyA, partyB)
	find := func() (*models.Room, error) {
		return s.findOne(ctx, "direct_key = ?", key)
	}

	if room, err := find(); err == nil || !errors.Is(err, ErrNotFound) {
		return room, err
	}

	room := &models.Room{
		IsDirect:       true,
		DirectKey:      &key,
		PartyAID:       partyA,
		PartyBID:       partyB,
		Status:         models.RoomActive,
		LastActivityAt: time.Now(),
	}
	return s.create(ctx, room, find)
}

// create inserts room; losing a unique-key race converges on the winner's row
func (s *RoomService) create(ctx context.Context, room *models.Room, find func() (*models.Room, error)) (*models.Room, error) {
	err := s.db.WithContext(ctx).Create(room).Error
	if err == nil {
		logger.Info().Str("room_id", room.ID).Bool("direct", room.IsDirect).Msg("Chat room created")
		if s.onCreated != nil {
			s.onCreated(room)
		}
		return room, nil
	}

	existing, findErr := find()
	if findErr == nil {
		logger.Debug().Err(ErrConflict).Str("room_id", existing.ID).Msg("Room creation race resolved to existing room")
		return existing, nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, storage(findErr)
	}
	return nil, storage(err)
}

func (s *RoomService) findOne(ctx context.Context, query string, args ...interface{}) (*models.Room, error) {
	var rooms []models.Room
	if err := s.db.WithContext(ctx).Where(query, args...).Limit(1).Find(&rooms).Error; err != nil {
		return nil, storage(err)
	}
	if len(rooms) == 0 {
		return nil, ErrNotFound
	}
	return &rooms[0], nil
}

// RoomIDsForUser lists every room userID participates in
func (s *RoomService) RoomIDsForUser(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.Room{}).
		Where("party_a_id = ? OR party_b_id = ?", userID, userID).
		Order("last_activity_at DESC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, storage(err)
	}
	return ids, nil
}

// SetPresence writes userID's online flag on every room they are part of
func (s *RoomService) SetPresence(ctx context.Context, userID string, online bool) error {
	db := s.db.WithContext(ctx)
	if err := db.Model(&models.Room{}).Where("party_a_id = ?", userID).UpdateColumn("presence_a", online).Error; err != nil {
		return storage(err)
	}
	if err := db.Model(&models.Room{}).Where("party_b_id = ?", userID).UpdateColumn("presence_b", online).Error; err != nil {
		return storage(err)
	}
	return nil
}
