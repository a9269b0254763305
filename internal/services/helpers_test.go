package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Ash564738/DoctorAppointment-sub003/internal/database"
	"github.com/Ash564738/DoctorAppointment-sub003/internal/models"
	"github.com/Ash564738/DoctorAppointment-sub003/pkg/logger"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestMain(m *testing.M) {
	logger.SetOutput(io.Discard)
	os.Exit(m.Run())
}

var dbSeq int64

// setupTestDB opens a private in-memory SQLite database with the chat schema
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, atomic.AddInt64(&dbSeq, 1))

	db, err := database.Open("sqlite", dsn)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func createUser(t *testing.T, db *gorm.DB, id string, role models.Role) models.User {
	t.Helper()
	u := models.User{ID: id, Name: id, Email: id + "@example.com", Role: role}
	require.NoError(t, db.Create(&u).Error)
	return u
}

// memBlobStore keeps blobs in a map
type memBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
	fail  bool
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{blobs: make(map[string][]byte)}
}

func (s *memBlobStore) Put(_ context.Context, key string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return fmt.Errorf("disk full")
	}
	s.blobs[key] = append([]byte(nil), data...)
	return nil
}

func (s *memBlobStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[key]
	if !ok {
		return nil, ErrBlobNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memBlobStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[key]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, key)
	return nil
}

func (s *memBlobStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}

type broadcastRecord struct {
	RoomID  string
	Event   string
	Payload interface{}
}

// recordingBroadcaster remembers every broadcast and can be told to fail
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []broadcastRecord
	err    error
}

func (b *recordingBroadcaster) BroadcastToRoom(roomID, event string, payload interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, broadcastRecord{RoomID: roomID, Event: event, Payload: payload})
	return b.err
}

func (b *recordingBroadcaster) byEvent(event string) []broadcastRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []broadcastRecord
	for _, e := range b.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// chatFixture wires the chat services against one test database
type chatFixture struct {
	db          *gorm.DB
	rooms       *RoomService
	store       *ChatStore
	coord       *Coordinator
	blobs       *memBlobStore
	broadcaster *recordingBroadcaster
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	db := setupTestDB(t)
	rooms := NewRoomService(db, NewGormDirectory(db))
	store := NewChatStore(db)
	blobs := newMemBlobStore()
	bc := &recordingBroadcaster{}
	coord := NewCoordinator(db, rooms, store, CoordinatorConfig{
		Blobs:       blobs,
		Broadcaster: bc,
	})
	return &chatFixture{db: db, rooms: rooms, store: store, coord: coord, blobs: blobs, broadcaster: bc}
}

// directRoom creates two users and the direct room between them
func (f *chatFixture) directRoom(t *testing.T, a, b string) *models.Room {
	t.Helper()
	createUser(t, f.db, a, models.RolePatient)
	createUser(t, f.db, b, models.RoleDoctor)
	room, err := f.rooms.ResolveOrCreateDirectRoom(context.Background(), a, b)
	require.NoError(t, err)
	return room
}

func (f *chatFixture) sendText(t *testing.T, roomID, senderID, content string) *models.Message {
	t.Helper()
	msg, err := f.coord.SendMessage(context.Background(), SendInput{
		RoomID:   roomID,
		SenderID: senderID,
		Kind:     models.KindText,
		Content:  content,
	})
	require.NoError(t, err)
	return msg
}

func (f *chatFixture) reloadRoom(t *testing.T, roomID string) *models.Room {
	t.Helper()
	var room models.Room
	require.NoError(t, f.db.First(&room, "id = ?", roomID).Error)
	return &room
}

// requireCountersMatchLog checks that each party's counter equals the number
// of unread messages from the other party
func (f *chatFixture) requireCountersMatchLog(t *testing.T, roomID string) {
	t.Helper()
	room := f.reloadRoom(t, roomID)
	for _, party := range []string{room.PartyAID, room.PartyBID} {
		var unread int64
		require.NoError(t, f.db.Model(&models.Message{}).
			Where("room_id = ? AND sender_id <> ? AND is_read = ?", roomID, party, false).
			Count(&unread).Error)
		require.Equal(t, unread, room.UnreadFor(party), "counter for %s out of sync", party)
	}
}

func fixedClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Millisecond)
		return now
	}
}
