package services

import (
	"time"

	"github.com/Ash564738/DoctorAppointment-sub003/internal/models"
)

// Server -> client event names
const (
	EventRoomJoined   = "room-joined"
	EventRoomCreated  = "room-created"
	EventNewMessage   = "new-message"
	EventMessagesRead = "messages-read"
	EventUserTyping   = "user-typing"
	EventUserOnline   = "user-online"
	EventUserOffline  = "user-offline"
	EventError        = "error"
)

// Broadcaster pushes an event to every live subscriber of a room.
// The realtime gateway implements it; the coordinator only depends on this.
type Broadcaster interface {
	BroadcastToRoom(roomID, event string, payload interface{}) error
}

type nopBroadcaster struct{}

func (nopBroadcaster) BroadcastToRoom(string, string, interface{}) error { return nil }

type NewMessageEvent struct {
	Message *models.Message `json:"message"`
	RoomID  string          `json:"roomId"`
}

// ReadReceipt is the result of markRead and the payload of messages-read
type ReadReceipt struct {
	ReaderID string    `json:"readerId"`
	ReadAt   time.Time `json:"readAt"`
	RoomID   string    `json:"roomId"`
	Count    int64     `json:"count"`
}
