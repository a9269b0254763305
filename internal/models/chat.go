package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type RoomStatus string

const (
	RoomActive   RoomStatus = "active"
	RoomClosed   RoomStatus = "closed"
	RoomArchived RoomStatus = "archived"
)

// IsValidRoomStatus reports whether s is a known room status
func IsValidRoomStatus(s string) bool {
	switch RoomStatus(s) {
	case RoomActive, RoomClosed, RoomArchived:
		return true
	}
	return false
}

// Room is a durable two-party conversation.
// Contextual rooms carry the appointment id in ContextID; direct rooms carry
// the canonical participant pair in DirectKey while they are active.
type Room struct {
	ID        string  `gorm:"primaryKey;type:text" json:"id"`
	ContextID *string `gorm:"uniqueIndex;type:text" json:"contextId,omitempty"`
	IsDirect  bool    `gorm:"not null" json:"isDirect"`
	DirectKey *string `gorm:"uniqueIndex;type:text" json:"-"`

	PartyAID string `gorm:"column:party_a_id;index;type:text;not null" json:"partyAId"`
	PartyBID string `gorm:"column:party_b_id;index;type:text;not null" json:"partyBId"`

	Status         RoomStatus `gorm:"type:text;not null;default:'active';index" json:"status"`
	LastActivityAt time.Time  `gorm:"index" json:"lastActivityAt"`

	PresenceA bool  `gorm:"column:presence_a;not null" json:"presenceA"`
	PresenceB bool  `gorm:"column:presence_b;not null" json:"presenceB"`
	UnreadA   int64 `gorm:"column:unread_a;not null" json:"unreadA"`
	UnreadB   int64 `gorm:"column:unread_b;not null" json:"unreadB"`

	// LastSeq is the sequence number of the newest message in the room
	LastSeq int64 `gorm:"not null" json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Expanded records, only present when preloaded
	PartyA *User `gorm:"foreignKey:PartyAID" json:"partyA,omitempty"`
	PartyB *User `gorm:"foreignKey:PartyBID" json:"partyB,omitempty"`
}

func (r *Room) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return
}

// Participants returns the canonical ids of both parties, whether the room was
// loaded with bare ids or with expanded user records.
func (r *Room) Participants() (string, string) {
	a, b := r.PartyAID, r.PartyBID
	if a == "" && r.PartyA != nil {
		a = r.PartyA.ID
	}
	if b == "" && r.PartyB != nil {
		b = r.PartyB.ID
	}
	return a, b
}

// HasParticipant is the single access predicate for a room
func (r *Room) HasParticipant(userID string) bool {
	if userID == "" {
		return false
	}
	a, b := r.Participants()
	return userID == a || userID == b
}

// Counterpart returns the other participant of userID
func (r *Room) Counterpart(userID string) (string, bool) {
	a, b := r.Participants()
	switch userID {
	case a:
		return b, true
	case b:
		return a, true
	}
	return "", false
}

// UnreadFor returns userID's unread counter
func (r *Room) UnreadFor(userID string) int64 {
	a, b := r.Participants()
	switch userID {
	case a:
		return r.UnreadA
	case b:
		return r.UnreadB
	}
	return 0
}

// UnreadColumn names the counter column owned by userID
func (r *Room) UnreadColumn(userID string) (string, bool) {
	a, b := r.Participants()
	switch userID {
	case a:
		return "unread_a", true
	case b:
		return "unread_b", true
	}
	return "", false
}

// PresenceColumn names the presence flag column owned by userID
func (r *Room) PresenceColumn(userID string) (string, bool) {
	a, b := r.Participants()
	switch userID {
	case a:
		return "presence_a", true
	case b:
		return "presence_b", true
	}
	return "", false
}

// DirectPairKey is the order-independent key of a participant pair
func DirectPairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

type MessageKind string

const (
	KindText   MessageKind = "text"
	KindFile   MessageKind = "file"
	KindImage  MessageKind = "image"
	KindSystem MessageKind = "system"
)

// IsValid checks the kind against the known set
func (k MessageKind) IsValid() bool {
	switch k {
	case KindText, KindFile, KindImage, KindSystem:
		return true
	}
	return false
}

// NeedsAttachment reports whether the kind carries a file instead of content
func (k MessageKind) NeedsAttachment() bool {
	return k == KindFile || k == KindImage
}

// Message is immutable after insert except for read state.
// Seq is assigned under the room lock and gives the total order within a room.
type Message struct {
	ID         string      `gorm:"primaryKey;type:text" json:"id"`
	RoomID     string      `gorm:"uniqueIndex:idx_messages_room_seq,priority:1;type:text;not null" json:"roomId"`
	Seq        int64       `gorm:"uniqueIndex:idx_messages_room_seq,priority:2;not null" json:"seq"`
	SenderID   string      `gorm:"index;type:text;not null" json:"senderId"`
	SenderRole Role        `gorm:"type:text" json:"senderRole"`
	Kind       MessageKind `gorm:"type:text;not null;default:'text'" json:"kind"`
	Content    string      `gorm:"type:text" json:"content,omitempty"`

	AttachmentID *string     `gorm:"type:text" json:"attachmentId,omitempty"`
	Attachment   *Attachment `gorm:"foreignKey:AttachmentID" json:"attachment,omitempty"`

	// Read Tracking
	IsRead bool       `gorm:"not null" json:"isRead"`
	ReadAt *time.Time `json:"readAt"`

	// Threading/Replies
	ReplyToID *string `gorm:"type:text;index" json:"replyToId,omitempty"`

	EditedAt  *time.Time `json:"editedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return
}

// Attachment is a stored file tied to one message. StoredName is the generated
// storage key and never leaves the server; clients only see URL.
type Attachment struct {
	ID            string    `gorm:"primaryKey;type:text" json:"id"`
	MessageID     string    `gorm:"index;type:text" json:"messageId"`
	RoomID        string    `gorm:"index;type:text;not null" json:"roomId"`
	UploaderID    string    `gorm:"index;type:text;not null" json:"uploaderId"`
	StoredName    string    `gorm:"type:text;not null" json:"-"`
	OriginalName  string    `gorm:"type:text;not null" json:"fileName"`
	URL           string    `gorm:"type:text;not null" json:"url"`
	Size          int64     `gorm:"not null" json:"size"`
	MimeType      string    `gorm:"type:text;not null" json:"mimeType"`
	IsImage       bool      `gorm:"not null" json:"isImage"`
	DownloadCount int64     `gorm:"not null" json:"downloadCount"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (a *Attachment) BeforeCreate(tx *gorm.DB) (err error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return
}

// RoomSummary is one entry of a user's room list
type RoomSummary struct {
	Room          Room     `json:"room"`
	CounterpartID string   `json:"counterpartId"`
	LastMessage   *Message `json:"lastMessage"`
	UnreadCount   int64    `json:"unreadCount"`
}
