package models

import (
	"time"

	"gorm.io/gorm"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// User is owned by the account service; chat only reads it to expand
// participants and to derive the sender role server-side.
type User struct {
	ID        string         `gorm:"primaryKey;type:text" json:"id"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Name  string `json:"name"`
	Email string `gorm:"uniqueIndex" json:"email"`
	Image string `json:"image"`
	Role  Role   `gorm:"type:text;default:'patient'" json:"role"`
}
