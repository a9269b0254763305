package models

import "time"

type AppointmentStatus string

const (
	AppointmentPending   AppointmentStatus = "pending"
	AppointmentConfirmed AppointmentStatus = "confirmed"
	AppointmentCompleted AppointmentStatus = "completed"
	AppointmentCancelled AppointmentStatus = "cancelled"
)

// Appointment is the external context a consultation room is derived from.
// The scheduling service writes it; chat only looks up its two parties.
type Appointment struct {
	ID          string            `gorm:"primaryKey;type:text" json:"id"`
	PatientID   string            `gorm:"index;type:text;not null" json:"patientId"`
	DoctorID    string            `gorm:"index;type:text;not null" json:"doctorId"`
	Status      AppointmentStatus `gorm:"type:text;default:'pending'" json:"status"`
	ScheduledAt time.Time         `json:"scheduledAt"`
	CreatedAt   time.Time         `json:"createdAt"`
}
