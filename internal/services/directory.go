package services

import (
	"context"
	"errors"

	"github.com/Ash564738/DoctorAppointment-sub003/internal/models"
	"gorm.io/gorm"
)

// ContextDirectory resolves an external context (an appointment) to the two
// parties a consultation room must be opened between.
type ContextDirectory interface {
	Parties(ctx context.Context, contextID string) (patientID, doctorID string, err error)
}

// UserDirectory derives a user's role from storage; client-supplied roles are never trusted.
type UserDirectory interface {
	RoleOf(ctx context.Context, userID string) (models.Role, error)
}

// GormDirectory reads appointments and users owned by the other services
type GormDirectory struct {
	db *gorm.DB
}

func NewGormDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

func (d *GormDirectory) Parties(ctx context.Context, contextID string) (string, string, error) {
	var appt models.Appointment
	err := d.db.WithContext(ctx).Select("id", "patient_id", "doctor_id").First(&appt, "id = ?", contextID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", storage(err)
	}
	return appt.PatientID, appt.DoctorID, nil
}

func (d *GormDirectory) RoleOf(ctx context.Context, userID string) (models.Role, error) {
	var user models.User
	err := d.db.WithContext(ctx).Select("id", "role").First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", storage(err)
	}
	return user.Role, nil
}
