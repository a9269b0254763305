package seeds

import (
	"log"
	"time"

	"github.com/Ash564738/DoctorAppointment-sub003/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SeedAppointment books a confirmed appointment between the two users unless
// one is already on file.
func SeedAppointment(db *gorm.DB, patient, doctor models.User) (models.Appointment, error) {
	log.Println("📅 Seeding Appointment...")

	var appt models.Appointment
	err := db.Where("patient_id = ? AND doctor_id = ?", patient.ID, doctor.ID).First(&appt).Error
	if err == nil {
		return appt, nil
	}

	appt = models.Appointment{
		ID:          uuid.New().String(),
		PatientID:   patient.ID,
		DoctorID:    doctor.ID,
		Status:      models.AppointmentConfirmed,
		ScheduledAt: time.Now().Add(24 * time.Hour).Truncate(time.Hour),
		CreatedAt:   time.Now(),
	}
	if err := db.Create(&appt).Error; err != nil {
		return models.Appointment{}, err
	}
	return appt, nil
}
