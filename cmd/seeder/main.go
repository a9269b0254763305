package main

import (
	"log"
	"time"

	"github.com/Ash564738/DoctorAppointment-sub003/internal/config"
	"github.com/Ash564738/DoctorAppointment-sub003/internal/database"
	"github.com/Ash564738/DoctorAppointment-sub003/internal/models"
	"github.com/Ash564738/DoctorAppointment-sub003/internal/seeds"
	"github.com/Ash564738/DoctorAppointment-sub003/pkg/utils"
)

func main() {
	config.LoadConfig()
	database.Connect()

	log.Println("🔄 Running migrations (just in case)...")
	if err := database.Migrate(database.DB); err != nil {
		log.Fatalf("❌ Failed to migrate: %v", err)
	}

	log.Println("👤 Seeding Users...")
	patient, err := seeds.GetOrCreateUser(database.DB, "Demo Patient", "patient@example.com", models.RolePatient)
	if err != nil {
		log.Fatalf("❌ Failed to seed patient: %v", err)
	}
	doctor, err := seeds.GetOrCreateUser(database.DB, "Dr. Demo", "doctor@example.com", models.RoleDoctor)
	if err != nil {
		log.Fatalf("❌ Failed to seed doctor: %v", err)
	}

	appt, err := seeds.SeedAppointment(database.DB, patient, doctor)
	if err != nil {
		log.Fatalf("❌ Failed to seed appointment: %v", err)
	}
	log.Printf("👉 Appointment %s (use it as roomOrContextId)", appt.ID)

	for _, u := range []models.User{patient, doctor} {
		token, err := utils.GenerateToken(u.ID, 7*24*time.Hour)
		if err != nil {
			log.Fatalf("❌ Failed to sign token: %v", err)
		}
		log.Printf("🔑 %s token: %s", u.Role, token)
	}

	log.Println("✅ Seeding Complete!")
}
