package seeds

import (
	"log"
	"time"

	"github.com/Ash564738/DoctorAppointment-sub003/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GetOrCreateUser returns the user with the given email, creating it on first run
func GetOrCreateUser(db *gorm.DB, name, email string, role models.Role) (models.User, error) {
	var user models.User
	err := db.Where("email = ?", email).First(&user).Error
	if err == nil {
		log.Printf("   ✅ %s found: %s", role, user.Email)
		return user, nil
	}

	user = models.User{
		ID:        uuid.New().String(),
		Name:      name,
		Email:     email,
		Role:      role,
		Image:     "https://api.dicebear.com/7.x/avataaars/svg?seed=" + email,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := db.Create(&user).Error; err != nil {
		return models.User{}, err
	}

	log.Printf("   ✅ %s created: %s", role, user.Email)
	return user, nil
}
