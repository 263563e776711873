package repository

import (
	"gorm.io/gorm"

	"github.com/echovoice/echovoice/app/models"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByVerificationToken(token string) (*models.User, error)
	Update(user *models.User) error
	Delete(id uint) error
	Count() (int64, error)
}

// VoiceRepository defines the interface for voice asset operations
type VoiceRepository interface {
	Create(asset *models.VoiceAsset) error
	GetByExternalID(externalVoiceID string) (*models.VoiceAsset, error)
	GetByUserAndExternalID(userID uint, externalVoiceID string) (*models.VoiceAsset, error)
	ListByUser(userID uint, kind string) ([]models.VoiceAsset, error)
	CountByUser(userID uint) (int64, error)
	Delete(id uint) error
}

// Repositories struct holds all repository instances
type Repositories struct {
	User  UserRepository
	Voice VoiceRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:  NewUserRepository(db),
		Voice: NewVoiceRepository(db),
	}
}
