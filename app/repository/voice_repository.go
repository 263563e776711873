package repository

import (
	"gorm.io/gorm"

	"github.com/echovoice/echovoice/app/models"
)

// voiceRepository implements the VoiceRepository interface
type voiceRepository struct {
	db *gorm.DB
}

// NewVoiceRepository creates a new voice asset repository instance
func NewVoiceRepository(db *gorm.DB) VoiceRepository {
	return &voiceRepository{db: db}
}

// Create stores a new voice asset
func (r *voiceRepository) Create(asset *models.VoiceAsset) error {
	return r.db.Create(asset).Error
}

// GetByExternalID retrieves a voice asset by its vendor voice id
func (r *voiceRepository) GetByExternalID(externalVoiceID string) (*models.VoiceAsset, error) {
	var asset models.VoiceAsset
	err := r.db.Where("external_voice_id = ?", externalVoiceID).First(&asset).Error
	if err != nil {
		return nil, err
	}
	return &asset, nil
}

// GetByUserAndExternalID retrieves a voice asset owned by the given user
func (r *voiceRepository) GetByUserAndExternalID(userID uint, externalVoiceID string) (*models.VoiceAsset, error) {
	var asset models.VoiceAsset
	err := r.db.Where("user_id = ? AND external_voice_id = ?", userID, externalVoiceID).First(&asset).Error
	if err != nil {
		return nil, err
	}
	return &asset, nil
}

// ListByUser lists a user's voice assets, optionally filtered by kind
func (r *voiceRepository) ListByUser(userID uint, kind string) ([]models.VoiceAsset, error) {
	var assets []models.VoiceAsset
	query := r.db.Where("user_id = ?", userID)
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}
	err := query.Order("created_at DESC").Find(&assets).Error
	return assets, err
}

// CountByUser returns how many voice assets a user owns
func (r *voiceRepository) CountByUser(userID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.VoiceAsset{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}

// Delete removes a voice asset
func (r *voiceRepository) Delete(id uint) error {
	return r.db.Delete(&models.VoiceAsset{}, id).Error
}
