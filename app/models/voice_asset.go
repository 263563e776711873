package models

import "time"

const (
	VoiceKindClone  = "clone"
	VoiceKindDesign = "design"
)

// VoiceAsset stores ownership of a vendor voice id created by a clone or
// design call. ExternalVoiceID is globally unique at the vendor.
type VoiceAsset struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	UserID          uint      `gorm:"not null;index" json:"user_id"`
	ExternalVoiceID string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"external_voice_id"`
	Kind            string    `gorm:"type:varchar(20);not null;index" json:"kind"`
	SampleObjectKey string    `gorm:"type:varchar(255);default:null" json:"-"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}
