package models

import "time"

const (
	CheckoutKindSubscription  = "subscription"
	CheckoutKindCharacterPack = "character_pack"
	CheckoutKindVoicePack     = "voice_pack"
)

const (
	PendingStatusPending   = "pending"
	PendingStatusCompleted = "completed"
	PendingStatusExpired   = "expired"
)

// PendingTransaction records a checkout the user was redirected to before the
// provider confirms it. Reference is the provider session/order/subscription
// id; webhooks resolve back to the local user through the unique
// (provider, reference) pair instead of searching serialized payloads.
type PendingTransaction struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"not null;index" json:"user_id"`
	Provider    string    `gorm:"type:varchar(20);not null;index:ux_pending_provider_reference,unique,priority:1" json:"provider"`
	Kind        string    `gorm:"type:varchar(32);not null" json:"kind"`
	Tier        string    `gorm:"type:varchar(32);default:null" json:"tier"`
	PlanID      string    `gorm:"type:varchar(100);default:null" json:"plan_id"`
	AmountCents int64     `gorm:"default:0" json:"amount_cents"`
	Reference   string    `gorm:"type:varchar(191);not null;index:ux_pending_provider_reference,unique,priority:2" json:"reference"`
	Status      string    `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsPending reports whether the transaction still awaits provider confirmation
func (p *PendingTransaction) IsPending() bool {
	return p.Status == PendingStatusPending
}
