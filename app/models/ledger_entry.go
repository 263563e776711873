package models

import "time"

const (
	LedgerProviderStripe = "stripe"
	LedgerProviderPayPal = "paypal"
)

// Ledger event types. *_created entries are written at checkout initiation,
// *_completed / subscription_* entries by webhook reconciliation.
const (
	EventCheckoutSessionCreated    = "checkout_session_created"
	EventCharacterPaymentCreated   = "character_payment_created"
	EventVoicePaymentCreated       = "voice_payment_created"
	EventSubscriptionCreated       = "subscription_created"
	EventSubscriptionActivated     = "subscription_activated"
	EventSubscriptionUpdated       = "subscription_updated"
	EventSubscriptionCancelled     = "subscription_cancelled"
	EventCharacterPaymentCompleted = "character_payment_completed"
	EventVoicePaymentCompleted     = "voice_payment_completed"
	EventPaymentReceived           = "payment_received"
)

// LedgerEntry is the append-only payment/subscription history. Rows are never
// updated or deleted. Reference carries the provider transaction id, so a
// completed entry for (provider, reference, event_type) doubles as the
// idempotency marker for webhook redelivery.
type LedgerEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	Provider  string    `gorm:"type:varchar(20);not null;index:idx_ledger_provider_reference,priority:1" json:"provider"`
	EventType string    `gorm:"type:varchar(64);not null;index" json:"event_type"`
	Reference string    `gorm:"type:varchar(191);not null;index:idx_ledger_provider_reference,priority:2" json:"reference"`
	EventData string    `gorm:"type:longtext" json:"event_data"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
