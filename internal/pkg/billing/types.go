package billing

// EventKind classifies a verified provider webhook into the handful of
// transitions reconciliation knows how to apply.
type EventKind int

const (
	KindIgnored EventKind = iota
	KindSubscriptionActivated
	KindSubscriptionCancelled
	KindSubscriptionUpdated
	KindOneTimePaymentCompleted
	KindPaymentReceived
)

func (k EventKind) String() string {
	switch k {
	case KindSubscriptionActivated:
		return "subscription_activated"
	case KindSubscriptionCancelled:
		return "subscription_cancelled"
	case KindSubscriptionUpdated:
		return "subscription_updated"
	case KindOneTimePaymentCompleted:
		return "one_time_payment_completed"
	case KindPaymentReceived:
		return "payment_received"
	default:
		return "ignored"
	}
}

// Event is the provider-agnostic shape handed to Reconcile after signature
// verification and boundary parsing. Reference is the provider transaction
// id used for pending-transaction correlation and ledger idempotency.
type Event struct {
	Provider       string
	Kind           EventKind
	EventID        string
	Reference      string
	SubscriptionID string
	ProductKind    string // character_pack or voice_pack for one-time payments
	PlanID         string
	Status         string // provider subscription status for KindSubscriptionUpdated
	RawJSON        string
}

// Outcome of a reconciliation run.
const (
	OutcomeApplied        = "applied"
	OutcomeAlreadyApplied = "already_applied"
	OutcomeIgnored        = "ignored"
)

// ReconciliationResult reports what a webhook delivery did.
type ReconciliationResult struct {
	Outcome   string `json:"outcome"`
	UserID    uint   `json:"user_id,omitempty"`
	EventType string `json:"event_type,omitempty"`
}
