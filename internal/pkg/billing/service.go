package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/echovoice/echovoice/app/models"
)

// Sentinel errors surfaced to the webhook/checkout controllers.
var (
	ErrUnknownReference    = errors.New("billing: no pending transaction for reference")
	ErrUnknownSubscription = errors.New("billing: no user for subscription id")
	ErrUnknownTier         = errors.New("billing: unknown tier")
	ErrNoSubscription      = errors.New("billing: user has no subscription")
)

// subscriptionPeriod is the billing period granted on activation.
const subscriptionPeriod = 30 * 24 * time.Hour

// StripeAPI is the slice of the Stripe client the service needs.
type StripeAPI interface {
	CreateSubscriptionSession(ctx context.Context, email, priceID string, userID uint, successURL, cancelURL string) (*CheckoutSession, error)
	CreatePackSession(ctx context.Context, productKind, tier, productName string, amountCents int64, userID uint, successURL, cancelURL string) (*CheckoutSession, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*StripeSubscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string) (*StripeSubscription, error)
}

// PayPalAPI is the slice of the PayPal client the service needs.
type PayPalAPI interface {
	CreateSubscription(ctx context.Context, planID, subscriberEmail, returnURL, cancelURL string) (*PayPalCheckout, error)
	CreateOrder(ctx context.Context, referenceID, description string, amountUSD int64, returnURL, cancelURL string) (*PayPalCheckout, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*PayPalSubscription, error)
	CancelSubscription(ctx context.Context, subscriptionID, reason string) error
}

// Service owns checkout initiation and webhook reconciliation.
type Service struct {
	repo   Repository
	stripe StripeAPI
	paypal PayPalAPI
}

// NewService creates a billing service from injected collaborators.
func NewService(repo Repository, stripe StripeAPI, paypal PayPalAPI) *Service {
	return &Service{repo: repo, stripe: stripe, paypal: paypal}
}

// NewServiceFromDB creates a billing service with env-configured provider
// clients.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db), NewStripeClientFromEnv(), NewPayPalClientFromEnv())
}

// Checkout is what checkout initiation returns to the caller: the provider
// redirect plus the external id the webhook will later carry.
type Checkout struct {
	ApprovalURL string `json:"approval_url"`
	Reference   string `json:"reference"`
}

// Reconcile applies one verified provider event to local state. Resolution,
// the idempotency check, the state change and the ledger append run in a
// single transaction; redelivered events return OutcomeAlreadyApplied without
// touching anything.
func (s *Service) Reconcile(ctx context.Context, ev Event) (ReconciliationResult, error) {
	if ev.Kind == KindIgnored {
		return ReconciliationResult{Outcome: OutcomeIgnored}, nil
	}

	var res ReconciliationResult
	err := s.repo.WithContext(ctx).Transaction(func(tx Repository) error {
		switch ev.Kind {
		case KindSubscriptionActivated:
			return s.applySubscriptionActivated(tx, ev, &res)
		case KindSubscriptionCancelled:
			return s.applySubscriptionCancelled(tx, ev, &res)
		case KindSubscriptionUpdated:
			return s.applySubscriptionUpdated(tx, ev, &res)
		case KindOneTimePaymentCompleted:
			return s.applyOneTimePayment(tx, ev, &res)
		case KindPaymentReceived:
			return s.applyPaymentReceived(tx, ev, &res)
		default:
			res.Outcome = OutcomeIgnored
			return nil
		}
	})
	if err != nil {
		return ReconciliationResult{}, err
	}
	return res, nil
}

func (s *Service) applySubscriptionActivated(tx Repository, ev Event, res *ReconciliationResult) error {
	applied, err := alreadyApplied(tx, ev.Provider, ev.Reference, models.EventSubscriptionActivated)
	if err != nil || applied {
		if applied {
			markAlready(res, models.EventSubscriptionActivated)
		}
		return err
	}

	user, pending, err := s.resolveSubscriptionEvent(tx, ev)
	if err != nil {
		return err
	}

	now := time.Now()
	end := now.Add(subscriptionPeriod)
	user.SubscriptionStatus = models.SUB_STATUS_ACTIVE
	user.SubscriptionStartDate = &now
	user.SubscriptionEndDate = &end
	user.AutoRenew = true
	user.PaymentMethod = ev.Provider
	if ev.SubscriptionID != "" {
		user.SubscriptionID = ev.SubscriptionID
	}
	if ev.PlanID != "" {
		user.SubscriptionPlanID = ev.PlanID
	} else if pending != nil && pending.PlanID != "" {
		user.SubscriptionPlanID = pending.PlanID
	}

	if err := tx.SaveUser(user); err != nil {
		return err
	}
	if pending != nil {
		if err := tx.MarkPendingCompleted(pending.ID); err != nil {
			return err
		}
	}
	if err := tx.AppendLedgerEntry(&models.LedgerEntry{
		UserID:    user.ID,
		Provider:  ev.Provider,
		EventType: models.EventSubscriptionActivated,
		Reference: ev.Reference,
		EventData: ev.RawJSON,
	}); err != nil {
		return err
	}

	markApplied(res, user.ID, models.EventSubscriptionActivated)
	return nil
}

func (s *Service) applySubscriptionCancelled(tx Repository, ev Event, res *ReconciliationResult) error {
	applied, err := alreadyApplied(tx, ev.Provider, ev.Reference, models.EventSubscriptionCancelled)
	if err != nil || applied {
		if applied {
			markAlready(res, models.EventSubscriptionCancelled)
		}
		return err
	}

	user, err := tx.GetUserBySubscriptionID(ev.SubscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUnknownSubscription
		}
		return err
	}

	user.SubscriptionStatus = models.SUB_STATUS_CANCELLED
	user.AutoRenew = false
	if err := tx.SaveUser(user); err != nil {
		return err
	}
	if err := tx.AppendLedgerEntry(&models.LedgerEntry{
		UserID:    user.ID,
		Provider:  ev.Provider,
		EventType: models.EventSubscriptionCancelled,
		Reference: ev.Reference,
		EventData: ev.RawJSON,
	}); err != nil {
		return err
	}

	markApplied(res, user.ID, models.EventSubscriptionCancelled)
	return nil
}

func (s *Service) applySubscriptionUpdated(tx Repository, ev Event, res *ReconciliationResult) error {
	applied, err := alreadyApplied(tx, ev.Provider, ev.Reference, models.EventSubscriptionUpdated)
	if err != nil || applied {
		if applied {
			markAlready(res, models.EventSubscriptionUpdated)
		}
		return err
	}

	user, err := tx.GetUserBySubscriptionID(ev.SubscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUnknownSubscription
		}
		return err
	}

	user.SubscriptionStatus = ev.Status
	switch ev.Status {
	case models.SUB_STATUS_ACTIVE:
		now := time.Now()
		end := now.Add(subscriptionPeriod)
		user.SubscriptionStartDate = &now
		user.SubscriptionEndDate = &end
	case models.SUB_STATUS_CANCELLED:
		user.AutoRenew = false
	}

	if err := tx.SaveUser(user); err != nil {
		return err
	}
	if err := tx.AppendLedgerEntry(&models.LedgerEntry{
		UserID:    user.ID,
		Provider:  ev.Provider,
		EventType: models.EventSubscriptionUpdated,
		Reference: ev.Reference,
		EventData: ev.RawJSON,
	}); err != nil {
		return err
	}

	markApplied(res, user.ID, models.EventSubscriptionUpdated)
	return nil
}

func (s *Service) applyOneTimePayment(tx Repository, ev Event, res *ReconciliationResult) error {
	pending, err := tx.GetPendingTransaction(ev.Provider, ev.Reference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUnknownReference
		}
		return err
	}

	eventType := models.EventCharacterPaymentCompleted
	if pending.Kind == models.CheckoutKindVoicePack {
		eventType = models.EventVoicePaymentCompleted
	}

	applied, err := alreadyApplied(tx, ev.Provider, ev.Reference, eventType)
	if err != nil || applied {
		if applied {
			markAlready(res, eventType)
		}
		return err
	}

	user, err := tx.GetUserByID(pending.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUnknownReference
		}
		return err
	}

	var newBalance int64
	switch pending.Kind {
	case models.CheckoutKindVoicePack:
		user.VoiceBalance++
		newBalance = int64(user.VoiceBalance)
	default:
		credits, ok := CharacterCreditsForTier(pending.Tier)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownTier, pending.Tier)
		}
		user.CharacterBalance += credits
		newBalance = user.CharacterBalance
	}
	user.PaymentMethod = ev.Provider

	if err := tx.SaveUser(user); err != nil {
		return err
	}
	if err := tx.MarkPendingCompleted(pending.ID); err != nil {
		return err
	}

	data, err := json.Marshal(map[string]interface{}{
		"tier":        pending.Tier,
		"new_balance": newBalance,
		"payload":     json.RawMessage(ev.RawJSON),
	})
	if err != nil {
		return err
	}
	if err := tx.AppendLedgerEntry(&models.LedgerEntry{
		UserID:    user.ID,
		Provider:  ev.Provider,
		EventType: eventType,
		Reference: ev.Reference,
		EventData: string(data),
	}); err != nil {
		return err
	}

	markApplied(res, user.ID, eventType)
	return nil
}

func (s *Service) applyPaymentReceived(tx Repository, ev Event, res *ReconciliationResult) error {
	applied, err := alreadyApplied(tx, ev.Provider, ev.Reference, models.EventPaymentReceived)
	if err != nil || applied {
		if applied {
			markAlready(res, models.EventPaymentReceived)
		}
		return err
	}

	user, err := tx.GetUserBySubscriptionID(ev.SubscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUnknownSubscription
		}
		return err
	}

	// Informational: recorded for the audit trail, no balance or status change.
	if err := tx.AppendLedgerEntry(&models.LedgerEntry{
		UserID:    user.ID,
		Provider:  ev.Provider,
		EventType: models.EventPaymentReceived,
		Reference: ev.Reference,
		EventData: ev.RawJSON,
	}); err != nil {
		return err
	}

	markApplied(res, user.ID, models.EventPaymentReceived)
	return nil
}

// resolveSubscriptionEvent finds the affected user by subscription id first,
// then by the pending transaction created at checkout time.
func (s *Service) resolveSubscriptionEvent(tx Repository, ev Event) (*models.User, *models.PendingTransaction, error) {
	if ev.SubscriptionID != "" {
		user, err := tx.GetUserBySubscriptionID(ev.SubscriptionID)
		if err == nil {
			pending, perr := tx.GetPendingTransaction(ev.Provider, ev.Reference)
			if perr != nil && !errors.Is(perr, gorm.ErrRecordNotFound) {
				return nil, nil, perr
			}
			return user, pending, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, err
		}
	}

	pending, err := tx.GetPendingTransaction(ev.Provider, ev.Reference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrUnknownSubscription
		}
		return nil, nil, err
	}
	user, err := tx.GetUserByID(pending.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrUnknownSubscription
		}
		return nil, nil, err
	}
	return user, pending, nil
}

func alreadyApplied(tx Repository, provider, reference, eventType string) (bool, error) {
	if reference == "" {
		return false, nil
	}
	exists, err := tx.LedgerEntryExists(provider, reference, eventType)
	if err != nil {
		return false, err
	}
	if exists {
		log.Printf("billing: duplicate %s webhook for reference %s, skipping", provider, reference)
	}
	return exists, nil
}

func markApplied(res *ReconciliationResult, userID uint, eventType string) {
	res.Outcome = OutcomeApplied
	res.UserID = userID
	res.EventType = eventType
}

func markAlready(res *ReconciliationResult, eventType string) {
	res.Outcome = OutcomeAlreadyApplied
	res.EventType = eventType
}

// CreateStripeSubscriptionCheckout starts a Stripe subscription checkout and
// records the pending transaction before handing back the redirect.
func (s *Service) CreateStripeSubscriptionCheckout(ctx context.Context, userID uint, priceID, successURL, cancelURL string) (*Checkout, error) {
	user, err := s.repo.GetUserByID(userID)
	if err != nil {
		return nil, err
	}

	session, err := s.stripe.CreateSubscriptionSession(ctx, user.Email, priceID, user.ID, successURL, cancelURL)
	if err != nil {
		return nil, err
	}

	if err := s.recordPending(user.ID, models.LedgerProviderStripe, models.CheckoutKindSubscription, "", priceID, 0, session.ID, models.EventCheckoutSessionCreated); err != nil {
		return nil, err
	}
	return &Checkout{ApprovalURL: session.URL, Reference: session.ID}, nil
}

// CreateStripePackCheckout starts a one-time Stripe payment for a character or
// voice pack.
func (s *Service) CreateStripePackCheckout(ctx context.Context, userID uint, kind, tier, successURL, cancelURL string) (*Checkout, error) {
	user, err := s.repo.GetUserByID(userID)
	if err != nil {
		return nil, err
	}

	var (
		amount      int64
		ok          bool
		productName string
		eventType   string
	)
	switch kind {
	case models.CheckoutKindVoicePack:
		amount, ok = VoicePackPriceCents(tier)
		productName = fmt.Sprintf("%s Voice", titleCase(tier))
		eventType = models.EventVoicePaymentCreated
	default:
		kind = models.CheckoutKindCharacterPack
		amount, ok = CharacterPackPriceCents(tier)
		productName = fmt.Sprintf("%s Character Pack", titleCase(tier))
		eventType = models.EventCharacterPaymentCreated
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}

	session, err := s.stripe.CreatePackSession(ctx, kind, tier, productName, amount, user.ID, successURL, cancelURL)
	if err != nil {
		return nil, err
	}

	if err := s.recordPending(user.ID, models.LedgerProviderStripe, kind, tier, "", amount, session.ID, eventType); err != nil {
		return nil, err
	}
	return &Checkout{ApprovalURL: session.URL, Reference: session.ID}, nil
}

// CreatePayPalSubscriptionCheckout starts a PayPal subscription and records
// the pending transaction keyed by the provider subscription id.
func (s *Service) CreatePayPalSubscriptionCheckout(ctx context.Context, userID uint, planID, returnURL, cancelURL string) (*Checkout, error) {
	user, err := s.repo.GetUserByID(userID)
	if err != nil {
		return nil, err
	}

	checkout, err := s.paypal.CreateSubscription(ctx, planID, user.Email, returnURL, cancelURL)
	if err != nil {
		return nil, err
	}

	if err := s.recordPending(user.ID, models.LedgerProviderPayPal, models.CheckoutKindSubscription, "", planID, 0, checkout.ID, models.EventSubscriptionCreated); err != nil {
		return nil, err
	}
	return &Checkout{ApprovalURL: checkout.ApprovalURL, Reference: checkout.ID}, nil
}

// CreatePayPalPackCheckout starts a one-time PayPal order for a character
// pack.
func (s *Service) CreatePayPalPackCheckout(ctx context.Context, userID uint, tier, returnURL, cancelURL string) (*Checkout, error) {
	user, err := s.repo.GetUserByID(userID)
	if err != nil {
		return nil, err
	}

	amount, ok := PayPalTierPriceUSD(tier)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}

	referenceID := fmt.Sprintf("otp_%d_%d", user.ID, time.Now().Unix())
	checkout, err := s.paypal.CreateOrder(ctx, referenceID, titleCase(tier), amount, returnURL, cancelURL)
	if err != nil {
		return nil, err
	}

	if err := s.recordPending(user.ID, models.LedgerProviderPayPal, models.CheckoutKindCharacterPack, tier, "", amount*100, checkout.ID, models.EventCharacterPaymentCreated); err != nil {
		return nil, err
	}
	return &Checkout{ApprovalURL: checkout.ApprovalURL, Reference: checkout.ID}, nil
}

// recordPending commits the pending transaction and its ledger entry in one
// transaction. This must complete before the caller ever sees the approval
// URL so a fast webhook always finds the local record.
func (s *Service) recordPending(userID uint, provider, kind, tier, planID string, amountCents int64, reference, eventType string) error {
	return s.repo.Transaction(func(tx Repository) error {
		pending := &models.PendingTransaction{
			UserID:      userID,
			Provider:    provider,
			Kind:        kind,
			Tier:        tier,
			PlanID:      planID,
			AmountCents: amountCents,
			Reference:   reference,
			Status:      models.PendingStatusPending,
		}
		if err := tx.CreatePendingTransaction(pending); err != nil {
			return err
		}

		data, err := json.Marshal(map[string]interface{}{
			"reference": reference,
			"kind":      kind,
			"tier":      tier,
			"plan_id":   planID,
			"status":    models.PendingStatusPending,
		})
		if err != nil {
			return err
		}
		return tx.AppendLedgerEntry(&models.LedgerEntry{
			UserID:    userID,
			Provider:  provider,
			EventType: eventType,
			Reference: reference,
			EventData: string(data),
		})
	})
}

// CancelSubscription cancels the user's subscription at its provider and
// records the cancellation.
func (s *Service) CancelSubscription(ctx context.Context, userID uint) error {
	user, err := s.repo.GetUserByID(userID)
	if err != nil {
		return err
	}
	if user.SubscriptionID == "" {
		return ErrNoSubscription
	}

	switch user.PaymentMethod {
	case models.LedgerProviderPayPal:
		if err := s.paypal.CancelSubscription(ctx, user.SubscriptionID, "user requested cancellation"); err != nil {
			return err
		}
	default:
		if _, err := s.stripe.CancelSubscription(ctx, user.SubscriptionID); err != nil {
			return err
		}
	}

	return s.repo.Transaction(func(tx Repository) error {
		user.SubscriptionStatus = models.SUB_STATUS_CANCELLED
		user.AutoRenew = false
		if err := tx.SaveUser(user); err != nil {
			return err
		}
		return tx.AppendLedgerEntry(&models.LedgerEntry{
			UserID:    user.ID,
			Provider:  user.PaymentMethod,
			EventType: models.EventSubscriptionCancelled,
			Reference: user.SubscriptionID,
			EventData: fmt.Sprintf(`{"subscription_id":%q,"requested_by":"user"}`, user.SubscriptionID),
		})
	})
}

// SyncSubscription fetches the provider view of a subscription and folds any
// status drift back into the user row.
func (s *Service) SyncSubscription(ctx context.Context, provider, subscriptionID string) (string, error) {
	var status string
	var known bool

	switch provider {
	case models.LedgerProviderPayPal:
		sub, err := s.paypal.GetSubscription(ctx, subscriptionID)
		if err != nil {
			return "", err
		}
		status, known = PayPalStatusToSubscriptionStatus(sub.Status)
	default:
		sub, err := s.stripe.GetSubscription(ctx, subscriptionID)
		if err != nil {
			return "", err
		}
		status, known = StripeStatusToSubscriptionStatus(sub.Status)
	}
	if !known {
		return "", nil
	}

	user, err := s.repo.GetUserBySubscriptionID(subscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return status, nil
		}
		return "", err
	}
	if user.SubscriptionStatus == status {
		return status, nil
	}

	user.SubscriptionStatus = status
	if err := s.repo.SaveUser(user); err != nil {
		return "", err
	}
	return status, nil
}

// Ledger returns the newest payment/subscription history rows for a user.
func (s *Service) Ledger(userID uint, limit int) ([]models.LedgerEntry, error) {
	return s.repo.ListLedgerEntriesByUser(userID, limit)
}

func titleCase(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
