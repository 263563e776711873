package billing

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/echovoice/echovoice/app/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.LedgerEntry{},
		&models.PendingTransaction{},
	))
	return db
}

func newTestUser(t *testing.T, db *gorm.DB, mutate func(*models.User)) *models.User {
	t.Helper()
	user := &models.User{
		Email:              fmt.Sprintf("user%d@example.com", len(t.Name())),
		Password:           "x-not-a-real-hash",
		AuthProvider:       models.AUTH_PROVIDER_LOCAL,
		SubscriptionStatus: models.SUB_STATUS_NONE,
	}
	if mutate != nil {
		mutate(user)
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func pendingPack(t *testing.T, db *gorm.DB, userID uint, provider, kind, tier, reference string) {
	t.Helper()
	require.NoError(t, db.Create(&models.PendingTransaction{
		UserID:    userID,
		Provider:  provider,
		Kind:      kind,
		Tier:      tier,
		Reference: reference,
		Status:    models.PendingStatusPending,
	}).Error)
}

func ledgerCount(t *testing.T, db *gorm.DB, eventType string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&models.LedgerEntry{}).Where("event_type = ?", eventType).Count(&count).Error)
	return count
}

func TestReconcileHonorsContextCancellation(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(NewRepository(db), nil, nil)
	user := newTestUser(t, db, nil)
	pendingPack(t, db, user.ID, models.LedgerProviderStripe, models.CheckoutKindCharacterPack, "medium", "cs_ctx")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Reconcile(ctx, Event{
		Provider:    models.LedgerProviderStripe,
		Kind:        KindOneTimePaymentCompleted,
		Reference:   "cs_ctx",
		ProductKind: models.CheckoutKindCharacterPack,
		RawJSON:     `{"id":"cs_ctx"}`,
	})
	require.Error(t, err)

	var got models.User
	require.NoError(t, db.First(&got, user.ID).Error)
	assert.Equal(t, int64(0), got.CharacterBalance)
	assert.Equal(t, int64(0), ledgerCount(t, db, models.EventCharacterPaymentCompleted))
}

func TestReconcileMediumPackCreditsExactlyOnce(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(NewRepository(db), nil, nil)
	user := newTestUser(t, db, nil)
	pendingPack(t, db, user.ID, models.LedgerProviderStripe, models.CheckoutKindCharacterPack, "medium", "cs_1")

	ev := Event{
		Provider:    models.LedgerProviderStripe,
		Kind:        KindOneTimePaymentCompleted,
		Reference:   "cs_1",
		ProductKind: models.CheckoutKindCharacterPack,
		RawJSON:     `{"id":"cs_1"}`,
	}

	res, err := svc.Reconcile(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, models.EventCharacterPaymentCompleted, res.EventType)

	var got models.User
	require.NoError(t, db.First(&got, user.ID).Error)
	assert.Equal(t, int64(1_000_000), got.CharacterBalance)
	assert.Equal(t, models.PAYMENT_METHOD_STRIPE, got.PaymentMethod)
	assert.Equal(t, int64(1), ledgerCount(t, db, models.EventCharacterPaymentCompleted))

	// Redelivery must be a no-op.
	res, err = svc.Reconcile(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyApplied, res.Outcome)

	require.NoError(t, db.First(&got, user.ID).Error)
	assert.Equal(t, int64(1_000_000), got.CharacterBalance)
	assert.Equal(t, int64(1), ledgerCount(t, db, models.EventCharacterPaymentCompleted))
}

func TestReconcileCreditsMatchTierTable(t *testing.T) {
	wants := map[string]int64{
		"small":      500_000,
		"medium":     1_000_000,
		"large":      5_000_000,
		"enterprise": 20_000_000,
	}

	for tier, want := range wants {
		db := newTestDB(t)
		svc := NewService(NewRepository(db), nil, nil)
		user := newTestUser(t, db, nil)
		ref := "cs_" + tier
		pendingPack(t, db, user.ID, models.LedgerProviderStripe, models.CheckoutKindCharacterPack, tier, ref)

		_, err := svc.Reconcile(context.Background(), Event{
			Provider:    models.LedgerProviderStripe,
			Kind:        KindOneTimePaymentCompleted,
			Reference:   ref,
			ProductKind: models.CheckoutKindCharacterPack,
			RawJSON:     "{}",
		})
		require.NoError(t, err, tier)

		var got models.User
		require.NoError(t, db.First(&got, user.ID).Error)
		assert.Equal(t, want, got.CharacterBalance, tier)
	}
}

func TestReconcileVoicePackCreditsOneSlot(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(NewRepository(db), nil, nil)
	user := newTestUser(t, db, func(u *models.User) { u.VoiceBalance = 2 })
	pendingPack(t, db, user.ID, models.LedgerProviderStripe, models.CheckoutKindVoicePack, "pro", "cs_v1")

	ev := Event{
		Provider:    models.LedgerProviderStripe,
		Kind:        KindOneTimePaymentCompleted,
		Reference:   "cs_v1",
		ProductKind: models.CheckoutKindVoicePack,
		RawJSON:     "{}",
	}

	res, err := svc.Reconcile(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, models.EventVoicePaymentCompleted, res.EventType)

	var got models.User
	require.NoError(t, db.First(&got, user.ID).Error)
	assert.Equal(t, 3, got.VoiceBalance)
	assert.Equal(t, int64(0), got.CharacterBalance)

	_, err = svc.Reconcile(context.Background(), ev)
	require.NoError(t, err)
	require.NoError(t, db.First(&got, user.ID).Error)
	assert.Equal(t, 3, got.VoiceBalance)
}

func TestReconcileUnknownReferenceRejects(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(NewRepository(db), nil, nil)
	user := newTestUser(t, db, nil)

	_, err := svc.Reconcile(context.Background(), Event{
		Provider:    models.LedgerProviderStripe,
		Kind:        KindOneTimePaymentCompleted,
		Reference:   "cs_never_created",
		ProductKind: models.CheckoutKindCharacterPack,
		RawJSON:     "{}",
	})
	require.ErrorIs(t, err, ErrUnknownReference)

	var got models.User
	require.NoError(t, db.First(&got, user.ID).Error)
	assert.Equal(t, int64(0), got.CharacterBalance)

	var count int64
	require.NoError(t, db.Model(&models.LedgerEntry{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestReconcileCancelUnknownSubscription(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(NewRepository(db), nil, nil)
	user := newTestUser(t, db, func(u *models.User) {
		u.SubscriptionID = "sub_real"
		u.SubscriptionStatus = models.SUB_STATUS_ACTIVE
	})

	_, err := svc.Reconcile(context.Background(), Event{
		Provider:       models.LedgerProviderPayPal,
		Kind:           KindSubscriptionCancelled,
		SubscriptionID: "I-UNKNOWN",
		Reference:      "I-UNKNOWN",
		RawJSON:        "{}",
	})
	require.ErrorIs(t, err, ErrUnknownSubscription)

	var got models.User
	require.NoError(t, db.First(&got, user.ID).Error)
	assert.Equal(t, models.SUB_STATUS_ACTIVE, got.SubscriptionStatus)
}

func TestReconcileSubscriptionActivated(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(NewRepository(db), nil, nil)
	user := newTestUser(t, db, nil)
	require.NoError(t, db.Create(&models.PendingTransaction{
		UserID:    user.ID,
		Provider:  models.LedgerProviderStripe,
		Kind:      models.CheckoutKindSubscription,
		PlanID:    "price_pro",
		Reference: "cs_sub_1",
		Status:    models.PendingStatusPending,
	}).Error)

	res, err := svc.Reconcile(context.Background(), Event{
		Provider:       models.LedgerProviderStripe,
		Kind:           KindSubscriptionActivated,
		Reference:      "cs_sub_1",
		SubscriptionID: "sub_42",
		PlanID:         "price_pro",
		RawJSON:        "{}",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)

	var got models.User
	require.NoError(t, db.First(&got, user.ID).Error)
	assert.Equal(t, models.SUB_STATUS_ACTIVE, got.SubscriptionStatus)
	assert.Equal(t, "sub_42", got.SubscriptionID)
	assert.Equal(t, "price_pro", got.SubscriptionPlanID)
	assert.True(t, got.AutoRenew)
	require.NotNil(t, got.SubscriptionEndDate)

	var pending models.PendingTransaction
	require.NoError(t, db.Where("reference = ?", "cs_sub_1").First(&pending).Error)
	assert.Equal(t, models.PendingStatusCompleted, pending.Status)

	assert.Equal(t, int64(1), ledgerCount(t, db, models.EventSubscriptionActivated))
}

func TestReconcileSubscriptionUpdated(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(NewRepository(db), nil, nil)
	user := newTestUser(t, db, func(u *models.User) {
		u.SubscriptionID = "sub_42"
		u.SubscriptionStatus = models.SUB_STATUS_ACTIVE
	})

	_, err := svc.Reconcile(context.Background(), Event{
		Provider:       models.LedgerProviderStripe,
		Kind:           KindSubscriptionUpdated,
		Reference:      "evt_77",
		SubscriptionID: "sub_42",
		Status:         models.SUB_STATUS_PAST_DUE,
		RawJSON:        "{}",
	})
	require.NoError(t, err)

	var got models.User
	require.NoError(t, db.First(&got, user.ID).Error)
	assert.Equal(t, models.SUB_STATUS_PAST_DUE, got.SubscriptionStatus)
}

func TestReconcilePaymentReceivedIsInformational(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(NewRepository(db), nil, nil)
	user := newTestUser(t, db, func(u *models.User) {
		u.SubscriptionID = "I-SUB9"
		u.SubscriptionStatus = models.SUB_STATUS_ACTIVE
		u.CharacterBalance = 123
	})

	_, err := svc.Reconcile(context.Background(), Event{
		Provider:       models.LedgerProviderPayPal,
		Kind:           KindPaymentReceived,
		Reference:      "SALE-1",
		SubscriptionID: "I-SUB9",
		RawJSON:        "{}",
	})
	require.NoError(t, err)

	var got models.User
	require.NoError(t, db.First(&got, user.ID).Error)
	assert.Equal(t, int64(123), got.CharacterBalance)
	assert.Equal(t, int64(1), ledgerCount(t, db, models.EventPaymentReceived))
}

func TestReconcileIgnoredKind(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(NewRepository(db), nil, nil)

	res, err := svc.Reconcile(context.Background(), Event{Provider: models.LedgerProviderStripe, Kind: KindIgnored})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)
}

// -- checkout --

type stripeStub struct {
	session *CheckoutSession
	err     error
}

func (s *stripeStub) CreateSubscriptionSession(context.Context, string, string, uint, string, string) (*CheckoutSession, error) {
	return s.session, s.err
}
func (s *stripeStub) CreatePackSession(context.Context, string, string, string, int64, uint, string, string) (*CheckoutSession, error) {
	return s.session, s.err
}
func (s *stripeStub) GetSubscription(context.Context, string) (*StripeSubscription, error) {
	return nil, errors.New("not implemented")
}
func (s *stripeStub) CancelSubscription(context.Context, string) (*StripeSubscription, error) {
	return &StripeSubscription{Status: "canceled", CancelAtPeriodEnd: true}, nil
}

type paypalStub struct {
	checkout *PayPalCheckout
	err      error
}

func (p *paypalStub) CreateSubscription(context.Context, string, string, string, string) (*PayPalCheckout, error) {
	return p.checkout, p.err
}
func (p *paypalStub) CreateOrder(context.Context, string, string, int64, string, string) (*PayPalCheckout, error) {
	return p.checkout, p.err
}
func (p *paypalStub) GetSubscription(context.Context, string) (*PayPalSubscription, error) {
	return nil, errors.New("not implemented")
}
func (p *paypalStub) CancelSubscription(context.Context, string, string) error { return nil }

func TestCreateStripePackCheckoutRecordsPendingFirst(t *testing.T) {
	db := newTestDB(t)
	stripe := &stripeStub{session: &CheckoutSession{ID: "cs_new", URL: "https://stripe.test/pay"}}
	svc := NewService(NewRepository(db), stripe, nil)
	user := newTestUser(t, db, nil)

	checkout, err := svc.CreateStripePackCheckout(context.Background(), user.ID, models.CheckoutKindCharacterPack, "medium", "https://app/success", "https://app/cancel")
	require.NoError(t, err)
	assert.Equal(t, "https://stripe.test/pay", checkout.ApprovalURL)
	assert.Equal(t, "cs_new", checkout.Reference)

	var pending models.PendingTransaction
	require.NoError(t, db.Where("provider = ? AND reference = ?", models.LedgerProviderStripe, "cs_new").First(&pending).Error)
	assert.Equal(t, user.ID, pending.UserID)
	assert.Equal(t, "medium", pending.Tier)
	assert.True(t, pending.IsPending())

	assert.Equal(t, int64(1), ledgerCount(t, db, models.EventCharacterPaymentCreated))
}

func TestCreateStripePackCheckoutUnknownTier(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(NewRepository(db), &stripeStub{}, nil)
	user := newTestUser(t, db, nil)

	_, err := svc.CreateStripePackCheckout(context.Background(), user.ID, models.CheckoutKindCharacterPack, "mega", "s", "c")
	require.ErrorIs(t, err, ErrUnknownTier)
}

func TestCreatePayPalPackCheckout(t *testing.T) {
	db := newTestDB(t)
	paypal := &paypalStub{checkout: &PayPalCheckout{ID: "ORDER-9", ApprovalURL: "https://paypal.test/approve"}}
	svc := NewService(NewRepository(db), nil, paypal)
	user := newTestUser(t, db, nil)

	checkout, err := svc.CreatePayPalPackCheckout(context.Background(), user.ID, "large", "https://app/r", "https://app/c")
	require.NoError(t, err)
	assert.Equal(t, "ORDER-9", checkout.Reference)

	var pending models.PendingTransaction
	require.NoError(t, db.Where("provider = ? AND reference = ?", models.LedgerProviderPayPal, "ORDER-9").First(&pending).Error)
	assert.Equal(t, "large", pending.Tier)
	assert.Equal(t, int64(18000), pending.AmountCents)
}

func TestCancelSubscriptionWithoutSubscription(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(NewRepository(db), &stripeStub{}, &paypalStub{})
	user := newTestUser(t, db, nil)

	err := svc.CancelSubscription(context.Background(), user.ID)
	require.ErrorIs(t, err, ErrNoSubscription)
}

func TestCancelSubscriptionStripe(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(NewRepository(db), &stripeStub{}, &paypalStub{})
	user := newTestUser(t, db, func(u *models.User) {
		u.SubscriptionID = "sub_42"
		u.SubscriptionStatus = models.SUB_STATUS_ACTIVE
		u.PaymentMethod = models.PAYMENT_METHOD_STRIPE
	})

	require.NoError(t, svc.CancelSubscription(context.Background(), user.ID))

	var got models.User
	require.NoError(t, db.First(&got, user.ID).Error)
	assert.Equal(t, models.SUB_STATUS_CANCELLED, got.SubscriptionStatus)
	assert.False(t, got.AutoRenew)
	assert.Equal(t, int64(1), ledgerCount(t, db, models.EventSubscriptionCancelled))
}
