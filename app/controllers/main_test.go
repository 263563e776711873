package controllers

import (
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/echovoice/echovoice/app/models"
	"github.com/echovoice/echovoice/app/repository"
	"github.com/echovoice/echovoice/internal/pkg/billing"
	"github.com/echovoice/echovoice/internal/pkg/usercontext"
)

const testStripeWebhookSecret = "whsec_test"

var (
	testSetupOnce sync.Once
	testSetupErr  error
	testDB        *gorm.DB
)

// setupTestEnv binds the package singletons to an in-memory database. The
// singletons are process-wide, so all tests in this package share one DB and
// must use distinct users and references.
func setupTestEnv(t *testing.T) *gorm.DB {
	t.Helper()
	testSetupOnce.Do(func() {
		db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			testSetupErr = err
			return
		}
		if err := db.AutoMigrate(
			&models.User{},
			&models.ProviderAccount{},
			&models.LedgerEntry{},
			&models.PendingTransaction{},
			&models.VoiceAsset{},
		); err != nil {
			testSetupErr = err
			return
		}
		testDB = db
		repository.InitializeFactory(db)
		billingOnce.Do(func() {
			billingSvc = billing.NewServiceFromDB(db)
		})
		webhookStripeOnce.Do(func() {
			webhookStripe = &billing.StripeClient{WebhookSecret: testStripeWebhookSecret}
		})
	})
	require.NoError(t, testSetupErr)
	require.NotNil(t, testDB)
	return testDB
}

func createTestUser(t *testing.T, db *gorm.DB, email string, mutate func(*models.User)) *models.User {
	t.Helper()
	user := &models.User{
		Email:              email,
		Password:           "x-not-a-real-hash",
		AuthProvider:       models.AUTH_PROVIDER_LOCAL,
		IsVerified:         true,
		SubscriptionStatus: models.SUB_STATUS_NONE,
	}
	if mutate != nil {
		mutate(user)
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

// asUser stands in for the JWT middleware and injects an authenticated
// context ahead of the handler under test.
func asUser(user *models.User) fiber.Handler {
	return func(c *fiber.Ctx) error {
		usercontext.SetUserContext(c, usercontext.UserContext{
			UserID:             user.ID,
			Email:              user.Email,
			IsLoggedIn:         true,
			SubscriptionStatus: user.SubscriptionStatus,
		})
		return c.Next()
	}
}

func countLedgerEntries(t *testing.T, db *gorm.DB, reference string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&models.LedgerEntry{}).Where("reference = ?", reference).Count(&count).Error)
	return count
}

func reloadUser(t *testing.T, db *gorm.DB, id uint) *models.User {
	t.Helper()
	var user models.User
	require.NoError(t, db.First(&user, id).Error)
	return &user
}

func pendingCharacterPack(t *testing.T, db *gorm.DB, userID uint, tier, reference string) {
	t.Helper()
	require.NoError(t, db.Create(&models.PendingTransaction{
		UserID:    userID,
		Provider:  models.LedgerProviderStripe,
		Kind:      models.CheckoutKindCharacterPack,
		Tier:      tier,
		Reference: reference,
		Status:    models.PendingStatusPending,
	}).Error)
}
