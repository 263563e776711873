package controllers

import (
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/echovoice/echovoice/internal/pkg/billing"
	"github.com/echovoice/echovoice/internal/pkg/database"
	"github.com/echovoice/echovoice/internal/pkg/token"
	"github.com/echovoice/echovoice/internal/pkg/tts"
)

var (
	validate = validator.New()

	tokensOnce sync.Once
	tokens     *token.Manager

	billingOnce sync.Once
	billingSvc  *billing.Service

	ttsOnce   sync.Once
	ttsClient *tts.MinimaxClient
)

// Tokens returns the shared JWT manager used by login, refresh and the auth
// middleware.
func Tokens() *token.Manager {
	tokensOnce.Do(func() {
		tokens = token.NewManagerFromEnv()
	})
	return tokens
}

func getBillingService() *billing.Service {
	billingOnce.Do(func() {
		billingSvc = billing.NewServiceFromDB(database.GetDB())
	})
	return billingSvc
}

func getTTSClient() *tts.MinimaxClient {
	ttsOnce.Do(func() {
		ttsClient = tts.NewMinimaxClientFromEnv()
	})
	return ttsClient
}

func errJSON(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
