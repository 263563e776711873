package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/echovoice/echovoice/app/controllers"
	"github.com/echovoice/echovoice/internal/pkg/middleware"
	"github.com/echovoice/echovoice/internal/pkg/oauth"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	// init oauth providers
	oauth.Setup()

	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")
	requireAuth := middleware.JWTAuthMiddleware(controllers.Tokens())

	// identity
	auth := v1.Group("/auth")
	auth.Post("/register", controllers.HandleAuthRegister)
	auth.Get("/verify-email", controllers.HandleAuthVerifyEmail)
	auth.Post("/login", controllers.HandleAuthLogin)
	auth.Post("/refresh", controllers.HandleAuthRefresh)
	auth.Post("/logout", controllers.HandleAuthLogout)
	auth.Get("/:provider", controllers.HandleOAuthBegin)
	auth.Get("/:provider/callback", controllers.HandleOAuthCallback)

	// account
	user := v1.Group("/user", requireAuth)
	user.Get("/me", controllers.HandleGetMe)
	user.Patch("/me", controllers.HandleUpdateMe)
	user.Delete("/me", controllers.HandleDeleteMe)
	user.Get("/me/ledger", controllers.HandleGetLedger)

	// billing
	billing := v1.Group("/billing", requireAuth)
	billing.Post("/stripe/subscription", controllers.HandleStripeSubscriptionCheckout)
	billing.Post("/stripe/characters", controllers.HandleStripeCharacterCheckout)
	billing.Post("/stripe/voice", controllers.HandleStripeVoiceCheckout)
	billing.Post("/stripe/cancel", controllers.HandleCancelSubscription)
	billing.Get("/stripe/subscription/:id", controllers.HandleGetStripeSubscription)
	billing.Post("/paypal/subscription", controllers.HandlePayPalSubscriptionCheckout)
	billing.Post("/paypal/characters", controllers.HandlePayPalCharacterCheckout)
	billing.Post("/paypal/cancel", controllers.HandleCancelSubscription)
	billing.Get("/paypal/subscription/:id", controllers.HandleGetPayPalSubscription)

	// provider webhooks, signature-verified instead of authenticated
	webhooks := v1.Group("/webhooks")
	webhooks.Post("/stripe", controllers.HandleStripeWebhook)
	webhooks.Post("/paypal", controllers.HandlePayPalWebhook)

	// speech vendor proxy
	ttsGroup := v1.Group("/tts", requireAuth, middleware.RequireActiveSubscription)
	ttsGroup.Post("/generate", controllers.HandleTTSGenerate)

	voice := v1.Group("/voice", requireAuth)
	voice.Post("/upload", controllers.HandleVoiceUpload)
	voice.Post("/clone", middleware.RequireActiveSubscription, controllers.HandleVoiceClone)
	voice.Post("/design", middleware.RequireActiveSubscription, controllers.HandleVoiceDesign)
	voice.Get("/clones", controllers.HandleVoiceCloneList)
	voice.Get("/designs", controllers.HandleVoiceDesignList)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
