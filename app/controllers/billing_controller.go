package controllers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/echovoice/echovoice/app/models"
	"github.com/echovoice/echovoice/internal/pkg/billing"
	"github.com/echovoice/echovoice/internal/pkg/usercontext"
)

type stripeSubscriptionRequest struct {
	PriceID    string `json:"price_id" validate:"required"`
	SuccessURL string `json:"success_url" validate:"required,url"`
	CancelURL  string `json:"cancel_url" validate:"required,url"`
}

type stripePackRequest struct {
	Tier       string `json:"tier" validate:"required"`
	SuccessURL string `json:"success_url" validate:"required,url"`
	CancelURL  string `json:"cancel_url" validate:"required,url"`
}

type paypalSubscriptionRequest struct {
	PlanID    string `json:"plan_id" validate:"required"`
	ReturnURL string `json:"return_url" validate:"required,url"`
	CancelURL string `json:"cancel_url" validate:"required,url"`
}

type paypalPackRequest struct {
	Tier      string `json:"tier" validate:"required"`
	ReturnURL string `json:"return_url" validate:"required,url"`
	CancelURL string `json:"cancel_url" validate:"required,url"`
}

// HandleStripeSubscriptionCheckout starts a Stripe subscription checkout for
// the authenticated user.
func HandleStripeSubscriptionCheckout(c *fiber.Ctx) error {
	var req stripeSubscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return errJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return errJSON(c, fiber.StatusUnprocessableEntity, "validation_failed", err.Error())
	}

	checkout, err := getBillingService().CreateStripeSubscriptionCheckout(
		c.Context(), usercontext.GetUserID(c), req.PriceID, req.SuccessURL, req.CancelURL)
	if err != nil {
		return checkoutError(c, "stripe subscription checkout", err)
	}
	return c.JSON(checkout)
}

// HandleStripeCharacterCheckout starts a one-time Stripe payment for a
// character pack.
func HandleStripeCharacterCheckout(c *fiber.Ctx) error {
	return handleStripePackCheckout(c, models.CheckoutKindCharacterPack)
}

// HandleStripeVoiceCheckout starts a one-time Stripe payment for a voice
// pack.
func HandleStripeVoiceCheckout(c *fiber.Ctx) error {
	return handleStripePackCheckout(c, models.CheckoutKindVoicePack)
}

func handleStripePackCheckout(c *fiber.Ctx, kind string) error {
	var req stripePackRequest
	if err := c.BodyParser(&req); err != nil {
		return errJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return errJSON(c, fiber.StatusUnprocessableEntity, "validation_failed", err.Error())
	}

	checkout, err := getBillingService().CreateStripePackCheckout(
		c.Context(), usercontext.GetUserID(c), kind, req.Tier, req.SuccessURL, req.CancelURL)
	if err != nil {
		return checkoutError(c, "stripe pack checkout", err)
	}
	return c.JSON(checkout)
}

// HandlePayPalSubscriptionCheckout starts a PayPal subscription for the
// authenticated user.
func HandlePayPalSubscriptionCheckout(c *fiber.Ctx) error {
	var req paypalSubscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return errJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return errJSON(c, fiber.StatusUnprocessableEntity, "validation_failed", err.Error())
	}

	checkout, err := getBillingService().CreatePayPalSubscriptionCheckout(
		c.Context(), usercontext.GetUserID(c), req.PlanID, req.ReturnURL, req.CancelURL)
	if err != nil {
		return checkoutError(c, "paypal subscription checkout", err)
	}
	return c.JSON(checkout)
}

// HandlePayPalCharacterCheckout starts a one-time PayPal order for a
// character pack.
func HandlePayPalCharacterCheckout(c *fiber.Ctx) error {
	var req paypalPackRequest
	if err := c.BodyParser(&req); err != nil {
		return errJSON(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return errJSON(c, fiber.StatusUnprocessableEntity, "validation_failed", err.Error())
	}

	checkout, err := getBillingService().CreatePayPalPackCheckout(
		c.Context(), usercontext.GetUserID(c), req.Tier, req.ReturnURL, req.CancelURL)
	if err != nil {
		return checkoutError(c, "paypal pack checkout", err)
	}
	return c.JSON(checkout)
}

// HandleCancelSubscription cancels the caller's subscription at its payment
// provider.
func HandleCancelSubscription(c *fiber.Ctx) error {
	err := getBillingService().CancelSubscription(c.Context(), usercontext.GetUserID(c))
	if err != nil {
		if errors.Is(err, billing.ErrNoSubscription) {
			return errJSON(c, fiber.StatusNotFound, "not_found", "No subscription to cancel")
		}
		log.Printf("cancel subscription failed for user %d: %v", usercontext.GetUserID(c), err)
		return errJSON(c, fiber.StatusBadGateway, "provider_error", "Cancellation failed at payment provider")
	}
	return c.JSON(fiber.Map{"message": "Subscription cancelled"})
}

// HandleGetStripeSubscription fetches the provider view of a Stripe
// subscription and folds status drift back into the user row.
func HandleGetStripeSubscription(c *fiber.Ctx) error {
	return handleGetSubscription(c, models.LedgerProviderStripe)
}

// HandleGetPayPalSubscription fetches the provider view of a PayPal
// subscription.
func HandleGetPayPalSubscription(c *fiber.Ctx) error {
	return handleGetSubscription(c, models.LedgerProviderPayPal)
}

func handleGetSubscription(c *fiber.Ctx, provider string) error {
	subscriptionID := c.Params("id")
	if subscriptionID == "" {
		return errJSON(c, fiber.StatusBadRequest, "bad_request", "Missing subscription id")
	}

	status, err := getBillingService().SyncSubscription(c.Context(), provider, subscriptionID)
	if err != nil {
		log.Printf("subscription sync failed (%s %s): %v", provider, subscriptionID, err)
		return errJSON(c, fiber.StatusBadGateway, "provider_error", "Subscription lookup failed")
	}
	if status == "" {
		return errJSON(c, fiber.StatusNotFound, "not_found", "Unknown subscription status")
	}
	return c.JSON(fiber.Map{"subscription_id": subscriptionID, "status": status})
}

func checkoutError(c *fiber.Ctx, op string, err error) error {
	switch {
	case errors.Is(err, billing.ErrUnknownTier):
		return errJSON(c, fiber.StatusUnprocessableEntity, "unknown_tier", "Unknown tier")
	case errors.Is(err, gorm.ErrRecordNotFound):
		return errJSON(c, fiber.StatusNotFound, "not_found", "User not found")
	default:
		log.Printf("%s failed: %v", op, err)
		return errJSON(c, fiber.StatusBadGateway, "provider_error", "Checkout failed at payment provider")
	}
}
