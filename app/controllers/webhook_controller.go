package controllers

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/echovoice/echovoice/internal/pkg/billing"
)

var (
	webhookStripeOnce sync.Once
	webhookStripe     *billing.StripeClient

	webhookPayPalOnce sync.Once
	webhookPayPal     *billing.PayPalClient
)

func getStripeClient() *billing.StripeClient {
	webhookStripeOnce.Do(func() {
		webhookStripe = billing.NewStripeClientFromEnv()
	})
	return webhookStripe
}

func getPayPalClient() *billing.PayPalClient {
	webhookPayPalOnce.Do(func() {
		webhookPayPal = billing.NewPayPalClientFromEnv()
	})
	return webhookPayPal
}

// HandleStripeWebhook verifies, parses and reconciles one Stripe event
// delivery.
func HandleStripeWebhook(c *fiber.Ctx) error {
	payload := c.Body()
	signature := c.Get("Stripe-Signature")

	if !billing.VerifyStripeWebhookSignature(payload, signature, getStripeClient().WebhookSecret, time.Now()) {
		return errJSON(c, fiber.StatusBadRequest, "invalid_signature", "Webhook signature verification failed")
	}

	ev, err := billing.ParseStripeEvent(payload)
	if err != nil {
		return errJSON(c, fiber.StatusBadRequest, "bad_request", "Malformed event payload")
	}

	return reconcile(c, ev)
}

// HandlePayPalWebhook verifies a PayPal delivery through the verification API
// and reconciles it.
func HandlePayPalWebhook(c *fiber.Ctx) error {
	payload := c.Body()

	ok, err := getPayPalClient().VerifyWebhookSignature(c.Context(), billing.WebhookVerificationRequest{
		TransmissionID:   c.Get("Paypal-Transmission-Id"),
		TransmissionTime: c.Get("Paypal-Transmission-Time"),
		TransmissionSig:  c.Get("Paypal-Transmission-Sig"),
		CertURL:          c.Get("Paypal-Cert-Url"),
		AuthAlgo:         c.Get("Paypal-Auth-Algo"),
		Body:             payload,
	})
	if err != nil {
		log.Printf("paypal webhook verification errored: %v", err)
		return errJSON(c, fiber.StatusBadGateway, "provider_error", "Webhook verification unavailable")
	}
	if !ok {
		return errJSON(c, fiber.StatusBadRequest, "invalid_signature", "Webhook signature verification failed")
	}

	ev, err := billing.ParsePayPalEvent(payload)
	if err != nil {
		return errJSON(c, fiber.StatusBadRequest, "bad_request", "Malformed event payload")
	}

	return reconcile(c, ev)
}

// reconcile applies a verified provider event and maps reconciliation
// outcomes to response codes. Unknown references answer 404 so the provider
// retries later; real failures answer 500 for the same reason.
func reconcile(c *fiber.Ctx, ev billing.Event) error {
	res, err := getBillingService().Reconcile(c.Context(), ev)
	if err != nil {
		if errors.Is(err, billing.ErrUnknownReference) || errors.Is(err, billing.ErrUnknownSubscription) {
			return errJSON(c, fiber.StatusNotFound, "not_found", "No matching local transaction")
		}
		log.Printf("webhook reconciliation failed (%s %s): %v", ev.Provider, ev.Reference, err)
		return errJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Reconciliation failed")
	}
	return c.JSON(res)
}
