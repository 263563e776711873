package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/echovoice/echovoice/app/models"
	"github.com/echovoice/echovoice/internal/pkg/env"
)

const defaultStripeAPIBaseURL = "https://api.stripe.com"

// stripeSignatureTolerance rejects replayed webhook payloads whose timestamp
// is too old.
const stripeSignatureTolerance = 5 * time.Minute

type StripeClient struct {
	APIKey        string
	WebhookSecret string
	APIBaseURL    string

	HTTPClient *http.Client
}

func NewStripeClientFromEnv() *StripeClient {
	return &StripeClient{
		APIKey:        strings.TrimSpace(env.GetEnv("STRIPE_API_KEY", "")),
		WebhookSecret: strings.TrimSpace(env.GetEnv("STRIPE_WEBHOOK_SECRET", "")),
		APIBaseURL:    strings.TrimRight(env.GetEnv("STRIPE_API_BASE_URL", defaultStripeAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// CheckoutSession is the subset of the Stripe checkout session object we use.
type CheckoutSession struct {
	ID           string `json:"id"`
	URL          string `json:"url"`
	Mode         string `json:"mode"`
	Subscription string `json:"subscription"`
}

// StripeSubscription is the subset of the Stripe subscription object we use.
type StripeSubscription struct {
	ID                string            `json:"id"`
	Status            string            `json:"status"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	Metadata          map[string]string `json:"metadata"`
}

// CreateSubscriptionSession starts a checkout in subscription mode for the
// given price id.
func (c *StripeClient) CreateSubscriptionSession(ctx context.Context, email, priceID string, userID uint, successURL, cancelURL string) (*CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("customer_email", email)
	form.Set("success_url", successURL)
	form.Set("cancel_url", cancelURL)
	form.Set("line_items[0][price]", priceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("subscription_data[metadata][user_id]", strconv.FormatUint(uint64(userID), 10))
	form.Set("metadata[user_id]", strconv.FormatUint(uint64(userID), 10))
	form.Set("metadata[price_id]", priceID)

	var session CheckoutSession
	if err := c.postForm(ctx, "/v1/checkout/sessions", form, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// CreatePackSession starts a one-time payment checkout with an inline price.
func (c *StripeClient) CreatePackSession(ctx context.Context, productKind, tier, productName string, amountCents int64, userID uint, successURL, cancelURL string) (*CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", successURL)
	form.Set("cancel_url", cancelURL)
	form.Set("line_items[0][price_data][currency]", "usd")
	form.Set("line_items[0][price_data][product_data][name]", productName)
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(amountCents, 10))
	form.Set("line_items[0][quantity]", "1")
	form.Set("metadata[user_id]", strconv.FormatUint(uint64(userID), 10))
	form.Set("metadata[product_type]", productKind)
	form.Set("metadata[tier]", tier)

	var session CheckoutSession
	if err := c.postForm(ctx, "/v1/checkout/sessions", form, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetSubscription retrieves a subscription from Stripe.
func (c *StripeClient) GetSubscription(ctx context.Context, subscriptionID string) (*StripeSubscription, error) {
	if strings.TrimSpace(subscriptionID) == "" {
		return nil, errors.New("subscription id is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.APIBaseURL+"/v1/subscriptions/"+url.PathEscape(subscriptionID), nil)
	if err != nil {
		return nil, err
	}
	var sub StripeSubscription
	if err := c.do(req, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// CancelSubscription flags a subscription to end at period close.
func (c *StripeClient) CancelSubscription(ctx context.Context, subscriptionID string) (*StripeSubscription, error) {
	if strings.TrimSpace(subscriptionID) == "" {
		return nil, errors.New("subscription id is required")
	}
	form := url.Values{}
	form.Set("cancel_at_period_end", "true")

	var sub StripeSubscription
	if err := c.postForm(ctx, "/v1/subscriptions/"+url.PathEscape(subscriptionID), form, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (c *StripeClient) postForm(ctx context.Context, path string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

func (c *StripeClient) do(req *http.Request, out interface{}) error {
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.New("STRIPE_API_KEY is not configured")
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("stripe API %s returned %d: %s", req.URL.Path, resp.StatusCode, truncate(string(body), 256))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

// VerifyStripeWebhookSignature checks the Stripe-Signature header: HMAC-SHA256
// over "<timestamp>.<payload>" with the endpoint secret, timestamp within
// tolerance.
func VerifyStripeWebhookSignature(payload []byte, signatureHeader, webhookSecret string, now time.Time) bool {
	secret := strings.TrimSpace(webhookSecret)
	header := strings.TrimSpace(signatureHeader)
	if secret == "" || header == "" {
		return false
	}

	var timestamp string
	var candidates [][]byte
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			if sig, err := hex.DecodeString(kv[1]); err == nil {
				candidates = append(candidates, sig)
			}
		}
	}
	if timestamp == "" || len(candidates) == 0 {
		return false
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	age := now.Sub(time.Unix(ts, 0))
	if age > stripeSignatureTolerance || age < -stripeSignatureTolerance {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, sig := range candidates {
		if hmac.Equal(expected, sig) {
			return true
		}
	}
	return false
}

// stripeEventEnvelope is the raw webhook shape.
type stripeEventEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripeSessionObject struct {
	ID           string            `json:"id"`
	Mode         string            `json:"mode"`
	Subscription string            `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

type stripeSubscriptionObject struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
}

type stripeInvoiceObject struct {
	ID           string `json:"id"`
	Subscription string `json:"subscription"`
}

// StripeStatusToSubscriptionStatus maps Stripe subscription statuses onto the
// local subscription state.
func StripeStatusToSubscriptionStatus(status string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active":
		return models.SUB_STATUS_ACTIVE, true
	case "past_due", "unpaid":
		return models.SUB_STATUS_PAST_DUE, true
	case "canceled", "incomplete_expired":
		return models.SUB_STATUS_CANCELLED, true
	case "incomplete":
		return models.SUB_STATUS_PENDING, true
	default:
		return "", false
	}
}

// ParseStripeEvent maps a verified Stripe webhook body to the provider-neutral
// Event. Unhandled event types come back as KindIgnored, not an error.
func ParseStripeEvent(payload []byte) (Event, error) {
	var envelope stripeEventEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return Event{}, fmt.Errorf("invalid stripe payload: %w", err)
	}

	ev := Event{
		Provider: models.LedgerProviderStripe,
		Kind:     KindIgnored,
		EventID:  envelope.ID,
		RawJSON:  string(payload),
	}

	switch envelope.Type {
	case "checkout.session.completed":
		var session stripeSessionObject
		if err := json.Unmarshal(envelope.Data.Object, &session); err != nil {
			return Event{}, fmt.Errorf("invalid checkout session object: %w", err)
		}
		ev.Reference = session.ID
		switch session.Mode {
		case "subscription":
			ev.Kind = KindSubscriptionActivated
			ev.SubscriptionID = session.Subscription
			ev.PlanID = session.Metadata["price_id"]
		case "payment":
			ev.Kind = KindOneTimePaymentCompleted
			ev.ProductKind = session.Metadata["product_type"]
		}
	case "customer.subscription.updated":
		var sub stripeSubscriptionObject
		if err := json.Unmarshal(envelope.Data.Object, &sub); err != nil {
			return Event{}, fmt.Errorf("invalid subscription object: %w", err)
		}
		mapped, ok := StripeStatusToSubscriptionStatus(sub.Status)
		if !ok {
			break
		}
		ev.Kind = KindSubscriptionUpdated
		ev.SubscriptionID = sub.ID
		// The event id is the only stable dedup key for update deliveries.
		ev.Reference = envelope.ID
		ev.Status = mapped
	case "invoice.paid":
		var invoice stripeInvoiceObject
		if err := json.Unmarshal(envelope.Data.Object, &invoice); err != nil {
			return Event{}, fmt.Errorf("invalid invoice object: %w", err)
		}
		ev.Kind = KindPaymentReceived
		ev.SubscriptionID = invoice.Subscription
		ev.Reference = invoice.ID
	}

	return ev, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
