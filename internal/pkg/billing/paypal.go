package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/echovoice/echovoice/app/models"
	"github.com/echovoice/echovoice/internal/pkg/env"
)

const defaultPayPalBaseURL = "https://api-m.paypal.com"

type PayPalClient struct {
	ClientID  string
	Secret    string
	WebhookID string
	BaseURL   string
	BrandName string

	HTTPClient *http.Client
}

func NewPayPalClientFromEnv() *PayPalClient {
	return &PayPalClient{
		ClientID:  strings.TrimSpace(env.GetEnv("PAYPAL_CLIENT_ID", "")),
		Secret:    strings.TrimSpace(env.GetEnv("PAYPAL_SECRET", "")),
		WebhookID: strings.TrimSpace(env.GetEnv("PAYPAL_WEBHOOK_ID", "")),
		BaseURL:   strings.TrimRight(env.GetEnv("PAYPAL_BASE_URL", defaultPayPalBaseURL), "/"),
		BrandName: env.GetEnv("APP_NAME", "EchoVoice"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type paypalTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// AccessToken fetches a client-credentials token.
func (c *PayPalClient) AccessToken(ctx context.Context) (string, error) {
	if c.ClientID == "" || c.Secret == "" {
		return "", errors.New("PAYPAL_CLIENT_ID/PAYPAL_SECRET are not configured")
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.ClientID, c.Secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("paypal token endpoint returned %d", resp.StatusCode)
	}

	var token paypalTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

type paypalLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

// PayPalCheckout carries the external id of a created subscription or order
// plus the approval redirect.
type PayPalCheckout struct {
	ID          string
	ApprovalURL string
}

// CreateSubscription creates a billing subscription and returns its approval
// link.
func (c *PayPalClient) CreateSubscription(ctx context.Context, planID, subscriberEmail, returnURL, cancelURL string) (*PayPalCheckout, error) {
	body := map[string]interface{}{
		"plan_id":    planID,
		"start_time": time.Now().UTC().Add(5 * time.Minute).Format(time.RFC3339),
		"subscriber": map[string]string{"email_address": subscriberEmail},
		"application_context": map[string]interface{}{
			"brand_name":          c.BrandName,
			"locale":              "en-US",
			"shipping_preference": "NO_SHIPPING",
			"user_action":         "SUBSCRIBE_NOW",
			"payment_method": map[string]string{
				"payer_selected":  "PAYPAL",
				"payee_preferred": "IMMEDIATE_PAYMENT_REQUIRED",
			},
			"return_url": returnURL,
			"cancel_url": cancelURL,
		},
	}

	var out struct {
		ID    string       `json:"id"`
		Links []paypalLink `json:"links"`
	}
	if err := c.postJSON(ctx, "/v1/billing/subscriptions", body, http.StatusCreated, &out); err != nil {
		return nil, err
	}

	approval, err := approvalLink(out.Links)
	if err != nil {
		return nil, err
	}
	return &PayPalCheckout{ID: out.ID, ApprovalURL: approval}, nil
}

// CreateOrder creates a one-time capture order for a character pack.
func (c *PayPalClient) CreateOrder(ctx context.Context, referenceID, description string, amountUSD int64, returnURL, cancelURL string) (*PayPalCheckout, error) {
	body := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{{
			"reference_id": referenceID,
			"amount": map[string]string{
				"currency_code": "USD",
				"value":         fmt.Sprintf("%d", amountUSD),
			},
			"description": description,
		}},
		"application_context": map[string]string{
			"return_url": returnURL,
			"cancel_url": cancelURL,
			"brand_name": c.BrandName,
		},
	}

	var out struct {
		ID    string       `json:"id"`
		Links []paypalLink `json:"links"`
	}
	if err := c.postJSON(ctx, "/v2/checkout/orders", body, http.StatusCreated, &out); err != nil {
		return nil, err
	}

	approval, err := approvalLink(out.Links)
	if err != nil {
		return nil, err
	}
	return &PayPalCheckout{ID: out.ID, ApprovalURL: approval}, nil
}

// PayPalSubscription is the subset of the provider subscription object we use.
type PayPalSubscription struct {
	ID     string `json:"id"`
	PlanID string `json:"plan_id"`
	Status string `json:"status"`
}

// GetSubscription retrieves subscription details from PayPal.
func (c *PayPalClient) GetSubscription(ctx context.Context, subscriptionID string) (*PayPalSubscription, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/billing/subscriptions/"+url.PathEscape(subscriptionID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("paypal subscription lookup returned %d", resp.StatusCode)
	}

	var sub PayPalSubscription
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// CancelSubscription cancels a subscription at the provider.
func (c *PayPalClient) CancelSubscription(ctx context.Context, subscriptionID, reason string) error {
	body := map[string]string{"reason": reason}
	return c.postJSON(ctx, "/v1/billing/subscriptions/"+url.PathEscape(subscriptionID)+"/cancel", body, http.StatusNoContent, nil)
}

// PayPalStatusToSubscriptionStatus maps provider subscription statuses onto
// the local subscription state.
func PayPalStatusToSubscriptionStatus(status string) (string, bool) {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "ACTIVE":
		return models.SUB_STATUS_ACTIVE, true
	case "CANCELLED":
		return models.SUB_STATUS_CANCELLED, true
	case "EXPIRED":
		return models.SUB_STATUS_INACTIVE, true
	case "SUSPENDED":
		return models.SUB_STATUS_PAST_DUE, true
	default:
		return "", false
	}
}

// WebhookVerificationRequest carries the transmission headers PayPal signs.
type WebhookVerificationRequest struct {
	TransmissionID   string
	TransmissionTime string
	TransmissionSig  string
	CertURL          string
	AuthAlgo         string
	Body             []byte
}

// VerifyWebhookSignature asks PayPal to verify a webhook delivery. PayPal has
// no shared-secret HMAC scheme; verification is an API round trip.
func (c *PayPalClient) VerifyWebhookSignature(ctx context.Context, in WebhookVerificationRequest) (bool, error) {
	if c.WebhookID == "" {
		return false, errors.New("PAYPAL_WEBHOOK_ID is not configured")
	}

	body := map[string]interface{}{
		"transmission_id":   in.TransmissionID,
		"transmission_time": in.TransmissionTime,
		"transmission_sig":  in.TransmissionSig,
		"cert_url":          in.CertURL,
		"auth_algo":         in.AuthAlgo,
		"webhook_id":        c.WebhookID,
		"webhook_event":     json.RawMessage(in.Body),
	}

	var out struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := c.postJSON(ctx, "/v1/notifications/verify-webhook-signature", body, http.StatusOK, &out); err != nil {
		return false, err
	}
	return out.VerificationStatus == "SUCCESS", nil
}

func (c *PayPalClient) postJSON(ctx context.Context, path string, body interface{}, wantStatus int, out interface{}) error {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("paypal API %s returned %d: %s", path, resp.StatusCode, truncate(string(msg), 256))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func approvalLink(links []paypalLink) (string, error) {
	for _, link := range links {
		if link.Rel == "approve" {
			return link.Href, nil
		}
	}
	return "", errors.New("paypal response carries no approval link")
}

// paypalWebhookEnvelope is the raw webhook shape.
type paypalWebhookEnvelope struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID                 string `json:"id"`
		Status             string `json:"status"`
		PlanID             string `json:"plan_id"`
		BillingAgreementID string `json:"billing_agreement_id"`
		SupplementaryData  struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	} `json:"resource"`
}

// ParsePayPalEvent maps a verified PayPal webhook body to the
// provider-neutral Event. Unhandled event types come back as KindIgnored.
func ParsePayPalEvent(payload []byte) (Event, error) {
	var envelope paypalWebhookEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return Event{}, fmt.Errorf("invalid paypal payload: %w", err)
	}

	ev := Event{
		Provider: models.LedgerProviderPayPal,
		Kind:     KindIgnored,
		EventID:  envelope.ID,
		RawJSON:  string(payload),
	}

	switch envelope.EventType {
	case "BILLING.SUBSCRIPTION.ACTIVATED":
		ev.Kind = KindSubscriptionActivated
		ev.SubscriptionID = envelope.Resource.ID
		ev.Reference = envelope.Resource.ID
		ev.PlanID = envelope.Resource.PlanID
	case "BILLING.SUBSCRIPTION.CANCELLED":
		ev.Kind = KindSubscriptionCancelled
		ev.SubscriptionID = envelope.Resource.ID
		ev.Reference = envelope.Resource.ID
	case "PAYMENT.SALE.COMPLETED":
		ev.Kind = KindPaymentReceived
		ev.SubscriptionID = envelope.Resource.BillingAgreementID
		ev.Reference = envelope.Resource.ID
	case "PAYMENT.CAPTURE.COMPLETED":
		ev.Kind = KindOneTimePaymentCompleted
		ev.ProductKind = models.CheckoutKindCharacterPack
		// Captures reference their order through supplementary data; older
		// sandbox payloads only carry the capture id.
		if orderID := envelope.Resource.SupplementaryData.RelatedIDs.OrderID; orderID != "" {
			ev.Reference = orderID
		} else {
			ev.Reference = envelope.Resource.ID
		}
	}

	return ev, nil
}
