package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/echovoice/echovoice/app/models"
)

func signStripePayload(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts.Unix())
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifyStripeWebhookSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	secret := "whsec_test"
	now := time.Now()

	header := signStripePayload(payload, secret, now)
	if !VerifyStripeWebhookSignature(payload, header, secret, now) {
		t.Fatalf("expected valid signature to verify")
	}

	if VerifyStripeWebhookSignature([]byte(`{"id":"evt_2"}`), header, secret, now) {
		t.Fatalf("expected signature over different payload to fail")
	}
	if VerifyStripeWebhookSignature(payload, header, "whsec_other", now) {
		t.Fatalf("expected wrong secret to fail")
	}
	if VerifyStripeWebhookSignature(payload, "t=abc,v1=zz", secret, now) {
		t.Fatalf("expected garbage header to fail")
	}
	if VerifyStripeWebhookSignature(payload, "", secret, now) {
		t.Fatalf("expected empty header to fail")
	}

	stale := signStripePayload(payload, secret, now.Add(-10*time.Minute))
	if VerifyStripeWebhookSignature(payload, stale, secret, now) {
		t.Fatalf("expected stale timestamp to fail")
	}
}

func TestParseStripeEvent_SubscriptionCheckout(t *testing.T) {
	raw := []byte(`{
		"id": "evt_100",
		"type": "checkout.session.completed",
		"data": { "object": {
			"id": "cs_123",
			"mode": "subscription",
			"subscription": "sub_456",
			"metadata": { "user_id": "7", "price_id": "price_pro" }
		}}
	}`)

	ev, err := ParseStripeEvent(raw)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if ev.Kind != KindSubscriptionActivated {
		t.Fatalf("kind = %s, want subscription_activated", ev.Kind)
	}
	if ev.Reference != "cs_123" || ev.SubscriptionID != "sub_456" || ev.PlanID != "price_pro" {
		t.Fatalf("unexpected fields: %+v", ev)
	}
	if ev.Provider != models.LedgerProviderStripe {
		t.Fatalf("provider = %q", ev.Provider)
	}
}

func TestParseStripeEvent_PackCheckout(t *testing.T) {
	raw := []byte(`{
		"id": "evt_101",
		"type": "checkout.session.completed",
		"data": { "object": {
			"id": "cs_999",
			"mode": "payment",
			"metadata": { "user_id": "7", "product_type": "character_pack", "tier": "medium" }
		}}
	}`)

	ev, err := ParseStripeEvent(raw)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if ev.Kind != KindOneTimePaymentCompleted {
		t.Fatalf("kind = %s, want one_time_payment_completed", ev.Kind)
	}
	if ev.Reference != "cs_999" || ev.ProductKind != "character_pack" {
		t.Fatalf("unexpected fields: %+v", ev)
	}
}

func TestParseStripeEvent_SubscriptionUpdated(t *testing.T) {
	raw := []byte(`{
		"id": "evt_102",
		"type": "customer.subscription.updated",
		"data": { "object": { "id": "sub_456", "status": "past_due" } }
	}`)

	ev, err := ParseStripeEvent(raw)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if ev.Kind != KindSubscriptionUpdated {
		t.Fatalf("kind = %s, want subscription_updated", ev.Kind)
	}
	if ev.Status != models.SUB_STATUS_PAST_DUE {
		t.Fatalf("status = %q, want past_due", ev.Status)
	}
	if ev.Reference != "evt_102" {
		t.Fatalf("reference should be the event id, got %q", ev.Reference)
	}
}

func TestParseStripeEvent_UnknownType(t *testing.T) {
	ev, err := ParseStripeEvent([]byte(`{"id":"evt_1","type":"charge.refunded","data":{"object":{}}}`))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if ev.Kind != KindIgnored {
		t.Fatalf("unknown event types must be ignored, got %s", ev.Kind)
	}
}

func TestStripeStatusToSubscriptionStatus(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "active", want: models.SUB_STATUS_ACTIVE},
		{in: "past_due", want: models.SUB_STATUS_PAST_DUE},
		{in: "unpaid", want: models.SUB_STATUS_PAST_DUE},
		{in: "canceled", want: models.SUB_STATUS_CANCELLED},
		{in: "incomplete_expired", want: models.SUB_STATUS_CANCELLED},
		{in: "incomplete", want: models.SUB_STATUS_PENDING},
	}
	for _, tt := range tests {
		got, ok := StripeStatusToSubscriptionStatus(tt.in)
		if !ok || got != tt.want {
			t.Fatalf("StripeStatusToSubscriptionStatus(%q) = %q (%v), want %q", tt.in, got, ok, tt.want)
		}
	}
	if _, ok := StripeStatusToSubscriptionStatus("trialing"); ok {
		t.Fatalf("unmapped status must not resolve")
	}
}
