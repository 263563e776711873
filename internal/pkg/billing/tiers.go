package billing

import "strings"

// Character pack tiers and voice pack tiers. Credit amounts are contractual:
// changing them retroactively alters what already-paid customers receive.
const (
	TierSmall      = "small"
	TierMedium     = "medium"
	TierLarge      = "large"
	TierEnterprise = "enterprise"

	VoiceTierPro      = "pro"
	VoiceTierBusiness = "business"
)

// characterCredits maps a character pack tier to the credited amount.
var characterCredits = map[string]int64{
	TierSmall:      500_000,
	TierMedium:     1_000_000,
	TierLarge:      5_000_000,
	TierEnterprise: 20_000_000,
}

// characterPackPriceCents is what Stripe charges per tier.
var characterPackPriceCents = map[string]int64{
	TierSmall:      2000,
	TierMedium:     4000,
	TierLarge:      18000,
	TierEnterprise: 70000,
}

// voicePackPriceCents is what Stripe charges per voice pack tier. Every voice
// pack credits exactly one voice slot regardless of tier.
var voicePackPriceCents = map[string]int64{
	VoiceTierPro:      900,
	VoiceTierBusiness: 600,
}

// paypalTierPriceUSD is the PayPal one-time order price in whole dollars.
var paypalTierPriceUSD = map[string]int64{
	TierSmall:      20,
	TierMedium:     40,
	TierLarge:      180,
	TierEnterprise: 700,
}

// CharacterCreditsForTier returns the credited characters for a pack tier.
func CharacterCreditsForTier(tier string) (int64, bool) {
	credits, ok := characterCredits[normalizeTier(tier)]
	return credits, ok
}

// CharacterPackPriceCents returns the Stripe price for a character pack tier.
func CharacterPackPriceCents(tier string) (int64, bool) {
	price, ok := characterPackPriceCents[normalizeTier(tier)]
	return price, ok
}

// VoicePackPriceCents returns the Stripe price for a voice pack tier.
func VoicePackPriceCents(tier string) (int64, bool) {
	price, ok := voicePackPriceCents[normalizeTier(tier)]
	return price, ok
}

// PayPalTierPriceUSD returns the PayPal order value for a character pack tier.
func PayPalTierPriceUSD(tier string) (int64, bool) {
	price, ok := paypalTierPriceUSD[normalizeTier(tier)]
	return price, ok
}

func normalizeTier(tier string) string {
	return strings.ToLower(strings.TrimSpace(tier))
}
