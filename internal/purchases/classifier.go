package purchases

import (
	"github.com/7juliusearl/dot-backend/pkg/config"
	"github.com/7juliusearl/dot-backend/pkg/enums"
)

// CheckoutModePayment is Stripe's one-time payment checkout mode; anything
// else is treated as recurring for classification purposes.
const CheckoutModePayment = "payment"

// Classifier decides which purchase tier a completed checkout belongs to.
// It is deliberately stateless; thresholds and price ids come from config
// because pricing has already moved several times.
type Classifier struct {
	pricing config.PricingConfig
}

// NewClassifier builds a classifier from the pricing configuration.
func NewClassifier(pricing config.PricingConfig) *Classifier {
	return &Classifier{pricing: pricing}
}

// Classify maps a checkout's mode, total (minor units) and price id to a
// tier. Rules are evaluated in order:
//
//  1. payment-mode checkout, or a total at or above the perpetual
//     threshold, is a perpetual purchase regardless of price id
//  2. a known long-cycle price id, or a total at or above the long-cycle
//     threshold, is a long-cycle plan
//  3. everything else is the short-cycle plan
func (c *Classifier) Classify(mode string, amountTotal int64, priceID string) enums.PurchaseTier {
	if mode == CheckoutModePayment || amountTotal >= c.pricing.PerpetualThresholdMinor {
		return enums.PurchaseTierPerpetual
	}
	if c.pricing.IsLongCyclePrice(priceID) || amountTotal >= c.pricing.LongCycleThresholdMinor {
		return enums.PurchaseTierLongCycle
	}
	return enums.PurchaseTierShortCycle
}
