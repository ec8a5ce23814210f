package subscriptions

import (
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/7juliusearl/dot-backend/internal/paymentmethods"
	"github.com/7juliusearl/dot-backend/pkg/db/models"
	"github.com/7juliusearl/dot-backend/pkg/enums"
	pkgerrors "github.com/7juliusearl/dot-backend/pkg/errors"
)

// BuildSnapshotFromStripe maps a live Stripe subscription into the
// canonical subscription row for the customer.
func BuildSnapshotFromStripe(stripeSub *stripe.Subscription, customerID string, card paymentmethods.Card) (*models.Subscription, error) {
	if stripeSub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "stripe subscription is nil")
	}

	status := mapStripeStatus(stripeSub.Status)
	priceID := priceIDFromSubscription(stripeSub)
	startTS, endTS := periodFromSubscription(stripeSub)

	if card.Brand == "" || card.Last4 == "" {
		card = paymentmethods.PlaceholderCard
	}

	return &models.Subscription{
		CustomerID:         customerID,
		SubscriptionID:     trimmedPtr(stripeSub.ID),
		PriceID:            trimmedPtr(priceID),
		Status:             status,
		CurrentPeriodStart: epochPtr(startTS),
		CurrentPeriodEnd:   epochPtr(endTS),
		CancelAtPeriodEnd:  stripeSub.CancelAtPeriodEnd,
		PaymentMethodBrand: card.Brand,
		PaymentMethodLast4: card.Last4,
	}, nil
}

// mapStripeStatus converts Stripe's status 1:1 into the local enum.
// Unknown values degrade to active rather than blocking the sync.
func mapStripeStatus(raw stripe.SubscriptionStatus) enums.SubscriptionStatus {
	value := strings.TrimSpace(strings.ToLower(string(raw)))
	if value == "" {
		return enums.SubscriptionStatusActive
	}
	if parsed, err := enums.ParseSubscriptionStatus(value); err == nil && parsed != enums.SubscriptionStatusNotStarted {
		return parsed
	}
	return enums.SubscriptionStatusActive
}

func priceIDFromSubscription(sub *stripe.Subscription) string {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return ""
	}
	item := sub.Items.Data[0]
	if item == nil || item.Price == nil {
		return ""
	}
	return item.Price.ID
}

// periodFromSubscription reads the billing period off the first
// subscription item, where Stripe reports it.
func periodFromSubscription(sub *stripe.Subscription) (int64, int64) {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return 0, 0
	}
	item := sub.Items.Data[0]
	if item == nil {
		return 0, 0
	}
	return item.CurrentPeriodStart, item.CurrentPeriodEnd
}

func epochPtr(ts int64) *int64 {
	if ts == 0 {
		return nil
	}
	return &ts
}

func trimmedPtr(value string) *string {
	if s := strings.TrimSpace(value); s != "" {
		return &s
	}
	return nil
}
