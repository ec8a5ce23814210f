package paymentmethods

import (
	"context"
	"fmt"
	"regexp"

	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/7juliusearl/dot-backend/pkg/errors"
	"github.com/7juliusearl/dot-backend/pkg/logger"
)

const customerCardListLimit = 3

// last4Pattern guards against Stripe responses carrying masked or empty
// digits; anything that is not exactly four digits is rejected.
var last4Pattern = regexp.MustCompile(`^[0-9]{4}$`)

// Card is the resolved payment method summary stored on orders and
// subscription rows.
type Card struct {
	Brand string
	Last4 string
}

// PlaceholderCard is returned when every source is exhausted. Downstream
// writes proceed with it; the reconcile sweep retries these rows later.
var PlaceholderCard = Card{Brand: "card", Last4: "****"}

// IsPlaceholder reports whether the card still carries the sentinel digits.
func (c Card) IsPlaceholder() bool {
	return c.Last4 == "****" || c.Last4 == ""
}

// CheckoutContext carries the identifiers a checkout session exposes that
// may lead to a usable payment method.
type CheckoutContext struct {
	SubscriptionID  string
	PaymentIntentID string
	SetupIntentID   string
	Recurring       bool
}

type stripePaymentSource interface {
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error)
	GetSetupIntent(ctx context.Context, id string) (*stripe.SetupIntent, error)
	ListCardPaymentMethods(ctx context.Context, customerID string, limit int64) ([]*stripe.PaymentMethod, error)
}

// Resolver extracts card brand/last4 from Stripe, trying each source in a
// fixed order until one passes validation. Resolution is read-only: it
// never mutates Stripe or local state.
type Resolver struct {
	stripe stripePaymentSource
	logg   *logger.Logger
}

// ResolverParams groups dependencies for the resolver.
type ResolverParams struct {
	StripeClient stripePaymentSource
	Logger       *logger.Logger
}

// NewResolver constructs a payment method resolver.
func NewResolver(params ResolverParams) (*Resolver, error) {
	if params.StripeClient == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe client required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Resolver{
		stripe: params.StripeClient,
		logg:   params.Logger,
	}, nil
}

type strategy struct {
	name string
	run  func(ctx context.Context) (Card, error)
}

// Resolve runs the source cascade. A single source failing is logged and
// skipped; exhausting every source yields the placeholder and no error.
func (r *Resolver) Resolve(ctx context.Context, customerID string, checkout CheckoutContext) Card {
	strategies := []strategy{
		{name: "subscription_default", run: func(ctx context.Context) (Card, error) {
			if !checkout.Recurring || checkout.SubscriptionID == "" {
				return Card{}, errSourceUnavailable
			}
			sub, err := r.stripe.GetSubscription(ctx, checkout.SubscriptionID)
			if err != nil {
				return Card{}, err
			}
			if sub == nil {
				return Card{}, errSourceUnavailable
			}
			return cardFromPaymentMethod(sub.DefaultPaymentMethod), nil
		}},
		{name: "payment_intent", run: func(ctx context.Context) (Card, error) {
			if checkout.PaymentIntentID == "" {
				return Card{}, errSourceUnavailable
			}
			intent, err := r.stripe.GetPaymentIntent(ctx, checkout.PaymentIntentID)
			if err != nil {
				return Card{}, err
			}
			if intent == nil {
				return Card{}, errSourceUnavailable
			}
			return cardFromPaymentMethod(intent.PaymentMethod), nil
		}},
		{name: "customer_cards", run: func(ctx context.Context) (Card, error) {
			if customerID == "" {
				return Card{}, errSourceUnavailable
			}
			methods, err := r.stripe.ListCardPaymentMethods(ctx, customerID, customerCardListLimit)
			if err != nil {
				return Card{}, err
			}
			for _, method := range methods {
				if card := cardFromPaymentMethod(method); card.Valid() {
					return card, nil
				}
			}
			return Card{}, errSourceUnavailable
		}},
		{name: "setup_intent", run: func(ctx context.Context) (Card, error) {
			if checkout.SetupIntentID == "" {
				return Card{}, errSourceUnavailable
			}
			intent, err := r.stripe.GetSetupIntent(ctx, checkout.SetupIntentID)
			if err != nil {
				return Card{}, err
			}
			if intent == nil {
				return Card{}, errSourceUnavailable
			}
			return cardFromPaymentMethod(intent.PaymentMethod), nil
		}},
	}

	for _, s := range strategies {
		card, err := s.run(ctx)
		if err != nil {
			if err != errSourceUnavailable {
				fields := map[string]any{"source": s.name, "error": err.Error()}
				r.logg.Warn(r.logg.WithFields(ctx, fields), "payment method source failed")
			}
			continue
		}
		if card.Valid() {
			return card
		}
	}

	r.logg.Warn(r.logg.WithCustomerID(ctx, customerID), "no usable payment method found, storing placeholder")
	return PlaceholderCard
}

// Valid applies the acceptance gate: a non-empty brand and exactly four
// digits for last4.
func (c Card) Valid() bool {
	return c.Brand != "" && last4Pattern.MatchString(c.Last4)
}

var errSourceUnavailable = fmt.Errorf("payment method source unavailable")

func cardFromPaymentMethod(method *stripe.PaymentMethod) Card {
	if method == nil || method.Card == nil {
		return Card{}
	}
	return Card{
		Brand: string(method.Card.Brand),
		Last4: method.Card.Last4,
	}
}
