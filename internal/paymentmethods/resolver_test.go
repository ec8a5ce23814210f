package paymentmethods

import (
	"context"
	"errors"
	"testing"

	"github.com/stripe/stripe-go/v84"

	"github.com/7juliusearl/dot-backend/pkg/logger"
	"github.com/rs/zerolog"
)

type stubPaymentSource struct {
	subscription    *stripe.Subscription
	subscriptionErr error
	paymentIntent   *stripe.PaymentIntent
	paymentErr      error
	setupIntent     *stripe.SetupIntent
	setupErr        error
	cards           []*stripe.PaymentMethod
	cardsErr        error

	subscriptionCalls int
	paymentCalls      int
	setupCalls        int
	listCalls         int
}

func (s *stubPaymentSource) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	s.subscriptionCalls++
	return s.subscription, s.subscriptionErr
}

func (s *stubPaymentSource) GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	s.paymentCalls++
	return s.paymentIntent, s.paymentErr
}

func (s *stubPaymentSource) GetSetupIntent(ctx context.Context, id string) (*stripe.SetupIntent, error) {
	s.setupCalls++
	return s.setupIntent, s.setupErr
}

func (s *stubPaymentSource) ListCardPaymentMethods(ctx context.Context, customerID string, limit int64) ([]*stripe.PaymentMethod, error) {
	s.listCalls++
	return s.cards, s.cardsErr
}

func cardMethod(brand, last4 string) *stripe.PaymentMethod {
	return &stripe.PaymentMethod{
		Card: &stripe.PaymentMethodCard{
			Brand: stripe.PaymentMethodCardBrand(brand),
			Last4: last4,
		},
	}
}

func newTestResolver(t *testing.T, source *stubPaymentSource) *Resolver {
	t.Helper()
	resolver, err := NewResolver(ResolverParams{
		StripeClient: source,
		Logger:       logger.New(logger.Options{ServiceName: "test", Level: zerolog.Disabled}),
	})
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	return resolver
}

func TestResolvePrefersSubscriptionDefault(t *testing.T) {
	source := &stubPaymentSource{
		subscription: &stripe.Subscription{DefaultPaymentMethod: cardMethod("visa", "4242")},
	}
	resolver := newTestResolver(t, source)

	card := resolver.Resolve(context.Background(), "cus_1", CheckoutContext{
		SubscriptionID:  "sub_1",
		PaymentIntentID: "pi_1",
		Recurring:       true,
	})

	if card.Brand != "visa" || card.Last4 != "4242" {
		t.Fatalf("unexpected card %+v", card)
	}
	if source.paymentCalls != 0 {
		t.Fatalf("payment intent should not be consulted when subscription resolves")
	}
}

func TestResolveSkipsSubscriptionForOneTimePurchase(t *testing.T) {
	source := &stubPaymentSource{
		paymentIntent: &stripe.PaymentIntent{PaymentMethod: cardMethod("mastercard", "5100")},
	}
	resolver := newTestResolver(t, source)

	card := resolver.Resolve(context.Background(), "cus_1", CheckoutContext{
		SubscriptionID:  "sub_1",
		PaymentIntentID: "pi_1",
		Recurring:       false,
	})

	if source.subscriptionCalls != 0 {
		t.Fatalf("subscription source must be skipped for one-time purchases")
	}
	if card.Last4 != "5100" {
		t.Fatalf("unexpected card %+v", card)
	}
}

func TestResolveContinuesPastFailures(t *testing.T) {
	source := &stubPaymentSource{
		subscriptionErr: errors.New("stripe unavailable"),
		paymentIntent:   &stripe.PaymentIntent{PaymentMethod: cardMethod("amex", "0005")},
	}
	resolver := newTestResolver(t, source)

	card := resolver.Resolve(context.Background(), "cus_1", CheckoutContext{
		SubscriptionID:  "sub_1",
		PaymentIntentID: "pi_1",
		Recurring:       true,
	})

	if card.Last4 != "0005" {
		t.Fatalf("cascade should continue past a failing source, got %+v", card)
	}
}

func TestResolveRejectsMaskedDigits(t *testing.T) {
	source := &stubPaymentSource{
		subscription: &stripe.Subscription{DefaultPaymentMethod: cardMethod("visa", "****")},
		cards: []*stripe.PaymentMethod{
			cardMethod("", "1111"),
			cardMethod("visa", "12ab"),
			cardMethod("discover", "6011"),
		},
	}
	resolver := newTestResolver(t, source)

	card := resolver.Resolve(context.Background(), "cus_1", CheckoutContext{
		SubscriptionID: "sub_1",
		Recurring:      true,
	})

	if card.Brand != "discover" || card.Last4 != "6011" {
		t.Fatalf("expected first valid customer card, got %+v", card)
	}
}

func TestResolveFallsBackToSetupIntent(t *testing.T) {
	source := &stubPaymentSource{
		setupIntent: &stripe.SetupIntent{PaymentMethod: cardMethod("visa", "4000")},
	}
	resolver := newTestResolver(t, source)

	card := resolver.Resolve(context.Background(), "", CheckoutContext{SetupIntentID: "seti_1"})

	if card.Last4 != "4000" {
		t.Fatalf("unexpected card %+v", card)
	}
	if source.listCalls != 0 {
		t.Fatalf("card list requires a customer id")
	}
}

func TestResolveExhaustionReturnsPlaceholder(t *testing.T) {
	source := &stubPaymentSource{
		subscriptionErr: errors.New("boom"),
		paymentErr:      errors.New("boom"),
		cardsErr:        errors.New("boom"),
		setupErr:        errors.New("boom"),
	}
	resolver := newTestResolver(t, source)

	card := resolver.Resolve(context.Background(), "cus_1", CheckoutContext{
		SubscriptionID:  "sub_1",
		PaymentIntentID: "pi_1",
		SetupIntentID:   "seti_1",
		Recurring:       true,
	})

	if card != PlaceholderCard {
		t.Fatalf("expected placeholder, got %+v", card)
	}
	if !card.IsPlaceholder() {
		t.Fatalf("placeholder should report itself")
	}
}

func TestCardValid(t *testing.T) {
	tests := []struct {
		card Card
		want bool
	}{
		{Card{Brand: "visa", Last4: "4242"}, true},
		{Card{Brand: "", Last4: "4242"}, false},
		{Card{Brand: "visa", Last4: "424"}, false},
		{Card{Brand: "visa", Last4: "42424"}, false},
		{Card{Brand: "visa", Last4: "****"}, false},
		{Card{Brand: "card", Last4: ""}, false},
	}
	for _, tt := range tests {
		if got := tt.card.Valid(); got != tt.want {
			t.Fatalf("Valid(%+v) = %v, want %v", tt.card, got, tt.want)
		}
	}
}
