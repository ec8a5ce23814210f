package stripewebhook

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/7juliusearl/dot-backend/internal/billing"
	"github.com/7juliusearl/dot-backend/internal/paymentmethods"
	"github.com/7juliusearl/dot-backend/pkg/db/models"
	"github.com/7juliusearl/dot-backend/pkg/enums"
	pkgerrors "github.com/7juliusearl/dot-backend/pkg/errors"
	"github.com/7juliusearl/dot-backend/pkg/logger"
)

// inviteTimeout bounds the detached invite call after the webhook has
// already been acked.
const inviteTimeout = 15 * time.Second

// syncTimeout bounds the detached post-checkout sync, which can burn the
// full fetch retry budget twice before settling on a fallback.
const syncTimeout = 2 * time.Minute

type checkoutLineItemLister interface {
	ListCheckoutLineItems(ctx context.Context, sessionID string) ([]*stripe.LineItem, error)
}

type purchaseClassifier interface {
	Classify(mode string, amountTotal int64, priceID string) enums.PurchaseTier
}

type cardResolver interface {
	Resolve(ctx context.Context, customerID string, checkout paymentmethods.CheckoutContext) paymentmethods.Card
}

type subscriptionSyncer interface {
	Sync(ctx context.Context, customerID string) (*models.Subscription, error)
}

type inviteSender interface {
	Enabled() bool
	Send(ctx context.Context, email string) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams groups dependencies for the webhook dispatcher.
type ServiceParams struct {
	BillingRepo       billing.Repository
	StripeClient      checkoutLineItemLister
	Classifier        purchaseClassifier
	Resolver          cardResolver
	Synchronizer      subscriptionSyncer
	Invites           inviteSender
	TransactionRunner txRunner
	Logger            *logger.Logger
}

// Service routes verified Stripe events to the reconciliation pipeline.
type Service struct {
	repo       billing.Repository
	stripe     checkoutLineItemLister
	classifier purchaseClassifier
	resolver   cardResolver
	sync       subscriptionSyncer
	invites    inviteSender
	txRunner   txRunner
	logg       *logger.Logger

	// dispatch runs detached work; tests swap it for a synchronous call.
	dispatch func(fn func())
}

// NewService builds the webhook dispatcher.
func NewService(params ServiceParams) (*Service, error) {
	if params.BillingRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing repo required")
	}
	if params.StripeClient == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe client required")
	}
	if params.Classifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "purchase classifier required")
	}
	if params.Resolver == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment method resolver required")
	}
	if params.Synchronizer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription synchronizer required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		repo:       params.BillingRepo,
		stripe:     params.StripeClient,
		classifier: params.Classifier,
		resolver:   params.Resolver,
		sync:       params.Synchronizer,
		invites:    params.Invites,
		txRunner:   params.TransactionRunner,
		logg:       params.Logger,
		dispatch:   func(fn func()) { go fn() },
	}, nil
}

// HandleEvent processes a signature-verified event. Unknown event types
// and events without a customer id are acked without work.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	ctx = s.logg.WithEventID(ctx, event.ID)

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode checkout session event")
		}
		return s.handleCheckoutCompleted(ctx, &session)
	case stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted:
		var stripeSub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode subscription event")
		}
		customerID := customerIDOf(stripeSub.Customer)
		if customerID == "" {
			s.logg.Warn(ctx, "subscription event without customer id, skipping")
			return nil
		}
		_, err := s.sync.Sync(ctx, customerID)
		return err
	default:
		return nil
	}
}

// handleCheckoutCompleted records the order and kicks off the downstream
// pipeline: classification, payment method resolution, customer upsert,
// conflict-ignored order insert, then a detached sync for recurring
// purchases. Only the insert path can fail the event.
func (s *Service) handleCheckoutCompleted(ctx context.Context, session *stripe.CheckoutSession) error {
	if session == nil || session.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "checkout session required")
	}
	customerID := customerIDOf(session.Customer)
	if customerID == "" {
		s.logg.Warn(ctx, "checkout session without customer id, skipping")
		return nil
	}
	ctx = s.logg.WithCustomerID(ctx, customerID)

	priceID := s.firstPriceID(ctx, session.ID)
	tier := s.classifier.Classify(string(session.Mode), session.AmountTotal, priceID)

	card := s.resolver.Resolve(ctx, customerID, paymentmethods.CheckoutContext{
		SubscriptionID:  objectID(session.Subscription),
		PaymentIntentID: paymentIntentID(session.PaymentIntent),
		SetupIntentID:   setupIntentID(session.SetupIntent),
		Recurring:       tier.IsRecurring(),
	})

	email := checkoutEmail(session)

	order := &models.Order{
		CheckoutSessionID:  session.ID,
		PaymentIntentID:    paymentIntentID(session.PaymentIntent),
		CustomerID:         customerID,
		Email:              email,
		AmountSubtotal:     session.AmountSubtotal,
		AmountTotal:        session.AmountTotal,
		Currency:           string(session.Currency),
		PaymentStatus:      string(session.PaymentStatus),
		Status:             enums.OrderStatusCompleted,
		PurchaseTier:       tier,
		PaymentMethodBrand: card.Brand,
		PaymentMethodLast4: card.Last4,
	}
	if priceID != "" {
		order.PriceID = &priceID
	}

	var created bool
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		if _, err := txRepo.UpsertCustomer(ctx, customerID, email); err != nil {
			return err
		}
		var err error
		created, err = txRepo.CreateOrderIgnoreConflict(ctx, order)
		return err
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist checkout order")
	}
	if !created {
		s.logg.Info(ctx, "order already recorded for checkout session")
	}

	if tier.IsRecurring() {
		// The sync retry budget can outlast Stripe's webhook timeout, so
		// the order persist is acked first and the sync runs detached.
		// Runs abandoned here are repaired by the reconcile sweep.
		s.dispatch(func() {
			syncCtx, cancel := context.WithTimeout(context.Background(), syncTimeout)
			defer cancel()
			syncCtx = s.logg.WithCustomerID(syncCtx, customerID)
			if _, err := s.sync.Sync(syncCtx, customerID); err != nil {
				s.logg.Error(syncCtx, "post-checkout subscription sync failed", err)
			}
		})
	}

	if created && email != "" && s.invites != nil && s.invites.Enabled() {
		// best effort; invite failures never surface to Stripe
		go func(email string) {
			inviteCtx, cancel := context.WithTimeout(context.Background(), inviteTimeout)
			defer cancel()
			if err := s.invites.Send(inviteCtx, email); err != nil {
				s.logg.Warn(inviteCtx, "beta invite failed: "+err.Error())
			}
		}(email)
	}

	return nil
}

// firstPriceID loads line items and takes the first price id; a failed
// lookup degrades classification to amount thresholds rather than failing
// the event.
func (s *Service) firstPriceID(ctx context.Context, sessionID string) string {
	items, err := s.stripe.ListCheckoutLineItems(ctx, sessionID)
	if err != nil {
		s.logg.Warn(ctx, "listing checkout line items failed: "+err.Error())
		return ""
	}
	for _, item := range items {
		if item != nil && item.Price != nil && item.Price.ID != "" {
			return item.Price.ID
		}
	}
	return ""
}

func customerIDOf(customer *stripe.Customer) string {
	if customer == nil {
		return ""
	}
	return strings.TrimSpace(customer.ID)
}

func objectID(sub *stripe.Subscription) string {
	if sub == nil {
		return ""
	}
	return sub.ID
}

func paymentIntentID(intent *stripe.PaymentIntent) string {
	if intent == nil {
		return ""
	}
	return intent.ID
}

func setupIntentID(intent *stripe.SetupIntent) string {
	if intent == nil {
		return ""
	}
	return intent.ID
}

func checkoutEmail(session *stripe.CheckoutSession) string {
	if session == nil {
		return ""
	}
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		return session.CustomerDetails.Email
	}
	return session.CustomerEmail
}
