package subscriptions

import (
	"context"
	"net/http"

	"github.com/7juliusearl/dot-backend/api/middleware"
	"github.com/7juliusearl/dot-backend/api/responses"
	"github.com/7juliusearl/dot-backend/api/validators"
	"github.com/7juliusearl/dot-backend/pkg/db/models"
	pkgerrors "github.com/7juliusearl/dot-backend/pkg/errors"
	"github.com/7juliusearl/dot-backend/pkg/logger"
)

type SyncService interface {
	Sync(ctx context.Context, customerID string) (*models.Subscription, error)
}

type syncRequest struct {
	CustomerID string `json:"customer_id,omitempty"`
}

type subscriptionResponse struct {
	CustomerID         string  `json:"customer_id"`
	SubscriptionID     *string `json:"subscription_id,omitempty"`
	PriceID            *string `json:"price_id,omitempty"`
	Status             string  `json:"status"`
	CurrentPeriodStart *int64  `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *int64  `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool    `json:"cancel_at_period_end"`
	PaymentMethodBrand string  `json:"payment_method_brand"`
	PaymentMethodLast4 string  `json:"payment_method_last4"`
	Entitled           bool    `json:"entitled"`
}

// Sync forces a reconciliation pass for one customer. The customer id
// comes from the body when present, otherwise from the caller's token.
func Sync(svc SyncService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		var payload syncRequest
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		customerID := payload.CustomerID
		if customerID == "" {
			customerID = middleware.CustomerIDFromContext(r.Context())
		}
		if customerID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "customer_id is required"))
			return
		}

		sub, err := svc.Sync(r.Context(), customerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newSubscriptionResponse(sub))
	}
}

func newSubscriptionResponse(sub *models.Subscription) *subscriptionResponse {
	if sub == nil {
		return nil
	}
	return &subscriptionResponse{
		CustomerID:         sub.CustomerID,
		SubscriptionID:     sub.SubscriptionID,
		PriceID:            sub.PriceID,
		Status:             string(sub.Status),
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		PaymentMethodBrand: sub.PaymentMethodBrand,
		PaymentMethodLast4: sub.PaymentMethodLast4,
		Entitled:           sub.IsEntitled(),
	}
}
