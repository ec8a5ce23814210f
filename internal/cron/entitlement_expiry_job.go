package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/7juliusearl/dot-backend/internal/billing"
	"github.com/7juliusearl/dot-backend/pkg/logger"
)

const defaultExpiryHorizon = 72 * time.Hour

// EntitlementExpiryJobParams configures the entitlement expiry sweep.
type EntitlementExpiryJobParams struct {
	Logger      *logger.Logger
	BillingRepo billing.Repository
	BatchLimit  int
	// Horizon is how far ahead to look when counting soon-to-expire
	// entitlements. Zero selects 72h.
	Horizon time.Duration

	// Now is injectable for tests; nil selects time.Now.
	Now func() time.Time
}

// EntitlementExpiryJob tombstones customers whose cancel-at-period-end
// subscriptions have lapsed and reports how many will lapse soon.
type EntitlementExpiryJob struct {
	logg    *logger.Logger
	repo    billing.Repository
	limit   int
	horizon time.Duration
	now     func() time.Time
}

// NewEntitlementExpiryJob builds the expiry sweep job.
func NewEntitlementExpiryJob(params EntitlementExpiryJobParams) (*EntitlementExpiryJob, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.BillingRepo == nil {
		return nil, fmt.Errorf("billing repository required")
	}

	limit := params.BatchLimit
	if limit <= 0 {
		limit = 50
	}
	horizon := params.Horizon
	if horizon <= 0 {
		horizon = defaultExpiryHorizon
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}

	return &EntitlementExpiryJob{
		logg:    params.Logger,
		repo:    params.BillingRepo,
		limit:   limit,
		horizon: horizon,
		now:     now,
	}, nil
}

func (j *EntitlementExpiryJob) Name() string { return "entitlement-expiry" }

// Run soft-deletes every customer whose paid period has ended without
// renewal. Deletes are idempotent, so a customer picked up twice across
// overlapping runs is harmless.
func (j *EntitlementExpiryJob) Run(ctx context.Context) error {
	ctx = j.logg.WithField(ctx, "job", j.Name())
	nowEpoch := j.now().Unix()

	expired, err := j.repo.ListExpiredCancellations(ctx, nowEpoch, j.limit)
	if err != nil {
		return fmt.Errorf("list expired cancellations: %w", err)
	}

	var errs error
	removed := 0
	for i := range expired {
		customerID := expired[i].CustomerID
		if err := j.repo.SoftDeleteCustomerData(ctx, customerID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire customer %s: %w", customerID, err))
			continue
		}
		removed++
	}

	expiringSoon, err := j.repo.CountExpiringSoon(ctx, nowEpoch, j.now().Add(j.horizon).Unix())
	if err != nil {
		j.logg.Warn(ctx, "counting soon-to-expire entitlements failed: "+err.Error())
		expiringSoon = -1
	}

	reportCtx := j.logg.WithFields(ctx, map[string]any{
		"expired":       len(expired),
		"removed":       removed,
		"expiring_soon": expiringSoon,
	})
	j.logg.Info(reportCtx, "entitlement expiry sweep complete")
	return errs
}
