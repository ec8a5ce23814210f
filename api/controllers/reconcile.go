package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/7juliusearl/dot-backend/api/responses"
	"github.com/7juliusearl/dot-backend/api/validators"
	"github.com/7juliusearl/dot-backend/internal/cron"
	pkgerrors "github.com/7juliusearl/dot-backend/pkg/errors"
	"github.com/7juliusearl/dot-backend/pkg/logger"
)

type ReconcileSweeper interface {
	Sweep(ctx context.Context, lookback time.Duration, limit int) (cron.Report, error)
}

// ReconcileSweep triggers an ad hoc reconciliation pass. Overrides come in
// as query parameters; zero falls back to the configured defaults.
func ReconcileSweep(sweeper ReconcileSweeper, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if sweeper == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconcile job unavailable"))
			return
		}

		lookbackHours, err := validators.ParseQueryInt(r, "lookback_hours", 0, 0, 720)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		batchLimit, err := validators.ParseQueryInt(r, "batch_limit", 0, 0, 500)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		report, err := sweeper.Sweep(
			r.Context(),
			time.Duration(lookbackHours)*time.Hour,
			batchLimit,
		)
		if err != nil {
			// Partial failure still returns the report so operators can see
			// what was repaired.
			if report.OrdersScanned == 0 && report.SubscriptionsScanned == 0 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reconcile sweep"))
				return
			}
			if logg != nil {
				logg.Warn(r.Context(), "reconcile sweep finished with item failures: "+err.Error())
			}
		}

		responses.WriteSuccess(w, report)
	}
}
