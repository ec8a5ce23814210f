package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/7juliusearl/dot-backend/internal/cron"
)

type stubSweeper struct {
	report   cron.Report
	err      error
	lookback time.Duration
	limit    int
}

func (s *stubSweeper) Sweep(ctx context.Context, lookback time.Duration, limit int) (cron.Report, error) {
	s.lookback = lookback
	s.limit = limit
	return s.report, s.err
}

func TestReconcileSweepPassesOverrides(t *testing.T) {
	sweeper := &stubSweeper{report: cron.Report{OrdersScanned: 2, OrdersRepaired: 2}}
	handler := ReconcileSweep(sweeper, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reconcile/sweep?lookback_hours=48&batch_limit=10", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if sweeper.lookback != 48*time.Hour {
		t.Fatalf("expected 48h lookback, got %v", sweeper.lookback)
	}
	if sweeper.limit != 10 {
		t.Fatalf("expected limit 10, got %d", sweeper.limit)
	}

	var envelope struct {
		Data cron.Report `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.OrdersRepaired != 2 {
		t.Fatalf("expected repaired count in response, got %+v", envelope.Data)
	}
}

func TestReconcileSweepNoParamsUsesDefaults(t *testing.T) {
	sweeper := &stubSweeper{}
	handler := ReconcileSweep(sweeper, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reconcile/sweep", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if sweeper.lookback != 0 || sweeper.limit != 0 {
		t.Fatalf("expected zero values to defer to job defaults, got %v/%d", sweeper.lookback, sweeper.limit)
	}
}

func TestReconcileSweepPartialFailureStillReturnsReport(t *testing.T) {
	sweeper := &stubSweeper{
		report: cron.Report{OrdersScanned: 3, OrdersRepaired: 2, Failed: 1},
		err:    errors.New("one order unresolved"),
	}
	handler := ReconcileSweep(sweeper, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reconcile/sweep", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on partial failure, got %d", rec.Code)
	}
}

func TestReconcileSweepTotalFailureReturnsError(t *testing.T) {
	sweeper := &stubSweeper{err: errors.New("db down")}
	handler := ReconcileSweep(sweeper, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reconcile/sweep", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 on total failure, got %d", rec.Code)
	}
}

func TestReconcileSweepRejectsOutOfRangeOverrides(t *testing.T) {
	sweeper := &stubSweeper{}
	handler := ReconcileSweep(sweeper, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reconcile/sweep?lookback_hours=10000", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out-of-range lookback, got %d", rec.Code)
	}
}
