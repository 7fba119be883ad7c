package costcontrol_test

import (
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"

	"github.com/hoppy/ingest/internal/apperrors"
	"github.com/hoppy/ingest/internal/config"
	"github.com/hoppy/ingest/internal/costcontrol"
	"github.com/hoppy/ingest/internal/metrics"
	"github.com/hoppy/ingest/internal/model"
)

func testConfig() *config.Config {
	return &config.Config{
		MonthlyBudgetUSD:     20.0,
		AlertThreshold:       0.80,
		EmergencyThreshold:   0.95,
		TokenBucketCapacity:  1000,
		TokenBucketRefillMin: 10,
	}
}

func newController(cfg *config.Config) (*costcontrol.Controller, *costcontrol.MemLedger) {
	log := zerolog.New(io.Discard)
	ledger := costcontrol.NewMemLedger()
	return costcontrol.New(cfg, ledger, log, metrics.New(log)), ledger
}

func TestCheckAndExecuteAllowsWithinBudget(t *testing.T) {
	ctrl, ledger := newController(testConfig())

	result, err := ctrl.CheckAndExecute(model.OpPut, 1024, func() (int64, error) {
		return 1024, nil
	})
	if err != nil {
		t.Fatalf("expected operation to be allowed, got %v", err)
	}
	if result.Bytes != 1024 {
		t.Fatalf("expected 1024 bytes recorded, got %d", result.Bytes)
	}
	if len(ledger.Operations()) != 1 {
		t.Fatalf("expected one operation logged, got %d", len(ledger.Operations()))
	}
}

func TestCheckAndExecuteDeniesWhenTokenBucketExhausted(t *testing.T) {
	cfg := testConfig()
	cfg.TokenBucketCapacity = 1
	ctrl, _ := newController(cfg)

	_, err := ctrl.CheckAndExecute(model.OpPut, 100, func() (int64, error) { return 100, nil })
	if err != nil {
		t.Fatalf("first call should succeed, got %v", err)
	}

	_, err = ctrl.CheckAndExecute(model.OpPut, 100, func() (int64, error) { return 100, nil })
	var rateLimitErr *apperrors.RateLimitError
	if !errors.As(err, &rateLimitErr) {
		t.Fatalf("expected a RateLimitError once the token bucket is exhausted, got %v", err)
	}
}

func TestCheckAndExecuteDeniesOverMonthlyBudget(t *testing.T) {
	cfg := testConfig()
	cfg.MonthlyBudgetUSD = 0.00001
	ctrl, _ := newController(cfg)

	_, err := ctrl.CheckAndExecute(model.OpPut, 10*(1<<30), func() (int64, error) {
		return 10 * (1 << 30), nil
	})
	var budgetErr *apperrors.BudgetDenialError
	if !errors.As(err, &budgetErr) {
		t.Fatalf("expected a BudgetDenialError for an operation exceeding the monthly budget, got %v", err)
	}
}

func TestCheckAndExecuteEntersEmergencyModeAndStaysThere(t *testing.T) {
	cfg := testConfig()
	cfg.MonthlyBudgetUSD = 1.0
	cfg.EmergencyThreshold = 0.95
	ctrl, _ := newController(cfg)

	// First call pushes spend past the emergency threshold and gets denied.
	_, err := ctrl.CheckAndExecute(model.OpPut, 20*(1<<30), func() (int64, error) {
		return 20 * (1 << 30), nil
	})
	var budgetErr *apperrors.BudgetDenialError
	if !errors.As(err, &budgetErr) {
		t.Fatalf("expected first oversized call to be denied, got %v", err)
	}

	// A second, tiny call should also be denied because emergency mode latches.
	_, err = ctrl.CheckAndExecute(model.OpGet, 1, func() (int64, error) { return 1, nil })
	if !errors.As(err, &budgetErr) {
		t.Fatalf("expected emergency mode to persist and deny subsequent calls, got %v", err)
	}
}

func TestGetReportReflectsSpend(t *testing.T) {
	ctrl, _ := newController(testConfig())

	_, err := ctrl.CheckAndExecute(model.OpPut, 1<<20, func() (int64, error) {
		return 1 << 20, nil
	})
	if err != nil {
		t.Fatalf("unexpected denial: %v", err)
	}

	report, err := ctrl.GetReport()
	if err != nil {
		t.Fatalf("unexpected error from GetReport: %v", err)
	}
	if report.CurrentSpent <= 0 {
		t.Fatalf("expected non-zero spend in report, got %f", report.CurrentSpent)
	}
	if report.Remaining >= report.TotalBudget {
		t.Fatalf("expected remaining to decrease after spend")
	}
}

func TestEstimateCostIsZeroForDelete(t *testing.T) {
	if cost := costcontrol.EstimateCost(model.OpDelete, 1<<30); cost != 0 {
		t.Fatalf("expected DELETE to cost nothing, got %f", cost)
	}
}

func TestEstimateCostScalesWithBytes(t *testing.T) {
	small := costcontrol.EstimateCost(model.OpPut, 1<<20)
	large := costcontrol.EstimateCost(model.OpPut, 1<<30)
	if large <= small {
		t.Fatalf("expected larger payload to cost more: small=%f large=%f", small, large)
	}
}
