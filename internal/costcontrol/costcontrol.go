// Package costcontrol gates every object-store operation behind a
// token bucket and a monthly spend ledger, the reworking of
// metering's reserve/settle wallet pattern for storage costs instead
// of LLM token costs.
package costcontrol

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hoppy/ingest/internal/apperrors"
	"github.com/hoppy/ingest/internal/config"
	"github.com/hoppy/ingest/internal/metrics"
	"github.com/hoppy/ingest/internal/model"
)

// Per-operation cost model. PUT and GET scale with bytes moved;
// DELETE is free; LIST charges only the flat request cost.
const (
	baseRequestCost = 0.000005 // USD per PUT/LIST request
	baseGetCost     = 0.0000004
	transferCostPerGB = 0.09 // USD per GB egress
)

// EstimateCost returns the USD cost of performing op against n bytes.
func EstimateCost(op model.OperationType, bytes int64) float64 {
	gb := float64(bytes) / (1 << 30)
	switch op {
	case model.OpPut:
		return baseRequestCost + gb*transferCostPerGB
	case model.OpGet:
		return baseGetCost + gb*transferCostPerGB
	case model.OpDelete:
		return 0
	case model.OpList:
		return baseRequestCost
	default:
		return 0
	}
}

// Ledger persists Budget rows and Operation log entries. A real
// deployment backs this with a database table; tests use an
// in-memory implementation.
type Ledger interface {
	GetOrCreateBudget(monthYear string, defaults model.Budget) (model.Budget, error)
	SaveBudget(b model.Budget) error
	AppendOperation(op model.Operation) error
}

// Controller is the Cost Controller: a token bucket for burst
// protection plus a monthly ledger for hard spend limits.
type Controller struct {
	mu sync.Mutex

	ledger Ledger
	logger zerolog.Logger
	reg    *metrics.Registry

	monthlyBudget      float64
	alertThreshold     float64
	emergencyThreshold float64

	bucketCapacity float64
	refillPerMin   float64
	tokens         float64
	lastRefill     time.Time

	now func() time.Time
}

// New builds a Controller wired to cfg's thresholds. now defaults to
// time.Now and is overridable for deterministic tests.
func New(cfg *config.Config, ledger Ledger, logger zerolog.Logger, reg *metrics.Registry) *Controller {
	return &Controller{
		ledger:             ledger,
		logger:             logger.With().Str("component", "costcontrol").Logger(),
		reg:                reg,
		monthlyBudget:      cfg.MonthlyBudgetUSD,
		alertThreshold:     cfg.AlertThreshold,
		emergencyThreshold: cfg.EmergencyThreshold,
		bucketCapacity:     float64(cfg.TokenBucketCapacity),
		refillPerMin:       float64(cfg.TokenBucketRefillMin),
		tokens:             float64(cfg.TokenBucketCapacity),
		lastRefill:         time.Now(),
		now:                time.Now,
	}
}

// Work is the storage operation body the controller gates. It reports
// the bytes actually moved so the ledger records the real cost.
type Work func() (bytesActual int64, err error)

// Result is returned from a successful CheckAndExecute call.
type Result struct {
	ActualCost float64
	Bytes      int64
}

// CheckAndExecute enforces the token bucket and monthly budget before
// running work, then records the actual cost against the ledger.
// Denials are returned as apperrors.RateLimitError or
// apperrors.BudgetDenialError; callers use errors.As to branch on
// graceful degradation.
func (c *Controller) CheckAndExecute(op model.OperationType, estimatedBytes int64, work Work) (Result, error) {
	estimatedCost := EstimateCost(op, estimatedBytes)
	monthYear := c.now().UTC().Format("2006-01")

	c.mu.Lock()
	c.refillLocked()
	if c.tokens < 1 {
		c.mu.Unlock()
		if c.reg != nil {
			c.reg.TrackOperation(string(op), false, 0)
		}
		return Result{}, apperrors.NewRateLimit("token bucket exhausted", 60*time.Second)
	}
	c.mu.Unlock()

	budget, err := c.ledger.GetOrCreateBudget(monthYear, model.Budget{
		MonthYear:          monthYear,
		TotalBudget:        c.monthlyBudget,
		AlertThreshold:     c.alertThreshold,
		EmergencyThreshold: c.emergencyThreshold,
		UpdatedAt:          c.now(),
	})
	if err != nil {
		return Result{}, apperrors.NewPersistence("get_budget", err)
	}

	if budget.EmergencyMode {
		if c.reg != nil {
			c.reg.TrackOperation(string(op), false, 0)
		}
		return Result{}, apperrors.NewBudgetDenial("monthly budget emergency mode active", secondsUntilNextMonth(c.now()))
	}

	if budget.CurrentSpent+estimatedCost > budget.TotalBudget*budget.EmergencyThreshold {
		budget.EmergencyMode = true
		_ = c.ledger.SaveBudget(budget)
		c.logger.Error().Str("monthYear", monthYear).Float64("spent", budget.CurrentSpent).Msg("entering emergency mode, denying operation")
		if c.reg != nil {
			c.reg.TrackOperation(string(op), false, 0)
		}
		return Result{}, apperrors.NewBudgetDenial("monthly budget would exceed emergency threshold", secondsUntilNextMonth(c.now()))
	}

	c.mu.Lock()
	c.tokens--
	c.mu.Unlock()

	bytesActual, werr := work()
	if werr != nil {
		return Result{}, werr
	}

	actualCost := EstimateCost(op, bytesActual)
	budget.CurrentSpent += actualCost
	if !budget.AlertSent && budget.CurrentSpent >= budget.TotalBudget*budget.AlertThreshold {
		budget.AlertSent = true
		c.logger.Warn().Str("monthYear", monthYear).Float64("spent", budget.CurrentSpent).Msg("monthly budget alert threshold crossed")
	}
	budget.UpdatedAt = c.now()
	if err := c.ledger.SaveBudget(budget); err != nil {
		c.logger.Error().Err(err).Msg("failed to persist budget after operation")
	}

	if err := c.ledger.AppendOperation(model.Operation{
		Type:          op,
		EstimatedCost: actualCost,
		Bytes:         bytesActual,
		CreatedAt:     c.now(),
	}); err != nil {
		c.logger.Error().Err(err).Msg("failed to append operation log")
	}

	if c.reg != nil {
		c.reg.TrackOperation(string(op), true, actualCost)
	}

	return Result{ActualCost: actualCost, Bytes: bytesActual}, nil
}

func (c *Controller) refillLocked() {
	elapsed := c.now().Sub(c.lastRefill).Minutes()
	if elapsed <= 0 {
		return
	}
	c.tokens += elapsed * c.refillPerMin
	if c.tokens > c.bucketCapacity {
		c.tokens = c.bucketCapacity
	}
	c.lastRefill = c.now()
}

// Report summarizes the current month's spend for dashboards and the
// /cost-controller/report endpoint.
type Report struct {
	MonthYear        string  `json:"monthYear"`
	TotalBudget      float64 `json:"totalBudget"`
	CurrentSpent     float64 `json:"currentSpent"`
	DailyAverage     float64 `json:"dailyAverage"`
	ProjectedMonthly float64 `json:"projectedMonthly"`
	Remaining        float64 `json:"remaining"`
	EmergencyMode    bool    `json:"emergencyMode"`
}

// GetReport returns the current month's spend summary.
func (c *Controller) GetReport() (Report, error) {
	monthYear := c.now().UTC().Format("2006-01")
	budget, err := c.ledger.GetOrCreateBudget(monthYear, model.Budget{
		MonthYear:          monthYear,
		TotalBudget:        c.monthlyBudget,
		AlertThreshold:     c.alertThreshold,
		EmergencyThreshold: c.emergencyThreshold,
		UpdatedAt:          c.now(),
	})
	if err != nil {
		return Report{}, apperrors.NewPersistence("get_budget", err)
	}

	dayOfMonth := c.now().UTC().Day()
	dailyAvg := budget.CurrentSpent / float64(dayOfMonth)
	daysInMonth := daysIn(c.now().UTC())

	return Report{
		MonthYear:        monthYear,
		TotalBudget:      budget.TotalBudget,
		CurrentSpent:     budget.CurrentSpent,
		DailyAverage:     dailyAvg,
		ProjectedMonthly: dailyAvg * float64(daysInMonth),
		Remaining:        budget.TotalBudget - budget.CurrentSpent,
		EmergencyMode:    budget.EmergencyMode,
	}, nil
}

// IsEmergencyMode reports whether the current month's budget has
// already tripped into emergency mode, letting a caller like the
// Photo Processor skip expensive work up front instead of discovering
// the denial one upload at a time.
func (c *Controller) IsEmergencyMode() bool {
	monthYear := c.now().UTC().Format("2006-01")
	budget, err := c.ledger.GetOrCreateBudget(monthYear, model.Budget{
		MonthYear:          monthYear,
		TotalBudget:        c.monthlyBudget,
		AlertThreshold:     c.alertThreshold,
		EmergencyThreshold: c.emergencyThreshold,
		UpdatedAt:          c.now(),
	})
	if err != nil {
		return false
	}
	return budget.EmergencyMode
}

func secondsUntilNextMonth(now time.Time) time.Duration {
	now = now.UTC()
	firstOfNext := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return firstOfNext.Sub(now)
}

func daysIn(t time.Time) int {
	firstOfNext := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return firstOfNext.AddDate(0, 0, -1).Day()
}
