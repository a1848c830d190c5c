// Package gate implements bounded admission control for document processing:
// a counting semaphore capping concurrent tasks, a token-bucket rate limiter
// protecting the downstream quota-limited pipeline, and a resource-pressure
// monitor that throttles admission when CPU or memory climb past thresholds.
// Pressure degrades throughput; it never fails a task.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	engerrors "github.com/ahrav/go-crossval/internal/errors"
	"github.com/ahrav/go-crossval/internal/metrics"
)

// Concurrency bound limits. The bound is adjustable at runtime but only
// within this closed range; out-of-range values are rejected explicitly.
const (
	MinLimit     = 1
	MaxLimit     = 5
	DefaultLimit = 3
)

// Default secondary rate limiter settings.
const (
	DefaultRatePerSecond = 2.0
	DefaultThrottleDelay = 250 * time.Millisecond
)

// Config configures a Gate.
type Config struct {
	// Limit is the concurrency bound, within MinLimit..MaxLimit.
	Limit int

	// RatePerSecond caps the rate of pipeline invocations independent of
	// the concurrency bound. Zero selects DefaultRatePerSecond.
	RatePerSecond float64

	// Burst is the rate limiter burst. Zero selects Limit.
	Burst int

	// ThrottleDelay is the pause inserted before admission while the
	// resource monitor reports pressure. Zero selects DefaultThrottleDelay.
	ThrottleDelay time.Duration

	// Pressure configures the resource monitor. A zero value selects
	// DefaultPressureConfig.
	Pressure PressureConfig
}

// Gate is the admission controller. Slots are modeled as tokens in a
// fixed-capacity channel; shrinking the bound books outstanding tokens as
// debt that Release pays down, so a running batch is never interrupted and
// the bound is never exceeded.
type Gate struct {
	mu    sync.Mutex
	slots chan struct{}
	limit int
	// debt counts tokens owed back after a shrink; Release retires debt
	// before returning a token to the pool.
	debt int

	limiter  *rate.Limiter
	monitor  *Monitor
	throttle time.Duration
	inFlight atomic.Int64

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a gate with the given configuration and starts its resource
// monitor. The caller must Close the gate to stop the monitor.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) (*Gate, error) {
	if cfg.Limit == 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Limit < MinLimit || cfg.Limit > MaxLimit {
		return nil, fmt.Errorf("%w: %d not in %d..%d", engerrors.ErrLimitOutOfRange, cfg.Limit, MinLimit, MaxLimit)
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = DefaultRatePerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.Limit
	}
	if cfg.ThrottleDelay <= 0 {
		cfg.ThrottleDelay = DefaultThrottleDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "concurrency_gate")

	g := &Gate{
		slots:    make(chan struct{}, MaxLimit),
		limit:    cfg.Limit,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		throttle: cfg.ThrottleDelay,
		logger:   logger,
		metrics:  m,
	}
	for i := 0; i < cfg.Limit; i++ {
		g.slots <- struct{}{}
	}

	g.monitor = NewMonitor(cfg.Pressure, logger, m)
	g.monitor.Start()
	return g, nil
}

// Acquire admits one document task. It suspends until a slot is free,
// applying the pressure delay and the rate limiter first. Returns the
// context error if the caller is cancelled while waiting; pressure itself
// never produces an error.
func (g *Gate) Acquire(ctx context.Context) error {
	if reason := g.monitor.PressureReason(); reason != "" {
		if g.metrics != nil {
			g.metrics.GateThrottle.WithLabelValues(reason).Inc()
		}
		g.logger.Warn("resource pressure, delaying admission",
			"reason", reason, "delay", g.throttle)
		timer := time.NewTimer(g.throttle)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-g.slots:
	}

	n := g.inFlight.Add(1)
	if g.metrics != nil {
		g.metrics.InFlightTasks.Set(float64(n))
	}
	return nil
}

// Release returns a slot. Must be called exactly once per successful
// Acquire, including on timeout and failure paths, so a slot is never
// leaked.
func (g *Gate) Release() {
	n := g.inFlight.Add(-1)
	if g.metrics != nil {
		g.metrics.InFlightTasks.Set(float64(n))
	}

	g.mu.Lock()
	if g.debt > 0 {
		g.debt--
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()
	g.slots <- struct{}{}
}

// SetLimit adjusts the concurrency bound at runtime within
// MinLimit..MaxLimit. Growing mints new slots immediately; shrinking books
// the difference as debt that in-flight releases retire, so the bound decays
// to the new value without cancelling running work.
func (g *Gate) SetLimit(n int) error {
	if n < MinLimit || n > MaxLimit {
		return fmt.Errorf("%w: %d not in %d..%d", engerrors.ErrLimitOutOfRange, n, MinLimit, MaxLimit)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	delta := n - g.limit
	g.limit = n
	switch {
	case delta > 0:
		// Cancel pending debt first, then mint the remainder.
		paid := min(delta, g.debt)
		g.debt -= paid
		for i := 0; i < delta-paid; i++ {
			g.slots <- struct{}{}
		}
	case delta < 0:
		// Reclaim free slots now; anything still in flight becomes debt.
		need := -delta
		for need > 0 {
			select {
			case <-g.slots:
				need--
			default:
				g.debt += need
				need = 0
			}
		}
	}

	g.logger.Info("concurrency bound adjusted", "limit", n)
	return nil
}

// Limit returns the current concurrency bound.
func (g *Gate) Limit() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limit
}

// InFlight returns the number of currently admitted tasks. Exposed for the
// bounded-concurrency property tests and metrics.
func (g *Gate) InFlight() int64 { return g.inFlight.Load() }

// Close stops the resource monitor. The gate must not be used after Close.
func (g *Gate) Close() { g.monitor.Stop() }
