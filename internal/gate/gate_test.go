package gate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engerrors "github.com/ahrav/go-crossval/internal/errors"
)

// newTestGate builds a gate with a rate limiter fast enough to stay out of
// the way of concurrency assertions.
func newTestGate(t *testing.T, limit int) *Gate {
	t.Helper()
	g, err := New(Config{
		Limit:         limit,
		RatePerSecond: 10_000,
		Burst:         MaxLimit,
	}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(g.Close)
	return g
}

func TestNew_RejectsOutOfRangeLimit(t *testing.T) {
	for _, limit := range []int{-1, 6, 100} {
		_, err := New(Config{Limit: limit}, nil, nil)
		require.ErrorIs(t, err, engerrors.ErrLimitOutOfRange, "limit %d", limit)
	}
}

func TestNew_ZeroLimitSelectsDefault(t *testing.T) {
	g, err := New(Config{}, nil, nil)
	require.NoError(t, err)
	defer g.Close()
	assert.Equal(t, DefaultLimit, g.Limit())
}

// TestGate_BoundedConcurrencyProperty instruments the gate with a live
// counter and verifies the bound is never exceeded while many more tasks
// than slots contend for admission.
func TestGate_BoundedConcurrencyProperty(t *testing.T) {
	for _, bound := range []int{1, 2, 3, 5} {
		g := newTestGate(t, bound)

		const tasks = 40
		var (
			wg      sync.WaitGroup
			current atomic.Int64
			peak    atomic.Int64
		)

		for i := 0; i < tasks; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if !assert.NoError(t, g.Acquire(context.Background())) {
					return
				}
				defer g.Release()

				n := current.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				current.Add(-1)
			}()
		}
		wg.Wait()

		assert.LessOrEqual(t, peak.Load(), int64(bound), "bound %d exceeded", bound)
		assert.Zero(t, g.InFlight())
	}
}

func TestGate_AcquireHonorsCancellation(t *testing.T) {
	g := newTestGate(t, 1)

	require.NoError(t, g.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := g.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	g.Release()
	assert.Zero(t, g.InFlight())
}

func TestGate_SetLimitRejectsOutOfRange(t *testing.T) {
	g := newTestGate(t, 3)

	for _, limit := range []int{0, -2, 6} {
		require.ErrorIs(t, g.SetLimit(limit), engerrors.ErrLimitOutOfRange, "limit %d", limit)
	}
	assert.Equal(t, 3, g.Limit())
}

func TestGate_GrowMintsSlotsImmediately(t *testing.T) {
	g := newTestGate(t, 1)

	require.NoError(t, g.Acquire(context.Background()))
	require.NoError(t, g.SetLimit(2))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, g.Acquire(ctx), "second slot must exist after growth")

	g.Release()
	g.Release()
}

// TestGate_ShrinkBooksDebt shrinks while slots are in flight and verifies
// the released slot retires the debt instead of readmitting work, so the
// bound decays to the new value without cancelling anything.
func TestGate_ShrinkBooksDebt(t *testing.T) {
	g := newTestGate(t, 2)

	require.NoError(t, g.Acquire(context.Background()))
	require.NoError(t, g.Acquire(context.Background()))
	require.NoError(t, g.SetLimit(1))

	// Both slots busy and one owed back: admission must fail now.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, g.Acquire(ctx))

	// First release pays the debt; a second admission attempt still fails.
	g.Release()
	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	require.Error(t, g.Acquire(ctx2))

	// Second release frees the single remaining slot.
	g.Release()
	require.NoError(t, g.Acquire(context.Background()))
	g.Release()
}

func TestMonitor_NoPressureByDefault(t *testing.T) {
	m := NewMonitor(PressureConfig{}, nil, nil)
	assert.False(t, m.UnderPressure())
	m.Stop()
}

// TestMonitor_GoroutinePressure forces pressure with an absurdly low
// goroutine threshold and verifies it is reported and then cleared, never
// escalated to an error.
func TestMonitor_GoroutinePressure(t *testing.T) {
	m := NewMonitor(PressureConfig{
		MaxGoroutines:  1,
		SampleInterval: 5 * time.Millisecond,
	}, nil, nil)
	m.Start()
	defer m.Stop()

	require.Eventually(t, m.UnderPressure, time.Second, 5*time.Millisecond)
	assert.Equal(t, "goroutines", m.PressureReason())
}

func TestGate_ThrottleDelaysButAdmits(t *testing.T) {
	g, err := New(Config{
		Limit:         1,
		RatePerSecond: 10_000,
		ThrottleDelay: 30 * time.Millisecond,
		Pressure: PressureConfig{
			MaxGoroutines:  1,
			SampleInterval: 5 * time.Millisecond,
		},
	}, nil, nil)
	require.NoError(t, err)
	defer g.Close()

	require.Eventually(t, g.monitor.UnderPressure, time.Second, 5*time.Millisecond)

	start := time.Now()
	require.NoError(t, g.Acquire(context.Background()))
	defer g.Release()

	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond,
		"pressure must delay admission, not reject it")
}
