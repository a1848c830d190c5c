package gate

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ahrav/go-crossval/internal/metrics"
)

// Default pressure thresholds. Exceeding any of them makes the monitor
// report pressure until the next sample clears it.
const (
	DefaultMaxHeapBytes   = uint64(2 << 30) // 2 GiB
	DefaultMaxCPUFraction = 0.85
	DefaultMaxGoroutines  = 10_000
	DefaultSampleInterval = 2 * time.Second
)

// PressureConfig configures the resource monitor thresholds.
type PressureConfig struct {
	// MaxHeapBytes is the heap-alloc threshold. Zero selects the default.
	MaxHeapBytes uint64

	// MaxCPUFraction is the process CPU utilization threshold in 0..1,
	// normalized by GOMAXPROCS. Zero selects the default.
	MaxCPUFraction float64

	// MaxGoroutines is the goroutine-count threshold. Zero selects the
	// default.
	MaxGoroutines int

	// SampleInterval is how often the monitor samples. Zero selects the
	// default.
	SampleInterval time.Duration
}

// Monitor samples process resource usage on a ticker and reports pressure
// when any threshold is exceeded. Pressure is advisory: the gate inserts a
// short delay before the next admission, and nothing ever hard-fails
// because of it.
type Monitor struct {
	cfg    PressureConfig
	logger *slog.Logger
	m      *metrics.Metrics

	mu     sync.Mutex
	reason string // empty when not under pressure

	// CPU sampling state: previous rusage and wall-clock sample point.
	lastCPU    time.Duration
	lastSample time.Time

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewMonitor creates a resource monitor. Start must be called to begin
// sampling; a monitor that is never started reports no pressure.
func NewMonitor(cfg PressureConfig, logger *slog.Logger, m *metrics.Metrics) *Monitor {
	if cfg.MaxHeapBytes == 0 {
		cfg.MaxHeapBytes = DefaultMaxHeapBytes
	}
	if cfg.MaxCPUFraction <= 0 {
		cfg.MaxCPUFraction = DefaultMaxCPUFraction
	}
	if cfg.MaxGoroutines <= 0 {
		cfg.MaxGoroutines = DefaultMaxGoroutines
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = DefaultSampleInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:    cfg,
		logger: logger.With("subsystem", "resource_monitor"),
		m:      m,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the sampling loop. Calling Start more than once is a no-op.
func (m *Monitor) Start() {
	if m.started.Swap(true) {
		return
	}
	m.lastCPU = processCPUTime()
	m.lastSample = time.Now()

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.cfg.SampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.sample()
			}
		}
	}()
}

// Stop halts sampling and waits for the loop to exit. Idempotent; safe to
// call on a monitor that was never started.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	if m.started.Load() {
		<-m.done
	}
}

// PressureReason returns the resource currently over threshold, or the empty
// string when admission should proceed undelayed.
func (m *Monitor) PressureReason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

// UnderPressure reports whether the last sample exceeded any threshold.
func (m *Monitor) UnderPressure() bool { return m.PressureReason() != "" }

// sample reads heap, goroutine, and CPU usage and updates the pressure
// state. Exceeding a threshold is a warning, never an error.
func (m *Monitor) sample() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	reason := ""
	switch {
	case memStats.HeapAlloc > m.cfg.MaxHeapBytes:
		reason = "memory"
	case runtime.NumGoroutine() > m.cfg.MaxGoroutines:
		reason = "goroutines"
	default:
		if frac, ok := m.cpuFraction(); ok && frac > m.cfg.MaxCPUFraction {
			reason = "cpu"
		}
	}

	m.mu.Lock()
	prev := m.reason
	m.reason = reason
	m.mu.Unlock()

	if reason != "" && reason != prev {
		m.logger.Warn("resource exhaustion warning, throttling admission",
			"resource", reason,
			"heap_bytes", memStats.HeapAlloc,
			"goroutines", runtime.NumGoroutine())
	}
}

// cpuFraction computes process CPU utilization since the previous sample,
// normalized by GOMAXPROCS. Returns ok=false on the first sample or when the
// wall-clock delta is too small to be meaningful.
func (m *Monitor) cpuFraction() (float64, bool) {
	now := time.Now()
	cpu := processCPUTime()

	m.mu.Lock()
	wall := now.Sub(m.lastSample)
	used := cpu - m.lastCPU
	m.lastSample = now
	m.lastCPU = cpu
	m.mu.Unlock()

	if wall < 100*time.Millisecond {
		return 0, false
	}
	frac := float64(used) / float64(wall) / float64(runtime.GOMAXPROCS(0))
	return frac, true
}

// processCPUTime returns the process's cumulative user+system CPU time.
func processCPUTime() time.Duration {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0
	}
	return timevalDuration(ru.Utime) + timevalDuration(ru.Stime)
}

func timevalDuration(tv unix.Timeval) time.Duration {
	return time.Duration(tv.Sec)*time.Second + time.Duration(tv.Usec)*time.Microsecond
}
