package observability

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// sampleWindow bounds how many measurements are kept per operation so the
// reported statistics reflect recent behavior rather than process lifetime.
const sampleWindow = 100

// PerformanceMonitor tracks latency and outcome for named operations such as
// job executions, cache round trips, and container resolutions. It keeps a
// sliding window of samples per operation, warns on slow calls, and
// periodically publishes Go runtime gauges through the collector.
type PerformanceMonitor struct {
	logger    *zap.Logger
	collector *Collector

	mu         sync.RWMutex
	operations map[string]*operationWindow

	slowThreshold  time.Duration
	reportInterval time.Duration

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// operationWindow holds the recent samples for one operation name.
type operationWindow struct {
	durations []time.Duration
	successes int64
	failures  int64
	lastSeen  time.Time
}

// OperationStats summarizes the recorded samples for one operation.
type OperationStats struct {
	AverageDuration time.Duration `json:"average_duration"`
	MinDuration     time.Duration `json:"min_duration"`
	MaxDuration     time.Duration `json:"max_duration"`
	SuccessCount    int64         `json:"success_count"`
	FailureCount    int64         `json:"failure_count"`
	SuccessRate     float64       `json:"success_rate"`
	SampleCount     int           `json:"sample_count"`
	LastSeen        time.Time     `json:"last_seen"`
}

// MonitorOption customizes a PerformanceMonitor.
type MonitorOption func(*PerformanceMonitor)

// WithSlowThreshold overrides the latency above which an operation is logged
// as slow. The default is 500ms.
func WithSlowThreshold(d time.Duration) MonitorOption {
	return func(m *PerformanceMonitor) { m.slowThreshold = d }
}

// WithReportInterval overrides how often the background loop publishes
// runtime gauges and summary logs. The default is 30s.
func WithReportInterval(d time.Duration) MonitorOption {
	return func(m *PerformanceMonitor) { m.reportInterval = d }
}

// NewPerformanceMonitor creates a monitor that logs through logger and
// publishes gauges through collector. Either may be nil; a nil logger is
// replaced with a no-op one and a nil collector disables gauge publishing.
func NewPerformanceMonitor(logger *zap.Logger, collector *Collector, opts ...MonitorOption) *PerformanceMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &PerformanceMonitor{
		logger:         logger,
		collector:      collector,
		operations:     make(map[string]*operationWindow),
		slowThreshold:  500 * time.Millisecond,
		reportInterval: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RecordOperation records one completed operation. Samples beyond the window
// size displace the oldest measurement for that operation.
func (m *PerformanceMonitor) RecordOperation(name string, elapsed time.Duration, err error) {
	m.mu.Lock()
	win, ok := m.operations[name]
	if !ok {
		win = &operationWindow{durations: make([]time.Duration, 0, sampleWindow)}
		m.operations[name] = win
	}
	if len(win.durations) >= sampleWindow {
		win.durations = win.durations[1:]
	}
	win.durations = append(win.durations, elapsed)
	if err != nil {
		win.failures++
	} else {
		win.successes++
	}
	win.lastSeen = time.Now()
	m.mu.Unlock()

	if m.collector != nil {
		m.collector.RecordDuration("operation_duration_seconds", elapsed, map[string]string{
			"operation": name,
		})
		if err != nil {
			m.collector.IncrementCounter("operation_failures_total", map[string]string{
				"operation": name,
			})
		}
	}

	if elapsed > m.slowThreshold {
		m.logger.Warn("slow operation detected",
			zap.String("operation", name),
			zap.Duration("elapsed", elapsed),
			zap.Duration("threshold", m.slowThreshold),
			zap.Bool("success", err == nil),
		)
	}
}

// Track runs fn and records its duration and outcome under name. The error
// from fn is returned unchanged.
func (m *PerformanceMonitor) Track(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	m.RecordOperation(name, time.Since(start), err)
	return err
}

// OperationStats returns the summary for one operation. A name that was never
// recorded yields the zero value.
func (m *PerformanceMonitor) OperationStats(name string) OperationStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	win, ok := m.operations[name]
	if !ok || len(win.durations) == 0 {
		return OperationStats{}
	}
	return summarizeWindow(win)
}

// AllStats returns summaries for every tracked operation keyed by name.
func (m *PerformanceMonitor) AllStats() map[string]OperationStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]OperationStats, len(m.operations))
	for name, win := range m.operations {
		if len(win.durations) == 0 {
			continue
		}
		out[name] = summarizeWindow(win)
	}
	return out
}

func summarizeWindow(win *operationWindow) OperationStats {
	min, max := win.durations[0], win.durations[0]
	var sum time.Duration
	for _, d := range win.durations {
		sum += d
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}

	total := win.successes + win.failures
	rate := float64(0)
	if total > 0 {
		rate = float64(win.successes) / float64(total)
	}

	return OperationStats{
		AverageDuration: sum / time.Duration(len(win.durations)),
		MinDuration:     min,
		MaxDuration:     max,
		SuccessCount:    win.successes,
		FailureCount:    win.failures,
		SuccessRate:     rate,
		SampleCount:     len(win.durations),
		LastSeen:        win.lastSeen,
	}
}

// Report logs one summary line per tracked operation, slowest average first.
func (m *PerformanceMonitor) Report() {
	stats := m.AllStats()
	if len(stats) == 0 {
		return
	}

	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return stats[names[i]].AverageDuration > stats[names[j]].AverageDuration
	})

	for _, name := range names {
		s := stats[name]
		m.logger.Info("operation performance",
			zap.String("operation", name),
			zap.Duration("avg", s.AverageDuration),
			zap.Duration("min", s.MinDuration),
			zap.Duration("max", s.MaxDuration),
			zap.Float64("success_rate", s.SuccessRate),
			zap.Int("samples", s.SampleCount),
		)
	}
}

// publishRuntime pushes Go runtime gauges through the collector.
func (m *PerformanceMonitor) publishRuntime() {
	if m.collector == nil {
		return
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	m.collector.SetGauge("runtime_goroutines", float64(runtime.NumGoroutine()), nil)
	m.collector.SetGauge("runtime_heap_alloc_bytes", float64(ms.HeapAlloc), nil)
	m.collector.SetGauge("runtime_heap_objects", float64(ms.HeapObjects), nil)
	m.collector.SetGauge("runtime_gc_cycles_total", float64(ms.NumGC), nil)
}

// Initialize starts the background reporting loop. It is safe to call once;
// subsequent calls while running are no-ops.
func (m *PerformanceMonitor) Initialize(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.running {
		return nil
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})

	go m.reportLoop(m.stopCh, m.doneCh)

	m.logger.Info("performance monitor started",
		zap.Duration("report_interval", m.reportInterval),
		zap.Duration("slow_threshold", m.slowThreshold),
	)
	return nil
}

// Shutdown stops the reporting loop and emits a final report.
func (m *PerformanceMonitor) Shutdown(ctx context.Context) error {
	m.runMu.Lock()
	if !m.running {
		m.runMu.Unlock()
		return nil
	}
	m.running = false
	close(m.stopCh)
	done := m.doneCh
	m.runMu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.Report()
	return nil
}

func (m *PerformanceMonitor) reportLoop(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(m.reportInterval)
	defer ticker.Stop()

	m.publishRuntime()
	for {
		select {
		case <-ticker.C:
			m.publishRuntime()
			m.Report()
		case <-stopCh:
			return
		}
	}
}
