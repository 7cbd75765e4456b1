// Package observability provides the metrics collector and tracing
// provider shared by every runtime component. Collectors are constructed
// by the service container and injected; there is no package-level
// singleton instance.
package observability

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// maxSamplesPerHistogram caps the in-memory sample window so long-running
// processes keep a bounded footprint.
const maxSamplesPerHistogram = 1000

// Collector accepts counters, gauges, histograms, and timers. Every value
// is kept twice: in an in-memory snapshot queryable via Snapshot, and in a
// private Prometheus registry for /metrics exposition.
//
// Counters support decrement, which Prometheus counters do not, so counter
// values are exported as gauges (the convention statsd-style bridges use).
// A metric name must keep a stable tag-key set across calls; observations
// with a mismatched key set are dropped.
type Collector struct {
	namespace string
	registry  *prometheus.Registry

	mu            sync.RWMutex
	counterVecs   map[string]*prometheus.GaugeVec
	gaugeVecs     map[string]*prometheus.GaugeVec
	histogramVecs map[string]*prometheus.HistogramVec

	counters   map[string]float64
	gauges     map[string]float64
	histograms map[string][]float64
}

// NewCollector creates a metrics collector with its own registry.
func NewCollector(namespace string) *Collector {
	return &Collector{
		namespace:     namespace,
		registry:      prometheus.NewRegistry(),
		counterVecs:   make(map[string]*prometheus.GaugeVec),
		gaugeVecs:     make(map[string]*prometheus.GaugeVec),
		histogramVecs: make(map[string]*prometheus.HistogramVec),
		counters:      make(map[string]float64),
		gauges:        make(map[string]float64),
		histograms:    make(map[string][]float64),
	}
}

// Registry returns the Prometheus registry backing this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ============================================================================
// COUNTERS
// ============================================================================

// IncrementCounter increments a counter metric by 1.
func (c *Collector) IncrementCounter(name string, tags map[string]string) {
	c.AddCounter(name, 1, tags)
}

// DecrementCounter decrements a counter metric by 1.
func (c *Collector) DecrementCounter(name string, tags map[string]string) {
	c.AddCounter(name, -1, tags)
}

// AddCounter adjusts a counter metric by delta.
func (c *Collector) AddCounter(name string, delta float64, tags map[string]string) {
	name = sanitizeName(name)

	c.mu.Lock()
	c.counters[buildKey(name, tags)] += delta
	vec, ok := c.counterVecs[name]
	if !ok {
		vec = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: c.namespace,
				Name:      name,
				Help:      fmt.Sprintf("Counter metric %s", name),
			},
			tagKeys(tags),
		)
		c.registry.MustRegister(vec)
		c.counterVecs[name] = vec
	}
	c.mu.Unlock()

	if m, err := vec.GetMetricWith(prometheus.Labels(tags)); err == nil {
		m.Add(delta)
	}
}

// ============================================================================
// GAUGES
// ============================================================================

// SetGauge sets a gauge metric to the specified value.
func (c *Collector) SetGauge(name string, value float64, tags map[string]string) {
	name = sanitizeName(name)

	c.mu.Lock()
	c.gauges[buildKey(name, tags)] = value
	vec, ok := c.gaugeVecs[name]
	if !ok {
		vec = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: c.namespace,
				Name:      name,
				Help:      fmt.Sprintf("Gauge metric %s", name),
			},
			tagKeys(tags),
		)
		c.registry.MustRegister(vec)
		c.gaugeVecs[name] = vec
	}
	c.mu.Unlock()

	if m, err := vec.GetMetricWith(prometheus.Labels(tags)); err == nil {
		m.Set(value)
	}
}

// IncrementGauge adjusts a gauge metric by delta.
func (c *Collector) IncrementGauge(name string, delta float64, tags map[string]string) {
	name = sanitizeName(name)

	c.mu.Lock()
	key := buildKey(name, tags)
	c.gauges[key] += delta
	current := c.gauges[key]
	c.mu.Unlock()

	c.SetGauge(name, current, tags)
}

// ============================================================================
// HISTOGRAMS AND TIMERS
// ============================================================================

// RecordHistogram records a sample in a histogram metric.
func (c *Collector) RecordHistogram(name string, value float64, tags map[string]string) {
	name = sanitizeName(name)

	c.mu.Lock()
	key := buildKey(name, tags)
	samples := append(c.histograms[key], value)
	if len(samples) > maxSamplesPerHistogram {
		samples = samples[len(samples)-maxSamplesPerHistogram:]
	}
	c.histograms[key] = samples

	vec, ok := c.histogramVecs[name]
	if !ok {
		vec = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: c.namespace,
				Name:      name,
				Help:      fmt.Sprintf("Histogram metric %s", name),
				Buckets:   prometheus.DefBuckets,
			},
			tagKeys(tags),
		)
		c.registry.MustRegister(vec)
		c.histogramVecs[name] = vec
	}
	c.mu.Unlock()

	if m, err := vec.GetMetricWith(prometheus.Labels(tags)); err == nil {
		m.Observe(value)
	}
}

// RecordDuration records a duration sample in seconds.
func (c *Collector) RecordDuration(name string, duration time.Duration, tags map[string]string) {
	c.RecordHistogram(name, duration.Seconds(), tags)
}

// Timer measures elapsed time between StartTimer and Stop.
type Timer struct {
	collector *Collector
	name      string
	start     time.Time
}

// StartTimer begins a timer for the named duration metric.
func (c *Collector) StartTimer(name string) *Timer {
	return &Timer{
		collector: c,
		name:      name,
		start:     time.Now(),
	}
}

// Stop records the elapsed time under the timer's metric name and returns it.
func (t *Timer) Stop(tags map[string]string) time.Duration {
	elapsed := time.Since(t.start)
	t.collector.RecordDuration(t.name, elapsed, tags)
	return elapsed
}

// ============================================================================
// SNAPSHOT QUERIES
// ============================================================================

// HistogramStats summarizes the retained samples of one histogram series.
type HistogramStats struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	P95   float64 `json:"p95"`
}

// Snapshot is a point-in-time copy of all collected metrics, keyed by
// "name,tag=value,..." series keys.
type Snapshot struct {
	Counters   map[string]float64        `json:"counters"`
	Gauges     map[string]float64        `json:"gauges"`
	Histograms map[string]HistogramStats `json:"histograms"`
}

// Snapshot returns a copy of the current metric values.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		Counters:   make(map[string]float64, len(c.counters)),
		Gauges:     make(map[string]float64, len(c.gauges)),
		Histograms: make(map[string]HistogramStats, len(c.histograms)),
	}
	for k, v := range c.counters {
		snap.Counters[k] = v
	}
	for k, v := range c.gauges {
		snap.Gauges[k] = v
	}
	for k, samples := range c.histograms {
		snap.Histograms[k] = summarize(samples)
	}
	return snap
}

// CounterValue returns the current value of one counter series.
func (c *Collector) CounterValue(name string, tags map[string]string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters[buildKey(sanitizeName(name), tags)]
}

// GaugeValue returns the current value of one gauge series.
func (c *Collector) GaugeValue(name string, tags map[string]string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gauges[buildKey(sanitizeName(name), tags)]
}

func summarize(samples []float64) HistogramStats {
	if len(samples) == 0 {
		return HistogramStats{}
	}

	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	p95Index := int(float64(len(sorted))*0.95) - 1
	if p95Index < 0 {
		p95Index = 0
	}

	return HistogramStats{
		Count: len(sorted),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Mean:  sum / float64(len(sorted)),
		P95:   sorted[p95Index],
	}
}

// ============================================================================
// KEY HELPERS
// ============================================================================

// buildKey produces the snapshot series key: the metric name followed by
// sorted tag pairs.
func buildKey(name string, tags map[string]string) string {
	if len(tags) == 0 {
		return name
	}

	keys := tagKeys(tags)
	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteString(fmt.Sprintf(",%s=%s", k, tags[k]))
	}
	return b.String()
}

// tagKeys returns the sorted tag keys, which double as Prometheus label
// names for the series.
func tagKeys(tags map[string]string) []string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// sanitizeName converts dotted or dashed metric names to the underscore
// form Prometheus requires.
func sanitizeName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}
