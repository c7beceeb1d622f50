// Package promtel adapts the execution core's telemetry.Metrics interface
// onto a Prometheus registry. Because the Metrics interface hands the
// backend an arbitrary name and tag set at call time rather than a fixed,
// pre-declared set of metrics, Metrics lazily creates and caches a
// CounterVec / HistogramVec / GaugeVec per (name, label keys) pair the
// first time it is observed.
package promtel

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chaingraphlabs/chaingraph/execution/telemetry"
)

// Metrics is a telemetry.Metrics backed by a prometheus.Registerer. Use
// NewMetrics(prometheus.NewRegistry()) for an isolated registry in tests, or
// NewMetrics(prometheus.DefaultRegisterer) to expose metrics on the process's
// default /metrics endpoint.
type Metrics struct {
	reg prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
}

// NewMetrics constructs a Metrics that registers vectors against reg as they
// are first observed.
func NewMetrics(reg prometheus.Registerer) telemetry.Metrics {
	return &Metrics{
		reg:        reg,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
}

func (m *Metrics) IncCounter(name string, value float64, tags ...string) {
	keys, values := splitTags(tags)
	m.mu.Lock()
	vec, ok := m.counters[cacheKey(name, keys)]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: sanitize(name),
			Help: "execution core counter " + name,
		}, keys)
		m.reg.MustRegister(vec)
		m.counters[cacheKey(name, keys)] = vec
	}
	m.mu.Unlock()
	vec.WithLabelValues(values...).Add(value)
}

func (m *Metrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	keys, values := splitTags(tags)
	m.mu.Lock()
	vec, ok := m.histograms[cacheKey(name, keys)]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    sanitize(name),
			Help:    "execution core timer " + name,
			Buckets: prometheus.DefBuckets,
		}, keys)
		m.reg.MustRegister(vec)
		m.histograms[cacheKey(name, keys)] = vec
	}
	m.mu.Unlock()
	vec.WithLabelValues(values...).Observe(duration.Seconds())
}

func (m *Metrics) RecordGauge(name string, value float64, tags ...string) {
	keys, values := splitTags(tags)
	m.mu.Lock()
	vec, ok := m.gauges[cacheKey(name, keys)]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: sanitize(name),
			Help: "execution core gauge " + name,
		}, keys)
		m.reg.MustRegister(vec)
		m.gauges[cacheKey(name, keys)] = vec
	}
	m.mu.Unlock()
	vec.WithLabelValues(values...).Set(value)
}

// splitTags separates a (k1, v1, k2, v2, ...) tag list into parallel label
// key and value slices, sorted by key so the same tag set always produces
// the same vec regardless of call-site ordering.
func splitTags(tags []string) (keys, values []string) {
	type pair struct{ k, v string }
	var pairs []pair
	for i := 0; i+1 < len(tags); i += 2 {
		pairs = append(pairs, pair{tags[i], tags[i+1]})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].k < pairs[j].k })
	for _, p := range pairs {
		keys = append(keys, p.k)
		values = append(values, p.v)
	}
	return keys, values
}

func cacheKey(name string, keys []string) string {
	return name + "|" + strings.Join(keys, ",")
}

// sanitize replaces characters Prometheus metric names disallow ('.', '-')
// with underscores; execution-core metric names use dotted namespaces
// (e.g. "eventstore.flush").
func sanitize(name string) string {
	r := strings.NewReplacer(".", "_", "-", "_")
	return r.Replace(name)
}
