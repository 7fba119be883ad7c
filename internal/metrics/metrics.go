// Package metrics is a small hand-rolled Prometheus-text-format
// metrics registry: Counter/Gauge/Histogram with atomic counters and
// a /metrics exposition handler. No external client library needed
// for a registry this size.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Counter is a monotonically increasing value.
type Counter struct{ value int64 }

func (c *Counter) Inc()         { atomic.AddInt64(&c.value, 1) }
func (c *Counter) Add(n int64)  { atomic.AddInt64(&c.value, n) }
func (c *Counter) Value() int64 { return atomic.LoadInt64(&c.value) }

// Gauge is a value that can go up and down.
type Gauge struct{ value int64 } // stored as micros for float precision

func (g *Gauge) Set(v float64)  { atomic.StoreInt64(&g.value, int64(v*1e6)) }
func (g *Gauge) Inc()           { atomic.AddInt64(&g.value, 1e6) }
func (g *Gauge) Dec()           { atomic.AddInt64(&g.value, -1e6) }
func (g *Gauge) Value() float64 { return float64(atomic.LoadInt64(&g.value)) / 1e6 }

// Histogram tracks value distributions with configurable buckets.
type Histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []int64
	sum     float64
	count   int64
}

func newHistogram(buckets []float64) *Histogram {
	sorted := make([]float64, len(buckets))
	copy(sorted, buckets)
	sort.Float64s(sorted)
	return &Histogram{buckets: sorted, counts: make([]int64, len(sorted)+1)}
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.count++
	for i, b := range h.buckets {
		if v <= b {
			h.counts[i]++
			return
		}
	}
	h.counts[len(h.buckets)]++
}

func labelKey(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%q", k, labels[k])
	}
	return strings.Join(parts, ",")
}

// Registry is the central Prometheus-compatible metrics registry.
type Registry struct {
	mu         sync.RWMutex
	logger     zerolog.Logger
	counters   map[string]map[string]*Counter
	gauges     map[string]map[string]*Gauge
	histograms map[string]map[string]*Histogram

	latencyBuckets []float64
}

// New creates a new metrics registry.
func New(logger zerolog.Logger) *Registry {
	return &Registry{
		logger:         logger.With().Str("component", "metrics").Logger(),
		counters:       make(map[string]map[string]*Counter),
		gauges:         make(map[string]map[string]*Gauge),
		histograms:     make(map[string]map[string]*Histogram),
		latencyBuckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	}
}

func (r *Registry) CounterInc(name string, labels map[string]string) {
	r.getCounter(name, labels).Inc()
}

func (r *Registry) CounterAdd(name string, labels map[string]string, n int64) {
	r.getCounter(name, labels).Add(n)
}

func (r *Registry) getCounter(name string, labels map[string]string) *Counter {
	key := labelKey(labels)
	r.mu.RLock()
	if byName, ok := r.counters[name]; ok {
		if c, ok := byName[key]; ok {
			r.mu.RUnlock()
			return c
		}
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.counters[name]; !ok {
		r.counters[name] = make(map[string]*Counter)
	}
	if _, ok := r.counters[name][key]; !ok {
		r.counters[name][key] = &Counter{}
	}
	return r.counters[name][key]
}

func (r *Registry) GaugeSet(name string, labels map[string]string, v float64) {
	r.getGauge(name, labels).Set(v)
}

func (r *Registry) getGauge(name string, labels map[string]string) *Gauge {
	key := labelKey(labels)
	r.mu.RLock()
	if byName, ok := r.gauges[name]; ok {
		if g, ok := byName[key]; ok {
			r.mu.RUnlock()
			return g
		}
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.gauges[name]; !ok {
		r.gauges[name] = make(map[string]*Gauge)
	}
	if _, ok := r.gauges[name][key]; !ok {
		r.gauges[name][key] = &Gauge{}
	}
	return r.gauges[name][key]
}

func (r *Registry) HistogramObserve(name string, labels map[string]string, v float64) {
	r.getHistogram(name, labels).Observe(v)
}

func (r *Registry) getHistogram(name string, labels map[string]string) *Histogram {
	key := labelKey(labels)
	r.mu.RLock()
	if byName, ok := r.histograms[name]; ok {
		if h, ok := byName[key]; ok {
			r.mu.RUnlock()
			return h
		}
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.histograms[name]; !ok {
		r.histograms[name] = make(map[string]*Histogram)
	}
	if _, ok := r.histograms[name][key]; !ok {
		r.histograms[name][key] = newHistogram(r.latencyBuckets)
	}
	return r.histograms[name][key]
}

// ─── Pipeline-specific helpers ──────────────────────────────

// TrackEvent records a pipeline event publication and its handler
// outcome (used by the event bus).
func (r *Registry) TrackEvent(eventName string, failed bool) {
	r.CounterInc("hoppy_events_published_total", map[string]string{"event": eventName})
	if failed {
		r.CounterInc("hoppy_event_handler_failures_total", map[string]string{"event": eventName})
	}
}

// TrackOperation records an object-store operation's cost and outcome.
func (r *Registry) TrackOperation(opType string, allowed bool, costUSD float64) {
	labels := map[string]string{"type": opType, "allowed": fmt.Sprintf("%t", allowed)}
	r.CounterInc("hoppy_storage_operations_total", labels)
	if allowed {
		r.GaugeSet("hoppy_storage_last_operation_cost_usd", map[string]string{"type": opType}, costUSD)
	}
}

// TrackJob records a queue job's terminal outcome.
func (r *Registry) TrackJob(kind, status string) {
	r.CounterInc("hoppy_jobs_total", map[string]string{"kind": kind, "status": status})
}

// Handler returns an http.HandlerFunc that serves /metrics in
// Prometheus text exposition format.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("# hoppy ingestion metrics - %s\n\n", time.Now().UTC().Format(time.RFC3339)))

		r.mu.RLock()
		defer r.mu.RUnlock()

		for name, byLabel := range r.counters {
			sb.WriteString(fmt.Sprintf("# TYPE %s counter\n", name))
			for lk, c := range byLabel {
				if lk == "" {
					sb.WriteString(fmt.Sprintf("%s %d\n", name, c.Value()))
				} else {
					sb.WriteString(fmt.Sprintf("%s{%s} %d\n", name, lk, c.Value()))
				}
			}
			sb.WriteString("\n")
		}

		for name, byLabel := range r.gauges {
			sb.WriteString(fmt.Sprintf("# TYPE %s gauge\n", name))
			for lk, g := range byLabel {
				if lk == "" {
					sb.WriteString(fmt.Sprintf("%s %f\n", name, g.Value()))
				} else {
					sb.WriteString(fmt.Sprintf("%s{%s} %f\n", name, lk, g.Value()))
				}
			}
			sb.WriteString("\n")
		}

		for name, byLabel := range r.histograms {
			sb.WriteString(fmt.Sprintf("# TYPE %s histogram\n", name))
			for lk, h := range byLabel {
				h.mu.Lock()
				prefix := name
				if lk != "" {
					prefix = fmt.Sprintf("%s{%s}", name, lk)
				}
				cumulative := int64(0)
				for i, b := range h.buckets {
					cumulative += h.counts[i]
					if lk != "" {
						sb.WriteString(fmt.Sprintf("%s_bucket{le=\"%g\",%s} %d\n", name, b, lk, cumulative))
					} else {
						sb.WriteString(fmt.Sprintf("%s_bucket{le=\"%g\"} %d\n", name, b, cumulative))
					}
				}
				cumulative += h.counts[len(h.buckets)]
				if lk != "" {
					sb.WriteString(fmt.Sprintf("%s_bucket{le=\"+Inf\",%s} %d\n", name, lk, cumulative))
				} else {
					sb.WriteString(fmt.Sprintf("%s_bucket{le=\"+Inf\"} %d\n", name, cumulative))
				}
				sb.WriteString(fmt.Sprintf("%s_sum %f\n", prefix, h.sum))
				sb.WriteString(fmt.Sprintf("%s_count %d\n", prefix, h.count))
				h.mu.Unlock()
			}
			sb.WriteString("\n")
		}

		_, _ = w.Write([]byte(sb.String()))
	}
}
