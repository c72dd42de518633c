// Package metrics is a small in-process collector for token and delivery
// activity. It renders the Prometheus text exposition format without the
// prometheus/client_golang dependency.
package metrics

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide collector.
var Collector = NewCollector()

// Registry aggregates counters, gauges, and histograms.
type Registry struct {
	counters   sync.Map // key -> *Counter
	gauges     sync.Map // key -> *Gauge
	histograms sync.Map // key -> *Histogram
	startTime  time.Time
}

func NewCollector() *Registry {
	return &Registry{startTime: time.Now()}
}

func (r *Registry) Uptime() time.Duration {
	return time.Since(r.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of observed values.
type Histogram struct {
	name    string
	help    string
	labels  string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (r *Registry) Counter(name, help, labels string) *Counter {
	key := name + "{" + labels + "}"
	if v, ok := r.counters.Load(key); ok {
		return v.(*Counter)
	}
	actual, _ := r.counters.LoadOrStore(key, &Counter{name: name, help: help, labels: labels})
	return actual.(*Counter)
}

func (r *Registry) Gauge(name, help, labels string) *Gauge {
	key := name + "{" + labels + "}"
	if v, ok := r.gauges.Load(key); ok {
		return v.(*Gauge)
	}
	actual, _ := r.gauges.LoadOrStore(key, &Gauge{name: name, help: help, labels: labels})
	return actual.(*Gauge)
}

func (r *Registry) Histogram(name, help, labels string, buckets []float64) *Histogram {
	key := name + "{" + labels + "}"
	if v, ok := r.histograms.Load(key); ok {
		return v.(*Histogram)
	}
	sorted := append([]float64(nil), buckets...)
	sort.Float64s(sorted)
	hb := make([]histBucket, len(sorted))
	for i, b := range sorted {
		hb[i] = histBucket{le: b}
	}
	actual, _ := r.histograms.LoadOrStore(key, &Histogram{name: name, help: help, labels: labels, buckets: hb})
	return actual.(*Histogram)
}

// WriteText renders every metric in Prometheus text format, sorted by key
// so output is stable.
func (r *Registry) WriteText(w io.Writer) error {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# HELP cowechat_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(&sb, "# TYPE cowechat_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "cowechat_uptime_seconds %d\n", int64(r.Uptime().Seconds()))

	helpWritten := make(map[string]bool)
	for _, v := range sortedValues(&r.counters) {
		c := v.(*Counter)
		writeHeader(&sb, helpWritten, c.name, c.help, "counter")
		fmt.Fprintf(&sb, "%s %d\n", series(c.name, c.labels), c.Value())
	}

	for _, v := range sortedValues(&r.gauges) {
		g := v.(*Gauge)
		writeHeader(&sb, helpWritten, g.name, g.help, "gauge")
		fmt.Fprintf(&sb, "%s %d\n", series(g.name, g.labels), g.Value())
	}

	for _, v := range sortedValues(&r.histograms) {
		h := v.(*Histogram)
		h.mu.Lock()
		writeHeader(&sb, helpWritten, h.name, h.help, "histogram")
		for _, b := range h.buckets {
			le := fmt.Sprintf("%g", b.le)
			if math.IsInf(b.le, 1) {
				le = "+Inf"
			}
			labels := `le="` + le + `"`
			if h.labels != "" {
				labels = h.labels + "," + labels
			}
			fmt.Fprintf(&sb, "%s %d\n", series(h.name+"_bucket", labels), b.count)
		}
		fmt.Fprintf(&sb, "%s %d\n", series(h.name+"_count", h.labels), h.count)
		fmt.Fprintf(&sb, "%s %f\n", series(h.name+"_sum", h.labels), h.sum)
		h.mu.Unlock()
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

func writeHeader(sb *strings.Builder, written map[string]bool, name, help, typ string) {
	if written[name] {
		return
	}
	fmt.Fprintf(sb, "# HELP %s %s\n", name, help)
	fmt.Fprintf(sb, "# TYPE %s %s\n", name, typ)
	written[name] = true
}

func series(name, labels string) string {
	if labels == "" {
		return name
	}
	return name + "{" + labels + "}"
}

func sortedValues(m *sync.Map) []any {
	var keys []string
	vals := make(map[string]any)
	m.Range(func(k, v any) bool {
		keys = append(keys, k.(string))
		vals[k.(string)] = v
		return true
	})
	sort.Strings(keys)
	out := make([]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, vals[k])
	}
	return out
}

// --- Metrics used across the client ---

var (
	TokenFetches     = Collector.Counter("cowechat_token_fetches_total", "Token endpoint calls", "")
	TokenFetchErrors = Collector.Counter("cowechat_token_fetch_errors_total", "Token endpoint calls that failed in transport", "")
	TokenCacheHits   = Collector.Counter("cowechat_token_cache_hits_total", "Tokens served from the cache", "")
	TokenAgeSeconds  = Collector.Gauge("cowechat_token_age_seconds", "Age of the cached token at last check", "")
	SendAttempts     = Collector.Counter("cowechat_send_attempts_total", "Single-shot message send attempts", "")
	SendsSent        = Collector.Counter("cowechat_sends_total", "Send calls by outcome", `status="sent"`)
	SendsRejected    = Collector.Counter("cowechat_sends_total", "Send calls by outcome", `status="rejected"`)
	SendsFailed      = Collector.Counter("cowechat_sends_total", "Send calls by outcome", `status="failed"`)
	Uploads          = Collector.Counter("cowechat_uploads_total", "Media uploads", "")

	SendLatency = Collector.Histogram("cowechat_send_latency_seconds", "Send call latency in seconds, retries included", "",
		[]float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, math.Inf(1)})
)
