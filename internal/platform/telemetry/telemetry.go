// Package telemetry provides observability for the HL7 gateway using only
// standard library constructs: counters, gauges, histograms, and a
// Prometheus text exposition endpoint. The Provider implements the MLLP
// listener's Metrics interface so wire traffic and HTTP traffic land in the
// same registry.
package telemetry

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/hl7-gateway/internal/platform/hl7v2"
)

// defaultDurationBuckets are seconds, tuned for message processing that is
// usually a handful of milliseconds but can stall on a slow database.
var defaultDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// ---------------------------------------------------------------------------
// Histogram — Prometheus-style histogram with buckets
// ---------------------------------------------------------------------------

// histogram is a thread-safe histogram with configurable bucket boundaries.
// Bucket counts are non-cumulative in storage; cumulative counts are computed
// at export time.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64 // one per boundary, non-cumulative
	count        int64
	sum          uint64     // stored as math.Float64bits for atomic add
	mu           sync.Mutex // protects bucketCounts
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

// Observe records a single value.
func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	atomicAddFloat64(&h.sum, v)

	h.mu.Lock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			h.mu.Unlock()
			return
		}
	}
	// Value exceeds all boundaries, counted in +Inf at export.
	h.mu.Unlock()
}

// Count returns the total number of observations.
func (h *histogram) Count() int64 {
	return atomic.LoadInt64(&h.count)
}

// Sum returns the total sum of all observations.
func (h *histogram) Sum() float64 {
	return math.Float64frombits(atomic.LoadUint64(&h.sum))
}

// cumulativeBuckets returns cumulative bucket counts for Prometheus export.
func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	raw := make([]int64, len(h.bucketCounts))
	copy(raw, h.bucketCounts)
	h.mu.Unlock()

	cum := make([]int64, len(raw))
	var running int64
	for i, c := range raw {
		running += c
		cum[i] = running
	}
	return cum
}

// atomicAddFloat64 performs an atomic add on a uint64 that stores a float64
// using CAS.
func atomicAddFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		newVal := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(addr, old, math.Float64bits(newVal)) {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Labeled stores — keyed by joined label values
// ---------------------------------------------------------------------------

type labeledHistogramStore struct {
	mu    sync.RWMutex
	items map[string]*histogram
}

func newLabeledHistogramStore() *labeledHistogramStore {
	return &labeledHistogramStore{items: make(map[string]*histogram)}
}

func (s *labeledHistogramStore) getOrCreate(key string, boundaries []float64) *histogram {
	s.mu.RLock()
	h, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		return h
	}
	s.mu.Lock()
	h, ok = s.items[key]
	if !ok {
		h = newHistogram(boundaries)
		s.items[key] = h
	}
	s.mu.Unlock()
	return h
}

func (s *labeledHistogramStore) snapshot() map[string]*histogram {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]*histogram, len(s.items))
	for k, v := range s.items {
		cp[k] = v
	}
	return cp
}

type counterStore struct {
	mu    sync.RWMutex
	items map[string]*int64
}

func newCounterStore() *counterStore {
	return &counterStore{items: make(map[string]*int64)}
}

func (s *counterStore) inc(key string) {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		atomic.AddInt64(p, 1)
		return
	}
	s.mu.Lock()
	p, ok = s.items[key]
	if !ok {
		v := int64(1)
		s.items[key] = &v
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	atomic.AddInt64(p, 1)
}

func (s *counterStore) get(key string) int64 {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(p)
}

func (s *counterStore) snapshot() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]int64, len(s.items))
	for k, p := range s.items {
		cp[k] = atomic.LoadInt64(p)
	}
	return cp
}

// ---------------------------------------------------------------------------
// Provider
// ---------------------------------------------------------------------------

// Provider is the metrics registry for the gateway. It records MLLP
// connection and message metrics plus HTTP request metrics, and serves them
// in Prometheus text format.
type Provider struct {
	activeConns  int64
	openedConns  int64
	messages     *counterStore          // keyed type|ack_code
	durations    *labeledHistogramStore // keyed type|ack_code
	httpRequests *counterStore          // keyed method|route|status
	httpDuration *labeledHistogramStore // keyed method|route|status
}

// NewProvider creates an empty metrics registry.
func NewProvider() *Provider {
	return &Provider{
		messages:     newCounterStore(),
		durations:    newLabeledHistogramStore(),
		httpRequests: newCounterStore(),
		httpDuration: newLabeledHistogramStore(),
	}
}

// messageKey builds the map key for message metrics.
func messageKey(msgType string, code hl7v2.AckCode) string {
	if msgType == "" {
		msgType = "unknown"
	}
	return msgType + "|" + string(code)
}

// ConnOpened records an accepted MLLP connection.
func (p *Provider) ConnOpened() {
	atomic.AddInt64(&p.activeConns, 1)
	atomic.AddInt64(&p.openedConns, 1)
}

// ConnClosed records a closed MLLP connection.
func (p *Provider) ConnClosed() {
	atomic.AddInt64(&p.activeConns, -1)
}

// MessageHandled records one acknowledged message with its processing time.
func (p *Provider) MessageHandled(msgType string, code hl7v2.AckCode, d time.Duration) {
	key := messageKey(msgType, code)
	p.messages.inc(key)
	p.durations.getOrCreate(key, defaultDurationBuckets).Observe(d.Seconds())
}

// ActiveConnections returns the current MLLP connection gauge.
func (p *Provider) ActiveConnections() int64 {
	return atomic.LoadInt64(&p.activeConns)
}

// MessagesHandled returns the counter for one type/ack-code pair.
func (p *Provider) MessagesHandled(msgType string, code hl7v2.AckCode) int64 {
	return p.messages.get(messageKey(msgType, code))
}

// MetricsMiddleware returns an Echo middleware recording request counts and
// durations per method, route, and status code.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
			}

			key := c.Request().Method + "|" + route + "|" + strconv.Itoa(status)
			p.httpRequests.inc(key)
			p.httpDuration.getOrCreate(key, defaultDurationBuckets).
				Observe(time.Since(start).Seconds())

			return err
		}
	}
}

// PrometheusHandler returns an Echo handler that serves metrics in
// Prometheus text exposition format.
func (p *Provider) PrometheusHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder

		b.WriteString("# HELP mllp_connections_active Open MLLP connections.\n")
		b.WriteString("# TYPE mllp_connections_active gauge\n")
		fmt.Fprintf(&b, "mllp_connections_active %d\n\n", atomic.LoadInt64(&p.activeConns))

		b.WriteString("# HELP mllp_connections_opened_total Accepted MLLP connections.\n")
		b.WriteString("# TYPE mllp_connections_opened_total counter\n")
		fmt.Fprintf(&b, "mllp_connections_opened_total %d\n\n", atomic.LoadInt64(&p.openedConns))

		b.WriteString("# HELP mllp_messages_total Acknowledged MLLP messages by type and ACK code.\n")
		b.WriteString("# TYPE mllp_messages_total counter\n")
		for key, val := range p.messages.snapshot() {
			parts := strings.SplitN(key, "|", 2)
			if len(parts) != 2 {
				continue
			}
			fmt.Fprintf(&b, "mllp_messages_total{message_type=%q,ack_code=%q} %d\n",
				parts[0], parts[1], val)
		}
		b.WriteByte('\n')

		writeHistogramMetric(&b, "mllp_message_duration_seconds",
			"Message processing time in seconds.",
			p.durations, []string{"message_type", "ack_code"}, defaultDurationBuckets)

		b.WriteString("# HELP http_requests_total HTTP requests by method, route, and status.\n")
		b.WriteString("# TYPE http_requests_total counter\n")
		for key, val := range p.httpRequests.snapshot() {
			parts := strings.SplitN(key, "|", 3)
			if len(parts) != 3 {
				continue
			}
			fmt.Fprintf(&b, "http_requests_total{method=%q,route=%q,status=%q} %d\n",
				parts[0], parts[1], parts[2], val)
		}
		b.WriteByte('\n')

		writeHistogramMetric(&b, "http_request_duration_seconds",
			"HTTP request time in seconds.",
			p.httpDuration, []string{"method", "route", "status"}, defaultDurationBuckets)

		return c.String(http.StatusOK, b.String())
	}
}

// ---------------------------------------------------------------------------
// Prometheus format helpers
// ---------------------------------------------------------------------------

func writeHistogramMetric(b *strings.Builder, name, help string,
	store *labeledHistogramStore, labelNames []string, boundaries []float64) {

	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s histogram\n", name)

	for key, h := range store.snapshot() {
		values := strings.SplitN(key, "|", len(labelNames))
		if len(values) != len(labelNames) {
			continue
		}
		pairs := make([]string, len(labelNames))
		for i, n := range labelNames {
			pairs[i] = fmt.Sprintf("%s=%q", n, values[i])
		}
		writeSingleHistogram(b, name, strings.Join(pairs, ","), h, boundaries)
	}
	b.WriteByte('\n')
}

func writeSingleHistogram(b *strings.Builder, name, labels string,
	h *histogram, boundaries []float64) {

	cum := h.cumulativeBuckets()
	total := h.Count()

	for i, boundary := range boundaries {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"%g\"} %d\n", name, labels, boundary, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, total)
	fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, h.Sum())
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, total)
}
