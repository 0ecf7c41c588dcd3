// Package metrics provides process-wide counters and gauges plus a
// minimal Prometheus text-format writer for the /metrics endpoint,
// and the monotonic request-id allocator used by the Request
// Pipeline. Full client-library-grade Prometheus support (histograms
// with configurable buckets, push gateways, registries) is
// deliberately out of scope per the gateway's external interface
// contract, which only promises a fixed, small metric set in text
// format — a hand-rolled writer covers that completely.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Counter is a monotonically increasing value, safe for concurrent use.
type Counter struct {
	v atomic.Int64
}

func (c *Counter) Inc()           { c.v.Add(1) }
func (c *Counter) Add(n int64)    { c.v.Add(n) }
func (c *Counter) Value() int64   { return c.v.Load() }

// Gauge is a value that can move up or down, safe for concurrent use.
type Gauge struct {
	v atomic.Int64
}

func (g *Gauge) Set(n int64) { g.v.Store(n) }
func (g *Gauge) Inc()        { g.v.Add(1) }
func (g *Gauge) Dec()        { g.v.Add(-1) }
func (g *Gauge) Value() int64 { return g.v.Load() }

// latencyBuckets are the upper bounds (milliseconds) for the RPC
// latency histogram, matching signal_rpc_latency_ms_bucket{method,le}.
var latencyBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

// histogram tracks per-bucket counts for one labeled series.
type histogram struct {
	mu      sync.Mutex
	buckets []int64 // parallel to latencyBuckets, cumulative counts
	count   int64
	sum     float64
}

func newHistogram() *histogram {
	return &histogram{buckets: make([]int64, len(latencyBuckets))}
}

func (h *histogram) observe(ms float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += ms
	for i, le := range latencyBuckets {
		if ms <= le {
			h.buckets[i]++
		}
	}
}

// Registry holds every counter/gauge the gateway exposes, keyed by
// the names in the external interface's metrics list, plus per-method
// breakdowns for RPC calls and errors.
type Registry struct {
	MessagesSent     Counter
	MessagesReceived Counter
	WSClientsActive  Gauge
	WSMessagesDropped Counter
	WebhookDeliveries Counter
	WebhookFailures   Counter

	mu         sync.Mutex
	rpcCalls   map[string]*Counter
	rpcErrors  map[string]*Counter
	rpcLatency map[string]*histogram

	requestID atomic.Int64
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		rpcCalls:   make(map[string]*Counter),
		rpcErrors:  make(map[string]*Counter),
		rpcLatency: make(map[string]*histogram),
	}
}

// NextRequestID returns the next value from the strictly increasing
// request-id sequence, starting at 1. Distinct from JSON-RPC ids.
func (r *Registry) NextRequestID() int64 {
	return r.requestID.Add(1)
}

// RecordRPCCall increments the per-method call counter and records
// latency. Call this for every RPC Client.Call, regardless of outcome.
func (r *Registry) RecordRPCCall(method string, latencyMS float64) {
	r.counterFor(&r.rpcCalls, method).Inc()
	r.histogramFor(method).observe(latencyMS)
}

// RecordRPCError increments the per-method error counter. The
// gateway's handlers call it for every failed RPC call, whatever the
// kind of error.
func (r *Registry) RecordRPCError(method string) {
	r.counterFor(&r.rpcErrors, method).Inc()
}

func (r *Registry) counterFor(m *map[string]*Counter, key string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := (*m)[key]
	if !ok {
		c = &Counter{}
		(*m)[key] = c
	}
	return c
}

func (r *Registry) histogramFor(key string) *histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.rpcLatency[key]
	if !ok {
		h = newHistogram()
		r.rpcLatency[key] = h
	}
	return h
}

// WriteText renders the registry in Prometheus text exposition
// format, sorted by metric/label name for stable output.
func (r *Registry) WriteText() string {
	var b strings.Builder

	writeGauge := func(name string, v int64) {
		fmt.Fprintf(&b, "# TYPE %s gauge\n%s %d\n", name, name, v)
	}
	writeCounter := func(name string, v int64) {
		fmt.Fprintf(&b, "# TYPE %s counter\n%s %d\n", name, name, v)
	}

	writeCounter("signal_messages_sent_total", r.MessagesSent.Value())
	writeCounter("signal_messages_received_total", r.MessagesReceived.Value())
	writeGauge("signal_ws_clients_active", r.WSClientsActive.Value())
	writeCounter("signal_ws_messages_dropped_total", r.WSMessagesDropped.Value())
	writeCounter("signal_webhook_deliveries_total", r.WebhookDeliveries.Value())
	writeCounter("signal_webhook_failures_total", r.WebhookFailures.Value())

	r.mu.Lock()
	methods := make([]string, 0, len(r.rpcCalls))
	for m := range r.rpcCalls {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	b.WriteString("# TYPE signal_rpc_calls_total counter\n")
	for _, m := range methods {
		fmt.Fprintf(&b, "signal_rpc_calls_total{method=%q} %d\n", m, r.rpcCalls[m].Value())
	}

	errMethods := make([]string, 0, len(r.rpcErrors))
	for m := range r.rpcErrors {
		errMethods = append(errMethods, m)
	}
	sort.Strings(errMethods)
	b.WriteString("# TYPE signal_rpc_errors_total counter\n")
	for _, m := range errMethods {
		fmt.Fprintf(&b, "signal_rpc_errors_total{method=%q} %d\n", m, r.rpcErrors[m].Value())
	}

	latMethods := make([]string, 0, len(r.rpcLatency))
	for m := range r.rpcLatency {
		latMethods = append(latMethods, m)
	}
	sort.Strings(latMethods)
	b.WriteString("# TYPE signal_rpc_latency_ms histogram\n")
	for _, m := range latMethods {
		h := r.rpcLatency[m]
		h.mu.Lock()
		for i, le := range latencyBuckets {
			fmt.Fprintf(&b, "signal_rpc_latency_ms_bucket{method=%q,le=\"%g\"} %d\n", m, le, h.buckets[i])
		}
		fmt.Fprintf(&b, "signal_rpc_latency_ms_bucket{method=%q,le=\"+Inf\"} %d\n", m, h.count)
		fmt.Fprintf(&b, "signal_rpc_latency_ms_sum{method=%q} %g\n", m, h.sum)
		fmt.Fprintf(&b, "signal_rpc_latency_ms_count{method=%q} %d\n", m, h.count)
		h.mu.Unlock()
	}
	r.mu.Unlock()

	return b.String()
}
