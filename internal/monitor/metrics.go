package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"kiwoom-core/pkg/exchanges/common"
)

// SystemMetrics tracks REST and tick latency plus order and reconciliation
// counters. It satisfies engine.Metrics and reconciliation.Metrics.
type SystemMetrics struct {
	mu sync.RWMutex

	// Latency histograms
	RESTLatency *LatencyHistogram
	TickLatency *LatencyHistogram
	APILatency  *LatencyHistogram

	// Counters
	ticksProcessed  atomic.Uint64
	restCalls       atomic.Uint64
	restErrors      atomic.Uint64
	reconcileOK     atomic.Uint64
	reconcileErrors atomic.Uint64
	syncFailures    atomic.Uint64
	apiRequests     atomic.Uint64
	apiErrors       atomic.Uint64

	orders   map[string]uint64 // "buy:submitted" etc.
	restByID map[string]uint64

	started time.Time
}

// LatencyHistogram keeps the last N samples in a ring.
type LatencyHistogram struct {
	mu      sync.Mutex
	ring    []float64
	next    int
	full    bool
	stale   bool
	summary LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		RESTLatency: NewLatencyHistogram(1000),
		TickLatency: NewLatencyHistogram(1000),
		APILatency:  NewLatencyHistogram(1000),
		orders:      make(map[string]uint64),
		restByID:    make(map[string]uint64),
		started:     time.Now(),
	}
}

// NewLatencyHistogram holds up to size samples; size <= 0 means 1000.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{ring: make([]float64, size)}
}

// Record adds a sample in milliseconds, evicting the oldest when full.
func (h *LatencyHistogram) Record(ms float64) {
	h.mu.Lock()
	h.ring[h.next] = ms
	h.next++
	if h.next == len(h.ring) {
		h.next = 0
		h.full = true
	}
	h.stale = true
	h.mu.Unlock()
}

func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d) / float64(time.Millisecond))
}

// Stats summarizes the window. The result is memoized until the next Record.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.stale {
		return h.summary
	}
	n := h.next
	if h.full {
		n = len(h.ring)
	}
	h.stale = false
	if n == 0 {
		h.summary = LatencyStats{}
		return h.summary
	}
	sorted := append([]float64(nil), h.ring[:n]...)
	sort.Float64s(sorted)
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	h.summary = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[n*95/100],
		P99:   sorted[n*99/100],
		Count: n,
	}
	return h.summary
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// ObserveTick records the handling time of one tick.
func (m *SystemMetrics) ObserveTick(d time.Duration) {
	m.ticksProcessed.Add(1)
	m.TickLatency.RecordDuration(d)
}

// CountOrder counts an order outcome per side.
func (m *SystemMetrics) CountOrder(side common.Side, outcome string) {
	m.mu.Lock()
	m.orders[string(side)+":"+outcome]++
	m.mu.Unlock()
}

// CountReconcile counts one reconciliation pass by outcome.
func (m *SystemMetrics) CountReconcile(outcome string) {
	switch outcome {
	case "ok":
		m.reconcileOK.Add(1)
	case "sync_failed":
		m.syncFailures.Add(1)
		m.reconcileErrors.Add(1)
	default:
		m.reconcileErrors.Add(1)
	}
}

// ObserveREST records one broker REST call. It matches the kiwoom client's
// Observe hook.
func (m *SystemMetrics) ObserveREST(apiID string, d time.Duration, err error) {
	m.restCalls.Add(1)
	if err != nil {
		m.restErrors.Add(1)
	}
	m.RESTLatency.RecordDuration(d)
	m.mu.Lock()
	m.restByID[apiID]++
	m.mu.Unlock()
}

// ObserveAPI records one operator HTTP request.
func (m *SystemMetrics) ObserveAPI(status int, d time.Duration) {
	m.apiRequests.Add(1)
	if status >= 400 {
		m.apiErrors.Add(1)
	}
	m.APILatency.RecordDuration(d)
}

// MetricsSnapshot is a point-in-time copy of every metric.
type MetricsSnapshot struct {
	RESTLatency     LatencyStats      `json:"rest_latency"`
	TickLatency     LatencyStats      `json:"tick_latency"`
	TicksProcessed  uint64            `json:"ticks_processed"`
	RESTCalls       uint64            `json:"rest_calls"`
	RESTErrors      uint64            `json:"rest_errors"`
	RESTByAPI       map[string]uint64 `json:"rest_by_api"`
	Orders          map[string]uint64 `json:"orders"`
	ReconcileOK     uint64            `json:"reconcile_ok"`
	ReconcileErrors uint64            `json:"reconcile_errors"`
	SyncFailures    uint64            `json:"sync_failures"`
	APILatency      LatencyStats      `json:"api_latency"`
	APIRequests     uint64            `json:"api_requests"`
	APIErrors       uint64            `json:"api_errors"`
	GoroutineCount  int               `json:"goroutine_count"`
	HeapAlloc       uint64            `json:"heap_alloc_bytes"`
	HeapSys         uint64            `json:"heap_sys_bytes"`
	Uptime          string            `json:"uptime"`
	Timestamp       time.Time         `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.RLock()
	orders := make(map[string]uint64, len(m.orders))
	for k, v := range m.orders {
		orders[k] = v
	}
	byID := make(map[string]uint64, len(m.restByID))
	for k, v := range m.restByID {
		byID[k] = v
	}
	m.mu.RUnlock()

	return MetricsSnapshot{
		RESTLatency:     m.RESTLatency.Stats(),
		TickLatency:     m.TickLatency.Stats(),
		TicksProcessed:  m.ticksProcessed.Load(),
		RESTCalls:       m.restCalls.Load(),
		RESTErrors:      m.restErrors.Load(),
		RESTByAPI:       byID,
		Orders:          orders,
		ReconcileOK:     m.reconcileOK.Load(),
		ReconcileErrors: m.reconcileErrors.Load(),
		SyncFailures:    m.syncFailures.Load(),
		APILatency:      m.APILatency.Stats(),
		APIRequests:     m.apiRequests.Load(),
		APIErrors:       m.apiErrors.Load(),
		GoroutineCount:  runtime.NumGoroutine(),
		HeapAlloc:       memStats.HeapAlloc,
		HeapSys:         memStats.HeapSys,
		Uptime:          time.Since(m.started).Truncate(time.Second).String(),
		Timestamp:       time.Now(),
	}
}
