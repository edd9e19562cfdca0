// Package metrics exposes the scanner's Prometheus instruments: scan/tick
// counters, filter chain performance, coordinator health, and websocket
// fan-out volume.
package metrics

import (
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector owns every Prometheus instrument the scanner publishes.
type Collector struct {
	TicksTotal   prometheus.Counter
	TickDuration prometheus.Histogram
	TicksSkipped *prometheus.CounterVec // labeled by skip reason
	ActiveScans  prometheus.Gauge

	FilterExecutions *prometheus.CounterVec
	FilterDuration    *prometheus.HistogramVec
	FilterSelectivity *prometheus.GaugeVec

	ResultsAdded   *prometheus.CounterVec
	ResultsRemoved *prometheus.CounterVec
	ResultsChanged *prometheus.CounterVec
	SpreadsFound   prometheus.Histogram

	CoordinatorQueueDepth prometheus.Gauge
	CoordinatorDelay      prometheus.Gauge
	CoordinatorRTT        prometheus.Histogram
	CircuitOpenTotal      prometheus.Counter

	WSConnections prometheus.Gauge
	WSMessagesOut *prometheus.CounterVec
	WSEvictions   prometheus.Counter

	MemoryUsage    prometheus.Gauge
	GoroutineCount prometheus.Gauge

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	stopSystemMetrics chan struct{}
}

// New builds and registers every instrument against the default registry.
func New() *Collector {
	c := &Collector{
		TicksTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scanner_ticks_total",
			Help: "Total number of scan ticks executed",
		}),
		TickDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "scanner_tick_duration_seconds",
			Help:    "Duration of one scan tick",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		TicksSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_ticks_skipped_total",
			Help: "Total number of ticks skipped, labeled by reason",
		}, []string{"reason"}),
		ActiveScans: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_active_scans",
			Help: "Number of currently active scans",
		}),

		FilterExecutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_filter_executions_total",
			Help: "Total number of filter stage executions",
		}, []string{"filter_name"}),
		FilterDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scanner_filter_duration_seconds",
			Help:    "Duration of filter stage executions",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 10),
		}, []string{"filter_name"}),
		FilterSelectivity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scanner_filter_selectivity",
			Help: "EWMA output/input ratio per filter",
		}, []string{"filter_name"}),

		ResultsAdded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_results_added_total",
			Help: "Total number of result-added events emitted",
		}, []string{"scan_id"}),
		ResultsRemoved: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_results_removed_total",
			Help: "Total number of result-removed events emitted",
		}, []string{"scan_id"}),
		ResultsChanged: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_results_changed_total",
			Help: "Total number of result-changed events emitted",
		}, []string{"scan_id"}),
		SpreadsFound: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "scanner_spreads_found",
			Help:    "Number of spreads surviving the chain per tick",
			Buckets: prometheus.LinearBuckets(0, 5, 20),
		}),

		CoordinatorQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_coordinator_queue_depth",
			Help: "Most recently observed upstream queue depth",
		}),
		CoordinatorDelay: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_coordinator_backpressure_delay_seconds",
			Help: "Currently computed backpressure delay",
		}),
		CoordinatorRTT: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "scanner_coordinator_rtt_seconds",
			Help:    "Upstream call round-trip time",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		CircuitOpenTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scanner_circuit_open_total",
			Help: "Total number of times the upstream circuit breaker tripped open",
		}),

		WSConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_websocket_connections",
			Help: "Number of active subscriber connections",
		}),
		WSMessagesOut: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_websocket_messages_out_total",
			Help: "Total number of events delivered to subscribers",
		}, []string{"event_type"}),
		WSEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "scanner_websocket_slow_subscriber_evictions_total",
			Help: "Total number of subscribers disconnected for being slow",
		}),

		MemoryUsage: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_memory_usage_bytes",
			Help: "Current heap allocation",
		}),
		GoroutineCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_goroutines",
			Help: "Number of active goroutines",
		}),

		HTTPRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_http_requests_total",
			Help: "Total number of HTTP requests, labeled by method/path/status",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scanner_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"method", "path"}),

		stopSystemMetrics: make(chan struct{}),
	}

	go c.runSystemMetrics()
	return c
}

func (c *Collector) runSystemMetrics() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopSystemMetrics:
			return
		case <-ticker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			c.MemoryUsage.Set(float64(m.Alloc))
			c.GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// RecordTick records one completed or skipped tick.
func (c *Collector) RecordTick(duration time.Duration, spreadsFound int, skipReason string) {
	c.TicksTotal.Inc()
	c.TickDuration.Observe(duration.Seconds())
	if skipReason != "" {
		c.TicksSkipped.WithLabelValues(skipReason).Inc()
		return
	}
	c.SpreadsFound.Observe(float64(spreadsFound))
}

// RecordFilter records one filter stage's execution.
func (c *Collector) RecordFilter(filterName string, duration time.Duration, selectivity float64) {
	c.FilterExecutions.WithLabelValues(filterName).Inc()
	c.FilterDuration.WithLabelValues(filterName).Observe(duration.Seconds())
	c.FilterSelectivity.WithLabelValues(filterName).Set(selectivity)
}

// RecordDiff records one tick's added/removed/changed counts for a scan.
func (c *Collector) RecordDiff(scanID string, added, removed, changed int) {
	c.ResultsAdded.WithLabelValues(scanID).Add(float64(added))
	c.ResultsRemoved.WithLabelValues(scanID).Add(float64(removed))
	c.ResultsChanged.WithLabelValues(scanID).Add(float64(changed))
}

// RecordCoordinatorState mirrors a coordinator.State snapshot into gauges.
func (c *Collector) RecordCoordinatorState(queueDepth int, delay time.Duration, rtt time.Duration, circuitOpen bool) {
	c.CoordinatorQueueDepth.Set(float64(queueDepth))
	c.CoordinatorDelay.Set(delay.Seconds())
	c.CoordinatorRTT.Observe(rtt.Seconds())
	if circuitOpen {
		c.CircuitOpenTotal.Inc()
	}
}

// RecordWSEvent records one event delivered to a subscriber.
func (c *Collector) RecordWSEvent(eventType string) {
	c.WSMessagesOut.WithLabelValues(eventType).Inc()
}

// RecordEviction records one slow-subscriber disconnect.
func (c *Collector) RecordEviction() {
	c.WSEvictions.Inc()
}

// RecordHTTPRequest records one completed REST request against the API
// surface, labeled by its route template (never the raw path, to keep
// cardinality bounded) rather than the literal URL.
func (c *Collector) RecordHTTPRequest(method, routePattern string, status int, duration time.Duration) {
	statusStr := strconv.Itoa(status)
	c.HTTPRequestsTotal.WithLabelValues(method, routePattern, statusStr).Inc()
	c.HTTPRequestDuration.WithLabelValues(method, routePattern).Observe(duration.Seconds())
}

// SetActiveScans sets the active-scan gauge to an absolute count.
func (c *Collector) SetActiveScans(n int) {
	c.ActiveScans.Set(float64(n))
}

// SetWSConnections sets the subscriber connection gauge to an absolute count.
func (c *Collector) SetWSConnections(n int) {
	c.WSConnections.Set(float64(n))
}

// Stop halts the background system-metrics sampler.
func (c *Collector) Stop() {
	close(c.stopSystemMetrics)
}
