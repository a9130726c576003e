package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fmrb"

// Metrics holds the Prometheus collectors for one kernel instance.
// Each instance owns its registry so several kernels can live in one binary.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Message bus metrics
	MessagesDispatched *prometheus.CounterVec
	MessagesDropped    *prometheus.CounterVec
	DeliveriesFailed   *prometheus.CounterVec

	// Process metrics
	Spawns         *prometheus.CounterVec
	ProcessesLive  prometheus.Gauge
	WindowsLive    prometheus.Gauge
	ControlResults *prometheus.CounterVec

	// Input metrics
	CaptureTransitions *prometheus.CounterVec
	CacheRefreshes     prometheus.Counter

	// Loop metrics
	TickDuration prometheus.Histogram
	TickStats    *prometheus.GaugeVec
	InboxDepth   prometheus.Gauge

	// Link metrics
	LinkFrames      *prometheus.CounterVec
	LinkConnections prometheus.Gauge

	startTime time.Time
}

// NewMetrics creates a metrics set on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		Registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of admin HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Admin HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"method", "path"},
		),

		MessagesDispatched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_dispatched_total",
				Help:      "Messages dispatched by the kernel, by type",
			},
			[]string{"type"},
		),
		MessagesDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_dropped_total",
				Help:      "Messages dropped by the kernel, by type and reason",
			},
			[]string{"type", "reason"},
		),
		DeliveriesFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deliveries_failed_total",
				Help:      "Sends the process host refused, by type",
			},
			[]string{"type"},
		),

		Spawns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "spawns_total",
				Help:      "Spawn attempts by result",
			},
			[]string{"result"},
		),
		ProcessesLive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "processes_live",
				Help:      "Number of live applications",
			},
		),
		WindowsLive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "windows_live",
				Help:      "Number of registered windows",
			},
		),
		ControlResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "control_commands_total",
				Help:      "Control commands handled, by command and result",
			},
			[]string{"cmd", "result"},
		),

		CaptureTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "capture_transitions_total",
				Help:      "Input capture transitions, by entered mode",
			},
			[]string{"mode"},
		),
		CacheRefreshes: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "window_cache_refreshes_total",
				Help:      "Window list cache rebuilds",
			},
		),

		TickDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tick_work_seconds",
				Help:      "Time spent working in one kernel tick",
				Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
			},
		),
		TickStats: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tick_work_stat_seconds",
				Help:      "Rolling tick work statistics (mean, stddev, p99)",
			},
			[]string{"stat"},
		),
		InboxDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "inbox_depth",
				Help:      "Messages drained in the last tick",
			},
		),

		LinkFrames: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "link_frames_total",
				Help:      "Host link frames, by direction and kind",
			},
			[]string{"direction", "kind"},
		),
		LinkConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "link_connections",
				Help:      "Open host link connections",
			},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Kernel uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// RecordHTTPRequest records an admin HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordDispatch counts a message handed to its handler
func (m *Metrics) RecordDispatch(msgType string) {
	if m == nil {
		return
	}
	m.MessagesDispatched.WithLabelValues(msgType).Inc()
}

// RecordDrop counts a message the kernel discarded
func (m *Metrics) RecordDrop(msgType, reason string) {
	if m == nil {
		return
	}
	m.MessagesDropped.WithLabelValues(msgType, reason).Inc()
}

// RecordDeliveryFailure counts a send the host refused
func (m *Metrics) RecordDeliveryFailure(msgType string) {
	if m == nil {
		return
	}
	m.DeliveriesFailed.WithLabelValues(msgType).Inc()
}

// RecordSpawn counts a spawn attempt
func (m *Metrics) RecordSpawn(result string) {
	if m == nil {
		return
	}
	m.Spawns.WithLabelValues(result).Inc()
}

// RecordControl counts a handled control command
func (m *Metrics) RecordControl(cmd, result string) {
	if m == nil {
		return
	}
	m.ControlResults.WithLabelValues(cmd, result).Inc()
}

// RecordCapture counts a transition into mode
func (m *Metrics) RecordCapture(mode string) {
	if m == nil {
		return
	}
	m.CaptureTransitions.WithLabelValues(mode).Inc()
}

// RecordCacheRefresh counts a window list rebuild
func (m *Metrics) RecordCacheRefresh() {
	if m == nil {
		return
	}
	m.CacheRefreshes.Inc()
}

// SetLive updates the process and window gauges
func (m *Metrics) SetLive(processes, windows int) {
	if m == nil {
		return
	}
	m.ProcessesLive.Set(float64(processes))
	m.WindowsLive.Set(float64(windows))
}

// ObserveTick records the work time and drained messages of one tick
func (m *Metrics) ObserveTick(work time.Duration, drained int) {
	if m == nil {
		return
	}
	m.TickDuration.Observe(work.Seconds())
	m.InboxDepth.Set(float64(drained))
}

// SetTickStats publishes rolling tick statistics in seconds
func (m *Metrics) SetTickStats(mean, stddev, p99 float64) {
	if m == nil {
		return
	}
	m.TickStats.WithLabelValues("mean").Set(mean)
	m.TickStats.WithLabelValues("stddev").Set(stddev)
	m.TickStats.WithLabelValues("p99").Set(p99)
}

// RecordLinkFrame counts a host link frame
func (m *Metrics) RecordLinkFrame(direction, kind string) {
	if m == nil {
		return
	}
	m.LinkFrames.WithLabelValues(direction, kind).Inc()
}

// IncLinkConnections increments open link connections
func (m *Metrics) IncLinkConnections() {
	if m == nil {
		return
	}
	m.LinkConnections.Inc()
}

// DecLinkConnections decrements open link connections
func (m *Metrics) DecLinkConnections() {
	if m == nil {
		return
	}
	m.LinkConnections.Dec()
}

// Uptime returns time since the metrics set was created
func (m *Metrics) Uptime() time.Duration {
	if m == nil {
		return 0
	}
	return time.Since(m.startTime)
}
