package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for serverbot
type Metrics struct {
	// Poll cycles
	CyclesTotal          *prometheus.CounterVec
	CycleDurationSeconds prometheus.Histogram
	LastCycleTimestamp   prometheus.Gauge

	// Monitored server
	PlayersCurrent prometheus.Gauge
	PlayersMax     prometheus.Gauge
	QueueLength    prometheus.Gauge
	WindowSamples  prometheus.Gauge

	// Side effects
	UpstreamRequestsTotal *prometheus.CounterVec
	NotificationsTotal    *prometheus.CounterVec
	ProfileUpdatesTotal   *prometheus.CounterVec

	// HTTP endpoints
	HTTPRequestsTotal          *prometheus.CounterVec
	HTTPRequestDurationSeconds *prometheus.HistogramVec

	// System metrics
	UptimeSeconds prometheus.Gauge
	Goroutines    prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "serverbot_cycles_total",
				Help: "Total number of poll cycles by result",
			},
			[]string{"result", "stage"},
		),
		CycleDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "serverbot_cycle_duration_seconds",
				Help:    "Poll cycle duration in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		LastCycleTimestamp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "serverbot_last_cycle_timestamp_seconds",
				Help: "Unix time of the last completed poll cycle",
			},
		),

		PlayersCurrent: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "serverbot_players_current",
				Help: "Current player count of the monitored server",
			},
		),
		PlayersMax: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "serverbot_players_max",
				Help: "Maximum player count of the monitored server",
			},
		),
		QueueLength: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "serverbot_queue_length",
				Help: "Number of players waiting in the server queue",
			},
		),
		WindowSamples: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "serverbot_window_samples",
				Help: "Number of player counts held in the trend window",
			},
		),

		UpstreamRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "serverbot_upstream_requests_total",
				Help: "Total number of status API lookups by endpoint and result",
			},
			[]string{"endpoint", "result"},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "serverbot_notifications_total",
				Help: "Total number of notification deliveries by kind, sink and result",
			},
			[]string{"kind", "sink", "result"},
		),
		ProfileUpdatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "serverbot_profile_updates_total",
				Help: "Total number of bot profile updates by kind and result",
			},
			[]string{"kind", "result"},
		),

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "serverbot_http_requests_total",
				Help: "Total number of health endpoint requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "serverbot_http_request_duration_seconds",
				Help:    "Health endpoint request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "path"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "serverbot_uptime_seconds",
				Help: "Process uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "serverbot_goroutines",
				Help: "Number of active goroutines",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.CyclesTotal,
		m.CycleDurationSeconds,
		m.LastCycleTimestamp,
		m.PlayersCurrent,
		m.PlayersMax,
		m.QueueLength,
		m.WindowSamples,
		m.UpstreamRequestsTotal,
		m.NotificationsTotal,
		m.ProfileUpdatesTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDurationSeconds,
		m.UptimeSeconds,
		m.Goroutines,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// ObserveCycle records a finished poll cycle. stage is the step that failed,
// or "done" on success.
func ObserveCycle(result, stage string, duration time.Duration, finished time.Time) {
	m := Global()
	if m != nil {
		m.CyclesTotal.WithLabelValues(result, stage).Inc()
		m.CycleDurationSeconds.Observe(duration.Seconds())
		m.LastCycleTimestamp.Set(float64(finished.Unix()))
	}
}

// SetServer updates the monitored server gauges
func SetServer(current, max, queue, window int) {
	m := Global()
	if m != nil {
		m.PlayersCurrent.Set(float64(current))
		m.PlayersMax.Set(float64(max))
		m.QueueLength.Set(float64(queue))
		m.WindowSamples.Set(float64(window))
	}
}

// IncUpstreamRequests increments the status API lookup counter
func IncUpstreamRequests(endpoint, result string) {
	m := Global()
	if m != nil {
		m.UpstreamRequestsTotal.WithLabelValues(endpoint, result).Inc()
	}
}

// IncNotifications increments the notification delivery counter
func IncNotifications(kind, sink, result string) {
	m := Global()
	if m != nil {
		m.NotificationsTotal.WithLabelValues(kind, sink, result).Inc()
	}
}

// IncProfileUpdates increments the profile update counter
func IncProfileUpdates(kind, result string) {
	m := Global()
	if m != nil {
		m.ProfileUpdatesTotal.WithLabelValues(kind, result).Inc()
	}
}
