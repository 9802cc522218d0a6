package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dreamware/ktboard/internal/registry"
)

// Heartbeat results recorded by ObserveHeartbeat.
const (
	HeartbeatOK           = "ok"
	HeartbeatUnknownToken = "unknown_token"
	HeartbeatInvalid      = "invalid"
)

type PrometheusMetrics struct {
	registrations   prometheus.Counter
	heartbeats      *prometheus.CounterVec
	clears          prometheus.Counter
	groupClients    *prometheus.GaugeVec
	groupAlive      *prometheus.GaugeVec
	transitions     *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &PrometheusMetrics{
		registrations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ktboard_registrations_total",
				Help: "Total number of successful client registrations",
			},
		),
		heartbeats: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ktboard_heartbeats_total",
				Help: "Total number of heartbeats received, by result",
			},
			[]string{"result"},
		),
		clears: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ktboard_clears_total",
				Help: "Total number of registry clears",
			},
		),
		groupClients: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ktboard_group_clients",
				Help: "Registered clients per group at the last liveness sweep",
			},
			[]string{"group"},
		),
		groupAlive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ktboard_group_alive_clients",
				Help: "Alive clients per group at the last liveness sweep",
			},
			[]string{"group"},
		),
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ktboard_liveness_transitions_total",
				Help: "Clients changing liveness between sweeps",
			},
			[]string{"state"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ktboard_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"route", "code"},
		),
	}
}

// ObserveRegistration counts a registration. Group names come from clients,
// so they are only used as labels on the sweep gauges, which are rebuilt from
// the registered groups on every sweep.
func (p *PrometheusMetrics) ObserveRegistration(_ string) {
	p.registrations.Inc()
}

func (p *PrometheusMetrics) ObserveHeartbeat(result string) {
	p.heartbeats.WithLabelValues(result).Inc()
}

func (p *PrometheusMetrics) ObserveClear() {
	p.clears.Inc()
}

func (p *PrometheusMetrics) ObserveRequest(route string, code int, duration time.Duration) {
	p.requestDuration.WithLabelValues(route, strconv.Itoa(code)).Observe(duration.Seconds())
}

// ObserveSweep replaces the per-group gauges so groups dropped by a clear
// disappear from the exposition.
func (p *PrometheusMetrics) ObserveSweep(snap registry.Snapshot) {
	p.groupClients.Reset()
	p.groupAlive.Reset()
	for _, g := range snap.Groups {
		p.groupClients.WithLabelValues(g.Name).Set(float64(g.Total))
		p.groupAlive.WithLabelValues(g.Name).Set(float64(g.Alive))
	}
}

func (p *PrometheusMetrics) ObserveTransition(_ string, alive bool) {
	state := "stale"
	if alive {
		state = "alive"
	}
	p.transitions.WithLabelValues(state).Inc()
}

var _ registry.SweepObserver = (*PrometheusMetrics)(nil)
