package stats

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gochat"

const (
	ActiveSessions    = "active_sessions"
	OnlineUsers       = "online_users"
	EventsEmitted     = "events_emitted_total"
	MessagesIngested  = "messages_ingested_total"
	DroppedDeliveries = "dropped_deliveries_total"
)

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	IncrLabel(name string, labels ...string)
}

type StatsUpdater struct {
	registry *prometheus.Registry
	gauges   map[string]prometheus.Gauge
	counters map[string]*prometheus.CounterVec
}

// NewStatsUpdater creates the metrics registry and serves it on GET /metrics.
func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	su := &StatsUpdater{
		registry: prometheus.NewRegistry(),
		gauges:   make(map[string]prometheus.Gauge),
		counters: make(map[string]*prometheus.CounterVec),
	}
	su.initializeMetrics()

	if mux != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(su.registry, promhttp.HandlerOpts{}))
	}

	return su
}

func (su *StatsUpdater) initializeMetrics() {
	su.registry.MustRegister(prometheus.NewGoCollector())

	su.registerGauge(ActiveSessions, "Number of live websocket sessions.")
	su.registerGauge(OnlineUsers, "Number of users with at least one live session.")
	su.registerCounter(EventsEmitted, "Number of events emitted, by event type.", "event_type")
	su.registerCounter(MessagesIngested, "Number of message submissions by kind and outcome.", "kind", "result")
	su.registerCounter(DroppedDeliveries, "Number of deliveries dropped because a session queue was full.", "event_type")
}

func (su *StatsUpdater) registerGauge(name, help string) {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	})
	su.registry.MustRegister(g)
	su.gauges[name] = g
}

func (su *StatsUpdater) registerCounter(name, help string, labels ...string) {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, labels)
	su.registry.MustRegister(c)
	su.counters[name] = c
}

func (su *StatsUpdater) Incr(name string) {
	if g, ok := su.gauges[name]; ok {
		g.Inc()
	}
}

func (su *StatsUpdater) Decr(name string) {
	if g, ok := su.gauges[name]; ok {
		g.Dec()
	}
}

// IncrLabel increments a counter vec. Label values must match the labels the
// counter was registered with or the update is dropped.
func (su *StatsUpdater) IncrLabel(name string, labels ...string) {
	c, ok := su.counters[name]
	if !ok {
		return
	}
	if m, err := c.GetMetricWithLabelValues(labels...); err == nil {
		m.Inc()
	}
}

func (su *StatsUpdater) Gatherer() prometheus.Gatherer {
	return su.registry
}
