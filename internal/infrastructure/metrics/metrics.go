package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-resgraph/internal/pattern"
	"github.com/nerrad567/gray-logic-resgraph/internal/resource"
)

const namespace = "resgraph"

// Channel directions and results for ChannelMessage.
const (
	DirectionIn  = "in"
	DirectionOut = "out"

	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics owns a private registry with the service's collectors.
//
// It implements pattern.Recorder, so the pattern manager counts callbacks
// directly into it.
type Metrics struct {
	registry *prometheus.Registry
	factory  promauto.Factory

	callbacks       *prometheus.CounterVec
	channelMessages *prometheus.CounterVec
	historyPoints   *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
}

// New creates the registry with Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		factory:  f,

		// Labels: pattern, kind (available, unavailable, changed)
		callbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pattern",
			Name:      "callbacks_total",
			Help:      "Pattern listener callbacks delivered",
		}, []string{"pattern", "kind"}),

		// Labels: direction (in, out), result (ok, error)
		channelMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "messages_total",
			Help:      "MQTT channel messages handled",
		}, []string{"direction", "result"}),

		// Labels: result (written, skipped)
		historyPoints: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "points_total",
			Help:      "Value changes seen by the history recorder",
		}, []string{"result"}),

		// Labels: method, status (HTTP status class, e.g. 2xx)
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "HTTP API requests",
		}, []string{"method", "status"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// CallbackDelivered implements pattern.Recorder.
func (m *Metrics) CallbackDelivered(name string, kind pattern.CallbackKind) {
	m.callbacks.WithLabelValues(name, string(kind)).Inc()
}

// ChannelMessage counts one inbound or outbound channel message.
func (m *Metrics) ChannelMessage(direction, result string) {
	m.channelMessages.WithLabelValues(direction, result).Inc()
}

// HistoryPoint counts a value change the history recorder handled.
func (m *Metrics) HistoryPoint(written bool) {
	result := "skipped"
	if written {
		result = "written"
	}
	m.historyPoints.WithLabelValues(result).Inc()
}

// HTTPRequest counts an API request by method and status class.
func (m *Metrics) HTTPRequest(method string, status int) {
	m.httpRequests.WithLabelValues(method, statusClass(status)).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}

// ObserveGraph exports graph counters as gauges read at scrape time.
func (m *Metrics) ObserveGraph(stats func() resource.Stats) {
	gauge := func(name, help string, read func(resource.Stats) int) {
		m.factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(read(stats())) })
	}
	gauge("nodes", "Real resources in the graph", func(s resource.Stats) int { return s.Nodes })
	gauge("top_level", "Top-level resources", func(s resource.Stats) int { return s.TopLevel })
	gauge("references", "Reference resources", func(s resource.Stats) int { return s.References })
	gauge("active", "Active resources", func(s resource.Stats) int { return s.Active })
	gauge("handles", "Live handles, real and virtual", func(s resource.Stats) int { return s.Handles })
	gauge("listeners", "Registered structure and value listeners", func(s resource.Stats) int { return s.Listeners })
}

// ObserveDemands exports the number of active pattern demands.
func (m *Metrics) ObserveDemands(count func() int) {
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pattern",
		Name:      "demands",
		Help:      "Active pattern demands",
	}, func() float64 { return float64(count()) })
}
