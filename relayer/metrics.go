package relayer

import (
	"net/http"

	"github.com/msalopek/swap_relayer/settlement"
	"github.com/msalopek/swap_relayer/swaperr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	transitions  *prometheus.CounterVec
	rejections   *prometheus.CounterVec
	activeOrders prometheus.Gauge
	retries      *prometheus.CounterVec
	announced    prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relayer",
			Name:      "swap_transitions_total",
			Help:      "Swap state transitions by target state.",
		}, []string{"to"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relayer",
			Name:      "rejections_total",
			Help:      "Rejected operations by operation and error kind.",
		}, []string{"op", "kind"}),
		activeOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relayer",
			Name:      "active_orders",
			Help:      "Orders not yet in a terminal state.",
		}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relayer",
			Name:      "retries_total",
			Help:      "Retried collaborator calls by operation.",
		}, []string{"op"}),
		announced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relayer",
			Name:      "rescue_announcements_total",
			Help:      "Rescue opportunities announced to resolvers.",
		}),
	}
	m.registry.MustRegister(m.transitions, m.rejections, m.activeOrders, m.retries, m.announced)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) observeCreated() {
	m.activeOrders.Inc()
}

func (m *Metrics) observeTransition(t settlement.Transition) {
	m.transitions.WithLabelValues(t.To.String()).Inc()
	if t.To.Terminal() {
		m.activeOrders.Dec()
	}
}

func (m *Metrics) observeRejection(op string, err error) {
	m.rejections.WithLabelValues(op, swaperr.KindOf(err).String()).Inc()
}
