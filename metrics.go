package msgnet

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments a Server. A nil *Metrics records nothing.
type Metrics struct {
	accepted      prometheus.Counter
	disconnected  prometheus.Counter
	active        prometheus.Gauge
	drained       prometheus.Counter
	handlerPanics *prometheus.CounterVec
}

// NewMetrics creates server metrics under namespace and registers them with
// reg. A nil reg creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "msgnet"
	}
	factory := promauto.With(reg)

	return &Metrics{
		accepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "connections_accepted_total",
			Help:      "Connections accepted by the server.",
		}),
		disconnected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "connections_closed_total",
			Help:      "Dead connections removed by the poll loop.",
		}),
		active: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "connections_active",
			Help:      "Connections currently tracked.",
		}),
		drained: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "messages_drained_total",
			Help:      "Messages consumed from connection queues by the poll loop.",
		}),
		handlerPanics: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "handler_panics_total",
			Help:      "Recovered panics in connection handlers.",
		}, []string{"event"}),
	}
}

func (m *Metrics) connectionAccepted() {
	if m == nil {
		return
	}
	m.accepted.Inc()
	m.active.Inc()
}

func (m *Metrics) connectionClosed() {
	if m == nil {
		return
	}
	m.disconnected.Inc()
	m.active.Dec()
}

func (m *Metrics) messagesDrained(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.drained.Add(float64(n))
}

func (m *Metrics) handlerPanic(event string) {
	if m == nil {
		return
	}
	m.handlerPanics.WithLabelValues(event).Inc()
}
