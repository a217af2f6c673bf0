package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps the Prometheus collectors for the chat dispatch pipeline.
type Metrics struct {
	registry *prometheus.Registry

	messagesIngested     prometheus.Counter
	messagesDeliveredLive prometheus.Counter
	messagesDeposited    prometheus.Counter
	messagesAcked        prometheus.Counter
	compensations        *prometheus.CounterVec
	connectedUsers       prometheus.Gauge
	queueDepth           prometheus.Gauge
	dispatchErrors       *prometheus.CounterVec
}

// NewMetrics registers the chat pipeline collectors on a dedicated registry
// (never the global default, so tests can create independent instances).
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,

		messagesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_ingested_total",
			Help:      "Total messages accepted by ingress.",
		}),
		messagesDeliveredLive: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_delivered_live_total",
			Help:      "Total messages delivered to an online session on first dispatch attempt.",
		}),
		messagesDeposited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_deposited_total",
			Help:      "Total messages appended to a recipient's offline inbox.",
		}),
		messagesAcked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_acknowledged_total",
			Help:      "Total delivery acknowledgments processed.",
		}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compensations_total",
			Help:      "Total compensating rollbacks executed, by path.",
		}, []string{"path"}),
		connectedUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_users",
			Help:      "Current number of users with a bound session on this instance.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Last observed depth of the chat message queue.",
		}),
		dispatchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_errors_total",
			Help:      "Total dispatcher errors that resulted in a nack-requeue, by kind.",
		}, []string{"kind"}),
	}

	registry.MustRegister(
		m.messagesIngested,
		m.messagesDeliveredLive,
		m.messagesDeposited,
		m.messagesAcked,
		m.compensations,
		m.connectedUsers,
		m.queueDepth,
		m.dispatchErrors,
	)

	return m
}

func (m *Metrics) IngestAccepted()               { m.messagesIngested.Inc() }
func (m *Metrics) DeliveredLive()                { m.messagesDeliveredLive.Inc() }
func (m *Metrics) Deposited()                    { m.messagesDeposited.Inc() }
func (m *Metrics) Acknowledged()                 { m.messagesAcked.Inc() }
func (m *Metrics) Compensation(path string)       { m.compensations.WithLabelValues(path).Inc() }
func (m *Metrics) SetConnectedUsers(n int)        { m.connectedUsers.Set(float64(n)) }
func (m *Metrics) SetQueueDepth(n int64)          { m.queueDepth.Set(float64(n)) }
func (m *Metrics) DispatchError(kind string)      { m.dispatchErrors.WithLabelValues(kind).Inc() }

// Handler returns an HTTP handler serving this registry's metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
