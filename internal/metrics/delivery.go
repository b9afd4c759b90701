package metrics

import (
	"mls_chat/internal/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DeliveryCollector records the delivery service side of the protocol.
type DeliveryCollector struct {
	messages           *prometheus.CounterVec
	welcomesRouted     prometheus.Counter
	keyPackagesClaimed prometheus.Counter
	connectedClients   prometheus.Gauge
	queued             prometheus.Counter
}

func NewDeliveryCollector(reg prometheus.Registerer) *DeliveryCollector {
	factory := promauto.With(reg)
	return &DeliveryCollector{
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespaceMLS,
			Subsystem: subsystemDelivery,
			Name:      "messages_total",
			Help:      "group messages submitted, by kind and outcome",
		}, []string{LabelKind, LabelOutcome}),
		welcomesRouted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceMLS,
			Subsystem: subsystemDelivery,
			Name:      "welcomes_routed_total",
			Help:      "welcome messages routed to new members",
		}),
		keyPackagesClaimed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceMLS,
			Subsystem: subsystemDelivery,
			Name:      "key_packages_claimed_total",
			Help:      "key packages handed out to inviting clients",
		}),
		connectedClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespaceMLS,
			Subsystem: subsystemDelivery,
			Name:      "connected_clients",
			Help:      "clients with an open websocket",
		}),
		queued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceMLS,
			Subsystem: subsystemDelivery,
			Name:      "messages_queued_total",
			Help:      "messages queued for offline clients",
		}),
	}
}

func (c *DeliveryCollector) MessageAccepted(kind model.MessageKind) {
	c.messages.With(prometheus.Labels{LabelKind: kind.String(), LabelOutcome: OutcomeAccepted}).Inc()
}

func (c *DeliveryCollector) MessageRejected(kind model.MessageKind) {
	c.messages.With(prometheus.Labels{LabelKind: kind.String(), LabelOutcome: OutcomeRejected}).Inc()
}

func (c *DeliveryCollector) WelcomeRouted() {
	c.welcomesRouted.Inc()
}

func (c *DeliveryCollector) KeyPackagesClaimed(n int) {
	c.keyPackagesClaimed.Add(float64(n))
}

func (c *DeliveryCollector) ClientConnected() {
	c.connectedClients.Inc()
}

func (c *DeliveryCollector) ClientDisconnected() {
	c.connectedClients.Dec()
}

func (c *DeliveryCollector) MessageQueued() {
	c.queued.Inc()
}
