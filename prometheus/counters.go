package prometheus

import (
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Delivery outcomes.
const (
	OutcomeSent  = "sent"
	OutcomeRetry = "retry"
	OutcomeDead  = "dead"
)

var (
	deliveries = promauto.NewCounterVec(prom.CounterOpts{
		Name: "event_outbox_deliveries_total",
		Help: "Delivery attempts by outcome",
	}, []string{"outcome"})

	listenerReconnects = promauto.NewCounter(prom.CounterOpts{
		Name: "event_outbox_listener_reconnects_total",
		Help: "Times the change notification listener lost its connection",
	})
)

func ObserveDelivery(outcome string) {
	deliveries.WithLabelValues(outcome).Inc()
}

func ObserveListenerReconnect() {
	listenerReconnects.Inc()
}
