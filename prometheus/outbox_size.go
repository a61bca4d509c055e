package prometheus

import (
	"context"
	"time"

	"inviqa/event-outbox-relay/log"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const observeInterval = time.Second * 1

var (
	outboxQueueSize = promauto.NewGauge(prom.GaugeOpts{
		Name: "event_outbox_queue_size",
		Help: "The number of deliveries not yet published (NEW, RETRY or SENDING)",
	})

	outboxDeadSize = promauto.NewGauge(prom.GaugeOpts{
		Name: "event_outbox_dead_size",
		Help: "The number of dead-lettered deliveries",
	})
)

// ObserveQueueSize keeps the queue size gauge current until ctx is done.
func ObserveQueueSize(ctx context.Context, sizer Sizer) {
	observe(ctx, outboxQueueSize, "queue", sizer.GetQueueSize)
}

// ObserveDeadSize keeps the dead-letter gauge current until ctx is done.
func ObserveDeadSize(ctx context.Context, sizer Sizer) {
	observe(ctx, outboxDeadSize, "dead-letter", sizer.GetDeadSize)
}

func observe(ctx context.Context, g prom.Gauge, name string, size func() (uint, error)) {
	ticker := time.NewTicker(observeInterval)
	defer ticker.Stop()

	for {
		n, err := size()
		if err != nil {
			log.Logger.WithError(err).Errorf("an error occurred determining the size of the %s", name)
		} else {
			g.Set(float64(n))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
