package poller

import (
	"context"
	"sync"

	"inviqa/event-outbox-relay/config"
	"inviqa/event-outbox-relay/log"
	"inviqa/event-outbox-relay/outbox/listener"
	"inviqa/event-outbox-relay/outbox/processor"

	"github.com/google/uuid"
	nr "github.com/newrelic/go-agent/v3/newrelic"
)

// Start runs cfg.RelayWorkers relay workers until ctx is done. The returned
// func blocks until every worker has finished its current drain.
func Start(ctx context.Context, cfg *config.Config, repo processor.Store, pub processor.Publisher, nrApp *nr.Application) func() {
	logger := log.Logger.WithField("config", cfg)
	logger.Info("starting outbox relay workers")

	if !cfg.ListenerSupported() {
		logger.Infof("change notifications unavailable for %s, running poll-only", cfg.DBDriver)
	}

	wg := &sync.WaitGroup{}
	for i := 0; i < cfg.RelayWorkers; i++ {
		workerId := "relay-" + uuid.NewString()
		proc := processor.NewDispatchProcessor(repo, pub, workerId, cfg.BatchSize, cfg.MaxAttempts, nrApp)
		p := New(proc, cfg.GetPollIntervalDurationInMs())

		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Poll(ctx)
		}()

		if cfg.ListenerSupported() {
			l := listener.NewPgListener(cfg.GetDSN(), cfg.NotifyChannel, p.Wake)
			go runListener(ctx, listener.NewResilient(workerId, l.Listen))
		}
	}

	return wg.Wait
}

func runListener(ctx context.Context, r *listener.Resilient) {
	if err := r.Run(ctx); err != nil {
		log.Logger.WithError(err).Warn("outbox relay worker continues in poll-only mode")
	}
}
