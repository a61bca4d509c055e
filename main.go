package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	nr "github.com/newrelic/go-agent/v3/newrelic"

	"inviqa/event-outbox-relay/config"
	h "inviqa/event-outbox-relay/http"
	"inviqa/event-outbox-relay/ingest"
	"inviqa/event-outbox-relay/job"
	"inviqa/event-outbox-relay/kafka"
	"inviqa/event-outbox-relay/log"
	"inviqa/event-outbox-relay/newrelic"
	"inviqa/event-outbox-relay/outbox"
	"inviqa/event-outbox-relay/outbox/data"
	"inviqa/event-outbox-relay/outbox/poller"
	"inviqa/event-outbox-relay/prometheus"
	"inviqa/event-outbox-relay/rabbitmq"
)

const httpShutdownTimeout = 10 * time.Second

type publisher interface {
	Publish(ctx context.Context, routingKey string, msg outbox.Publishable) error
	Close() error
}

func main() {
	nrApp, stopAgent := newrelic.StartAgent()
	defer stopAgent()

	ctx, cancel := context.WithCancel(context.Background())
	cfg, err := config.NewConfig()
	if err != nil {
		log.Logger.Fatalf("unable to create configuration: %s", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	db, dbClose := data.NewDB(cfg)
	defer dbClose()

	repo := outbox.NewRepository(db, cfg)

	var exitCode int
	switch {
	case cfg.RunReaper:
		exitCode = job.RunReaper(ctx, nrApp, repo, cfg)
	case cfg.RunOptimize:
		exitCode = job.RunOptimize(ctx, nrApp, db, cfg)
	default:
		runMainApp(ctx, nrApp, db, repo, cfg)
	}

	if exitCode > 0 {
		dbClose() // we call this manually because os.Exit() does not respect defer
		os.Exit(exitCode)
	}
}

func runMainApp(ctx context.Context, nrApp *nr.Application, db *sql.DB, repo outbox.Repository, cfg *config.Config) {
	pub := newPublisher(cfg)
	defer func() {
		if err := pub.Close(); err != nil {
			log.Logger.WithError(err).Errorf("error closing %s publisher during shutdown", cfg.BrokerDriver)
		}
	}()

	var bg sync.WaitGroup
	events := h.NewEventsHandler(nil, repo)
	if cfg.IngestEnabled {
		acceptor := ingest.NewAcceptor(outbox.NewWriter(db, cfg), pub, cfg.IngestQueueSize, cfg.IngestWorkers)
		events = h.NewEventsHandler(acceptor, repo)

		bg.Add(1)
		go func() {
			defer bg.Done()
			acceptor.Run(ctx)
		}()
	}

	if cfg.ReaperIntervalSec > 0 {
		go job.ReapEvery(ctx, repo, cfg.GetReaperInterval(), cfg.GetStuckAfter())
	}

	go prometheus.ObserveQueueSize(ctx, repo)
	go prometheus.ObserveDeadSize(ctx, repo)

	waitForWorkers := poller.Start(ctx, cfg, repo, pub, nrApp)

	srv := prometheus.NewHttpServer(cfg, db, events)
	go prometheus.StartHttpServer(srv)

	<-ctx.Done()
	log.Logger.Info("shutting down outbox relay")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Logger.WithError(err).Error("error shutting down the HTTP server")
	}

	bg.Wait()
	waitForWorkers()
}

func newPublisher(cfg *config.Config) publisher {
	if cfg.BrokerDriver == config.Kafka {
		return kafka.NewPublisher(cfg.KafkaHost, kafka.NewSaramaConfig(cfg.TLSEnable, cfg.TLSSkipVerifyPeer))
	}

	return rabbitmq.NewPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange, cfg.GetConfirmTimeout())
}
