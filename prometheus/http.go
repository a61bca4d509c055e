package prometheus

import (
	"net/http"

	"inviqa/event-outbox-relay/config"
	h "inviqa/event-outbox-relay/http"
	"inviqa/event-outbox-relay/log"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewHttpServer serves metrics and health checks, plus the events API when
// events is not nil.
func NewHttpServer(cfg *config.Config, db h.Pinger, events http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", h.NewHealthzHandler(cfg.GetDependencySystemAddresses(), db))

	if events != nil {
		mux.Handle("/events", events)
	}

	return &http.Server{Addr: cfg.HttpAddr, Handler: mux}
}

func StartHttpServer(srv *http.Server) {
	err := srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		log.Logger.Fatalf("failed to start HTTP server: %s", err)
	}
}
