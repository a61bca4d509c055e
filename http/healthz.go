package http

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"inviqa/event-outbox-relay/log"
)

const (
	checkTimeout = time.Second * 2
	dialTimeout  = time.Second * 1
)

type healthzHandler struct {
	checkAddr []string
	db        Pinger
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

// NewHealthzHandler answers liveness probes with the state of the database
// and, for readiness probes (?readiness=1), also dials every address in
// checkAddr.
func NewHealthzHandler(checkAddr []string, db Pinger) http.Handler {
	return &healthzHandler{
		checkAddr: checkAddr,
		db:        db,
	}
}

func (h healthzHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), checkTimeout)
	defer cancel()

	checks := map[string]string{"database": h.checkDatabase(ctx)}
	if req.URL.Query().Get("readiness") == "1" {
		for _, host := range h.checkAddr {
			checks[host] = h.checkService(host)
		}
	}

	status := http.StatusOK
	for _, result := range checks {
		if result != "ok" {
			status = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(checks)
}

func (h healthzHandler) checkDatabase(ctx context.Context) string {
	if err := h.db.PingContext(ctx); err != nil {
		log.Logger.WithError(err).Debug("database is not available or there is a problem with connectivity")
		return "unavailable"
	}
	return "ok"
}

func (h healthzHandler) checkService(host string) string {
	log.Logger.Debugf("checking connectivity to %s", host)
	conn, err := net.DialTimeout("tcp", host, dialTimeout)
	if err != nil {
		log.Logger.Debugf("unable to connect to %s", host)
		return "unreachable"
	}
	_ = conn.Close()
	return "ok"
}
