package job

import (
	"context"
	"net/http"
	"time"

	"inviqa/event-outbox-relay/config"
	"inviqa/event-outbox-relay/log"
	"inviqa/event-outbox-relay/newrelic"

	nr "github.com/newrelic/go-agent/v3/newrelic"
)

type StuckReleaser interface {
	ReleaseStuckSending(ctx context.Context, olderThan time.Duration) (int64, error)
}

// reaper hands deliveries left in SENDING by a crashed worker back to RETRY.
type reaper struct {
	sr        StuckReleaser
	olderThan time.Duration
	SidecarQuitter
}

func RunReaper(ctx context.Context, nrApp *nr.Application, repo StuckReleaser, cfg *config.Config) int {
	ctx, txn := newrelic.ContextWithTxn(ctx, "job: reaper", nrApp)
	defer txn.End()

	j := newReaperWithDefaultClient(repo, cfg.GetStuckAfter())
	if cfg.SidecarProxyUrl != "" {
		j.EnableSideCarProxyQuit(cfg.SidecarProxyUrl)
	}

	if _, err := j.Execute(ctx); err != nil {
		txn.NoticeError(err)
		return 1
	}

	return 0
}

// ReapEvery releases stuck deliveries every interval until ctx is done.
func ReapEvery(ctx context.Context, repo StuckReleaser, interval, olderThan time.Duration) {
	j := newReaper(repo, olderThan, nil)

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = j.Execute(ctx)
		}
	}
}

func newReaperWithDefaultClient(sr StuckReleaser, olderThan time.Duration) *reaper {
	return newReaper(sr, olderThan, http.DefaultClient)
}

func newReaper(sr StuckReleaser, olderThan time.Duration, cl httpPoster) *reaper {
	return &reaper{
		sr:        sr,
		olderThan: olderThan,
		SidecarQuitter: SidecarQuitter{
			Client: cl,
		},
	}
}

func (r *reaper) Execute(ctx context.Context) (int64, error) {
	rows, err := r.sr.ReleaseStuckSending(ctx, r.olderThan)
	if err != nil {
		log.Logger.WithError(err).Error("an error occurred whilst releasing stuck outbox deliveries")
		return 0, err
	}

	if rows > 0 {
		log.Logger.Warnf("released %d outbox deliveries stuck in SENDING for longer than %s", rows, r.olderThan)
	} else {
		log.Logger.Debug("no stuck outbox deliveries found")
	}

	if r.QuitSidecar {
		if err := r.Quit(); err != nil {
			return 0, err
		}
	}

	return rows, nil
}
