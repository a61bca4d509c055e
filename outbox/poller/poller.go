package poller

import (
	"context"
	"time"

	"inviqa/event-outbox-relay/log"

	"github.com/sirupsen/logrus"
)

type drainer interface {
	Drain(ctx context.Context) (int, error)
	WorkerId() string
}

func New(d drainer, interval time.Duration) *Poller {
	return &Poller{
		drainer:  d,
		interval: interval,
		wake:     make(chan struct{}, 1),
	}
}

// Poller drives one worker: it drains the outbox on start, on every tick and
// whenever it is woken. Drains of a poller never overlap.
type Poller struct {
	drainer  drainer
	interval time.Duration
	wake     chan struct{}
}

// Wake asks for a drain as soon as the current one, if any, has finished.
// Wakes arriving while one is already pending are coalesced.
func (p *Poller) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Poller) Poll(ctx context.Context) {
	t := time.NewTicker(p.interval)
	defer t.Stop()

	p.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		case <-p.wake:
		}

		p.drain(ctx)
	}
}

func (p *Poller) drain(ctx context.Context) {
	handled, err := p.drainer.Drain(ctx)
	fields := logrus.Fields{"worker_id": p.drainer.WorkerId(), "handled": handled}
	if err != nil {
		log.Logger.WithFields(fields).WithError(err).Error("an unexpected error occurred when draining the outbox")
		return
	}

	if handled > 0 {
		log.Logger.WithFields(fields).Debug("outbox drained")
	}
}
