package listener

import (
	"context"
	"errors"
	"time"

	"inviqa/event-outbox-relay/log"
	"inviqa/event-outbox-relay/prometheus"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

const (
	initialReconnectDelay = 5 * time.Second
	reconnectMultiplier   = 2
	maxReconnectAttempts  = 10

	AlarmReconnectExhausted = "listener_reconnect_exhausted"
)

var ErrReconnectAttemptsExhausted = errors.New("listener: reconnect attempts exhausted")

// Session holds one subscription open until it fails or ctx is done. It
// calls ready once the subscription is established.
type Session func(ctx context.Context, ready func()) error

// Resilient keeps a Session running, reconnecting with exponential backoff
// whenever it is lost. A session that got ready resets the backoff.
type Resilient struct {
	name    string
	session Session
	backOff func() backoff.BackOff
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewResilient(name string, s Session) *Resilient {
	return &Resilient{
		name:    name,
		session: s,
		backOff: newBackOff,
		sleep:   sleep,
	}
}

func newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialReconnectDelay
	b.Multiplier = reconnectMultiplier
	b.RandomizationFactor = 0
	b.MaxInterval = initialReconnectDelay << maxReconnectAttempts
	b.MaxElapsedTime = 0
	b.Reset()

	return backoff.WithMaxRetries(b, maxReconnectAttempts)
}

// Run blocks until ctx is done, in which case it returns nil, or until the
// reconnect attempts are exhausted.
func (r *Resilient) Run(ctx context.Context) error {
	b := r.backOff()
	fields := logrus.Fields{"listener": r.name}

	for {
		err := r.session(ctx, b.Reset)
		if ctx.Err() != nil {
			return nil
		}

		prometheus.ObserveListenerReconnect()

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			log.Alarm(AlarmReconnectExhausted).WithFields(fields).WithError(err).
				Log(logrus.FatalLevel, "listener gave up reconnecting, continuing in poll-only mode")
			return ErrReconnectAttemptsExhausted
		}

		log.Logger.WithFields(fields).WithError(err).Warnf("listener connection lost, reconnecting in %s", wait)

		if err := r.sleep(ctx, wait); err != nil {
			return nil
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
