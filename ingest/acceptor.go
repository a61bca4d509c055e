package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"inviqa/event-outbox-relay/log"
	"inviqa/event-outbox-relay/outbox"

	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidEvent = errors.New("ingest: invalid event")
	ErrQueueFull    = errors.New("ingest: write queue is full")
	ErrStopped      = errors.New("ingest: acceptor is not running")
)

type writer interface {
	Write(ctx context.Context, e *outbox.Event) (bool, error)
}

type publisher interface {
	Publish(ctx context.Context, routingKey string, msg outbox.Publishable) error
}

// Acceptor hands accepted events to a fixed pool of writers through a
// bounded queue. Writes that fail are reported on the Unhandled routing key,
// since the caller has already been answered by then.
type Acceptor struct {
	writer   writer
	failures publisher
	workers  int
	queue    chan *outbox.Event
	now      func() time.Time

	mu      sync.RWMutex
	running bool
}

func NewAcceptor(w writer, failures publisher, queueSize, workers int) *Acceptor {
	return &Acceptor{
		writer:   w,
		failures: failures,
		workers:  workers,
		queue:    make(chan *outbox.Event, queueSize),
		now:      time.Now,
	}
}

// Accept validates e and queues it for writing. It never blocks: a full queue
// is reported as ErrQueueFull.
func (a *Acceptor) Accept(e *outbox.Event) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidEvent, err)
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.running {
		return ErrStopped
	}

	select {
	case a.queue <- e:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run starts the writers and blocks until ctx is cancelled. Events already
// queued at that point are still written before Run returns.
func (a *Acceptor) Run(ctx context.Context) {
	a.mu.Lock()
	a.running = true
	a.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < a.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.consume(ctx)
		}()
	}

	<-ctx.Done()

	a.mu.Lock()
	a.running = false
	a.mu.Unlock()

	wg.Wait()
	a.drain()
}

func (a *Acceptor) consume(ctx context.Context) {
	for {
		select {
		case e := <-a.queue:
			a.write(context.WithoutCancel(ctx), e)
		case <-ctx.Done():
			return
		}
	}
}

func (a *Acceptor) drain() {
	for {
		select {
		case e := <-a.queue:
			a.write(context.Background(), e)
		default:
			return
		}
	}
}

func (a *Acceptor) write(ctx context.Context, e *outbox.Event) {
	fields := logrus.Fields{"event_id": e.EventId.String(), "type": e.Type}

	inserted, err := a.writer.Write(ctx, e)
	if err != nil {
		log.Logger.WithFields(fields).WithError(err).Error("writing event to the outbox failed, reporting it as unhandled")

		failed := outbox.NewFailedWrite(e, err, a.now().UTC())
		if perr := a.failures.Publish(ctx, outbox.Unhandled, failed); perr != nil {
			log.Logger.WithFields(fields).WithError(perr).Error("unable to report the failed write")
		}
		return
	}

	if !inserted {
		log.Logger.WithFields(fields).Debug("duplicate event ignored")
		return
	}

	log.Logger.WithFields(fields).Debug("event written to the outbox")
}
