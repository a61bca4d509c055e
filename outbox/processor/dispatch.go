package processor

import (
	"context"
	"errors"
	"time"

	"inviqa/event-outbox-relay/log"
	"inviqa/event-outbox-relay/newrelic"
	"inviqa/event-outbox-relay/outbox"
	"inviqa/event-outbox-relay/prometheus"

	"github.com/google/uuid"
	nr "github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"
)

const (
	AlarmMissingEntry = "missing_outbox_entry"
	AlarmDeadLettered = "delivery_dead_lettered"

	shutdownReason = "released on shutdown"
)

// Store is the delivery state a DispatchProcessor works on.
type Store interface {
	ClaimBatch(ctx context.Context, workerId string, limit int) ([]*outbox.Delivery, error)
	GetEntry(ctx context.Context, eventId uuid.UUID) (*outbox.Entry, error)
	MarkSent(ctx context.Context, eventId uuid.UUID) error
	MarkRetry(ctx context.Context, eventId uuid.UUID, attempts int, delay time.Duration, reason string) error
	MarkDead(ctx context.Context, eventId uuid.UUID, attempts int, reason string) error
}

type Publisher interface {
	Publish(ctx context.Context, routingKey string, msg outbox.Publishable) error
}

func NewDispatchProcessor(s Store, p Publisher, workerId string, batchSize, maxAttempts int, nrApp *nr.Application) *DispatchProcessor {
	return &DispatchProcessor{
		store:       s,
		publisher:   p,
		workerId:    workerId,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		delay:       outbox.RetryDelay,
		nrApp:       nrApp,
	}
}

// DispatchProcessor claims deliveries for one worker, publishes them and
// records the outcome of every attempt.
type DispatchProcessor struct {
	store       Store
	publisher   Publisher
	workerId    string
	batchSize   int
	maxAttempts int
	delay       outbox.DelayFunc
	nrApp       *nr.Application
}

func (d *DispatchProcessor) WorkerId() string {
	return d.workerId
}

// Drain claims and dispatches batches until a claim comes back empty. It
// returns the number of deliveries it handled.
func (d *DispatchProcessor) Drain(parent context.Context) (int, error) {
	ctx, txn := newrelic.ContextWithTxn(parent, "processor: DispatchProcessor.Drain()", d.nrApp)
	defer txn.End()

	handled := 0
	for ctx.Err() == nil {
		batch, err := d.store.ClaimBatch(ctx, d.workerId, d.batchSize)
		if err != nil {
			txn.NoticeError(err)
			return handled, err
		}

		if len(batch) == 0 {
			return handled, nil
		}

		log.Logger.WithFields(logrus.Fields{"worker_id": d.workerId, "claimed": len(batch)}).Debug("claimed outbox deliveries")

		for _, rec := range batch {
			if ctx.Err() != nil {
				d.release(ctx, rec)
				continue
			}
			d.dispatch(ctx, txn, rec)
			handled++
		}
	}

	return handled, nil
}

func (d *DispatchProcessor) dispatch(ctx context.Context, txn *nr.Transaction, rec *outbox.Delivery) {
	// a confirmed publish must be recorded even when shutdown has started
	stateCtx := context.WithoutCancel(ctx)
	fields := logrus.Fields{"worker_id": d.workerId, "event_id": rec.EventId}

	entry, err := d.store.GetEntry(ctx, rec.EventId)
	if err != nil {
		if errors.Is(err, outbox.ErrEntryNotFound) {
			log.Alarm(AlarmMissingEntry).WithFields(fields).Error("a delivery has no outbox entry to publish")
		}
		txn.NoticeError(err)
		d.fail(stateCtx, rec, err, fields)
		return
	}

	msg := outbox.NewBrokerMessage(entry)
	if err := d.publisher.Publish(ctx, string(entry.Type), msg); err != nil {
		txn.NoticeError(err)
		d.fail(stateCtx, rec, err, fields)
		return
	}

	if err := d.store.MarkSent(stateCtx, rec.EventId); err != nil {
		log.Logger.WithFields(fields).WithError(err).Error("unable to mark a published delivery as sent")
		return
	}

	prometheus.ObserveDelivery(prometheus.OutcomeSent)
	log.Logger.WithFields(fields).Debug("delivery published")
}

func (d *DispatchProcessor) fail(ctx context.Context, rec *outbox.Delivery, cause error, fields logrus.Fields) {
	attempts := rec.Attempts + 1
	fields["attempts"] = attempts

	if attempts >= d.maxAttempts {
		if err := d.store.MarkDead(ctx, rec.EventId, attempts, cause.Error()); err != nil {
			log.Logger.WithFields(fields).WithError(err).Error("unable to dead-letter a delivery")
			return
		}

		prometheus.ObserveDelivery(prometheus.OutcomeDead)
		log.Alarm(AlarmDeadLettered).WithFields(fields).WithError(cause).Error("delivery exhausted its attempts and was dead-lettered")
		return
	}

	delay := d.delay(attempts)
	if err := d.store.MarkRetry(ctx, rec.EventId, attempts, delay, cause.Error()); err != nil {
		log.Logger.WithFields(fields).WithError(err).Error("unable to schedule a delivery retry")
		return
	}

	prometheus.ObserveDelivery(prometheus.OutcomeRetry)
	log.Logger.WithFields(fields).WithError(cause).Warnf("delivery failed, retrying in %s", delay)
}

// release hands a claimed but unattempted delivery back without counting
// an attempt.
func (d *DispatchProcessor) release(ctx context.Context, rec *outbox.Delivery) {
	err := d.store.MarkRetry(context.WithoutCancel(ctx), rec.EventId, rec.Attempts, 0, shutdownReason)
	if err != nil {
		log.Logger.WithField("event_id", rec.EventId).WithError(err).Warn("unable to release a claimed delivery, the reaper will recover it")
	}
}
