package outbox

import (
	"context"
	"database/sql"
	"time"

	"inviqa/event-outbox-relay/config"
	"inviqa/event-outbox-relay/log"
	s "inviqa/event-outbox-relay/outbox/data/sql"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type queryProvider interface {
	EventInsertSql() string
	EntryInsertSql() string
	DeliveryInsertSql() string
	ClaimSelectSql(limit int) string
	CandidateSelectSql(limit int) string
	ClaimUpdateSql(idCount int) string
	ClaimCasSql() string
	EntryFetchSql() string
	MarkSentSql() string
	MarkRetrySql() string
	MarkDeadSql() string
	ReleaseStuckSql() string
	GetQueueSizeSql() string
	GetDeadSizeSql() string
	EventListSql(f s.EventListFilter) string
}

// Repository is the delivery state store. All cross-worker exclusivity comes
// from the claim queries it runs.
type Repository struct {
	db            *sql.DB
	strategy      config.ClaimStrategy
	queryProvider queryProvider
}

func NewRepository(db *sql.DB, cfg *config.Config) Repository {
	return NewRepositoryWithQueryProvider(db, cfg.ClaimStrategy, newQueryProvider(cfg.DBDriver))
}

func NewRepositoryWithQueryProvider(db *sql.DB, strategy config.ClaimStrategy, qp queryProvider) Repository {
	return Repository{
		db:            db,
		strategy:      strategy,
		queryProvider: qp,
	}
}

// ClaimBatch moves up to limit eligible deliveries to SENDING on behalf of
// workerId and returns them as they were before the claim, oldest first.
// Deliveries locked or claimed by another worker are skipped, never waited on.
func (r Repository) ClaimBatch(ctx context.Context, workerId string, limit int) ([]*Delivery, error) {
	if r.strategy == config.CAS {
		return r.claimByCompareAndSwap(ctx, workerId, limit)
	}

	return r.claimBySkipLocked(ctx, workerId, limit)
}

func (r Repository) claimBySkipLocked(ctx context.Context, workerId string, limit int) ([]*Delivery, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "outbox: error starting the claim transaction")
	}

	claimed, err := r.selectCandidates(ctx, tx, r.queryProvider.ClaimSelectSql(limit))
	if err != nil {
		r.rollback(tx)
		return nil, err
	}

	if len(claimed) == 0 {
		r.rollback(tx)
		return claimed, nil
	}

	args := []interface{}{workerId}
	for _, d := range claimed {
		args = append(args, d.EventId)
	}

	q := r.queryProvider.ClaimUpdateSql(len(claimed))
	log.Logger.WithFields(logrus.Fields{"worker_id": workerId, "count": len(claimed)}).Debug("claiming deliveries")

	if _, err = tx.ExecContext(ctx, q, args...); err != nil {
		r.rollback(tx)
		return nil, errors.Wrap(err, "outbox: error marking claimed deliveries as SENDING")
	}

	if err = tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "outbox: error committing the claim transaction")
	}

	return claimed, nil
}

// casClaimRounds bounds how many times a claim reselects candidates after
// losing every compare-and-swap to peers.
const casClaimRounds = 5

func (r Repository) claimByCompareAndSwap(ctx context.Context, workerId string, limit int) ([]*Delivery, error) {
	claimed := []*Delivery{}
	for round := 0; round < casClaimRounds && ctx.Err() == nil; round++ {
		candidates, err := r.selectCandidates(ctx, r.db, r.queryProvider.CandidateSelectSql(limit))
		if err != nil {
			return nil, err
		}

		if len(candidates) == 0 {
			return claimed, nil
		}

		claimed, err = r.compareAndSwap(ctx, workerId, candidates)
		if err != nil || len(claimed) > 0 {
			return claimed, err
		}

		// every candidate went to a peer, rows past the first limit may still be eligible
		log.Logger.WithFields(logrus.Fields{"worker_id": workerId, "round": round + 1}).Debug("lost every claim to peers, selecting again")
	}

	return claimed, nil
}

func (r Repository) compareAndSwap(ctx context.Context, workerId string, candidates []*Delivery) ([]*Delivery, error) {
	q := r.queryProvider.ClaimCasSql()
	claimed := []*Delivery{}
	for _, d := range candidates {
		res, err := r.db.ExecContext(ctx, q, workerId, d.EventId, d.Status, d.Attempts)
		if err != nil {
			return claimed, errors.Wrapf(err, "outbox: error claiming delivery %s", d.EventId)
		}

		// zero rows means a peer claimed or changed it since the snapshot
		if n, _ := res.RowsAffected(); n == 1 {
			claimed = append(claimed, d)
		}
	}

	return claimed, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (r Repository) selectCandidates(ctx context.Context, q queryer, query string) ([]*Delivery, error) {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "outbox: error selecting claimable deliveries")
	}
	defer rows.Close()

	deliveries := []*Delivery{}
	for rows.Next() {
		d := &Delivery{}
		if err := rows.Scan(&d.EventId, &d.Status, &d.Attempts); err != nil {
			return nil, errors.Wrap(err, "outbox: error scanning claimable delivery")
		}
		deliveries = append(deliveries, d)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "outbox: error iterating claimable deliveries")
	}

	return deliveries, nil
}

// GetEntry loads the outbox copy of an event. ErrEntryNotFound is returned
// when no copy exists.
func (r Repository) GetEntry(ctx context.Context, eventId uuid.UUID) (*Entry, error) {
	row := r.db.QueryRowContext(ctx, r.queryProvider.EntryFetchSql(), eventId)

	e := &Entry{}
	var payload []byte
	err := row.Scan(&e.EventId, &e.CompanyId, &e.EntityId, &e.Type, &e.Source, &payload, &e.OccurredAt)
	if err == sql.ErrNoRows {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "outbox: error fetching outbox entry %s", eventId)
	}
	e.Payload = payload

	return e, nil
}

// ListEvents returns one page of a company's events, newest first. It reads
// one row past the page size to know whether a next page exists.
func (r Repository) ListEvents(ctx context.Context, q EventQuery) (*EventPage, error) {
	limit := ClampLimit(q.Limit)
	f := s.EventListFilter{
		Entity: q.EntityId != "",
		Type:   q.Type != "",
		From:   !q.From.IsZero(),
		To:     !q.To.IsZero(),
		After:  q.After != nil,
	}

	args := []interface{}{q.CompanyId}
	if f.Entity {
		args = append(args, q.EntityId)
	}
	if f.Type {
		args = append(args, string(q.Type))
	}
	if f.From {
		args = append(args, q.From)
	}
	if f.To {
		args = append(args, q.To)
	}
	if f.After {
		args = append(args, q.After.OccurredAt, q.After.EventId)
	}
	args = append(args, limit+1)

	rows, err := r.db.QueryContext(ctx, r.queryProvider.EventListSql(f), args...)
	if err != nil {
		return nil, errors.Wrap(err, "outbox: error listing events")
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		e := &Event{}
		var payload []byte
		if err := rows.Scan(&e.EventId, &e.CompanyId, &e.EntityId, &e.Type, &e.Source, &payload, &e.OccurredAt, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "outbox: error scanning listed event")
		}
		e.Payload = payload
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "outbox: error iterating listed events")
	}

	page := &EventPage{Items: events}
	if len(events) > limit {
		page.Items = events[:limit]
		last := page.Items[limit-1]
		page.Next = &Cursor{OccurredAt: last.OccurredAt, EventId: last.EventId}
	}

	return page, nil
}

func (r Repository) MarkSent(ctx context.Context, eventId uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, r.queryProvider.MarkSentSql(), eventId)

	return errors.Wrapf(err, "outbox: error marking delivery %s as SENT", eventId)
}

func (r Repository) MarkRetry(ctx context.Context, eventId uuid.UUID, attempts int, delay time.Duration, reason string) error {
	_, err := r.db.ExecContext(ctx, r.queryProvider.MarkRetrySql(), attempts, delay.Milliseconds(), reason, eventId)

	return errors.Wrapf(err, "outbox: error scheduling retry of delivery %s", eventId)
}

func (r Repository) MarkDead(ctx context.Context, eventId uuid.UUID, attempts int, reason string) error {
	_, err := r.db.ExecContext(ctx, r.queryProvider.MarkDeadSql(), attempts, reason, eventId)

	return errors.Wrapf(err, "outbox: error marking delivery %s as DEAD", eventId)
}

// ReleaseStuckSending returns deliveries that have been SENDING for longer
// than olderThan to RETRY, so that a crashed worker's claims are picked up
// again. It returns how many were released.
func (r Repository) ReleaseStuckSending(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.queryProvider.ReleaseStuckSql(), int64(olderThan/time.Second))
	if err != nil {
		return 0, errors.Wrap(err, "outbox: error releasing stuck deliveries")
	}

	return res.RowsAffected()
}

func (r Repository) GetQueueSize() (uint, error) {
	return r.count(r.queryProvider.GetQueueSizeSql())
}

func (r Repository) GetDeadSize() (uint, error) {
	return r.count(r.queryProvider.GetDeadSizeSql())
}

func (r Repository) count(q string) (uint, error) {
	res := r.db.QueryRow(q)

	var count uint
	err := res.Scan(&count)
	if err != nil {
		return 0, err
	}

	return count, nil
}

func (r Repository) rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil {
		log.Logger.WithError(err).Error("error rolling back the DB transaction")
	}
}

func newQueryProvider(d config.DbDriver) queryProvider {
	switch true {
	case d.Postgres():
		return s.NewPostgresQueryProvider()
	case d.MySQL():
		return s.NewMysqlQueryProvider()
	}

	return nil
}
