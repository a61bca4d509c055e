package outbox

import (
	"context"
	"database/sql"

	"inviqa/event-outbox-relay/config"
	"inviqa/event-outbox-relay/log"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Writer records events in the outbox. The event, its outbox copy and its
// delivery record are written in one transaction, so they either all exist
// or none do.
type Writer struct {
	db            *sql.DB
	queryProvider queryProvider
}

func NewWriter(db *sql.DB, cfg *config.Config) Writer {
	return NewWriterWithQueryProvider(db, newQueryProvider(cfg.DBDriver))
}

func NewWriterWithQueryProvider(db *sql.DB, qp queryProvider) Writer {
	return Writer{db: db, queryProvider: qp}
}

// Write stores the event and schedules it for delivery. It reports false
// without an error when an event with the same ID was already written.
func (w Writer) Write(ctx context.Context, e *Event) (bool, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return false, errors.Wrap(err, "outbox: error starting the write transaction")
	}

	stages := []struct {
		name  string
		query string
		args  []interface{}
	}{
		{
			name:  "event",
			query: w.queryProvider.EventInsertSql(),
			args:  []interface{}{e.EventId, e.CompanyId, e.EntityId, e.Type, e.Source, string(e.Payload), e.OccurredAt},
		},
		{name: "outbox entry", query: w.queryProvider.EntryInsertSql(), args: []interface{}{e.EventId}},
		{name: "delivery", query: w.queryProvider.DeliveryInsertSql(), args: []interface{}{e.EventId}},
	}

	for _, st := range stages {
		res, err := tx.ExecContext(ctx, st.query, st.args...)
		if err != nil {
			w.rollback(tx)
			return false, errors.Wrapf(err, "outbox: error inserting %s for event %s", st.name, e.EventId)
		}

		if n, _ := res.RowsAffected(); n != 1 {
			log.Logger.WithFields(logrus.Fields{"event_id": e.EventId.String(), "stage": st.name}).Debug("event already written, skipping")
			w.rollback(tx)
			return false, nil
		}
	}

	if err = tx.Commit(); err != nil {
		return false, errors.Wrapf(err, "outbox: error committing event %s", e.EventId)
	}

	return true, nil
}

func (w Writer) rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil {
		log.Logger.WithError(err).Error("error rolling back the DB transaction")
	}
}
