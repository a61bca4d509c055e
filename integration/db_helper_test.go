//go:build integration
// +build integration

package integration

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"inviqa/event-outbox-relay/outbox"

	"github.com/google/uuid"
)

func purgeOutboxTables() {
	var qs []string
	if cfg.DBDriver.MySQL() {
		qs = []string{"DELETE FROM outbox_delivery;", "DELETE FROM outbox_events;", "DELETE FROM events;"}
	} else {
		qs = []string{"TRUNCATE TABLE events, outbox_events, outbox_delivery;"}
	}

	for _, q := range qs {
		if _, err := db.Exec(q); err != nil {
			panic(fmt.Sprintf("an error occurred cleaning the outbox tables for tests: %s", err))
		}
	}
}

func query(q string) string {
	if cfg.DBDriver.MySQL() {
		return q
	}

	for i := 1; strings.Contains(q, "?"); i++ {
		q = strings.Replace(q, "?", fmt.Sprintf("$%d", i), 1)
	}
	return q
}

func getDelivery(eventId uuid.UUID) outbox.Delivery {
	q := query("SELECT event_id, status, attempts, next_retry_at, locked_by, locked_at, last_error FROM outbox_delivery WHERE event_id = ?")

	d := outbox.Delivery{}
	err := db.QueryRow(q, eventId.String()).Scan(&d.EventId, &d.Status, &d.Attempts, &d.NextRetryAt, &d.LockedBy, &d.LockedAt, &d.LastError)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			panic(fmt.Sprintf("no delivery record found for event %s", eventId))
		}
		panic(fmt.Sprintf("an error occurred scanning the delivery record: %s", err))
	}

	return d
}

func countRows(table string, eventId uuid.UUID) int {
	var n int
	if err := db.QueryRow(query(fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE event_id = ?", table)), eventId.String()).Scan(&n); err != nil {
		panic(err)
	}
	return n
}

// insertEventWithDelivery writes e with its delivery already in status, as
// a relay would have left it, so that no worker races the test setup.
func insertEventWithDelivery(e *outbox.Event, status outbox.Status, attempts int, lockedAt sql.NullTime) {
	tx, err := db.Begin()
	if err != nil {
		panic(fmt.Sprintf("error creating a DB transaction: %s", err))
	}

	cols := "event_id, company_id, entity_id, type, source, payload, occurred_at"
	args := []interface{}{e.EventId.String(), e.CompanyId, e.EntityId, string(e.Type), string(e.Source), string(e.Payload), e.OccurredAt}
	for _, table := range []string{"events", "outbox_events"} {
		if _, err := tx.Exec(query(fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?)", table, cols)), args...); err != nil {
			_ = tx.Rollback()
			panic(fmt.Sprintf("failed to insert into %s: %s", table, err))
		}
	}

	var lockedBy sql.NullString
	if lockedAt.Valid {
		lockedBy = sql.NullString{String: "relay-crashed", Valid: true}
	}

	q := query("INSERT INTO outbox_delivery (event_id, status, attempts, locked_by, locked_at) VALUES (?, ?, ?, ?, ?)")
	if _, err := tx.Exec(q, e.EventId.String(), string(status), attempts, lockedBy, lockedAt); err != nil {
		_ = tx.Rollback()
		panic(fmt.Sprintf("failed to insert the delivery record: %s", err))
	}

	if err := tx.Commit(); err != nil {
		panic(fmt.Sprintf("error committing DB transaction: %s", err))
	}
}

// insertSentEvents writes n events for companyId whose deliveries are
// already SENT, so the running relay leaves them alone.
func insertSentEvents(n int, companyId string) []*outbox.Event {
	events := make([]*outbox.Event, 0, n)
	for i := 0; i < n; i++ {
		e := newEvent(outbox.EventTypes[i%len(outbox.EventTypes)])
		e.CompanyId = companyId
		insertEventWithDelivery(e, outbox.StatusSent, 0, sql.NullTime{})
		events = append(events, e)
	}

	return events
}

// makeClaimable turns the deliveries of events back to NEW in one statement.
func makeClaimable(events []*outbox.Event) {
	args := make([]interface{}, 0, len(events))
	for _, e := range events {
		args = append(args, e.EventId.String())
	}

	q := query(fmt.Sprintf("UPDATE outbox_delivery SET status = 'NEW' WHERE event_id IN (%s)", strings.TrimSuffix(strings.Repeat("?, ", len(events)), ", ")))
	if _, err := db.Exec(q, args...); err != nil {
		panic(fmt.Sprintf("failed to make deliveries claimable: %s", err))
	}
}
