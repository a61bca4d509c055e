package sql

import (
	"fmt"
	"strings"
)

type PostgresQueryProvider struct {
	Tables Tables
}

func NewPostgresQueryProvider() *PostgresQueryProvider {
	return &PostgresQueryProvider{Tables: DefaultTables}
}

func (p PostgresQueryProvider) EventInsertSql() string {
	q := `INSERT INTO %s (event_id, company_id, entity_id, type, source, payload, occurred_at)
		VALUES ($1::uuid, $2, $3, $4, $5, $6::jsonb, $7::timestamptz)
		ON CONFLICT (event_id) DO NOTHING`

	return fmt.Sprintf(q, p.Tables.Events)
}

func (p PostgresQueryProvider) EntryInsertSql() string {
	q := `INSERT INTO %s (%s)
		SELECT %s FROM %s WHERE event_id = $1::uuid
		ON CONFLICT (event_id) DO NOTHING`

	cols := strings.Join(EntryColumns, ", ")
	return fmt.Sprintf(q, p.Tables.Entries, cols, cols, p.Tables.Events)
}

func (p PostgresQueryProvider) DeliveryInsertSql() string {
	q := `INSERT INTO %s (event_id, status, attempts) VALUES ($1::uuid, 'NEW', 0) ON CONFLICT (event_id) DO NOTHING`

	return fmt.Sprintf(q, p.Tables.Deliveries)
}

func (p PostgresQueryProvider) ClaimSelectSql(limit int) string {
	return p.candidateSelect(limit) + " FOR UPDATE SKIP LOCKED"
}

func (p PostgresQueryProvider) CandidateSelectSql(limit int) string {
	return p.candidateSelect(limit)
}

func (p PostgresQueryProvider) ClaimUpdateSql(idCount int) string {
	q := `UPDATE %s SET status = 'SENDING', locked_by = $1, locked_at = NOW(), updated_at = NOW() WHERE event_id IN (%s)`

	var placeholders []string
	for i := 2; i <= idCount+1; i++ {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i))
	}

	return fmt.Sprintf(q, p.Tables.Deliveries, strings.Join(placeholders, ", "))
}

func (p PostgresQueryProvider) ClaimCasSql() string {
	q := `UPDATE %s SET status = 'SENDING', locked_by = $1, locked_at = NOW(), updated_at = NOW()
		WHERE event_id = $2 AND status = $3 AND attempts = $4 AND (next_retry_at IS NULL OR next_retry_at <= NOW())`

	return fmt.Sprintf(q, p.Tables.Deliveries)
}

func (p PostgresQueryProvider) EntryFetchSql() string {
	return fmt.Sprintf(`SELECT %s FROM %s WHERE event_id = $1`, strings.Join(EntryColumns, ", "), p.Tables.Entries)
}

func (p PostgresQueryProvider) MarkSentSql() string {
	q := `UPDATE %s SET status = 'SENT', last_error = NULL, locked_by = NULL, locked_at = NULL, updated_at = NOW()
		WHERE event_id = $1 AND status = 'SENDING'`

	return fmt.Sprintf(q, p.Tables.Deliveries)
}

func (p PostgresQueryProvider) MarkRetrySql() string {
	q := `UPDATE %s SET status = 'RETRY', attempts = $1, next_retry_at = NOW() + ($2::bigint * INTERVAL '1 millisecond'),
		last_error = $3, locked_by = NULL, locked_at = NULL, updated_at = NOW()
		WHERE event_id = $4 AND status = 'SENDING'`

	return fmt.Sprintf(q, p.Tables.Deliveries)
}

func (p PostgresQueryProvider) MarkDeadSql() string {
	q := `UPDATE %s SET status = 'DEAD', attempts = $1, last_error = $2, locked_by = NULL, locked_at = NULL, updated_at = NOW()
		WHERE event_id = $3 AND status = 'SENDING'`

	return fmt.Sprintf(q, p.Tables.Deliveries)
}

func (p PostgresQueryProvider) ReleaseStuckSql() string {
	q := `UPDATE %s SET status = 'RETRY', locked_by = NULL, locked_at = NULL, next_retry_at = NOW(), updated_at = NOW()
		WHERE status = 'SENDING' AND locked_at < NOW() - ($1::bigint * INTERVAL '1 second')`

	return fmt.Sprintf(q, p.Tables.Deliveries)
}

func (p PostgresQueryProvider) GetQueueSizeSql() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE status IN ('NEW', 'RETRY', 'SENDING')", p.Tables.Deliveries)
}

func (p PostgresQueryProvider) GetDeadSizeSql() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE status = 'DEAD'", p.Tables.Deliveries)
}

func (p PostgresQueryProvider) EventListSql(f EventListFilter) string {
	n := 1
	next := func() string {
		n++
		return fmt.Sprintf("$%d", n)
	}

	where := []string{"company_id = $1"}
	if f.Entity {
		where = append(where, "entity_id = "+next())
	}
	if f.Type {
		where = append(where, "type = "+next())
	}
	if f.From {
		where = append(where, "occurred_at >= "+next()+"::timestamptz")
	}
	if f.To {
		where = append(where, "occurred_at <= "+next()+"::timestamptz")
	}
	if f.After {
		where = append(where, fmt.Sprintf("(occurred_at, event_id) < (%s::timestamptz, %s::uuid)", next(), next()))
	}

	q := `SELECT %s FROM %s WHERE %s ORDER BY occurred_at DESC, event_id DESC LIMIT %s`

	return fmt.Sprintf(q, strings.Join(EventListColumns, ", "), p.Tables.Events, strings.Join(where, " AND "), next())
}

func (p PostgresQueryProvider) candidateSelect(limit int) string {
	q := `SELECT %s FROM %s
		WHERE status IN ('NEW', 'RETRY') AND (next_retry_at IS NULL OR next_retry_at <= NOW())
		ORDER BY created_at ASC LIMIT %d`

	return fmt.Sprintf(q, strings.Join(ClaimColumns, ", "), p.Tables.Deliveries, limit)
}
