package sql

import (
	"fmt"
	"strings"
)

type MysqlQueryProvider struct {
	Tables Tables
}

func NewMysqlQueryProvider() *MysqlQueryProvider {
	return &MysqlQueryProvider{Tables: DefaultTables}
}

func (m MysqlQueryProvider) EventInsertSql() string {
	q := "INSERT INTO `%s` (`event_id`, `company_id`, `entity_id`, `type`, `source`, `payload`, `occurred_at`) VALUES (?, ?, ?, ?, ?, ?, ?) ON DUPLICATE KEY UPDATE `event_id` = `event_id`"

	return fmt.Sprintf(q, m.Tables.Events)
}

func (m MysqlQueryProvider) EntryInsertSql() string {
	q := "INSERT INTO `%s` (%s) SELECT %s FROM `%s` WHERE `event_id` = ? ON DUPLICATE KEY UPDATE `%s`.`event_id` = `%s`.`event_id`"

	cols := strings.Join(escapeColumns(EntryColumns), ", ")
	return fmt.Sprintf(q, m.Tables.Entries, cols, cols, m.Tables.Events, m.Tables.Entries, m.Tables.Entries)
}

func (m MysqlQueryProvider) DeliveryInsertSql() string {
	q := "INSERT INTO `%s` (`event_id`, `status`, `attempts`) VALUES (?, 'NEW', 0) ON DUPLICATE KEY UPDATE `event_id` = `event_id`"

	return fmt.Sprintf(q, m.Tables.Deliveries)
}

func (m MysqlQueryProvider) ClaimSelectSql(limit int) string {
	return m.candidateSelect(limit) + " FOR UPDATE SKIP LOCKED"
}

func (m MysqlQueryProvider) CandidateSelectSql(limit int) string {
	return m.candidateSelect(limit)
}

func (m MysqlQueryProvider) ClaimUpdateSql(idCount int) string {
	q := "UPDATE `%s` SET `status` = 'SENDING', `locked_by` = ?, `locked_at` = NOW(6), `updated_at` = NOW(6) WHERE `event_id` IN (%s)"

	return fmt.Sprintf(q, m.Tables.Deliveries, strings.Trim(strings.Repeat("?, ", idCount), ", "))
}

func (m MysqlQueryProvider) ClaimCasSql() string {
	q := "UPDATE `%s` SET `status` = 'SENDING', `locked_by` = ?, `locked_at` = NOW(6), `updated_at` = NOW(6) WHERE `event_id` = ? AND `status` = ? AND `attempts` = ? AND (`next_retry_at` IS NULL OR `next_retry_at` <= NOW(6))"

	return fmt.Sprintf(q, m.Tables.Deliveries)
}

func (m MysqlQueryProvider) EntryFetchSql() string {
	return fmt.Sprintf("SELECT %s FROM `%s` WHERE `event_id` = ?", strings.Join(escapeColumns(EntryColumns), ", "), m.Tables.Entries)
}

func (m MysqlQueryProvider) MarkSentSql() string {
	q := "UPDATE `%s` SET `status` = 'SENT', `last_error` = NULL, `locked_by` = NULL, `locked_at` = NULL, `updated_at` = NOW(6) WHERE `event_id` = ? AND `status` = 'SENDING'"

	return fmt.Sprintf(q, m.Tables.Deliveries)
}

func (m MysqlQueryProvider) MarkRetrySql() string {
	q := "UPDATE `%s` SET `status` = 'RETRY', `attempts` = ?, `next_retry_at` = DATE_ADD(NOW(6), INTERVAL ? * 1000 MICROSECOND), `last_error` = ?, `locked_by` = NULL, `locked_at` = NULL, `updated_at` = NOW(6) WHERE `event_id` = ? AND `status` = 'SENDING'"

	return fmt.Sprintf(q, m.Tables.Deliveries)
}

func (m MysqlQueryProvider) MarkDeadSql() string {
	q := "UPDATE `%s` SET `status` = 'DEAD', `attempts` = ?, `last_error` = ?, `locked_by` = NULL, `locked_at` = NULL, `updated_at` = NOW(6) WHERE `event_id` = ? AND `status` = 'SENDING'"

	return fmt.Sprintf(q, m.Tables.Deliveries)
}

func (m MysqlQueryProvider) ReleaseStuckSql() string {
	q := "UPDATE `%s` SET `status` = 'RETRY', `locked_by` = NULL, `locked_at` = NULL, `next_retry_at` = NOW(6), `updated_at` = NOW(6) WHERE `status` = 'SENDING' AND `locked_at` < DATE_SUB(NOW(6), INTERVAL ? SECOND)"

	return fmt.Sprintf(q, m.Tables.Deliveries)
}

func (m MysqlQueryProvider) GetQueueSizeSql() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM `%s` WHERE `status` IN ('NEW', 'RETRY', 'SENDING')", m.Tables.Deliveries)
}

func (m MysqlQueryProvider) GetDeadSizeSql() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM `%s` WHERE `status` = 'DEAD'", m.Tables.Deliveries)
}

func (m MysqlQueryProvider) EventListSql(f EventListFilter) string {
	where := []string{"`company_id` = ?"}
	if f.Entity {
		where = append(where, "`entity_id` = ?")
	}
	if f.Type {
		where = append(where, "`type` = ?")
	}
	if f.From {
		where = append(where, "`occurred_at` >= ?")
	}
	if f.To {
		where = append(where, "`occurred_at` <= ?")
	}
	if f.After {
		where = append(where, "(`occurred_at`, `event_id`) < (?, ?)")
	}

	q := "SELECT %s FROM `%s` WHERE %s ORDER BY `occurred_at` DESC, `event_id` DESC LIMIT ?"

	return fmt.Sprintf(q, strings.Join(escapeColumns(EventListColumns), ", "), m.Tables.Events, strings.Join(where, " AND "))
}

func (m MysqlQueryProvider) candidateSelect(limit int) string {
	q := "SELECT %s FROM `%s` WHERE `status` IN ('NEW', 'RETRY') AND (`next_retry_at` IS NULL OR `next_retry_at` <= NOW(6)) ORDER BY `created_at` ASC LIMIT %d"

	return fmt.Sprintf(q, strings.Join(escapeColumns(ClaimColumns), ", "), m.Tables.Deliveries, limit)
}

func escapeColumns(columns []string) []string {
	var escaped []string
	for _, c := range columns {
		escaped = append(escaped, "`"+c+"`")
	}

	return escaped
}
