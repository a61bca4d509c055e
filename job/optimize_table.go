package job

import (
	"context"
	"database/sql"
	"net/http"

	"inviqa/event-outbox-relay/config"
	"inviqa/event-outbox-relay/log"
	"inviqa/event-outbox-relay/newrelic"
	outboxsql "inviqa/event-outbox-relay/outbox/data/sql"

	nr "github.com/newrelic/go-agent/v3/newrelic"
)

type Optimizer interface {
	Execute(ctx context.Context) error
	EnableSideCarProxyQuit(proxyUrl string)
}

// RunOptimize reclaims the space left behind by delivery state updates, which
// rewrite rows on every attempt.
func RunOptimize(ctx context.Context, nrApp *nr.Application, db *sql.DB, cfg *config.Config) int {
	ctx, txn := newrelic.ContextWithTxn(ctx, "job: optimize", nrApp)
	defer txn.End()

	j := newOptimizeTableWithDefaultClient(db, outboxsql.DefaultTables.Deliveries, cfg.DBDriver)
	if j == nil {
		log.Logger.WithField("driver", cfg.DBDriver).Error("unable to determine the database driver")
		return 1
	}

	if cfg.SidecarProxyUrl != "" {
		j.EnableSideCarProxyQuit(cfg.SidecarProxyUrl)
	}

	if err := j.Execute(ctx); err != nil {
		txn.NoticeError(err)
		return 1
	}

	return 0
}

func newOptimizeTableWithDefaultClient(db *sql.DB, tableName string, dr config.DbDriver) Optimizer {
	return newOptimizeTable(db, tableName, dr, http.DefaultClient)
}

func newOptimizeTable(db *sql.DB, tableName string, dr config.DbDriver, cl httpPoster) Optimizer {
	sc := SidecarQuitter{Client: cl}
	switch true {
	case dr.MySQL():
		return &mysqlOptimizeTable{
			Db:             db,
			TableName:      tableName,
			SidecarQuitter: sc,
		}
	case dr.Postgres():
		return &postgresOptimizeTable{
			Db:             db,
			TableName:      tableName,
			SidecarQuitter: sc,
		}
	}
	return nil
}
