package job

import (
	"context"
	"database/sql"
	"fmt"

	"inviqa/event-outbox-relay/log"
	"inviqa/event-outbox-relay/newrelic"

	nr "github.com/newrelic/go-agent/v3/newrelic"
)

type postgresOptimizeTable struct {
	Db        *sql.DB
	TableName string
	SidecarQuitter
}

func (o *postgresOptimizeTable) Execute(ctx context.Context) error {
	query := fmt.Sprintf(`VACUUM ANALYZE "%s";`, o.TableName)
	seg := newrelic.StartDatastoreSegment(ctx, nr.DatastorePostgres, o.TableName, "VACUUM", query)
	_, err := o.Db.ExecContext(ctx, query)
	seg.End()

	if err == nil {
		log.Logger.WithField("table", o.TableName).Info("vacuumed Postgres delivery table successfully")
	} else {
		log.Logger.WithField("table", o.TableName).WithError(err).Error("an error occurred vacuuming the Postgres delivery table")
	}

	if o.QuitSidecar {
		if qErr := o.Quit(); qErr != nil {
			return qErr
		}
	}

	return err
}
