package job

import (
	"context"
	"database/sql"
	"fmt"

	"inviqa/event-outbox-relay/log"
	"inviqa/event-outbox-relay/newrelic"

	nr "github.com/newrelic/go-agent/v3/newrelic"
)

type mysqlOptimizeTable struct {
	Db        *sql.DB
	TableName string
	SidecarQuitter
}

func (o *mysqlOptimizeTable) Execute(ctx context.Context) error {
	query := fmt.Sprintf("OPTIMIZE TABLE `%s`;", o.TableName)
	seg := newrelic.StartDatastoreSegment(ctx, nr.DatastoreMySQL, o.TableName, "OPTIMIZE TABLE", query)
	_, err := o.Db.ExecContext(ctx, query)
	seg.End()

	if err == nil {
		log.Logger.WithField("table", o.TableName).Info("optimized MySQL delivery table successfully")
	} else {
		log.Logger.WithField("table", o.TableName).WithError(err).Error("an error occurred optimizing the MySQL delivery table")
	}

	if o.QuitSidecar {
		if qErr := o.Quit(); qErr != nil {
			return qErr
		}
	}

	return err
}
