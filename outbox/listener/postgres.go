package listener

import (
	"context"
	"time"

	"inviqa/event-outbox-relay/log"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const closeTimeout = 5 * time.Second

// Conn is the part of *pgx.Conn a listener needs.
type Conn interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

type ConnectFunc func(ctx context.Context, dsn string) (Conn, error)

// PgListener subscribes to a Postgres notification channel on a dedicated
// connection and calls wake for every notification. Payloads are ignored:
// a notification only means there may be work.
type PgListener struct {
	dsn     string
	channel string
	wake    func()
	connect ConnectFunc
}

func NewPgListener(dsn, channel string, wake func()) *PgListener {
	return NewPgListenerWithConnect(dsn, channel, wake, connect)
}

func NewPgListenerWithConnect(dsn, channel string, wake func(), c ConnectFunc) *PgListener {
	return &PgListener{dsn: dsn, channel: channel, wake: wake, connect: c}
}

func connect(ctx context.Context, dsn string) (Conn, error) {
	return pgx.Connect(ctx, dsn)
}

// Listen is a Session: it returns when the connection fails or ctx is done.
func (l *PgListener) Listen(ctx context.Context, ready func()) error {
	conn, err := l.connect(ctx, l.dsn)
	if err != nil {
		return errors.Wrap(err, "listener: connecting to postgres")
	}
	defer l.close(conn)

	channel := pgx.Identifier{l.channel}.Sanitize()
	if _, err := conn.Exec(ctx, "LISTEN "+channel); err != nil {
		return errors.Wrapf(err, "listener: LISTEN %s", channel)
	}

	log.Logger.WithField("channel", l.channel).Info("listening for outbox notifications")
	ready()

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return errors.Wrap(err, "listener: waiting for notification")
		}

		if n.Channel != l.channel {
			continue
		}

		log.Logger.WithFields(logrus.Fields{"channel": n.Channel, "pid": n.PID}).Debug("outbox notification received")
		l.wake()
	}
}

func (l *PgListener) close(conn Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	if _, err := conn.Exec(ctx, "UNLISTEN *"); err != nil {
		log.Logger.WithError(err).Debug("unable to UNLISTEN before closing the listener connection")
	}

	if err := conn.Close(ctx); err != nil {
		log.Logger.WithError(err).Debug("error closing the listener connection")
	}
}
