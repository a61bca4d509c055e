package log

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

const (
	defaultLevel = logrus.ErrorLevel

	// AlarmField is set on entries that an operator has to act on.
	AlarmField = "alarm"
)

var Logger logrus.FieldLogger

func init() {
	Logger = newLogger(os.Getenv("LOG_LEVEL"))
}

func newLogger(level string) logrus.FieldLogger {
	l := logrus.New()
	l.Formatter = &logrus.JSONFormatter{}
	l.Out = os.Stdout

	lvl, err := resolveLogLevel(level)
	l.Level = lvl

	if err != nil {
		l.Errorf("an error occurred resolving the log level: %s", err)
	}

	return l
}

// Alarm returns an entry tagged with the given alarm name.
func Alarm(name string) *logrus.Entry {
	return Logger.WithField(AlarmField, name)
}

// Writer returns a writer whose lines are logged at info level, for
// libraries that only accept an io.Writer.
func Writer() *io.PipeWriter {
	if l, ok := Logger.(*logrus.Logger); ok {
		return l.Writer()
	}

	return logrus.StandardLogger().Writer()
}

func resolveLogLevel(envLvl string) (logrus.Level, error) {
	if envLvl == "" {
		return defaultLevel, nil
	}

	lvl, err := logrus.ParseLevel(envLvl)
	if err != nil {
		return defaultLevel, err
	}

	return lvl, nil
}
