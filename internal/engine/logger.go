package engine

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/user/flowd"
)

// DefaultLogger adapts zerolog to the flowd.Logger contract the engine, the
// trigger services and the API share.
type DefaultLogger struct {
	logger zerolog.Logger
}

// NewDefaultLogger writes structured lines to stderr with timestamps. The
// level defaults to info; FLOWD_LOG_LEVEL overrides it with any zerolog
// level name.
func NewDefaultLogger() *DefaultLogger {
	level := zerolog.InfoLevel
	if env := os.Getenv("FLOWD_LOG_LEVEL"); env != "" {
		if parsed, err := zerolog.ParseLevel(env); err == nil {
			level = parsed
		}
	}
	return &DefaultLogger{
		logger: zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger(),
	}
}

// log folds the variadic key/value pairs into the event. A trailing key
// without a value gets nil so uneven calls still log.
func (l *DefaultLogger) log(event *zerolog.Event, msg string, keysAndValues ...interface{}) {
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprintf("%v", keysAndValues[i])
		if i+1 < len(keysAndValues) {
			event.Interface(key, keysAndValues[i+1])
		} else {
			event.Interface(key, nil)
		}
	}
	event.Msg(msg)
}

func (l *DefaultLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log(l.logger.Debug(), msg, keysAndValues...)
}

func (l *DefaultLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log(l.logger.Info(), msg, keysAndValues...)
}

func (l *DefaultLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log(l.logger.Warn(), msg, keysAndValues...)
}

func (l *DefaultLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log(l.logger.Error(), msg, keysAndValues...)
}

var _ flowd.Logger = (*DefaultLogger)(nil)
