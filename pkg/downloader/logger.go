package downloader

import (
	"github.com/go-logr/logr"
	"github.com/hashicorp/go-retryablehttp"
)

var _ retryablehttp.LeveledLogger = &leveledLogger{}

// leveledLogger sends retryablehttp's logs through logr.
type leveledLogger struct {
	log logr.Logger
}

func (l *leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Info(msg, keysAndValues...)
}

func (l *leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.V(2).Info(msg, keysAndValues...)
}

func (l *leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.V(4).Info(msg, keysAndValues...)
}

func (l *leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.V(1).Info(msg, keysAndValues...)
}
