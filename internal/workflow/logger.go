package workflow

import (
	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

// Logger routes Temporal SDK logs through zap.
type Logger struct {
	s *zap.SugaredLogger
}

var _ log.Logger = (*Logger)(nil)

// NewLogger wraps l. A nil l uses the global logger at call time.
func NewLogger(l *zap.Logger) *Logger {
	if l == nil {
		l = zap.L()
	}
	return &Logger{s: l.Named("temporal").Sugar()}
}

func (l *Logger) Debug(msg string, keyvals ...interface{}) { l.s.Debugw(msg, keyvals...) }
func (l *Logger) Info(msg string, keyvals ...interface{})  { l.s.Infow(msg, keyvals...) }
func (l *Logger) Warn(msg string, keyvals ...interface{})  { l.s.Warnw(msg, keyvals...) }
func (l *Logger) Error(msg string, keyvals ...interface{}) { l.s.Errorw(msg, keyvals...) }
