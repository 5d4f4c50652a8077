package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EarlyLog reports failures that happen before configuration is loaded and
// the real logger exists. It always writes JSON to stderr.
type EarlyLog struct {
	log *zap.SugaredLogger
}

func NewEarlyLog() *EarlyLog {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build()
	if err != nil {
		l = zap.NewNop()
	}
	return &EarlyLog{log: l.Sugar().With("phase", "startup")}
}

func (l *EarlyLog) Error(msg string, args ...interface{}) {
	l.log.Errorf(msg, args...)
	_ = l.log.Sync()
}

func (l *EarlyLog) Warn(msg string, args ...interface{}) {
	l.log.Warnf(msg, args...)
}

func (l *EarlyLog) Info(msg string, args ...interface{}) {
	l.log.Infof(msg, args...)
}
