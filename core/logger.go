package core

import "go.uber.org/zap"

// Logger receives the events of the listener loop and connection handlers.
type Logger interface {
	LogServing(addr string)
	LogAcceptError(err error)
	LogConnError(err error)
	LogRejected(status int, err error)
}

type zapLogger struct{ *zap.Logger }

func (l zapLogger) LogServing(addr string) {
	l.Logger.Info("listening", zap.String("addr", addr))
}

func (l zapLogger) LogAcceptError(err error) {
	l.Logger.Error("accept failed", zap.Error(err))
}

func (l zapLogger) LogConnError(err error) {
	l.Logger.Warn("connection abandoned", zap.Error(err))
}

func (l zapLogger) LogRejected(status int, err error) {
	l.Logger.Debug("request rejected", zap.Int("status", status), zap.Error(err))
}

// NewZapLogger logs engine events to l.
func NewZapLogger(l *zap.Logger) Logger {
	return zapLogger{l.Named("engine")}
}

// NopLogger discards all events.
type NopLogger struct{}

func (NopLogger) LogServing(string)      {}
func (NopLogger) LogAcceptError(error)   {}
func (NopLogger) LogConnError(error)     {}
func (NopLogger) LogRejected(int, error) {}

var (
	_ Logger = zapLogger{}
	_ Logger = NopLogger{}
)
