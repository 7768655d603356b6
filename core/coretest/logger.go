// Package coretest provides helpers for testing code built on the engine.
package coretest

import (
	"sync/atomic"
	"testing"
)

// Logger is an engine log sink that writes to a testing.TB and counts
// events.
type Logger struct {
	tb testing.TB

	NumLogServing     int64
	NumLogAcceptError int64
	NumLogConnError   int64
	NumLogRejected    int64
}

func NewLogger(tb testing.TB) *Logger {
	return &Logger{tb: tb}
}

func (l *Logger) LogServing(addr string) {
	atomic.AddInt64(&l.NumLogServing, 1)
	l.tb.Logf("engine: listening on %s", addr)
}

func (l *Logger) LogAcceptError(err error) {
	atomic.AddInt64(&l.NumLogAcceptError, 1)
	l.tb.Logf("engine: accept failed: %s", err)
}

func (l *Logger) LogConnError(err error) {
	atomic.AddInt64(&l.NumLogConnError, 1)
	l.tb.Logf("engine: connection abandoned: %s", err)
}

func (l *Logger) LogRejected(status int, err error) {
	atomic.AddInt64(&l.NumLogRejected, 1)
	l.tb.Logf("engine: rejected with %d: %s", status, err)
}
