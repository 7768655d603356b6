package core

import "github.com/cockroachdb/errors"

// Defaults for engine options
const (
	// DefaultReadBufferSize bounds a single request. Requests larger than
	// this are truncated: their tail, usually part of the body, is never
	// read.
	DefaultReadBufferSize = 512
)

// Error definitions
var (
	// ErrBind marks a failure to bind the listening socket. It is fatal for
	// the process.
	ErrBind = errors.New("bind failed")

	// ErrIO marks read, write and accept failures. They are logged and only
	// abandon the connection concerned.
	ErrIO = errors.New("connection i/o failed")

	// ErrFrozen is the panic value when routes or middleware are registered
	// after serving has started.
	ErrFrozen = errors.New("registration after serving started")
)
