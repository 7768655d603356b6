package http

import (
	"github.com/cockroachdb/errors"

	"github.com/searchktools/mini-server/core/encoding"
)

var (
	// ErrMalformedRequestLine is returned by ParseRequest when the request
	// line does not carry at least a method and a path.
	ErrMalformedRequestLine = errors.New("malformed request line")

	// ErrNoMatch is returned by the router when no route accepts a request.
	ErrNoMatch = errors.New("no matching route")

	// ErrEncode marks failures of the structured-encoding collaborator.
	ErrEncode = encoding.ErrEncode
)

// StatusOf maps an error of the dispatch pipeline to the status code the
// client receives for it.
func StatusOf(err error) int {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrMalformedRequestLine):
		return StatusBadRequest
	case errors.Is(err, ErrNoMatch):
		return StatusNotFound
	default:
		return StatusInternalServerError
	}
}
