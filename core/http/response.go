package http

import (
	"io"
	"slices"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"

	"github.com/searchktools/mini-server/core/encoding"
)

// Header names used by the core.
const (
	HeaderContentType   = "Content-Type"
	HeaderContentLength = "Content-Length"
	HeaderConnection    = "Connection"
)

// encodeFailureBody is sent when the structured encoder fails.
const encodeFailureBody = `{"error": "Failed to serialize JSON"}`

// ErrResponseWritten is returned when a response is flushed a second time.
var ErrResponseWritten = errors.New("response already written")

// Response is built up by handlers and middleware and serialized once,
// after the chain returns.
type Response struct {
	status  int
	header  Header
	body    []byte
	written bool
}

// NewResponse returns an empty 200 response.
func NewResponse() *Response {
	return &Response{
		status: StatusOK,
		header: make(Header),
	}
}

// Status sets the status code.
func (r *Response) Status(code int) *Response {
	r.status = code
	return r
}

// StatusCode returns the current status code.
func (r *Response) StatusCode() int {
	return r.status
}

// Header sets a response header, replacing an earlier value.
func (r *Response) Header(key, value string) *Response {
	r.header.Set(key, value)
	return r
}

// Headers exposes the header map for reading and deletion.
func (r *Response) Headers() Header {
	return r.header
}

// Send sets a text body.
func (r *Response) Send(body string) {
	r.body = []byte(body)
}

// SendBytes sets a raw body.
func (r *Response) SendBytes(body []byte) {
	r.body = body
}

// Body returns the current body.
func (r *Response) Body() []byte {
	return r.body
}

// Encode sets the body to v encoded by enc together with its content type.
// When encoding fails the response becomes a 500 with a fixed JSON error
// body, and the encoder error is returned for the caller to log.
func (r *Response) Encode(enc encoding.Encoder, v any) error {
	data, contentType, err := enc.Encode(v)
	if err != nil {
		r.status = StatusInternalServerError
		r.header.Set(HeaderContentType, encoding.ContentTypeJSON)
		r.body = []byte(encodeFailureBody)
		return err
	}

	r.header.Set(HeaderContentType, contentType)
	r.body = data
	return nil
}

// JSON is Encode with the JSON encoder.
func (r *Response) JSON(v any) error {
	return r.Encode(encoding.JSON{}, v)
}

// Reset discards status, headers and body so that a new response can be
// formulated, for instance after a handler panicked halfway through.
func (r *Response) Reset() {
	r.status = StatusOK
	clear(r.header)
	r.body = nil
}

// Written reports whether WriteTo has been called.
func (r *Response) Written() bool {
	return r.written
}

// Serialize renders the response in wire format. Headers are written in
// sorted order with Content-Length last, always derived from the body.
func (r *Response) Serialize() []byte {
	keys := lo.Filter(lo.Keys(r.header), func(k string, _ int) bool {
		return k != HeaderContentLength
	})
	slices.Sort(keys)

	buf := make([]byte, 0, 64+len(r.body)+32*len(keys))
	buf = append(buf, "HTTP/1.1 "...)
	buf = strconv.AppendInt(buf, int64(r.status), 10)
	buf = append(buf, ' ')
	buf = append(buf, StatusText(r.status)...)
	buf = append(buf, "\r\n"...)

	for _, k := range keys {
		buf = append(buf, k...)
		buf = append(buf, ": "...)
		buf = append(buf, r.header[k]...)
		buf = append(buf, "\r\n"...)
	}

	buf = append(buf, HeaderContentLength+": "...)
	buf = strconv.AppendInt(buf, int64(len(r.body)), 10)
	buf = append(buf, "\r\n\r\n"...)
	buf = append(buf, r.body...)

	return buf
}

// WriteTo flushes the serialized response to w. It can be called once.
func (r *Response) WriteTo(w io.Writer) (int64, error) {
	if r.written {
		return 0, ErrResponseWritten
	}
	r.written = true

	n, err := w.Write(r.Serialize())
	if err != nil {
		return int64(n), errors.Wrap(err, "write response")
	}
	return int64(n), nil
}
