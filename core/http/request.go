package http

import (
	"context"
	"maps"
	"net/textproto"
)

// Header maps canonical header keys to a single value.
type Header map[string]string

// Get returns the value for key, matched case-insensitively.
func (h Header) Get(key string) string {
	return h[textproto.CanonicalMIMEHeaderKey(key)]
}

// Set replaces the value for key.
func (h Header) Set(key, value string) {
	h[textproto.CanonicalMIMEHeaderKey(key)] = value
}

// Has reports whether key is present.
func (h Header) Has(key string) bool {
	_, ok := h[textproto.CanonicalMIMEHeaderKey(key)]
	return ok
}

// Del removes key.
func (h Header) Del(key string) {
	delete(h, textproto.CanonicalMIMEHeaderKey(key))
}

// add stores value only when key has not been seen yet
func (h Header) add(key, value string) {
	key = textproto.CanonicalMIMEHeaderKey(key)
	if _, ok := h[key]; ok {
		return
	}
	h[key] = value
}

// Request is a parsed HTTP request. It is not modified after parsing;
// middleware that wants to change it hands a copy to next.
type Request struct {
	Method string
	Path   string
	Proto  string

	// Headers holds the first value seen for every header line.
	Headers Header

	// Query parameters split off the request target.
	Query map[string]string

	// Pattern is the route pattern the request was matched against.
	// Empty until the router has matched the request.
	Pattern string

	Body []byte

	ctx context.Context
}

// Context returns the request context, never nil.
func (r *Request) Context() context.Context {
	if r.ctx != nil {
		return r.ctx
	}
	return context.Background()
}

// WithContext returns a shallow copy of r carrying ctx.
func (r *Request) WithContext(ctx context.Context) *Request {
	if ctx == nil {
		panic("nil context")
	}
	r2 := r.Clone()
	r2.ctx = ctx
	return r2
}

// Clone returns a copy of r whose header and query maps can be modified
// without affecting r.
func (r *Request) Clone() *Request {
	r2 := *r
	r2.Headers = maps.Clone(r.Headers)
	if r2.Headers == nil {
		r2.Headers = make(Header)
	}
	r2.Query = maps.Clone(r.Query)
	return &r2
}

// Header returns a request header value.
func (r *Request) Header(key string) string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get(key)
}

// QueryValue returns a query parameter value.
func (r *Request) QueryValue(key string) string {
	if r.Query == nil {
		return ""
	}
	return r.Query[key]
}
