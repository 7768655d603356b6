package core

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/searchktools/mini-server/core/http"
	"github.com/searchktools/mini-server/core/middleware"
	"github.com/searchktools/mini-server/core/pools"
	"github.com/searchktools/mini-server/core/router"
)

// Accept backoff bounds
const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// Engine owns the route table and middleware pipeline and serves one
// request per accepted connection.
//
// Routes and middleware are registered before Serve is called. Serve
// freezes both, after which they are only read, concurrently and without
// locking, by the connection goroutines.
type Engine struct {
	router   *router.Router
	pipeline *middleware.Pipeline
	logger   Logger
	bytePool *pools.BytePool

	readBufferSize int
	readTimeout    time.Duration
	writeTimeout   time.Duration

	frozen atomic.Bool

	lnMu   sync.Mutex
	ln     net.Listener
	closed bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the sink for listener and connection events.
func WithLogger(l Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithReadBufferSize sets how many bytes are read for a request. Anything
// beyond it is not read.
func WithReadBufferSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.readBufferSize = n
		}
	}
}

// WithReadTimeout bounds the time a connection may take to send its
// request. Zero waits forever.
func WithReadTimeout(d time.Duration) Option {
	return func(e *Engine) { e.readTimeout = d }
}

// WithWriteTimeout bounds the time spent writing a response. Zero waits
// forever.
func WithWriteTimeout(d time.Duration) Option {
	return func(e *Engine) { e.writeTimeout = d }
}

// NewEngine creates a new engine instance
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		router:         router.New(),
		pipeline:       middleware.NewPipeline(),
		logger:         NopLogger{},
		bytePool:       pools.NewBytePool(),
		readBufferSize: DefaultReadBufferSize,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Use appends middleware to the pipeline every matched request runs through.
func (e *Engine) Use(mw ...middleware.Middleware) {
	e.mustNotBeFrozen()
	e.pipeline.Use(mw...)
}

// Handle registers a route. Patterns mark parameter segments with a
// leading ':', e.g. /user/:id. Routes are tried in registration order.
// The method is matched case-sensitively against the request line.
func (e *Engine) Handle(method, pattern string, handler http.Handler) {
	e.mustNotBeFrozen()
	e.router.Add(method, pattern, handler)
}

// GET registers a GET route
func (e *Engine) GET(pattern string, handler http.HandlerFunc) {
	e.Handle("GET", pattern, handler)
}

// POST registers a POST route
func (e *Engine) POST(pattern string, handler http.HandlerFunc) {
	e.Handle("POST", pattern, handler)
}

// PUT registers a PUT route
func (e *Engine) PUT(pattern string, handler http.HandlerFunc) {
	e.Handle("PUT", pattern, handler)
}

// DELETE registers a DELETE route
func (e *Engine) DELETE(pattern string, handler http.HandlerFunc) {
	e.Handle("DELETE", pattern, handler)
}

// PATCH registers a PATCH route
func (e *Engine) PATCH(pattern string, handler http.HandlerFunc) {
	e.Handle("PATCH", pattern, handler)
}

// HEAD registers a HEAD route
func (e *Engine) HEAD(pattern string, handler http.HandlerFunc) {
	e.Handle("HEAD", pattern, handler)
}

// OPTIONS registers an OPTIONS route
func (e *Engine) OPTIONS(pattern string, handler http.HandlerFunc) {
	e.Handle("OPTIONS", pattern, handler)
}

// Routes returns the registered routes in matching order.
func (e *Engine) Routes() []*router.Route {
	return e.router.Routes()
}

func (e *Engine) mustNotBeFrozen() {
	if e.frozen.Load() {
		panic(ErrFrozen)
	}
}

// Run binds addr and serves until the listener is closed. A bind failure
// is returned marked with ErrBind; callers treat it as fatal.
func (e *Engine) Run(addr string) error {
	ln, err := e.Listen(addr)
	if err != nil {
		return err
	}
	return e.Serve(ln)
}

// Listen binds a TCP listener on addr. From here on Shutdown closes it,
// whether or not Serve has been called.
func (e *Engine) Listen(addr string) (net.Listener, error) {
	lc := net.ListenConfig{Control: controlSocket}

	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "listen on %s", addr), ErrBind)
	}

	if !e.track(ln) {
		ln.Close()
		return nil, errors.Mark(errors.Wrapf(net.ErrClosed, "listen on %s", addr), ErrBind)
	}
	return ln, nil
}

// track makes ln the listener Shutdown closes. It reports false, leaving
// ln to the caller, once Shutdown has run.
func (e *Engine) track(ln net.Listener) bool {
	e.lnMu.Lock()
	defer e.lnMu.Unlock()

	if e.closed {
		return false
	}
	e.ln = ln
	return true
}

// Addr returns the address being served, or nil before Listen or Serve.
func (e *Engine) Addr() net.Addr {
	e.lnMu.Lock()
	defer e.lnMu.Unlock()

	if e.ln == nil {
		return nil
	}
	return e.ln.Addr()
}

// Serve freezes registration and accepts connections on ln until it is
// closed, handing each connection to its own goroutine. Accept failures
// are logged and retried with backoff; they never stop the loop. After
// Shutdown, Serve closes ln and returns net.ErrClosed.
func (e *Engine) Serve(ln net.Listener) error {
	e.frozen.Store(true)

	if !e.track(ln) {
		ln.Close()
		return net.ErrClosed
	}

	e.logger.LogServing(ln.Addr().String())

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return err
			}

			e.logger.LogAcceptError(errors.Mark(errors.Wrap(err, "accept"), ErrIO))

			if delay == 0 {
				delay = minAcceptDelay
			} else {
				delay = min(delay*2, maxAcceptDelay)
			}
			time.Sleep(delay)
			continue
		}

		delay = 0
		go e.ServeConn(conn)
	}
}

// Shutdown closes the listener, which ends Serve. Connections already
// accepted finish on their own. Listen and Serve called afterwards close
// their listener and fail with net.ErrClosed.
func (e *Engine) Shutdown() error {
	e.lnMu.Lock()
	defer e.lnMu.Unlock()

	e.closed = true
	if e.ln == nil {
		return nil
	}
	return e.ln.Close()
}

// ServeConn handles the single exchange on conn and closes it.
func (e *Engine) ServeConn(conn net.Conn) {
	defer conn.Close()

	req, err := e.readRequest(conn)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return // peer went away without sending anything
		}
		if errors.Is(err, ErrIO) {
			e.logger.LogConnError(err)
			return
		}

		e.logger.LogRejected(http.StatusBadRequest, err)
		e.writeResponse(conn, textResponse(http.StatusBadRequest))
		return
	}

	res := e.dispatch(req)
	e.writeResponse(conn, res)
}

// readRequest reads at most readBufferSize bytes with a single read and
// parses them
func (e *Engine) readRequest(conn net.Conn) (*http.Request, error) {
	if e.readTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(e.readTimeout)); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "set read deadline"), ErrIO)
		}
	}

	buf := e.bytePool.Get(e.readBufferSize)
	defer e.bytePool.Put(buf)

	n, err := conn.Read(buf)
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, errors.Mark(errors.Wrap(err, "read request"), ErrIO)
	}

	return http.ParseRequest(buf[:n])
}

// dispatch routes req and runs the pipeline around the matched handler
func (e *Engine) dispatch(req *http.Request) *http.Response {
	route, params, err := e.router.Match(req.Method, req.Path)
	if err != nil {
		e.logger.LogRejected(http.StatusNotFound, err)
		return textResponse(http.StatusNotFound)
	}

	req.Pattern = route.Pattern

	res := http.NewResponse()
	e.pipeline.Execute(req, res, params, route.Handler)
	return res
}

func (e *Engine) writeResponse(conn net.Conn, res *http.Response) {
	if e.writeTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(e.writeTimeout)); err != nil {
			e.logger.LogConnError(errors.Mark(errors.Wrap(err, "set write deadline"), ErrIO))
			return
		}
	}

	res.Header(http.HeaderConnection, "close")
	if _, err := res.WriteTo(conn); err != nil {
		e.logger.LogConnError(errors.Mark(err, ErrIO))
	}
}

// textResponse builds the plain responses the engine sends on its own
func textResponse(status int) *http.Response {
	res := http.NewResponse()
	res.Status(status).Send(http.StatusText(status))
	return res
}
