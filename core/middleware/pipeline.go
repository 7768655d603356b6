package middleware

import (
	"maps"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/searchktools/mini-server/core/http"
)

// Next resumes the rest of the chain. It runs at most once; later calls
// are ignored.
type Next func(req *http.Request, res *http.Response, params http.Params)

// Middleware is one stage of the pipeline. It either calls next exactly once
// to proceed, or returns without calling it after finalizing res itself.
type Middleware func(req *http.Request, res *http.Response, params http.Params, next Next)

// Pipeline is an ordered list of middleware. It is built during
// configuration and only read while serving.
type Pipeline struct {
	middlewares []Middleware
}

// NewPipeline creates a new middleware pipeline
func NewPipeline() *Pipeline {
	return &Pipeline{
		middlewares: make([]Middleware, 0, 8),
	}
}

// Use adds middleware to the pipeline; the first added runs first.
func (p *Pipeline) Use(mw ...Middleware) *Pipeline {
	p.middlewares = append(p.middlewares, mw...)
	return p
}

// Len returns the number of middleware in the pipeline.
func (p *Pipeline) Len() int {
	return len(p.middlewares)
}

// Compile folds the middleware around terminal from right to left. The
// returned handler runs the middleware in the order they were added and
// reaches terminal only if every stage calls its next.
func (p *Pipeline) Compile(terminal http.Handler) http.Handler {
	h := terminal
	for i := len(p.middlewares) - 1; i >= 0; i-- {
		mw, inner := p.middlewares[i], h
		h = http.HandlerFunc(func(req *http.Request, res *http.Response, params http.Params) {
			mw(req, res, params, once(inner))
		})
	}
	return h
}

// Execute runs the pipeline for one request.
func (p *Pipeline) Execute(req *http.Request, res *http.Response, params http.Params, terminal http.Handler) {
	// Fast path: no middlewares
	if len(p.middlewares) == 0 {
		terminal.Serve(req, res, params)
		return
	}
	p.Compile(terminal).Serve(req, res, params)
}

// once wraps h in a continuation that can only fire once
func once(h http.Handler) Next {
	called := false
	return func(req *http.Request, res *http.Response, params http.Params) {
		if called {
			return
		}
		called = true
		h.Serve(req, res, params)
	}
}

// Common middleware implementations

// Recovery turns a panic further down the chain into a 500 response. The
// partially built response is discarded, except for the headers already set
// when the request reached Recovery.
func Recovery(logger *zap.Logger) Middleware {
	return func(req *http.Request, res *http.Response, params http.Params, next Next) {
		kept := maps.Clone(res.Headers())

		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered",
					zap.Any("panic", err),
					zap.String("method", req.Method),
					zap.String("path", req.Path))

				res.Reset()
				for k, v := range kept {
					res.Header(k, v)
				}
				res.Status(http.StatusInternalServerError).
					Header(http.HeaderContentType, "text/plain").
					Send(http.StatusText(http.StatusInternalServerError))
			}
		}()

		next(req, res, params)
	}
}

// Logger logs every request once the rest of the chain has run, including
// requests whose handler panicked.
func Logger(logger *zap.Logger) Middleware {
	return func(req *http.Request, res *http.Response, params http.Params, next Next) {
		start := time.Now()
		completed := false

		defer func() {
			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.String("path", req.Path),
				zap.Int("status", res.StatusCode()),
				zap.Int("bytes", len(res.Body())),
				zap.Duration("duration", time.Since(start)),
			}
			if !completed {
				logger.Error("request panicked", fields...)
				return
			}
			logger.Info("request", fields...)
		}()

		next(req, res, params)
		completed = true
	}
}

// CORS adds CORS headers and answers preflight requests itself.
func CORS() Middleware {
	return func(req *http.Request, res *http.Response, params http.Params, next Next) {
		res.Header("Access-Control-Allow-Origin", "*")
		res.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		res.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if req.Method == "OPTIONS" {
			res.Status(204)
			return
		}
		next(req, res, params)
	}
}

// RateLimiter allows requestsPerSecond requests per one second window
// across all connections and rejects the rest with 429.
func RateLimiter(requestsPerSecond int) Middleware {
	var (
		tokens     = requestsPerSecond
		lastRefill = time.Now()
		mu         sync.Mutex
	)

	return func(req *http.Request, res *http.Response, params http.Params, next Next) {
		mu.Lock()

		now := time.Now()
		if now.Sub(lastRefill) > time.Second {
			tokens = requestsPerSecond
			lastRefill = now
		}

		if tokens > 0 {
			tokens--
			mu.Unlock()
			next(req, res, params)
			return
		}

		mu.Unlock()

		res.Status(429).Header("Retry-After", strconv.Itoa(1))
		_ = res.JSON(map[string]any{
			"error": "Too Many Requests",
		})
	}
}

// HeaderRequestID carries the request id.
const HeaderRequestID = "X-Request-ID"

// RequestID tags the response with the inbound X-Request-ID, or a fresh
// UUID when the client did not send one.
func RequestID() Middleware {
	return func(req *http.Request, res *http.Response, params http.Params, next Next) {
		id := req.Header(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
			req = req.Clone()
			req.Headers.Set(HeaderRequestID, id)
		}

		res.Header(HeaderRequestID, id)
		next(req, res, params)
	}
}
