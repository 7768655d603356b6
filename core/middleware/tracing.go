package middleware

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/searchktools/mini-server/core/http"
)

const tracerName = "github.com/searchktools/mini-server/core/middleware"

// headerCarrier adapts request headers to the propagation API
type headerCarrier http.Header

func (c headerCarrier) Get(key string) string {
	return http.Header(c).Get(key)
}

func (c headerCarrier) Set(key, value string) {
	http.Header(c).Set(key, value)
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// Tracing starts a server span per request. The remote parent, if any, is
// extracted from the request headers with prop, and the span travels to the
// rest of the chain in the request context.
func Tracing(tp trace.TracerProvider, prop propagation.TextMapPropagator) Middleware {
	tracer := tp.Tracer(tracerName)

	return func(req *http.Request, res *http.Response, params http.Params, next Next) {
		ctx := req.Context()
		if req.Headers != nil {
			ctx = prop.Extract(ctx, headerCarrier(req.Headers))
		}

		name := req.Pattern
		if name == "" {
			name = req.Path
		}

		ctx, span := tracer.Start(ctx, req.Method+" "+name,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", req.Method),
				attribute.String("url.path", req.Path),
				attribute.String("http.route", req.Pattern),
			))
		completed := false

		defer func() {
			defer span.End()

			if !completed {
				span.SetStatus(codes.Error, "panic")
				return
			}

			status := res.StatusCode()
			span.SetAttributes(attribute.Int("http.response.status_code", status))
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}
		}()

		next(req.WithContext(ctx), res, params)
		completed = true
	}
}

var _ propagation.TextMapCarrier = headerCarrier{}
