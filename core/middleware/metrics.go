package middleware

import (
	"github.com/searchktools/mini-server/core/http"
	"github.com/searchktools/mini-server/core/observability"
)

// Metrics records request count, latency and 5xx responses per route
// pattern on m. A panic unwinding through it is recorded as an error.
func Metrics(m *observability.Monitor) Middleware {
	return func(req *http.Request, res *http.Response, params http.Params, next Next) {
		start := m.StartTrace()
		completed := false

		defer func() {
			route := req.Pattern
			if route == "" {
				route = req.Path
			}
			m.EndTrace(req.Method+" "+route, start, !completed || res.StatusCode() >= http.StatusInternalServerError)
		}()

		next(req, res, params)
		completed = true
	}
}
