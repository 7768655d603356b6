package router

import (
	"slices"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/searchktools/mini-server/core/http"
)

// paramMarker introduces a parameter segment in a route pattern
const paramMarker = ':'

// Route is one registered route. It does not change after registration.
type Route struct {
	Method  string
	Pattern string
	Handler http.Handler

	segments   []segment
	paramCount int
}

type segment struct {
	value   string // literal text, or the parameter name
	isParam bool
}

// Router is an ordered route table. Lookups scan routes in registration
// order and the first route that accepts a request wins, so literal routes
// must be added before parameterized routes that overlap them.
type Router struct {
	routes []*Route
}

// New creates an empty router
func New() *Router {
	return &Router{
		routes: make([]*Route, 0, 16),
	}
}

// Add appends a route. Duplicate patterns are allowed; the earlier one
// always wins.
func (r *Router) Add(method, pattern string, handler http.Handler) {
	if method == "" {
		panic("router: empty method")
	}
	if pattern == "" {
		panic("router: empty pattern")
	}
	if handler == nil {
		panic("router: nil handler")
	}

	route := &Route{
		Method:  method,
		Pattern: pattern,
		Handler: handler,
	}
	for _, s := range strings.Split(pattern, "/") {
		if len(s) > 0 && s[0] == paramMarker {
			route.segments = append(route.segments, segment{value: s[1:], isParam: true})
			route.paramCount++
			continue
		}
		route.segments = append(route.segments, segment{value: s})
	}

	r.routes = append(r.routes, route)
}

// Match returns the first route accepting method and path together with
// the bound parameters. Params is nil for routes without parameters.
func (r *Router) Match(method, path string) (*Route, http.Params, error) {
	parts := strings.Split(path, "/")

	for _, route := range r.routes {
		if route.Method != method {
			continue
		}
		if params, ok := route.match(parts); ok {
			return route, params, nil
		}
	}

	return nil, nil, errors.Wrapf(http.ErrNoMatch, "%s %s", method, path)
}

// Find returns the handler of the first matching route.
func (r *Router) Find(method, path string) (http.Handler, http.Params, error) {
	route, params, err := r.Match(method, path)
	if err != nil {
		return nil, nil, err
	}
	return route.Handler, params, nil
}

// Routes returns the registered routes in registration order.
func (r *Router) Routes() []*Route {
	return slices.Clone(r.routes)
}

// Len returns the number of registered routes.
func (r *Router) Len() int {
	return len(r.routes)
}

func (rt *Route) match(parts []string) (http.Params, bool) {
	if len(parts) != len(rt.segments) {
		return nil, false
	}

	var params http.Params
	if rt.paramCount > 0 {
		params = make(http.Params, rt.paramCount)
	}

	for i, seg := range rt.segments {
		if seg.isParam {
			params[seg.value] = parts[i]
			continue
		}
		if seg.value != parts[i] {
			return nil, false
		}
	}

	return params, true
}
