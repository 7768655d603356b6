package http

// Params holds the path parameters bound by a route match. It is nil for
// routes without parameter segments and otherwise holds every declared name.
type Params map[string]string

// Get returns the value bound to name.
func (p Params) Get(name string) string {
	return p[name]
}

// Handler produces the response for a matched request.
type Handler interface {
	Serve(req *Request, res *Response, params Params)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(req *Request, res *Response, params Params)

// Serve implements Handler.
func (f HandlerFunc) Serve(req *Request, res *Response, params Params) {
	f(req, res, params)
}
