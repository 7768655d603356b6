/*
Package miniserver is a small embeddable HTTP/1.1 server core: one request
per connection, routes with :param segments matched in registration order,
and a middleware pipeline in which every stage either passes control on or
answers the request itself.

Quick Start

	package main

	import (
	    "github.com/searchktools/mini-server/app"
	    "github.com/searchktools/mini-server/core"
	    "github.com/searchktools/mini-server/core/http"
	)

	func main() {
	    app.New(func(e *core.Engine) {
	        e.GET("/user/:id", func(req *http.Request, res *http.Response, params http.Params) {
	            res.Send("User id: " + params.Get("id"))
	        })

	        e.GET("/json", func(req *http.Request, res *http.Response, params http.Params) {
	            _ = res.JSON(map[string]string{"message": "Hello, JSON!"})
	        })
	    }).Run()
	}

The engine can also be used without the app wiring:

	e := core.NewEngine()
	e.GET("/", hello)
	log.Fatal(e.Run("127.0.0.1:3000"))

Modules

  - app: fx wiring of config, logging, tracing and the engine
  - config: environment configuration (MINI_ prefix)
  - core: listener loop, connection handling and route registration
  - core/http: request parsing, response building and serialization
  - core/router: ordered route table with :param segments
  - core/middleware: middleware pipeline and stock middleware
  - core/encoding: structured body encoders (JSON, protobuf)
  - core/pools: read buffer pooling
  - core/observability: per-route request metrics

Connections

Each accepted connection is handled on its own goroutine. A single read of
at most the read buffer size (512 bytes by default) is parsed; anything the
client sends beyond that is ignored. The response always carries a
Content-Length matching its body and the connection is closed after it is
written.
*/
package miniserver
