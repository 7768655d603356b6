package core

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/searchktools/mini-server/core/coretest"
	"github.com/searchktools/mini-server/core/http"
	"github.com/searchktools/mini-server/core/middleware"
)

var _ Logger = (*coretest.Logger)(nil)

// startEngine serves e on a loopback port until the test ends.
func startEngine(t *testing.T, e *Engine) string {
	t.Helper()

	ln, err := e.Listen("127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- e.Serve(ln) }()

	t.Cleanup(func() {
		require.NoError(t, e.Shutdown())
		select {
		case err := <-done:
			assert.ErrorIs(t, err, net.ErrClosed)
		case <-time.After(time.Second):
			t.Error("Serve did not return after Shutdown")
		}
	})

	require.Eventually(t, func() bool { return e.Addr() != nil }, time.Second, time.Millisecond)
	return ln.Addr().String()
}

// exchange writes raw to addr and returns everything the server sends back.
func exchange(t *testing.T, addr, raw string) string {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = io.WriteString(conn, raw)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	out, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(out)
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *coretest.Logger) {
	logger := coretest.NewLogger(t)
	return NewEngine(append([]Option{WithLogger(logger)}, opts...)...), logger
}

func TestEngine_NotFound(t *testing.T) {
	e, logger := newTestEngine(t)
	e.GET("/", func(req *http.Request, res *http.Response, params http.Params) {
		res.Send("home")
	})
	addr := startEngine(t, e)

	out := exchange(t, addr, "GET /missing HTTP/1.1\r\nHost: localhost\r\n\r\n")
	assert.Equal(t, "HTTP/1.1 404 Not Found\r\nConnection: close\r\nContent-Length: 9\r\n\r\nNot Found", out)

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&logger.NumLogRejected) == 1
	}, time.Second, time.Millisecond)
}

func TestEngine_BadRequest(t *testing.T) {
	e, _ := newTestEngine(t)
	e.GET("/", func(req *http.Request, res *http.Response, params http.Params) {})
	addr := startEngine(t, e)

	for _, raw := range []string{"garbage\r\n\r\n", "GET\r\n\r\n", "\r\n\r\n"} {
		t.Run(strconv.Quote(raw), func(t *testing.T) {
			out := exchange(t, addr, raw)
			assert.Equal(t, "HTTP/1.1 400 Bad Request\r\nConnection: close\r\nContent-Length: 11\r\n\r\nBad Request", out)
		})
	}
}

func TestEngine_MiddlewareShortCircuit(t *testing.T) {
	e, _ := newTestEngine(t)

	var handlerCalls atomic.Int32
	e.Use(func(req *http.Request, res *http.Response, params http.Params, next middleware.Next) {
		if req.Path == "/private" {
			res.Status(http.StatusUnauthorized).Send("Unauthorized access")
			return
		}
		next(req, res, params)
	})
	e.GET("/private", func(req *http.Request, res *http.Response, params http.Params) {
		handlerCalls.Add(1)
		res.Send("secret")
	})
	addr := startEngine(t, e)

	out := exchange(t, addr, "GET /private HTTP/1.1\r\n\r\n")
	assert.Equal(t, "HTTP/1.1 401 Unauthorized\r\nConnection: close\r\nContent-Length: 19\r\n\r\nUnauthorized access", out)
	assert.Zero(t, handlerCalls.Load())
}

func TestEngine_MiddlewareOrder(t *testing.T) {
	e, _ := newTestEngine(t)

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, s)
	}

	for _, name := range []string{"m1", "m2"} {
		e.Use(func(req *http.Request, res *http.Response, params http.Params, next middleware.Next) {
			record(name + ":before")
			next(req, res, params)
			record(name + ":after")
		})
	}
	e.GET("/", func(req *http.Request, res *http.Response, params http.Params) {
		record("handler")
		res.Send("ok")
	})
	addr := startEngine(t, e)

	var body string
	require.NoError(t, requests.URL("http://"+addr+"/").ToString(&body).Fetch(context.Background()))
	assert.Equal(t, "ok", body)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"m1:before", "m2:before", "handler", "m2:after", "m1:after"}, order)
}

func TestEngine_Params(t *testing.T) {
	e, _ := newTestEngine(t)
	e.GET("/user/:id", func(req *http.Request, res *http.Response, params http.Params) {
		res.Send("User " + params.Get("id"))
	})
	e.GET("/user/:id/posts/:post", func(req *http.Request, res *http.Response, params http.Params) {
		res.Send(params.Get("id") + "/" + params.Get("post"))
	})
	addr := startEngine(t, e)

	var s string
	require.NoError(t, requests.URL("http://"+addr+"/user/42").ToString(&s).Fetch(context.Background()))
	assert.Equal(t, "User 42", s)

	require.NoError(t, requests.URL("http://"+addr+"/user/7/posts/99").ToString(&s).Fetch(context.Background()))
	assert.Equal(t, "7/99", s)

	err := requests.URL("http://" + addr + "/user/42/extra").
		CheckStatus(http.StatusNotFound).
		ToString(&s).
		Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Not Found", s)
}

func TestEngine_JSON(t *testing.T) {
	e, _ := newTestEngine(t)
	e.GET("/json", func(req *http.Request, res *http.Response, params http.Params) {
		_ = res.JSON(map[string]any{"message": "Hello, JSON!", "query": req.QueryValue("q")})
	})
	e.GET("/broken", func(req *http.Request, res *http.Response, params http.Params) {
		_ = res.JSON(make(chan int))
	})
	addr := startEngine(t, e)

	var body string
	err := requests.URL("http://"+addr+"/json?q=go").
		CheckContentType("application/json").
		ToString(&body).
		Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Hello, JSON!", gjson.Get(body, "message").String())
	assert.Equal(t, "go", gjson.Get(body, "query").String())

	out := exchange(t, addr, "GET /broken HTTP/1.1\r\n\r\n")
	assert.True(t, strings.HasPrefix(out, "HTTP/1.1 500 Internal Server Error\r\n"), out)
	assert.Contains(t, out, "Content-Type: application/json\r\n")
	assert.True(t, strings.HasSuffix(out, "\r\n\r\n"+`{"error": "Failed to serialize JSON"}`), out)
}

func TestEngine_ReadBufferTruncates(t *testing.T) {
	e, _ := newTestEngine(t, WithReadBufferSize(64))
	e.POST("/echo", func(req *http.Request, res *http.Response, params http.Params) {
		res.Send(strconv.Itoa(len(req.Body)))
	})

	head := "POST /echo HTTP/1.1\r\n\r\n"

	client, server := net.Pipe()
	defer client.Close()
	go e.ServeConn(server)

	// the tail is never read, so this write only ends when the server closes
	go func() { _, _ = io.WriteString(client, head+strings.Repeat("x", 100)) }()

	out, err := io.ReadAll(client)
	require.NoError(t, err)

	want := strconv.Itoa(64 - len(head))
	assert.True(t, strings.HasSuffix(string(out), "\r\n\r\n"+want), string(out))
}

func TestEngine_ReadTimeout(t *testing.T) {
	e, logger := newTestEngine(t, WithReadTimeout(20*time.Millisecond))
	e.GET("/", func(req *http.Request, res *http.Response, params http.Params) {})
	addr := startEngine(t, e)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	out, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Empty(t, out)

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&logger.NumLogConnError) == 1
	}, time.Second, time.Millisecond)
}

func TestEngine_SilentClose(t *testing.T) {
	e, logger := newTestEngine(t)
	e.GET("/", func(req *http.Request, res *http.Response, params http.Params) { res.Send("ok") })
	addr := startEngine(t, e)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	var s string
	require.NoError(t, requests.URL("http://"+addr+"/").ToString(&s).Fetch(context.Background()))
	assert.Equal(t, "ok", s)
	assert.Zero(t, atomic.LoadInt64(&logger.NumLogConnError))
	assert.Zero(t, atomic.LoadInt64(&logger.NumLogRejected))
}

func TestEngine_Concurrent(t *testing.T) {
	e, _ := newTestEngine(t)
	e.GET("/n/:n", func(req *http.Request, res *http.Response, params http.Params) {
		res.Send(params.Get("n"))
	})
	addr := startEngine(t, e)

	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			var s string
			err := requests.URL(fmt.Sprintf("http://%s/n/%d", addr, i)).ToString(&s).Fetch(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, strconv.Itoa(i), s)
		}()
	}
	wg.Wait()
}

func TestEngine_RegisterAfterServePanics(t *testing.T) {
	e, logger := newTestEngine(t)
	e.GET("/", func(req *http.Request, res *http.Response, params http.Params) {})
	startEngine(t, e)

	assert.Equal(t, int64(1), atomic.LoadInt64(&logger.NumLogServing))
	assert.PanicsWithValue(t, ErrFrozen, func() {
		e.GET("/late", func(req *http.Request, res *http.Response, params http.Params) {})
	})
	assert.PanicsWithValue(t, ErrFrozen, func() {
		e.Use(func(req *http.Request, res *http.Response, params http.Params, next middleware.Next) {})
	})
	assert.Len(t, e.Routes(), 1)
}

func TestEngine_MethodIsCaseSensitive(t *testing.T) {
	e, _ := newTestEngine(t)
	e.GET("/", func(req *http.Request, res *http.Response, params http.Params) { res.Send("ok") })
	e.Handle("purge", "/", http.HandlerFunc(func(req *http.Request, res *http.Response, params http.Params) {
		res.Send(req.Method)
	}))
	addr := startEngine(t, e)

	out := exchange(t, addr, "get / HTTP/1.1\r\n\r\n")
	assert.True(t, strings.HasPrefix(out, "HTTP/1.1 404 Not Found\r\n"), out)

	out = exchange(t, addr, "purge / HTTP/1.1\r\n\r\n")
	assert.True(t, strings.HasPrefix(out, "HTTP/1.1 200 OK\r\n"), out)
	assert.True(t, strings.HasSuffix(out, "\r\n\r\npurge"), out)

	out = exchange(t, addr, "PURGE / HTTP/1.1\r\n\r\n")
	assert.True(t, strings.HasPrefix(out, "HTTP/1.1 404 Not Found\r\n"), out)

	routes := e.Routes()
	require.Len(t, routes, 2)
	assert.Equal(t, "purge", routes[1].Method)
}

func TestEngine_ListenFailure(t *testing.T) {
	e := NewEngine()

	_, err := e.Listen("127.0.0.1:99999")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBind))

	err = e.Run("127.0.0.1:99999")
	assert.True(t, errors.Is(err, ErrBind))
}

func TestEngine_ShutdownBeforeServe(t *testing.T) {
	e := NewEngine()
	assert.NoError(t, e.Shutdown())
	assert.Nil(t, e.Addr())

	_, err := e.Listen("127.0.0.1:0")
	assert.ErrorIs(t, err, net.ErrClosed)
	assert.Nil(t, e.Addr())
}

func TestEngine_ShutdownBetweenListenAndServe(t *testing.T) {
	e, logger := newTestEngine(t)

	ln, err := e.Listen("127.0.0.1:0")
	require.NoError(t, err)
	require.NotNil(t, e.Addr())

	require.NoError(t, e.Shutdown())

	// The port is released, so nothing accepts on it any more.
	_, err = net.DialTimeout("tcp", ln.Addr().String(), time.Second)
	assert.Error(t, err)

	done := make(chan error, 1)
	go func() { done <- e.Serve(ln) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, net.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return for a shut down engine")
	}
	assert.Zero(t, atomic.LoadInt64(&logger.NumLogServing))
}

func TestEngine_ShutdownBeforeServeOwnListener(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.Shutdown())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	assert.ErrorIs(t, e.Serve(ln), net.ErrClosed)

	_, err = ln.Accept()
	assert.ErrorIs(t, err, net.ErrClosed)
}

func TestEngine_ServeConnPipe(t *testing.T) {
	e := NewEngine()
	e.GET("/ping", func(req *http.Request, res *http.Response, params http.Params) {
		res.Header("X-Pong", "1").Send("pong")
	})

	client, server := net.Pipe()
	go e.ServeConn(server)

	_, err := io.WriteString(client, "GET /ping HTTP/1.1\r\n\r\n")
	require.NoError(t, err)

	out, err := io.ReadAll(client)
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 OK\r\nConnection: close\r\nX-Pong: 1\r\nContent-Length: 4\r\n\r\npong", string(out))
}

func BenchmarkEngine_ServeConn(b *testing.B) {
	e := NewEngine()
	e.GET("/user/:id", func(req *http.Request, res *http.Response, params http.Params) {
		res.Send("User " + params.Get("id"))
	})

	raw := []byte("GET /user/42 HTTP/1.1\r\nHost: localhost\r\n\r\n")

	b.ReportAllocs()
	for b.Loop() {
		client, server := net.Pipe()
		go e.ServeConn(server)
		_, _ = client.Write(raw)
		_, _ = io.Copy(io.Discard, client)
		client.Close()
	}
}

func TestEngine_PoolStats(t *testing.T) {
	e := NewEngine()
	e.GET("/", func(req *http.Request, res *http.Response, params http.Params) { res.Send("ok") })

	for range 3 {
		client, server := net.Pipe()
		go e.ServeConn(server)
		_, err := io.WriteString(client, "GET / HTTP/1.1\r\n\r\n")
		require.NoError(t, err)
		_, err = io.ReadAll(client)
		require.NoError(t, err)
	}

	stats := e.PoolStats()
	assert.Equal(t, uint64(3), stats.Gets)
	assert.Zero(t, stats.Misses)
	assert.InDelta(t, 1.0, stats.HitRate, 0.0001)

	assert.Equal(t, int64(3), gjson.Get(e.PoolStatsJSON(), "gets").Int())
	assert.Contains(t, e.PoolStatsText(), "Hit Rate: 100.00%")
}
