package http

import (
	"context"
	"net"
	gohttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rhuss/toolgate/pkg/chat"
	"github.com/rhuss/toolgate/pkg/dialog"
	"github.com/rhuss/toolgate/pkg/invoke"
	"github.com/rhuss/toolgate/pkg/tools/naming"
	"github.com/rhuss/toolgate/pkg/tools/registry"
	"github.com/rhuss/toolgate/pkg/transport"
)

func newTestServer(t *testing.T, opts ...ServerOption) *Server {
	t.Helper()
	reg := registry.New(nil)
	t.Cleanup(reg.Close)
	adapter := NewAdapter(Deps{
		Registry: reg,
		Resolver: naming.NewResolver(reg),
		Invoker:  invoke.New(invoke.Deps{Tools: reg, Policy: askPolicy{}}),
		Chat:     chat.NewService(),
		Dialogs:  dialog.NewBroker(),
	}, Config{})
	return NewServer(adapter, opts...)
}

func TestServerStartsAndShutsDown(t *testing.T) {
	srv := newTestServer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	addr := ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ServeOn(ctx, ln) }()

	resp, err := gohttp.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != gohttp.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if resp.Header.Get(transport.RequestIDHeader) == "" {
		t.Error("missing request id header")
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("ServeOn returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}

	if _, err := gohttp.Get("http://" + addr + "/healthz"); err == nil {
		t.Error("server still accepts connections after shutdown")
	}
}

func TestServerMiddlewareAndExtraRoutes(t *testing.T) {
	var seen []string
	mw := func(next gohttp.Handler) gohttp.Handler {
		return gohttp.HandlerFunc(func(w gohttp.ResponseWriter, r *gohttp.Request) {
			seen = append(seen, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}
	metrics := gohttp.HandlerFunc(func(w gohttp.ResponseWriter, r *gohttp.Request) {
		w.Write([]byte("metrics"))
	})
	srv := newTestServer(t, WithMiddleware(mw), WithHandler("GET /metrics", metrics))

	for _, path := range []string{"/v1/tools", "/metrics"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != gohttp.StatusOK {
			t.Errorf("%s status = %d", path, rec.Code)
		}
	}
	if len(seen) != 1 || seen[0] != "/v1/tools" {
		t.Errorf("middleware saw %v, want only /v1/tools", seen)
	}
}

func TestServerRecoversPanics(t *testing.T) {
	boom := func(gohttp.Handler) gohttp.Handler {
		return gohttp.HandlerFunc(func(gohttp.ResponseWriter, *gohttp.Request) { panic("boom") })
	}
	srv := newTestServer(t, WithMiddleware(boom))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/v1/tools", nil))
	if rec.Code != gohttp.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestServerConfigOptions(t *testing.T) {
	srv := newTestServer(t,
		WithAddr("127.0.0.1:9999"),
		WithTimeouts(time.Second, 2*time.Second),
		WithShutdownTimeout(3*time.Second),
	)
	if srv.httpServer.Addr != "127.0.0.1:9999" {
		t.Errorf("addr = %q", srv.httpServer.Addr)
	}
	if srv.httpServer.ReadTimeout != time.Second || srv.httpServer.WriteTimeout != 2*time.Second {
		t.Errorf("timeouts = %v/%v", srv.httpServer.ReadTimeout, srv.httpServer.WriteTimeout)
	}
	if srv.config.ShutdownTimeout != 3*time.Second {
		t.Errorf("shutdown timeout = %v", srv.config.ShutdownTimeout)
	}
}
