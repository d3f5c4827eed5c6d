package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/rhuss/toolgate/pkg/transport"
)

// Server wraps an http.Server with the adapter and manages the full
// lifecycle including startup and graceful shutdown.
type Server struct {
	httpServer *http.Server
	config     ServerConfig
	logger     *slog.Logger
}

// ServerConfig holds configuration for the server.
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Middleware runs inside recovery, request ID and logging, in order.
	Middleware []transport.Middleware

	// Extra routes served next to the API, e.g. /metrics. They bypass
	// Middleware.
	Extra map[string]http.Handler
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    120 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithAddr sets the listen address.
func WithAddr(addr string) ServerOption {
	return func(s *Server) { s.config.Addr = addr }
}

// WithTimeouts sets the read and write timeouts. Event streams clear the
// write deadline.
func WithTimeouts(read, write time.Duration) ServerOption {
	return func(s *Server) {
		s.config.ReadTimeout = read
		s.config.WriteTimeout = write
	}
}

// WithShutdownTimeout sets the graceful shutdown deadline.
func WithShutdownTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.config.ShutdownTimeout = d }
}

// WithMiddleware appends middleware wrapping the API routes.
func WithMiddleware(mw ...transport.Middleware) ServerOption {
	return func(s *Server) { s.config.Middleware = append(s.config.Middleware, mw...) }
}

// WithHandler mounts an extra handler at pattern.
func WithHandler(pattern string, h http.Handler) ServerOption {
	return func(s *Server) {
		if s.config.Extra == nil {
			s.config.Extra = make(map[string]http.Handler)
		}
		s.config.Extra[pattern] = h
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a server for adapter. Recovery, request ID and
// logging middleware are applied automatically.
func NewServer(adapter *Adapter, opts ...ServerOption) *Server {
	s := &Server{
		config: DefaultServerConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	routes := transport.Chain(s.config.Middleware...)(adapter.Handler())
	root := http.NewServeMux()
	root.Handle("/", routes)
	for pattern, h := range s.config.Extra {
		root.Handle(pattern, h)
	}

	handler := transport.Chain(
		transport.Recovery(),
		transport.RequestID(),
		transport.Logging(s.logger),
	)(root)

	s.httpServer = &http.Server{
		Addr:              s.config.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
	}
	return s
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe listens on the configured address and serves until ctx
// is done. It then shuts down gracefully, waiting for in-flight requests
// within the shutdown timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.ServeOn(ctx, ln)
}

// ServeOn serves on ln until ctx is done.
func (s *Server) ServeOn(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", slog.String("addr", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	}
	return s.shutdown()
}

func (s *Server) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down gracefully", slog.Duration("timeout", s.config.ShutdownTimeout))
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("shutdown error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

// Shutdown gracefully shuts down the server with the given context.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
