package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/florianilch/agprobe/internal/locator"
	"github.com/florianilch/agprobe/internal/observability/middleware"
)

// Scanner locates the language server.
type Scanner interface {
	Scan(ctx context.Context, maxAttempts int) (*locator.ScanResult, bool)
}

// Option configures a Server.
type Option func(*config)

type config struct {
	defaultAttempts int
	maxAttempts     int

	metrics    http.Handler
	scanLimit  *rate.Limiter
	onThrottle func()
}

// WithMetrics mounts h at GET /metrics.
func WithMetrics(h http.Handler) Option {
	return func(c *config) {
		c.metrics = h
	}
}

// WithScanRateLimit limits scan requests to limit per second with the given burst.
// onThrottle, if set, is called for every rejected request.
func WithScanRateLimit(limit rate.Limit, burst int, onThrottle func()) Option {
	return func(c *config) {
		if limit <= 0 || burst <= 0 {
			return
		}
		c.scanLimit = rate.NewLimiter(limit, burst)
		c.onThrottle = onThrottle
	}
}

// WithAttempts sets the scan attempts used when a request names none,
// and the upper bound a request may ask for.
func WithAttempts(defaultAttempts, maxAttempts int) Option {
	return func(c *config) {
		if defaultAttempts > 0 {
			c.defaultAttempts = defaultAttempts
		}
		if maxAttempts >= c.defaultAttempts {
			c.maxAttempts = maxAttempts
		}
	}
}

// Server exposes scan results and extracted credentials over loopback HTTP.
type Server struct {
	mux    *http.ServeMux
	server *http.Server
	addr   string

	scanner Scanner
	tokens  oauth2.TokenSource
	cfg     config
}

// Compile-time check that Server implements http.Handler
var _ http.Handler = (*Server)(nil)

// New creates a Server backed by scanner and tokens.
func New(scanner Scanner, tokens oauth2.TokenSource, opts ...Option) (*Server, error) {
	if scanner == nil {
		return nil, fmt.Errorf("missing scanner")
	}
	if tokens == nil {
		return nil, fmt.Errorf("missing token source")
	}

	cfg := config{defaultAttempts: 3, maxAttempts: 20}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Server{
		mux:     http.NewServeMux(),
		scanner: scanner,
		tokens:  tokens,
		cfg:     cfg,
	}

	logger := slog.Default()
	s.mux.Handle("GET /v1/environment", applyMiddlewares(http.HandlerFunc(s.handleEnvironment),
		middleware.Logging(logger),
		Recovery,
		RateLimit(cfg.scanLimit, cfg.onThrottle),
	))
	s.mux.Handle("GET /v1/credentials", applyMiddlewares(http.HandlerFunc(s.handleCredentials),
		middleware.Logging(logger),
		Recovery,
	))
	if cfg.metrics != nil {
		s.mux.Handle("GET /metrics", cfg.metrics)
	}

	return s, nil
}

// ServeHTTP implements http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors are sent to the error channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (s *Server) Start(ctx context.Context, address string) (<-chan error, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	s.addr = listener.Addr().String()

	s.server = &http.Server{
		Handler:      s,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute, // scans with many attempts and probe timeouts take a while
		IdleTimeout:  90 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := s.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Addr returns the address the server listens on, once started.
func (s *Server) Addr() string {
	return s.addr
}

// Shutdown performs graceful shutdown of the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	if err := s.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = s.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}
