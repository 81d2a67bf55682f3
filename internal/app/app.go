package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/florianilch/agprobe/internal/credentials"
	"github.com/florianilch/agprobe/internal/locator"
	"github.com/florianilch/agprobe/internal/observability/metrics"
	"github.com/florianilch/agprobe/internal/platform"
	"github.com/florianilch/agprobe/internal/server"
	"github.com/florianilch/agprobe/internal/tokensource"
	"github.com/florianilch/agprobe/internal/tokenstore"
)

// ErrNotAvailable is returned when the language server or its credentials
// could not be found.
var ErrNotAvailable = errors.New("not available")

// ErrExportDisabled is returned by Export when no export storage is configured.
var ErrExportDisabled = errors.New("token export disabled (export.storage is none)")

// Scanner locates the language server.
type Scanner interface {
	Scan(ctx context.Context, maxAttempts int) (*locator.ScanResult, bool)
}

// Extractor reads credentials from the local state database.
type Extractor interface {
	Credentials(ctx context.Context) (*oauth2.Token, bool)
}

// Report combines the results of a concurrent scan and extraction.
type Report struct {
	Environment *locator.ScanResult `json:"environment"`
	Credentials *oauth2.Token       `json:"credentials"`
}

// App orchestrates discovery, extraction, export and the HTTP server.
type App struct {
	cfg       *Config
	scanner   Scanner
	extractor Extractor
	tokens    oauth2.TokenSource
	store     tokenstore.TokenStore
	metrics   *metrics.Metrics
}

// New creates a new App instance from configuration.
func New(cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	probe, err := platform.New(platform.Options{
		ProcessTimeout: cfg.Scan.ProcessTimeout,
		PortTimeout:    cfg.Scan.PortTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create platform probe: %w", err)
	}

	verifier := locator.NewHTTPVerifier(
		locator.WithProbeTimeout(cfg.Scan.ProbeTimeout),
		locator.WithProbeHost(cfg.Scan.Host),
	)
	scanner, err := locator.New(probe, verifier, locator.WithBackoff(cfg.Scan.PauseBetweenRounds()))
	if err != nil {
		return nil, fmt.Errorf("failed to create locator: %w", err)
	}

	extractor, err := credentials.NewExtractor(cfg.Credentials.Database,
		credentials.WithTempDir(cfg.Credentials.TempDir),
		credentials.WithLifetime(cfg.Credentials.Lifetime),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create extractor: %w", err)
	}

	store, err := cfg.Export.NewTokenStore()
	if err != nil {
		return nil, fmt.Errorf("failed to create token store: %w", err)
	}

	return newApp(cfg, scanner, extractor, store)
}

// newApp assembles an App from already constructed parts.
// Scanner and extractor are instrumented before anything else uses them.
func newApp(cfg *Config, scanner Scanner, extractor Extractor, store tokenstore.TokenStore) (*App, error) {
	m := metrics.New(metrics.DefaultNamespace)
	scanner = m.Scanner(scanner)
	extractor = m.Extractor(extractor)

	var tokens oauth2.TokenSource = tokensource.NewTokenSource(extractor,
		tokensource.WithTimeout(cfg.Credentials.Timeout),
	)
	if store != nil {
		persistent, err := NewPersistentTokenSource(tokens, store)
		if err != nil {
			return nil, err
		}
		tokens = persistent
	}

	return &App{
		cfg:       cfg,
		scanner:   scanner,
		extractor: extractor,
		tokens:    tokens,
		store:     store,
		metrics:   m,
	}, nil
}

// Scan locates the language server. attempts <= 0 uses the configured default.
func (a *App) Scan(ctx context.Context, attempts int) (*locator.ScanResult, error) {
	if attempts <= 0 {
		attempts = a.cfg.Scan.MaxAttempts
	}
	res, ok := a.scanner.Scan(ctx, attempts)
	if !ok {
		return nil, fmt.Errorf("language server %w", ErrNotAvailable)
	}
	return res, nil
}

// Credentials extracts the current access token without exporting it.
func (a *App) Credentials(ctx context.Context) (*oauth2.Token, error) {
	tok, ok := a.extractor.Credentials(ctx)
	if !ok {
		return nil, fmt.Errorf("credentials %w", ErrNotAvailable)
	}
	return tok, nil
}

// Export extracts the current access token and writes it to the export store.
func (a *App) Export(ctx context.Context) (*oauth2.Token, error) {
	if a.store == nil {
		return nil, ErrExportDisabled
	}
	tok, err := a.Credentials(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.store.Write(ctx, tok); err != nil {
		return nil, fmt.Errorf("failed to export token: %w", err)
	}
	return tok, nil
}

// StoredToken reads the last exported token.
func (a *App) StoredToken(ctx context.Context) (*oauth2.Token, error) {
	if a.store == nil {
		return nil, ErrExportDisabled
	}
	return a.store.Read(ctx)
}

// Discover scans for the language server and extracts credentials concurrently.
// Either half may be missing from the report; it fails only when both are.
func (a *App) Discover(ctx context.Context) (*Report, error) {
	var report Report

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, ok := a.scanner.Scan(gCtx, a.cfg.Scan.MaxAttempts)
		if ok {
			report.Environment = res
		}
		return nil
	})
	g.Go(func() error {
		tok, ok := a.extractor.Credentials(gCtx)
		if ok {
			report.Credentials = tok
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if report.Environment == nil && report.Credentials == nil {
		return nil, ErrNotAvailable
	}
	return &report, nil
}

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	srv, err := server.New(a.scanner, a.tokens,
		server.WithAttempts(a.cfg.Scan.MaxAttempts, a.cfg.Server.MaxScanAttempts),
		server.WithScanRateLimit(rate.Limit(a.cfg.Server.ScanRate), a.cfg.Server.ScanBurst, a.metrics.Throttled),
		server.WithMetrics(a.metrics.Handler()),
	)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	g, gCtx := errgroup.WithContext(ctx)

	address := a.cfg.Server.Host + ":" + strconv.FormatUint(uint64(a.cfg.Server.Port), 10)
	var shutdownFuncs []func(context.Context) error

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting server", "address", address)
	srvErrCh, err := srv.Start(gCtx, address)
	if err != nil {
		return fmt.Errorf("server startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, srv.Shutdown)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-srvErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "server runtime error", "error", err)
				return fmt.Errorf("server: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	slog.InfoContext(gCtx, "application ready", "address", srv.Addr())

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}
