// Package metrics records scan and extraction outcomes as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/oauth2"

	"github.com/florianilch/agprobe/internal/locator"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "agprobe"

// Outcome label values.
const (
	ResultFound    = "found"
	ResultNotFound = "not_found"
)

// Scanner locates the language server.
type Scanner interface {
	Scan(ctx context.Context, maxAttempts int) (*locator.ScanResult, bool)
}

// Extractor reads credentials from local storage.
type Extractor interface {
	Credentials(ctx context.Context) (*oauth2.Token, bool)
}

// Metrics holds the collectors of one agprobe instance in a private registry.
type Metrics struct {
	registry *prometheus.Registry

	scansTotal         *prometheus.CounterVec
	scanDuration       prometheus.Histogram
	extractionsTotal   *prometheus.CounterVec
	extractionDuration prometheus.Histogram
	throttledTotal     prometheus.Counter
}

// New creates and registers all collectors.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Total number of language server scans by result",
		},
		[]string{"result"},
	)

	// Scans span process listing, port discovery and probes, up to several rounds.
	m.scanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Duration of language server scans",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	m.extractionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_extractions_total",
			Help:      "Total number of credential extractions by result",
		},
		[]string{"result"},
	)

	m.extractionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "credential_extraction_duration_seconds",
			Help:      "Duration of credential extractions including the database copy",
			Buckets:   prometheus.DefBuckets,
		},
	)

	m.throttledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_requests_throttled_total",
			Help:      "Total number of scan requests rejected by the rate limiter",
		},
	)

	m.registry.MustRegister(
		m.scansTotal,
		m.scanDuration,
		m.extractionsTotal,
		m.extractionDuration,
		m.throttledTotal,
	)

	return m
}

// Registry returns the Prometheus registry holding all collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Throttled counts a scan request rejected by rate limiting.
func (m *Metrics) Throttled() {
	m.throttledTotal.Inc()
}

// Scanner wraps s so every scan is counted and timed.
func (m *Metrics) Scanner(s Scanner) Scanner {
	return &instrumentedScanner{next: s, m: m}
}

// Extractor wraps e so every extraction is counted and timed.
func (m *Metrics) Extractor(e Extractor) Extractor {
	return &instrumentedExtractor{next: e, m: m}
}

type instrumentedScanner struct {
	next Scanner
	m    *Metrics
}

func (s *instrumentedScanner) Scan(ctx context.Context, maxAttempts int) (*locator.ScanResult, bool) {
	start := time.Now()
	res, ok := s.next.Scan(ctx, maxAttempts)
	s.m.scanDuration.Observe(time.Since(start).Seconds())
	s.m.scansTotal.WithLabelValues(result(ok)).Inc()
	return res, ok
}

type instrumentedExtractor struct {
	next Extractor
	m    *Metrics
}

func (e *instrumentedExtractor) Credentials(ctx context.Context) (*oauth2.Token, bool) {
	start := time.Now()
	tok, ok := e.next.Credentials(ctx)
	e.m.extractionDuration.Observe(time.Since(start).Seconds())
	e.m.extractionsTotal.WithLabelValues(result(ok)).Inc()
	return tok, ok
}

func result(ok bool) string {
	if ok {
		return ResultFound
	}
	return ResultNotFound
}
