package locator

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/florianilch/agprobe/internal/platform"
)

// Port range considered for verification.
const (
	minPort = 1024
	maxPort = 65535
)

// DefaultBackoff is the pause between unsuccessful scan rounds.
const DefaultBackoff = 100 * time.Millisecond

// ScanResult holds verified connection parameters of the language server.
type ScanResult struct {
	ExtensionPort int    `json:"extension_port"`
	ConnectPort   int    `json:"connect_port"`
	CSRFToken     string `json:"csrf_token"`
}

// Option configures a Locator.
type Option func(*Locator)

// WithBackoff sets the pause between unsuccessful rounds.
func WithBackoff(d time.Duration) Option {
	return func(l *Locator) {
		if d >= 0 {
			l.backoff = d
		}
	}
}

// Locator scans the local machine for the language server.
type Locator struct {
	probe    platform.Probe
	verifier Verifier
	backoff  time.Duration
}

// New creates a Locator.
func New(probe platform.Probe, verifier Verifier, opts ...Option) (*Locator, error) {
	if probe == nil {
		return nil, fmt.Errorf("missing platform probe")
	}
	if verifier == nil {
		return nil, fmt.Errorf("missing verifier")
	}

	l := &Locator{
		probe:    probe,
		verifier: verifier,
		backoff:  DefaultBackoff,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Scan runs up to maxAttempts rounds and returns the first verified result.
// Each round completes, trying every candidate and port, before the next one starts.
// ok is false when nothing verified or ctx was cancelled.
func (l *Locator) Scan(ctx context.Context, maxAttempts int) (*ScanResult, bool) {
	maxAttempts = max(maxAttempts, 1)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if res, ok := l.scanOnce(ctx); ok {
			slog.DebugContext(ctx, "language server located",
				"attempt", attempt,
				"extension_port", res.ExtensionPort,
				"connect_port", res.ConnectPort,
			)
			return res, true
		}

		if attempt == maxAttempts {
			break
		}
		if !sleep(ctx, l.backoff) {
			return nil, false
		}
	}

	slog.DebugContext(ctx, "language server not available", "attempts", maxAttempts)
	return nil, false
}

func (l *Locator) scanOnce(ctx context.Context) (*ScanResult, bool) {
	for _, c := range l.candidates(ctx) {
		if res, ok := l.verifyCandidate(ctx, c); ok {
			return res, true
		}
		if ctx.Err() != nil {
			return nil, false
		}
	}
	return nil, false
}

// candidates lists matching processes whose command line carries both launch flags.
func (l *Locator) candidates(ctx context.Context) []Candidate {
	processes, err := l.probe.ListProcesses(ctx)
	if err != nil {
		slog.DebugContext(ctx, "listing processes failed", "error", err)
		return nil
	}

	target := l.probe.TargetName()

	var found []Candidate
	for _, p := range processes {
		if p.Name != target {
			continue
		}
		c, ok := ParseCandidate(p.PID, p.CommandLine)
		if !ok {
			slog.DebugContext(ctx, "process lacks launch flags", "pid", p.PID)
			continue
		}
		found = append(found, c)
	}
	return found
}

func (l *Locator) verifyCandidate(ctx context.Context, c Candidate) (*ScanResult, bool) {
	ports, err := l.probe.ListeningPorts(ctx, c.PID)
	if err != nil {
		slog.DebugContext(ctx, "listing ports failed", "pid", c.PID, "error", err)
		return nil, false
	}

	for _, port := range normalizePorts(ports) {
		if !l.verifier.Verify(ctx, port, c.CSRFToken) {
			continue
		}
		return &ScanResult{
			ExtensionPort: c.ExtensionPort,
			ConnectPort:   port,
			CSRFToken:     c.CSRFToken,
		}, true
	}
	return nil, false
}

// normalizePorts de-duplicates ports and drops those outside [minPort, maxPort].
func normalizePorts(ports []int) []int {
	out := make([]int, 0, len(ports))
	for _, p := range ports {
		if p < minPort || p > maxPort {
			continue
		}
		out = append(out, p)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// sleep waits for d and reports false if ctx ends first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
