// Package platform lists processes and their listening TCP ports using the
// mechanism native to each operating system.
//
// Every variant is compiled on every OS and parses structured records out of
// command output or procfs, so the parsers can be exercised anywhere. New
// selects the variant matching the running OS.
package platform

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"time"
)

// Default timeouts for OS queries.
const (
	DefaultProcessTimeout = 15 * time.Second
	DefaultPortTimeout    = 5 * time.Second
)

// ErrUnsupported is returned by New for operating systems without a probe variant.
var ErrUnsupported = errors.New("unsupported operating system")

// Process is one entry of the OS process table.
type Process struct {
	PID         int
	Name        string // executable image name, without directory
	CommandLine string
}

// Probe queries the OS for processes and listening sockets.
type Probe interface {
	// ListProcesses returns the current process table.
	ListProcesses(ctx context.Context) ([]Process, error)

	// ListeningPorts returns the TCP ports in LISTEN state owned by pid.
	// Order is unspecified and duplicates are possible.
	ListeningPorts(ctx context.Context, pid int) ([]int, error)

	// TargetName is the language server image name for this OS and architecture.
	TargetName() string
}

// Runner executes an external command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return nil, fmt.Errorf("running %s: %w", name, err)
	}
	return out, nil
}

// Options configures a Probe.
type Options struct {
	// Runner executes external commands. Defaults to ExecRunner.
	Runner Runner

	// ProcessTimeout bounds a single process listing.
	ProcessTimeout time.Duration

	// PortTimeout bounds a single listening-port query.
	PortTimeout time.Duration

	// ProcRoot is the procfs mount point used on Linux. Defaults to /proc.
	ProcRoot string

	// Arch selects the image name variant. Defaults to runtime.GOARCH.
	Arch string
}

func (o Options) withDefaults() Options {
	if o.Runner == nil {
		o.Runner = ExecRunner
	}
	if o.ProcessTimeout <= 0 {
		o.ProcessTimeout = DefaultProcessTimeout
	}
	if o.PortTimeout <= 0 {
		o.PortTimeout = DefaultPortTimeout
	}
	if o.ProcRoot == "" {
		o.ProcRoot = "/proc"
	}
	if o.Arch == "" {
		o.Arch = runtime.GOARCH
	}
	return o
}

// New returns the Probe for the running operating system.
func New(opts Options) (Probe, error) {
	return NewFor(runtime.GOOS, opts)
}

// NewFor returns the Probe for the named operating system.
func NewFor(goos string, opts Options) (Probe, error) {
	switch goos {
	case "windows":
		return NewWindows(opts), nil
	case "darwin":
		return NewDarwin(opts), nil
	case "linux":
		return NewLinux(opts), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, goos)
	}
}

// bounded runs fn under timeout and returns when fn finishes or the deadline
// passes, whichever comes first. A filesystem read stuck in the kernel keeps
// its goroutine after the caller has moved on.
func bounded[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		value, err := fn(ctx)
		done <- result{value: value, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func imageSuffix(arch string) string {
	if arch == "arm64" {
		return "arm"
	}
	return "x64"
}
