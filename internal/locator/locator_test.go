package locator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/florianilch/agprobe/internal/platform"
)

const targetName = "language_server_linux_x64"

// fakeProbe serves a scripted process table per round and counts calls.
type fakeProbe struct {
	mu          sync.Mutex
	rounds      [][]platform.Process // process table per ListProcesses call; last one repeats
	listErr     error
	ports       map[int][]int
	portErr     map[int]error
	listCalls   int
	portQueries []int
}

func (f *fakeProbe) ListProcesses(ctx context.Context) ([]platform.Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	if len(f.rounds) == 0 {
		return nil, nil
	}
	idx := min(f.listCalls-1, len(f.rounds)-1)
	return f.rounds[idx], nil
}

func (f *fakeProbe) ListeningPorts(ctx context.Context, pid int) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.portQueries = append(f.portQueries, pid)
	if err := f.portErr[pid]; err != nil {
		return nil, err
	}
	return f.ports[pid], nil
}

func (f *fakeProbe) TargetName() string { return targetName }

// fakeVerifier accepts a fixed set of (port, token) pairs and records probes.
type fakeVerifier struct {
	mu     sync.Mutex
	live   map[int]string
	probed []int
}

func (f *fakeVerifier) Verify(ctx context.Context, port int, csrfToken string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probed = append(f.probed, port)
	token, ok := f.live[port]
	return ok && token == csrfToken
}

func languageServer(pid int, token string, port string) platform.Process {
	return platform.Process{
		PID:         pid,
		Name:        targetName,
		CommandLine: "/opt/antigravity/bin/" + targetName + " --csrf_token " + token + " --extension_server_port " + port,
	}
}

func newTestLocator(t *testing.T, probe platform.Probe, verifier Verifier) *Locator {
	t.Helper()
	l, err := New(probe, verifier, WithBackoff(time.Millisecond))
	require.NoError(t, err)
	return l
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(nil, &fakeVerifier{})
	assert.Error(t, err)

	_, err = New(&fakeProbe{}, nil)
	assert.Error(t, err)
}

func TestScanNoMatchingProcessExhaustsAttempts(t *testing.T) {
	probe := &fakeProbe{rounds: [][]platform.Process{{
		{PID: 1, Name: "init", CommandLine: "/sbin/init"},
		{PID: 2, Name: "language_server_macos_arm", CommandLine: "x --csrf_token ab --extension_server_port 4000"},
	}}}
	verifier := &fakeVerifier{}

	res, ok := newTestLocator(t, probe, verifier).Scan(context.Background(), 3)

	assert.False(t, ok)
	assert.Nil(t, res)
	assert.Equal(t, 3, probe.listCalls)
	assert.Empty(t, probe.portQueries)
	assert.Empty(t, verifier.probed)
}

func TestScanListingFailuresAreRetried(t *testing.T) {
	probe := &fakeProbe{listErr: errors.New("ps: permission denied")}

	res, ok := newTestLocator(t, probe, &fakeVerifier{}).Scan(context.Background(), 4)

	assert.False(t, ok)
	assert.Nil(t, res)
	assert.Equal(t, 4, probe.listCalls)
}

func TestScanAttemptsBelowOneRunOnce(t *testing.T) {
	probe := &fakeProbe{}

	_, ok := newTestLocator(t, probe, &fakeVerifier{}).Scan(context.Background(), 0)

	assert.False(t, ok)
	assert.Equal(t, 1, probe.listCalls)
}

func TestScanFirstVerifiedPortWins(t *testing.T) {
	probe := &fakeProbe{
		rounds: [][]platform.Process{{languageServer(100, "abcd", "41111")}},
		ports:  map[int][]int{100: {45000, 43000, 44000, 43000, 80}},
	}
	verifier := &fakeVerifier{live: map[int]string{44000: "abcd", 45000: "abcd"}}

	res, ok := newTestLocator(t, probe, verifier).Scan(context.Background(), 3)

	require.True(t, ok)
	assert.Equal(t, &ScanResult{ExtensionPort: 41111, ConnectPort: 44000, CSRFToken: "abcd"}, res)
	assert.Equal(t, []int{43000, 44000}, verifier.probed)
	assert.Equal(t, 1, probe.listCalls)
}

func TestScanMovesToNextCandidate(t *testing.T) {
	probe := &fakeProbe{
		rounds: [][]platform.Process{{
			{PID: 99, Name: targetName, CommandLine: targetName + " --csrf_token abcd"},
			languageServer(100, "aaaa", "41111"),
			languageServer(200, "bbbb", "42222"),
			languageServer(300, "cccc", "43333"),
		}},
		ports:   map[int][]int{100: {50000}, 200: {50001}, 300: {50002}},
		portErr: map[int]error{100: errors.New("lsof: exit status 1")},
	}
	verifier := &fakeVerifier{live: map[int]string{50001: "bbbb", 50002: "cccc"}}

	res, ok := newTestLocator(t, probe, verifier).Scan(context.Background(), 1)

	require.True(t, ok)
	assert.Equal(t, &ScanResult{ExtensionPort: 42222, ConnectPort: 50001, CSRFToken: "bbbb"}, res)
	assert.Equal(t, []int{100, 200}, probe.portQueries)
}

func TestScanRejectsPortWithWrongToken(t *testing.T) {
	probe := &fakeProbe{
		rounds: [][]platform.Process{{languageServer(100, "aaaa", "41111")}},
		ports:  map[int][]int{100: {50000}},
	}
	verifier := &fakeVerifier{live: map[int]string{50000: "ffff"}}

	_, ok := newTestLocator(t, probe, verifier).Scan(context.Background(), 2)

	assert.False(t, ok)
	assert.Equal(t, 2, probe.listCalls)
	assert.Equal(t, []int{50000, 50000}, verifier.probed)
}

func TestScanSucceedsOnLaterAttempt(t *testing.T) {
	probe := &fakeProbe{
		rounds: [][]platform.Process{
			nil,
			{languageServer(100, "aaaa", "41111")},
		},
		ports: map[int][]int{100: {50000}},
	}
	verifier := &fakeVerifier{live: map[int]string{50000: "aaaa"}}

	res, ok := newTestLocator(t, probe, verifier).Scan(context.Background(), 5)

	require.True(t, ok)
	assert.Equal(t, 50000, res.ConnectPort)
	assert.Equal(t, 2, probe.listCalls)
}

func TestScanWaitsBetweenRounds(t *testing.T) {
	probe := &fakeProbe{}
	l, err := New(probe, &fakeVerifier{}, WithBackoff(20*time.Millisecond))
	require.NoError(t, err)

	start := time.Now()
	_, ok := l.Scan(context.Background(), 3)
	elapsed := time.Since(start)

	assert.False(t, ok)
	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond)
}

func TestScanStopsWhenContextCancelled(t *testing.T) {
	probe := &fakeProbe{}
	l, err := New(probe, &fakeVerifier{}, WithBackoff(time.Hour))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := l.Scan(ctx, 10)

	assert.False(t, ok)
	assert.Equal(t, 1, probe.listCalls)
}
