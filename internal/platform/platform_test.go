package platform

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner returns canned output keyed by command name and records invocations.
type fakeRunner struct {
	outputs map[string]string
	errs    map[string]error
	calls   []string
}

func (f *fakeRunner) run(_ context.Context, name string, args ...string) ([]byte, error) {
	key := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, key)
	if err := f.errs[key]; err != nil {
		return nil, err
	}
	return []byte(f.outputs[key]), nil
}

func TestNewFor(t *testing.T) {
	tests := []struct {
		goos string
		arch string
		want string
	}{
		{goos: "windows", arch: "amd64", want: "language_server_windows_x64.exe"},
		{goos: "darwin", arch: "arm64", want: "language_server_macos_arm"},
		{goos: "darwin", arch: "amd64", want: "language_server_macos_x64"},
		{goos: "linux", arch: "amd64", want: "language_server_linux_x64"},
		{goos: "linux", arch: "arm64", want: "language_server_linux_arm"},
	}

	for _, tt := range tests {
		t.Run(tt.goos+"/"+tt.arch, func(t *testing.T) {
			probe, err := NewFor(tt.goos, Options{Arch: tt.arch})
			require.NoError(t, err)
			assert.Equal(t, tt.want, probe.TargetName())
		})
	}

	_, err := NewFor("plan9", Options{})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestWindowsListProcesses(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		want    []Process
		wantErr bool
	}{
		{
			name:   "array of matches",
			output: `[{"ProcessId":4242,"Name":"language_server_windows_x64.exe","CommandLine":"x.exe --csrf_token abc"},{"ProcessId":4343,"Name":"language_server_windows_x64.exe","CommandLine":null}]`,
			want: []Process{
				{PID: 4242, Name: "language_server_windows_x64.exe", CommandLine: "x.exe --csrf_token abc"},
				{PID: 4343, Name: "language_server_windows_x64.exe"},
			},
		},
		{
			name:   "single object",
			output: "{\"ProcessId\":4242,\"Name\":\"language_server_windows_x64.exe\",\"CommandLine\":\"x.exe\"}\r\n",
			want:   []Process{{PID: 4242, Name: "language_server_windows_x64.exe", CommandLine: "x.exe"}},
		},
		{name: "no match", output: "\r\n", want: nil},
		{name: "garbage", output: "Get-CimInstance : Access denied", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{outputs: map[string]string{}}
			probe := NewWindows(Options{Runner: func(ctx context.Context, name string, args ...string) ([]byte, error) {
				runner.calls = append(runner.calls, name)
				return []byte(tt.output), nil
			}})

			got, err := probe.ListProcesses(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, []string{"powershell"}, runner.calls)
		})
	}
}

func TestWindowsListeningPorts(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		want    []int
		wantErr bool
	}{
		{
			name:   "both families",
			output: `[{"LocalPort":42100},{"LocalPort":42101},{"LocalPort":42102},{"LocalPort":42100}]`,
			want:   []int{42100, 42101, 42102},
		},
		{name: "single listener", output: "{\"LocalPort\":42100}\r\n", want: []int{42100}},
		{name: "none", output: "", want: nil},
		{name: "garbage", output: "Get-NetTCPConnection : Access denied", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var script string
			windows := NewWindows(Options{Runner: func(_ context.Context, name string, args ...string) ([]byte, error) {
				assert.Equal(t, "powershell", name)
				script = args[len(args)-1]
				return []byte(tt.output), nil
			}})

			ports, err := windows.ListeningPorts(context.Background(), 4242)
			assert.Contains(t, script, "-State Listen -OwningProcess 4242")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ports)
		})
	}
}

func TestDarwinListProcesses(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{
		"ps -axww -o pid=,comm=": `
    1 /sbin/launchd
  812 /Applications/Antigravity.app/Contents/Resources/app/extensions/antigravity/bin/language_server_macos_arm
  900 /Applications/Some App.app/Contents/MacOS/Some App
`,
		"ps -axww -o pid=,args=": `
    1 /sbin/launchd
  812 /Applications/Antigravity.app/Contents/Resources/app/extensions/antigravity/bin/language_server_macos_arm --csrf_token 1f2e --extension_server_port 52011
  900 /Applications/Some App.app/Contents/MacOS/Some App -psn
`,
	}}
	probe := NewDarwin(Options{Runner: runner.run, Arch: "arm64"})

	got, err := probe.ListProcesses(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, 1, got[0].PID)
	assert.Equal(t, Process{
		PID:         812,
		Name:        "language_server_macos_arm",
		CommandLine: "/Applications/Antigravity.app/Contents/Resources/app/extensions/antigravity/bin/language_server_macos_arm --csrf_token 1f2e --extension_server_port 52011",
	}, got[1])
	assert.Equal(t, "Some App", got[2].Name)
}

func TestDarwinListProcessesCommandFailure(t *testing.T) {
	runner := &fakeRunner{errs: map[string]error{"ps -axww -o pid=,comm=": errors.New("exit status 1")}}
	probe := NewDarwin(Options{Runner: runner.run})

	_, err := probe.ListProcesses(context.Background())
	assert.Error(t, err)
}

func TestDarwinListeningPorts(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{
		"lsof -nP -a -iTCP -sTCP:LISTEN -p 812 -Fn": "p812\nf11\nn127.0.0.1:52100\nf12\nn[::1]:52101\nf13\nn*:52102\n",
	}}
	probe := NewDarwin(Options{Runner: runner.run})

	ports, err := probe.ListeningPorts(context.Background(), 812)
	require.NoError(t, err)
	assert.Equal(t, []int{52100, 52101, 52102}, ports)
}

// procTree lays out a minimal procfs under a temp directory.
type procTree struct {
	t    *testing.T
	root string
}

func newProcTree(t *testing.T) *procTree {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "net"), 0o755))
	return &procTree{t: t, root: root}
}

func (p *procTree) process(pid string, argv []string, socketInodes ...string) {
	p.t.Helper()
	dir := filepath.Join(p.root, pid)
	require.NoError(p.t, os.MkdirAll(filepath.Join(dir, "fd"), 0o755))

	cmdline := ""
	if len(argv) > 0 {
		cmdline = strings.Join(argv, "\x00") + "\x00"
	}
	require.NoError(p.t, os.WriteFile(filepath.Join(dir, "cmdline"), []byte(cmdline), 0o644))

	for i, inode := range socketInodes {
		fd := filepath.Join(dir, "fd", string(rune('3'+i)))
		require.NoError(p.t, os.Symlink("socket:["+inode+"]", fd))
	}
	require.NoError(p.t, os.Symlink("/dev/null", filepath.Join(dir, "fd", "0")))
}

func (p *procTree) netTable(name, content string) {
	p.t.Helper()
	require.NoError(p.t, os.WriteFile(filepath.Join(p.root, "net", name), []byte(content), 0o644))
}

const procNetHeader = "  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode\n"

func TestLinuxProbe(t *testing.T) {
	tree := newProcTree(t)
	tree.process("1", []string{"/sbin/init"})
	tree.process("2", nil)
	tree.process("4242", []string{
		"/usr/share/antigravity/resources/app/extensions/antigravity/bin/language_server_linux_x64",
		"--csrf_token", "0a1b2c3d",
		"--extension_server_port", "41111",
	}, "1001", "1002", "1003")
	tree.netTable("tcp", procNetHeader+
		"   0: 0100007F:A474 00000000:0000 0A 00000000:00000000 00:00000000 00000000  1000        0 1001 1 0000000000000000 100 0 0 10 0\n"+
		"   1: 0100007F:A475 0100007F:D431 01 00000000:00000000 00:00000000 00000000  1000        0 1002 1 0000000000000000 20 4 30 10 -1\n"+
		"   2: 0100007F:1F90 00000000:0000 0A 00000000:00000000 00:00000000 00000000  1000        0 9999 1 0000000000000000 100 0 0 10 0\n")
	tree.netTable("tcp6", procNetHeader+
		"   0: 00000000000000000000000001000000:A476 00000000000000000000000000000000:0000 0A 00000000:00000000 00:00000000 00000000  1000        0 1003 1 0000000000000000 100 0 0 10 0\n")

	probe := NewLinux(Options{ProcRoot: tree.root, Arch: "amd64"})
	ctx := context.Background()

	processes, err := probe.ListProcesses(ctx)
	require.NoError(t, err)
	require.Len(t, processes, 2)

	var target Process
	for _, p := range processes {
		if p.Name == probe.TargetName() {
			target = p
		}
	}
	assert.Equal(t, 4242, target.PID)
	assert.Contains(t, target.CommandLine, "--csrf_token 0a1b2c3d --extension_server_port 41111")

	ports, err := probe.ListeningPorts(ctx, 4242)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{0xA474, 0xA476}, ports)

	_, err = probe.ListeningPorts(ctx, 31337)
	assert.Error(t, err)
}

func TestLinuxMissingTCP6Table(t *testing.T) {
	tree := newProcTree(t)
	tree.process("4242", []string{"/opt/bin/language_server_linux_x64"}, "1001")
	tree.netTable("tcp", procNetHeader+
		"   0: 0100007F:A474 00000000:0000 0A 00000000:00000000 00:00000000 00000000  1000        0 1001 1 0000000000000000 100 0 0 10 0\n")

	ports, err := NewLinux(Options{ProcRoot: tree.root}).ListeningPorts(context.Background(), 4242)
	require.NoError(t, err)
	assert.Equal(t, []int{0xA474}, ports)
}

func TestLinuxCancelledContext(t *testing.T) {
	tree := newProcTree(t)
	tree.process("1", []string{"/sbin/init"})
	tree.process("4242", []string{"/opt/bin/language_server_linux_x64"}, "1001")
	tree.netTable("tcp", procNetHeader)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	linux := NewLinux(Options{ProcRoot: tree.root})

	_, err := linux.ListProcesses(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = linux.ListeningPorts(ctx, 4242)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBoundedDeadline(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	_, err := bounded(context.Background(), 20*time.Millisecond, func(context.Context) ([]int, error) {
		<-release
		return []int{1}, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)

	got, err := bounded(context.Background(), time.Second, func(context.Context) ([]int, error) {
		return []int{42100}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{42100}, got)
}

func TestPortFromAddress(t *testing.T) {
	tests := []struct {
		addr   string
		want   int
		wantOK bool
	}{
		{addr: "127.0.0.1:42100", want: 42100, wantOK: true},
		{addr: "[::1]:42100", want: 42100, wantOK: true},
		{addr: "*:8080", want: 8080, wantOK: true},
		{addr: "127.0.0.1:", wantOK: false},
		{addr: "127.0.0.1", wantOK: false},
		{addr: "127.0.0.1:99999", wantOK: false},
		{addr: "127.0.0.1:http", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			got, ok := portFromAddress(tt.addr)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
