package platform

import (
	"bufio"
	"bytes"
	"cmp"
	"context"
	"path"
	"slices"
	"strconv"
	"strings"
)

// Darwin reads the process table through ps and sockets through lsof.
type Darwin struct {
	opts Options
}

var _ Probe = (*Darwin)(nil)

// NewDarwin creates the macOS probe.
func NewDarwin(opts Options) *Darwin {
	return &Darwin{opts: opts.withDefaults()}
}

// TargetName implements Probe.
func (d *Darwin) TargetName() string {
	return "language_server_macos_" + imageSuffix(d.opts.Arch)
}

// ListProcesses implements Probe.
// The image path and the argument vector are listed separately because
// either may contain spaces, and joined by pid.
func (d *Darwin) ListProcesses(ctx context.Context) ([]Process, error) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.ProcessTimeout)
	defer cancel()

	images, err := d.opts.Runner(ctx, "ps", "-axww", "-o", "pid=,comm=")
	if err != nil {
		return nil, err
	}
	args, err := d.opts.Runner(ctx, "ps", "-axww", "-o", "pid=,args=")
	if err != nil {
		return nil, err
	}

	commandLines := parsePSColumns(args)

	var processes []Process
	for pid, image := range parsePSColumns(images) {
		processes = append(processes, Process{
			PID:         pid,
			Name:        path.Base(image),
			CommandLine: commandLines[pid],
		})
	}
	slices.SortFunc(processes, func(a, b Process) int { return cmp.Compare(a.PID, b.PID) })
	return processes, nil
}

// parsePSColumns parses "  <pid> <rest of line>" rows.
func parsePSColumns(out []byte) map[int]string {
	rows := make(map[int]string)

	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		pidStr, rest, found := strings.Cut(line, " ")
		if !found {
			continue
		}
		pid, err := strconv.Atoi(pidStr)
		if err != nil || pid <= 0 {
			continue
		}
		rows[pid] = strings.TrimSpace(rest)
	}
	return rows
}

// ListeningPorts implements Probe.
func (d *Darwin) ListeningPorts(ctx context.Context, pid int) ([]int, error) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.PortTimeout)
	defer cancel()

	out, err := d.opts.Runner(ctx, "lsof", "-nP", "-a", "-iTCP", "-sTCP:LISTEN", "-p", strconv.Itoa(pid), "-Fn")
	if err != nil {
		return nil, err
	}
	return parseLsofNames(out), nil
}

// parseLsofNames reads the n-records of `lsof -F n` output:
//
//	p4242
//	f12
//	n127.0.0.1:42100
//	n[::1]:42101
func parseLsofNames(out []byte) []int {
	var ports []int
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if len(line) < 2 || line[0] != 'n' {
			continue
		}
		local, _, _ := strings.Cut(line[1:], "->")
		if port, ok := portFromAddress(local); ok {
			ports = append(ports, port)
		}
	}
	return ports
}
