package platform

import (
	"cmp"
	"context"
	"log/slog"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/prometheus/procfs"
)

// tcpListen is the LISTEN state in /proc/net/tcp and /proc/net/tcp6.
const tcpListen = 0x0A

// Linux reads the process table and socket tables from procfs.
type Linux struct {
	opts Options
}

var _ Probe = (*Linux)(nil)

// NewLinux creates the Linux probe.
func NewLinux(opts Options) *Linux {
	return &Linux{opts: opts.withDefaults()}
}

// TargetName implements Probe.
func (l *Linux) TargetName() string {
	return "language_server_linux_" + imageSuffix(l.opts.Arch)
}

// ListProcesses implements Probe.
func (l *Linux) ListProcesses(ctx context.Context) ([]Process, error) {
	return bounded(ctx, l.opts.ProcessTimeout, l.listProcesses)
}

func (l *Linux) listProcesses(ctx context.Context) ([]Process, error) {
	fs, err := procfs.NewFS(l.opts.ProcRoot)
	if err != nil {
		return nil, err
	}
	procs, err := fs.AllProcs()
	if err != nil {
		return nil, err
	}

	var processes []Process
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// Kernel threads have an empty command line; exited processes fail to read.
		argv, err := p.CmdLine()
		if err != nil || len(argv) == 0 || argv[0] == "" {
			continue
		}
		processes = append(processes, Process{
			PID:         p.PID,
			Name:        path.Base(argv[0]),
			CommandLine: strings.Join(argv, " "),
		})
	}
	slices.SortFunc(processes, func(a, b Process) int { return cmp.Compare(a.PID, b.PID) })
	return processes, nil
}

// ListeningPorts implements Probe.
// Sockets owned by pid are matched by inode against the tcp and tcp6 tables.
func (l *Linux) ListeningPorts(ctx context.Context, pid int) ([]int, error) {
	return bounded(ctx, l.opts.PortTimeout, func(ctx context.Context) ([]int, error) {
		return l.listeningPorts(ctx, pid)
	})
}

func (l *Linux) listeningPorts(ctx context.Context, pid int) ([]int, error) {
	fs, err := procfs.NewFS(l.opts.ProcRoot)
	if err != nil {
		return nil, err
	}
	proc, err := fs.Proc(pid)
	if err != nil {
		return nil, err
	}
	targets, err := proc.FileDescriptorTargets()
	if err != nil {
		return nil, err
	}

	inodes := make(map[uint64]struct{})
	for _, target := range targets {
		if inode, ok := socketInode(target); ok {
			inodes[inode] = struct{}{}
		}
	}
	if len(inodes) == 0 {
		return nil, nil
	}

	tables := []struct {
		name string
		read func() (procfs.NetTCP, error)
	}{
		{name: "tcp", read: fs.NetTCP},
		{name: "tcp6", read: fs.NetTCP6},
	}

	var ports []int
	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := table.read()
		if err != nil {
			// tcp6 is absent when IPv6 is disabled.
			slog.DebugContext(ctx, "socket table unreadable", "table", table.name, "error", err)
			continue
		}
		for _, row := range rows {
			if row.St != tcpListen {
				continue
			}
			if _, owned := inodes[row.Inode]; !owned {
				continue
			}
			port := int(row.LocalPort)
			if port > 0 && !slices.Contains(ports, port) {
				ports = append(ports, port)
			}
		}
	}
	return ports, nil
}

// socketInode extracts N from a "socket:[N]" descriptor target.
func socketInode(target string) (uint64, bool) {
	raw, ok := strings.CutPrefix(target, "socket:[")
	if !ok {
		return 0, false
	}
	raw, ok = strings.CutSuffix(raw, "]")
	if !ok {
		return 0, false
	}
	inode, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return inode, true
}
