package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
)

const windowsImageName = "language_server_windows_x64.exe"

// Windows reads the process table and the connection table through CIM.
type Windows struct {
	opts Options
}

var _ Probe = (*Windows)(nil)

// NewWindows creates the Windows probe.
func NewWindows(opts Options) *Windows {
	return &Windows{opts: opts.withDefaults()}
}

// TargetName implements Probe.
func (w *Windows) TargetName() string {
	return windowsImageName
}

// cimProcess mirrors the properties selected from Win32_Process.
type cimProcess struct {
	ProcessID   int    `json:"ProcessId"`
	Name        string `json:"Name"`
	CommandLine string `json:"CommandLine"`
}

// tcpConnection mirrors the property selected from MSFT_NetTCPConnection.
type tcpConnection struct {
	LocalPort int `json:"LocalPort"`
}

// ListProcesses implements Probe.
func (w *Windows) ListProcesses(ctx context.Context) ([]Process, error) {
	ctx, cancel := context.WithTimeout(ctx, w.opts.ProcessTimeout)
	defer cancel()

	script := fmt.Sprintf(
		"Get-CimInstance Win32_Process -Filter \"Name='%s'\" | Select-Object ProcessId,Name,CommandLine | ConvertTo-Json -Compress",
		windowsImageName,
	)
	out, err := w.opts.Runner(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", script)
	if err != nil {
		return nil, err
	}
	return parseCIMProcesses(out)
}

// decodeJSONRecords decodes ConvertTo-Json output, which is an array for
// several records, a bare object for one, and empty for none.
func decodeJSONRecords[T any](out []byte) ([]T, error) {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var records []T
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, err
		}
		return records, nil
	}
	var single T
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return nil, err
	}
	return []T{single}, nil
}

func parseCIMProcesses(out []byte) ([]Process, error) {
	records, err := decodeJSONRecords[cimProcess](out)
	if err != nil {
		return nil, fmt.Errorf("decoding process list: %w", err)
	}

	processes := make([]Process, 0, len(records))
	for _, r := range records {
		if r.ProcessID <= 0 {
			continue
		}
		processes = append(processes, Process{
			PID:         r.ProcessID,
			Name:        r.Name,
			CommandLine: r.CommandLine,
		})
	}
	return processes, nil
}

// ListeningPorts implements Probe.
// Get-NetTCPConnection covers both address families and reports the state as
// an enum, so the result does not depend on the display language.
func (w *Windows) ListeningPorts(ctx context.Context, pid int) ([]int, error) {
	ctx, cancel := context.WithTimeout(ctx, w.opts.PortTimeout)
	defer cancel()

	script := fmt.Sprintf(
		"Get-NetTCPConnection -State Listen -OwningProcess %d -ErrorAction SilentlyContinue | Select-Object LocalPort | ConvertTo-Json -Compress",
		pid,
	)
	out, err := w.opts.Runner(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", script)
	if err != nil {
		return nil, err
	}
	return parseTCPConnections(out)
}

func parseTCPConnections(out []byte) ([]int, error) {
	records, err := decodeJSONRecords[tcpConnection](out)
	if err != nil {
		return nil, fmt.Errorf("decoding connection list: %w", err)
	}

	var ports []int
	for _, r := range records {
		if r.LocalPort <= 0 || r.LocalPort > 65535 || slices.Contains(ports, r.LocalPort) {
			continue
		}
		ports = append(ports, r.LocalPort)
	}
	return ports, nil
}
