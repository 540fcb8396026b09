// Package ports finds and terminates whatever process listens on a local
// TCP port, independent of the servers the manager tracks.
package ports

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	gopsnet "github.com/shirou/gopsutil/v4/net"
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

var ErrInvalidPort = errors.New("port must be between 1 and 65535")

// CloseWait bounds how long KillByPort waits for the port to be released.
const CloseWait = 500 * time.Millisecond

const listen = "LISTEN"

// ListenerPIDs returns the sorted pids owning a TCP listener on port.
// Sockets whose owner is not visible to this user are skipped.
func ListenerPIDs(ctx context.Context, port int) ([]int, error) {
	if port <= 0 || port > 65535 {
		return nil, ErrInvalidPort
	}
	conns, err := gopsnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return nil, fmt.Errorf("list tcp sockets: %w", err)
	}
	var pids []int
	for _, c := range conns {
		if c.Status != listen || c.Laddr.Port != uint32(port) || c.Pid <= 0 {
			continue
		}
		pids = append(pids, int(c.Pid))
	}
	slices.Sort(pids)
	return slices.Compact(pids), nil
}

// KillByPort sends SIGKILL to every process listening on port, except the
// calling process, then waits up to CloseWait for the listeners to go away.
// It returns the pids signalled. Kill failures are not errors.
func KillByPort(ctx context.Context, port int) ([]int, error) {
	pids, err := ListenerPIDs(ctx, port)
	if err != nil {
		return nil, err
	}
	self := os.Getpid()
	var killed []int
	for _, pid := range pids {
		if pid == self {
			continue
		}
		p, err := gopsproc.NewProcessWithContext(ctx, int32(pid))
		if err != nil {
			continue
		}
		if err := p.KillWithContext(ctx); err != nil {
			continue
		}
		killed = append(killed, pid)
	}
	if len(killed) > 0 {
		waitReleased(ctx, port, killed)
	}
	return killed, nil
}

func waitReleased(ctx context.Context, port int, pids []int) {
	deadline := time.Now().Add(CloseWait)
	for time.Now().Before(deadline) {
		left, err := ListenerPIDs(ctx, port)
		if err != nil || !slices.ContainsFunc(left, func(p int) bool { return slices.Contains(pids, p) }) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(25 * time.Millisecond):
		}
	}
}
