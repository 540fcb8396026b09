//go:build windows

package detector

import (
	"fmt"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := gopsproc.PidExists(int32(pid))
	return err == nil && ok
}

// PIDDetector checks a process by pid. When StartUnix is set, a process
// whose start time differs is treated as a reused pid and reported dead.
type PIDDetector struct {
	PID       int
	StartUnix int64
}

func (d PIDDetector) Alive() (bool, error) {
	if d.PID <= 0 {
		return false, nil
	}
	if d.StartUnix > 0 {
		if cur := StartUnix(d.PID); cur > 0 && cur != d.StartUnix {
			return false, nil
		}
	}
	return pidAlive(d.PID), nil
}

func (d PIDDetector) Describe() string { return fmt.Sprintf("pid:%d", d.PID) }
