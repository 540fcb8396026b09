//go:build !windows

package detector

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"syscall"
)

// pidAlive sends the null signal; EPERM still proves the pid exists.
// Zombies count as dead on Linux.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err != nil && !errors.Is(err, syscall.EPERM) {
		return false
	}
	return !isZombie(pid)
}

func isZombie(pid int) bool {
	if runtime.GOOS != "linux" {
		return false
	}
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
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
		if cur := StartUnix(d.PID); cur > 0 && !sameStart(cur, d.StartUnix) {
			return false, nil
		}
	}
	return pidAlive(d.PID), nil
}

func (d PIDDetector) Describe() string { return fmt.Sprintf("pid:%d", d.PID) }

// sameStart tolerates the one-second rounding between clock-tick and
// wall-clock derived start times.
func sameStart(a, b int64) bool {
	d := a - b
	return d >= -1 && d <= 1
}
