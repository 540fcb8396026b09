package manager

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/loykin/previewd/internal/detector"
	"github.com/loykin/previewd/internal/logbuf"
)

// record is the supervisor's entry for one project key. child, pid and
// stopped are guarded by Manager.mu; the rest is fixed once installed.
type record struct {
	key          string
	runID        string
	commandLine  string
	cwd          string
	expectedPort int
	startedAt    time.Time
	logs         *logbuf.Buffer

	mirror      io.WriteCloser
	releaseOnce sync.Once
	drained     <-chan struct{}

	child   *child
	pid     int
	stopped bool
}

// release waits briefly for the output drains and closes the mirror file.
func (r *record) release() {
	r.releaseOnce.Do(func() {
		if r.drained != nil {
			select {
			case <-r.drained:
			case <-time.After(killWait):
			}
		}
		if r.mirror != nil {
			_ = r.mirror.Close()
		}
	})
}

// child is one spawned process. exitErr is written by the reaper before
// exited is closed.
type child struct {
	cmd       *exec.Cmd
	pid       int
	startUnix int64
	exited    chan struct{}
	exitErr   error
	drained   chan struct{}
}

// childDetector reports a child dead once reaped, and otherwise asks the OS,
// guarding against pid reuse with the recorded start time.
type childDetector struct{ c *child }

func (d childDetector) Alive() (bool, error) {
	select {
	case <-d.c.exited:
		return false, nil
	default:
	}
	return detector.PIDDetector{PID: d.c.pid, StartUnix: d.c.startUnix}.Alive()
}

func (d childDetector) Describe() string { return fmt.Sprintf("child:%d", d.c.pid) }

// spawn starts command in its own process group with stdout and stderr
// drained into logs. The pipes belong to the supervisor, so Wait never
// races the drains.
func spawn(command string, args []string, dir string, environ []string, logs *logbuf.Buffer) (*child, error) {
	path, err := lookPath(command, envValue(environ, "PATH"), dir)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(path, args...)
	cmd.Args[0] = command
	cmd.Dir = dir
	cmd.Env = environ
	setProcAttrs(cmd)

	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		closeAll(outR, outW)
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	cmd.Stdout, cmd.Stderr = outW, errW
	if err := cmd.Start(); err != nil {
		closeAll(outR, outW, errR, errW)
		return nil, err
	}
	// the child holds its own copies of the write ends
	closeAll(outW, errW)

	c := &child{
		cmd:     cmd,
		pid:     cmd.Process.Pid,
		exited:  make(chan struct{}),
		drained: make(chan struct{}),
	}
	c.startUnix = detector.StartUnix(c.pid)

	var wg sync.WaitGroup
	for _, r := range []*os.File{outR, errR} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { _ = r.Close() }()
			_ = logs.Drain(r)
		}()
	}
	go func() {
		wg.Wait()
		close(c.drained)
	}()
	return c, nil
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

func envValue(environ []string, key string) string {
	for i := len(environ) - 1; i >= 0; i-- {
		if v, ok := strings.CutPrefix(environ[i], key+"="); ok {
			return v
		}
	}
	return ""
}
