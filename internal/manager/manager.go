package manager

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/previewd/internal/diagnosis"
	"github.com/loykin/previewd/internal/env"
	"github.com/loykin/previewd/internal/history"
	"github.com/loykin/previewd/internal/inference"
	"github.com/loykin/previewd/internal/logbuf"
	"github.com/loykin/previewd/internal/logger"
	"github.com/loykin/previewd/internal/metrics"
	"github.com/loykin/previewd/internal/probe"
)

const (
	// DefaultStopGrace is how long a process group gets between SIGTERM and
	// SIGKILL.
	DefaultStopGrace = 2 * time.Second
	// killWait bounds the wait for the reaper after SIGKILL.
	killWait = 500 * time.Millisecond
	// historyTimeout bounds one round of history sink writes.
	historyTimeout = 2 * time.Second

	// StoppedMarker is appended to a server's log by Stop.
	StoppedMarker = "Server stopped"
)

// Manager supervises at most one dev server per project key. The key is the
// project root path.
//
// Lock order: opMu, then mu. Log buffers have their own locks and are never
// touched while mu is held for writing.
type Manager struct {
	opMu sync.Mutex // serialises Start, Stop and Shutdown

	mu          sync.RWMutex
	records     map[string]*record
	engine      *diagnosis.Engine
	envM        *env.Env
	capture     logger.FileConfig
	sinks       history.Fanout
	stopGrace   time.Duration
	logCapacity int
	log         *slog.Logger
}

func NewManager() *Manager {
	return &Manager{
		records:     make(map[string]*record),
		engine:      diagnosis.NewEngine(nil),
		envM:        env.New(),
		stopGrace:   DefaultStopGrace,
		logCapacity: logbuf.DefaultCapacity,
		log:         slog.Default(),
	}
}

// SetHistorySinks configures external history sinks. Passing no sinks
// clears the list.
func (m *Manager) SetHistorySinks(sinks ...history.Sink) {
	m.mu.Lock()
	m.sinks = append(history.Fanout(nil), sinks...)
	m.mu.Unlock()
}

// SetGlobalEnv sets environment variables for every dev server.
// kvs must be in the form "KEY=VALUE".
func (m *Manager) SetGlobalEnv(kvs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range env.Parse(kvs) {
		m.envM.Set(k, v)
	}
}

// SetProber replaces the reachability prober used by Query.
func (m *Manager) SetProber(p probe.Prober) {
	m.mu.Lock()
	m.engine = diagnosis.NewEngine(p)
	m.mu.Unlock()
}

func (m *Manager) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	m.mu.Lock()
	m.log = l
	m.mu.Unlock()
}

// SetStopGrace sets the SIGTERM to SIGKILL delay; non-positive restores the
// default.
func (m *Manager) SetStopGrace(d time.Duration) {
	if d <= 0 {
		d = DefaultStopGrace
	}
	m.mu.Lock()
	m.stopGrace = d
	m.mu.Unlock()
}

// SetLogCapacity sets the line capacity of buffers created by later starts.
func (m *Manager) SetLogCapacity(n int) {
	m.mu.Lock()
	m.logCapacity = n
	m.mu.Unlock()
}

// SetCapture mirrors captured output of later starts to rotating files.
func (m *Manager) SetCapture(c logger.FileConfig) {
	m.mu.Lock()
	m.capture = c
	m.mu.Unlock()
}

type settings struct {
	engine      *diagnosis.Engine
	capture     logger.FileConfig
	sinks       history.Fanout
	stopGrace   time.Duration
	logCapacity int
	log         *slog.Logger
}

func (m *Manager) settings() settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return settings{
		engine:      m.engine,
		capture:     m.capture,
		sinks:       m.sinks,
		stopGrace:   m.stopGrace,
		logCapacity: m.logCapacity,
		log:         m.log,
	}
}

// spawnEnv merges the global env with PORT when known and, outside Windows,
// a PATH extended with common package-manager install dirs.
func (m *Manager) spawnEnv(port int) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var extra []string
	if port > 0 {
		extra = append(extra, fmt.Sprintf("PORT=%d", port))
	}
	if runtime.GOOS != "windows" {
		path, ok := m.envM.Var["PATH"]
		if !ok {
			path = os.Getenv("PATH")
		}
		home, _ := os.UserHomeDir()
		extra = append(extra, "PATH="+env.AugmentPath(path, home))
	}
	return m.envM.Merge(extra)
}

func (m *Manager) lookup(key string) *record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.records[key]
}

// Start launches cfg for the project at key, first terminating any server
// already running for key. Failures the caller must act on are returned as
// *diagnosis.Error with reason MonorepoWrongCwd or CommandFailed.
func (m *Manager) Start(ctx context.Context, key string, cfg inference.LaunchConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cfg = cfg.Clone()
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if prev := m.lookup(key); prev != nil {
		m.retire(key, prev, "replaced")
	}

	dir := cfg.ResolveDir(key)
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		derr := inference.WrongCwd(dir, inference.ScanSuitability(key))
		m.startFailed(key, derr)
		return derr
	}

	command, args := strings.TrimSpace(cfg.Command), cfg.Args
	if command == "" {
		pm, ok := inference.DetectManager(dir, key)
		if !ok {
			derr := &diagnosis.Error{Diagnostic: diagnosis.Diagnostic{
				ReasonCode:   diagnosis.ReasonCommandFailed,
				Message:      fmt.Sprintf("Could not infer a package manager for %s; set a command explicitly.", dir),
				ExpectedPort: cfg.ExpectedPort,
				Cwd:          dir,
				URLAttempts:  []string{},
				LogsTail:     []string{},
			}}
			m.startFailed(key, derr)
			return derr
		}
		command = string(pm)
		if len(args) == 0 {
			args = inference.DefaultArgs(pm)
		}
	}

	s := m.settings()
	rec := &record{
		key:          key,
		runID:        uuid.NewString(),
		commandLine:  strings.TrimSpace(strings.Join(append([]string{command}, args...), " ")),
		cwd:          dir,
		expectedPort: cfg.ExpectedPort,
		startedAt:    time.Now(),
	}
	var opts []logbuf.Option
	if w := s.capture.Writer(key); w != nil {
		rec.mirror = w
		opts = append(opts, logbuf.WithMirror(w))
	}
	rec.logs = logbuf.New(s.logCapacity, opts...)
	rec.logs.Append("> " + rec.commandLine)

	c, err := spawn(command, args, dir, m.spawnEnv(cfg.ExpectedPort), rec.logs)
	if err != nil {
		rec.logs.Append(fmt.Sprintf("Failed to spawn %s in %s: %v", rec.commandLine, dir, err))
		m.install(key, rec)
		derr := &diagnosis.Error{Diagnostic: diagnosis.Diagnostic{
			ReasonCode:   diagnosis.ReasonCommandFailed,
			Message:      fmt.Sprintf("Failed to start %s in %s: %v", rec.commandLine, dir, err),
			ExpectedPort: cfg.ExpectedPort,
			Command:      rec.commandLine,
			Cwd:          dir,
			URLAttempts:  urlAttempts(cfg.ExpectedPort),
			LogsTail:     rec.logs.Tail(diagnosis.DefaultTailSize),
		}}
		metrics.IncSpawnFailure()
		m.startFailed(key, derr)
		m.emit(s, history.EventSpawnFailed, rec, derr)
		return derr
	}
	rec.child, rec.pid, rec.drained = c, c.pid, c.drained
	m.install(key, rec)
	metrics.IncStart("ok")
	s.log.Info("dev server started",
		"key", key, "pid", c.pid, "command", rec.commandLine, "cwd", dir, "port", cfg.ExpectedPort, "run_id", rec.runID)
	m.emit(s, history.EventStart, rec, nil)

	go m.reap(s.log, rec, c)
	return nil
}

func urlAttempts(port int) []string {
	if u := probe.CandidateURLs(port); u != nil {
		return u
	}
	return []string{}
}

func (m *Manager) install(key string, rec *record) {
	m.mu.Lock()
	m.records[key] = rec
	n := len(m.records)
	m.mu.Unlock()
	metrics.SetTracked(n)
}

func (m *Manager) startFailed(key string, derr *diagnosis.Error) {
	code := derr.Diagnostic.ReasonCode
	metrics.IncStart(string(code))
	metrics.IncDiagnosis(string(code))
	m.settings().log.Warn("dev server start failed", "key", key, "reason", code, "message", derr.Diagnostic.Message)
}

func (m *Manager) reap(log *slog.Logger, rec *record, c *child) {
	err := c.cmd.Wait()
	c.exitErr = err
	close(c.exited)
	log.Info("dev server exited", "key", rec.key, "pid", c.pid, "error", err)
}

// retire terminates rec's child, appends the stop marker, marks the record
// stopped and releases its mirror. A record that is already stopped is left
// alone.
func (m *Manager) retire(key string, rec *record, why string) {
	s := m.settings()
	m.mu.Lock()
	if rec.stopped {
		m.mu.Unlock()
		return
	}
	c := rec.child
	rec.child = nil
	rec.stopped = true
	m.mu.Unlock()

	if c != nil {
		terminate(c, s.stopGrace)
	}
	rec.logs.Append(StoppedMarker)
	rec.release()
	if c == nil {
		return
	}
	metrics.IncStop()
	s.log.Info("dev server stopped", "key", key, "pid", c.pid, "why", why)
	m.emit(s, history.EventStop, rec, nil)
}

// terminate signals the process group: SIGTERM, then SIGKILL after grace.
// Errors are ignored; a process that is already gone is not a failure.
func terminate(c *child, grace time.Duration) {
	select {
	case <-c.exited:
		// the leader is gone; clear out stragglers in its group
		_ = killGroup(c.pid, true)
		return
	default:
	}
	_ = killGroup(c.pid, false)
	select {
	case <-c.exited:
		return
	case <-time.After(grace):
	}
	_ = killGroup(c.pid, true)
	select {
	case <-c.exited:
	case <-time.After(killWait):
	}
}

// Stop terminates the server for key, keeping its logs. An unknown key is a
// no-op.
func (m *Manager) Stop(_ context.Context, key string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	if rec := m.lookup(key); rec != nil {
		m.retire(key, rec, "stop")
	}
	return nil
}

// Query reports the live state of the server for key. It never fails; an
// unknown key yields an idle state with no logs.
func (m *Manager) Query(ctx context.Context, key string) ServerState {
	m.mu.RLock()
	rec := m.records[key]
	engine := m.engine
	var (
		c       *child
		stopped bool
	)
	if rec != nil {
		c, stopped = rec.child, rec.stopped
	}
	m.mu.RUnlock()

	if rec == nil {
		return ServerState{Phase: PhaseIdle, Logs: []string{}}
	}

	logs := rec.logs.Snapshot()
	in := diagnosis.Input{
		ExpectedPort: rec.expectedPort,
		Logs:         logs,
		Command:      rec.commandLine,
		Cwd:          rec.cwd,
		Stopped:      stopped,
	}
	if c != nil {
		in.Process = childDetector{c}
	}
	res := engine.Evaluate(ctx, in)

	st := ServerState{
		Running:      res.Running,
		ActivePort:   res.ActivePort,
		Logs:         logs,
		Diagnostic:   res.Diagnostic,
		Phase:        phaseOf(c, stopped, res),
		Command:      rec.commandLine,
		Cwd:          rec.cwd,
		ExpectedPort: rec.expectedPort,
		RunID:        rec.runID,
		StartedAt:    rec.startedAt,
	}
	if c != nil {
		st.PID = c.pid
	}
	return st
}

// Troubleshoot explains why the dev server for key is not serving and
// suggests a fix. subdir selects the package directory; empty means the
// directory of the tracked server, or key itself. A non-positive port falls
// back to the tracked expected port, then to the port of the dev script.
func (m *Manager) Troubleshoot(ctx context.Context, key, subdir string, port int) diagnosis.Report {
	check := diagnosis.Check{Root: key, Port: port}
	var commandLine, cwd string
	m.mu.RLock()
	rec := m.records[key]
	engine := m.engine
	if rec != nil {
		if rec.child != nil {
			check.Process = childDetector{rec.child}
		}
		commandLine, cwd = rec.commandLine, rec.cwd
		if check.Port <= 0 {
			check.Port = rec.expectedPort
		}
		check.Logs = rec.logs.Snapshot()
	}
	m.mu.RUnlock()

	check.Dir = cwd
	if subdir != "" || rec == nil {
		check.Dir = inference.LaunchConfig{WorkingDir: subdir}.ResolveDir(key)
	}
	if name, _, _ := strings.Cut(commandLine, " "); name != "" {
		if pm, ok := inference.Known(filepath.Base(name)); ok {
			check.Installer = string(pm)
		}
	}
	if check.Port <= 0 {
		if script, err := inference.ReadDevScript(check.Dir); err == nil {
			check.Port = inference.ScriptPort(script)
		}
	}
	if check.Installer == "" {
		if pm, ok := inference.DetectManager(check.Dir, key); ok {
			check.Installer = string(pm)
		}
	}
	return engine.Troubleshoot(ctx, check)
}

func phaseOf(c *child, stopped bool, res diagnosis.Result) Phase {
	switch {
	case stopped:
		return PhaseStopped
	case res.Running:
		return PhaseRunning
	case c == nil:
		return PhaseCrashed
	}
	select {
	case <-c.exited:
		return PhaseCrashed
	default:
		return PhaseStarting
	}
}

// Keys lists the tracked project keys in sorted order.
func (m *Manager) Keys() []string {
	m.mu.RLock()
	keys := make([]string, 0, len(m.records))
	for k := range m.records {
		keys = append(keys, k)
	}
	m.mu.RUnlock()
	slices.Sort(keys)
	return keys
}

// Shutdown stops every tracked server concurrently. It returns ctx.Err() if
// ctx ends first; the kills keep going in the background.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.RLock()
	recs := make(map[string]*record, len(m.records))
	for k, r := range m.records {
		recs[k] = r
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for k, r := range recs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.retire(k, r, "shutdown")
		}()
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s := m.settings()
	return s.sinks.Close()
}

func (m *Manager) emit(s settings, t history.EventType, rec *record, derr *diagnosis.Error) {
	if len(s.sinks) == 0 {
		return
	}
	hr := history.Record{
		Key:       rec.key,
		RunID:     rec.runID,
		Command:   rec.commandLine,
		Cwd:       rec.cwd,
		Port:      rec.expectedPort,
		StartedAt: rec.startedAt.UTC(),
	}
	hr.PID = rec.pid
	if derr != nil {
		hr.Reason = string(derr.Diagnostic.ReasonCode)
		hr.Message = derr.Diagnostic.Message
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := s.sinks.Send(ctx, history.Event{Type: t, OccurredAt: time.Now().UTC(), Record: hr}); err != nil {
		s.log.Warn("history sink failed", "event", t, "key", rec.key, "error", err)
	}
}

// CleanupLocks removes stale dev-server lock files under dir and returns the
// paths removed.
func CleanupLocks(dir string) ([]string, error) {
	var (
		removed []string
		errs    []error
	)
	for _, rel := range LockFiles {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		err := os.Remove(p)
		switch {
		case err == nil:
			removed = append(removed, p)
		case !os.IsNotExist(err):
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return removed, fmt.Errorf("cleanup locks in %s: %w", dir, errs[0])
	}
	return removed, nil
}

// LockFiles are lock files dev servers leave behind when killed, relative to
// the package dir.
var LockFiles = []string{".next/dev/lock", "node_modules/.vite/.lock"}
