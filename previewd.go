package previewd

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	cfg "github.com/loykin/previewd/internal/config"
	"github.com/loykin/previewd/internal/diagnosis"
	"github.com/loykin/previewd/internal/history"
	"github.com/loykin/previewd/internal/history/factory"
	"github.com/loykin/previewd/internal/inference"
	"github.com/loykin/previewd/internal/logger"
	"github.com/loykin/previewd/internal/manager"
	"github.com/loykin/previewd/internal/metrics"
	"github.com/loykin/previewd/internal/ports"
	"github.com/loykin/previewd/internal/probe"
	iapi "github.com/loykin/previewd/internal/server"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type LaunchConfig = inference.LaunchConfig

type Suitability = inference.Suitability

type ProjectFile = inference.ProjectFile

type PackageManager = inference.PackageManager

type ServerState = manager.ServerState

type Phase = manager.Phase

type Diagnostic = diagnosis.Diagnostic

// DiagnosticError is returned by Start and Detect for diagnosable failures.
type DiagnosticError = diagnosis.Error

type ReasonCode = diagnosis.ReasonCode

const (
	ReasonMonorepoWrongCwd = diagnosis.ReasonMonorepoWrongCwd
	ReasonPortMismatch     = diagnosis.ReasonPortMismatch
	ReasonStartupTimeout   = diagnosis.ReasonStartupTimeout
	ReasonCommandFailed    = diagnosis.ReasonCommandFailed
	ReasonProtocolMismatch = diagnosis.ReasonProtocolMismatch
	ReasonNotPreviewable   = diagnosis.ReasonNotPreviewable
)

// TroubleshootReport explains what stops a dev server from serving.
type TroubleshootReport = diagnosis.Report

type Cause = diagnosis.Cause

const (
	CauseNoManifest      = diagnosis.CauseNoManifest
	CauseNoDevScript     = diagnosis.CauseNoDevScript
	CauseNoDependencies  = diagnosis.CauseNoDependencies
	CauseNotStarted      = diagnosis.CauseNotStarted
	CauseCommandNotFound = diagnosis.CauseCommandNotFound
	CausePortInUse       = diagnosis.CausePortInUse
	CauseMissingModules  = diagnosis.CauseMissingModules
	CauseScriptError     = diagnosis.CauseScriptError
	CauseHealthy         = diagnosis.CauseHealthy
	CauseWrongPort       = diagnosis.CauseWrongPort
	CauseCrashed         = diagnosis.CauseCrashed
	CauseUnknown         = diagnosis.CauseUnknown
)

const (
	PhaseIdle     = manager.PhaseIdle
	PhaseStarting = manager.PhaseStarting
	PhaseRunning  = manager.PhaseRunning
	PhaseStopped  = manager.PhaseStopped
	PhaseCrashed  = manager.PhaseCrashed
)

type Prober = probe.Prober

type HistorySink = history.Sink

type Config = cfg.Config

type LoggerConfig = logger.Config

// CaptureConfig controls mirroring of dev server output to rotating files.
type CaptureConfig = logger.FileConfig

// Manager is a thin facade over internal/manager.Manager.
// It provides a stable public API for embedding.
type Manager struct{ inner *manager.Manager }

func New() *Manager { return &Manager{inner: manager.NewManager()} }

func (m *Manager) SetGlobalEnv(kvs []string)                  { m.inner.SetGlobalEnv(kvs) }
func (m *Manager) SetProber(p Prober)                         { m.inner.SetProber(p) }
func (m *Manager) SetLogger(l *slog.Logger)                   { m.inner.SetLogger(l) }
func (m *Manager) SetStopGrace(d time.Duration)               { m.inner.SetStopGrace(d) }
func (m *Manager) SetLogCapacity(n int)                       { m.inner.SetLogCapacity(n) }
func (m *Manager) SetCapture(c CaptureConfig)                 { m.inner.SetCapture(c) }
func (m *Manager) SetHistorySinks(sinks ...HistorySink)       { m.inner.SetHistorySinks(sinks...) }
func (m *Manager) Keys() []string                             { return m.inner.Keys() }
func (m *Manager) Shutdown(ctx context.Context) error         { return m.inner.Shutdown(ctx) }
func (m *Manager) Stop(ctx context.Context, key string) error { return m.inner.Stop(ctx, key) }
func (m *Manager) Query(ctx context.Context, key string) ServerState {
	return m.inner.Query(ctx, key)
}
func (m *Manager) Start(ctx context.Context, key string, c LaunchConfig) error {
	return m.inner.Start(ctx, key, c)
}

// Troubleshoot reports the most likely reason the dev server of key does not
// serve. subdir and port may be empty to use what the manager knows.
func (m *Manager) Troubleshoot(ctx context.Context, key, subdir string, port int) TroubleshootReport {
	return m.inner.Troubleshoot(ctx, key, subdir, port)
}

// Apply configures the manager from the daemon configuration: probe
// timeout, stop grace, log capacity, output capture and environment.
func (m *Manager) Apply(c *Config) error {
	environ, err := c.Supervisor.Environ()
	if err != nil {
		return err
	}
	m.inner.SetGlobalEnv(environ)
	m.inner.SetProber(probe.TCPProber{Timeout: c.Probe.Timeout})
	m.inner.SetStopGrace(c.Supervisor.StopGrace)
	m.inner.SetLogCapacity(c.Supervisor.LogCapacity)
	m.inner.SetCapture(c.Capture)
	return nil
}

// Detect infers how to launch the project at root. It returns (nil, nil)
// when no package manager can run it.
func Detect(root, subdir string) (*LaunchConfig, error) { return inference.Detect(root, subdir) }

// ScanSuitability reports whether the project at root can be previewed.
func ScanSuitability(root string) Suitability { return inference.ScanSuitability(root) }

func ReadProjectFile(root string) (ProjectFile, error) { return inference.ReadProjectFile(root) }

// SetDevPort rewrites the port flag of dir's dev script in place.
func SetDevPort(dir string, port int) error { return inference.WriteDevScriptPort(dir, port) }

// KillByPort kills every process listening on port and returns their pids.
func KillByPort(ctx context.Context, port int) ([]int, error) { return ports.KillByPort(ctx, port) }

// CleanupLocks removes stale dev-server lock files under dir.
func CleanupLocks(dir string) ([]string, error) { return manager.CleanupLocks(dir) }

// AsDiagnostic extracts a Diagnostic from err, including errors that only
// kept the message text.
func AsDiagnostic(err error) (*Diagnostic, bool) { return diagnosis.From(err) }

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// NewHistorySinks opens one history sink per DSN.
func NewHistorySinks(dsns []string) ([]HistorySink, error) {
	f, err := factory.NewSinks(dsns)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// NewRouter returns the embeddable HTTP API for m mounted under basePath.
func NewRouter(m *Manager, basePath string) http.Handler {
	return iapi.NewRouter(m.inner, basePath).Handler()
}

// NewHTTPServer starts an HTTP server exposing the API using the given manager.
func NewHTTPServer(addr, basePath string, m *Manager) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, m.inner)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// MetricsHandler serves /metrics from the default registry.
func MetricsHandler() http.Handler { return metrics.Handler() }
