package manager

import (
	"time"

	"github.com/loykin/previewd/internal/diagnosis"
)

// Phase is the lifecycle position of a tracked server.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseStarting Phase = "starting"
	PhaseRunning  Phase = "running"
	PhaseStopped  Phase = "stopped"
	PhaseCrashed  Phase = "crashed"
)

// ServerState is computed fresh by every Query and never stored.
type ServerState struct {
	// Running is true only when the process is alive and a port answered.
	Running    bool                  `json:"running"`
	ActivePort int                   `json:"activePort,omitempty"`
	Logs       []string              `json:"logs"`
	Diagnostic *diagnosis.Diagnostic `json:"diagnostic,omitempty"`

	Phase        Phase     `json:"phase"`
	PID          int       `json:"pid,omitempty"`
	Command      string    `json:"command,omitempty"`
	Cwd          string    `json:"cwd,omitempty"`
	ExpectedPort int       `json:"expectedPort,omitempty"`
	RunID        string    `json:"runId,omitempty"`
	StartedAt    time.Time `json:"startedAt,omitzero"`
}
