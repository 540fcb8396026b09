package diagnosis

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/loykin/previewd/internal/detector"
	"github.com/loykin/previewd/internal/probe"
)

// Cause names the most likely reason a dev server does not serve, as found
// by Troubleshoot.
type Cause string

const (
	CauseNoManifest      Cause = "no_package_json"
	CauseNoDevScript     Cause = "no_dev_script"
	CauseNoDependencies  Cause = "no_node_modules"
	CauseNotStarted      Cause = "not_started"
	CauseCommandNotFound Cause = "command_not_found"
	CausePortInUse       Cause = "port_in_use"
	CauseMissingModules  Cause = "missing_deps"
	CauseScriptError     Cause = "script_error"
	CauseHealthy         Cause = "healthy"
	CauseWrongPort       Cause = "wrong_port"
	CauseCrashed         Cause = "process_crashed"
	CauseUnknown         Cause = "unknown"
)

var (
	commandNotFoundMarkers = []string{"ENOENT", "command not found", "executable file not found"}
	portInUseMarkers       = []string{"EADDRINUSE", "address already in use"}
	missingModuleMarkers   = []string{"MODULE_NOT_FOUND", "Cannot find module", "Module not found"}
	scriptErrorMarkers     = []string{"SyntaxError", "TypeError", "ReferenceError", "error TS", "Build error", "Failed to compile"}
)

// Check is the input of Troubleshoot.
type Check struct {
	// Dir is the package directory holding package.json.
	Dir string
	// Root bounds the upward search for a hoisted node_modules. Empty means
	// only Dir is checked.
	Root string
	Port int
	// Installer is the package manager named in install suggestions; npm
	// when empty.
	Installer string
	// Process reports child liveness; nil when no child exists.
	Process detector.Detector
	Logs    []string
}

// Report explains what is wrong with a dev server and how to fix it.
type Report struct {
	Cause            Cause    `json:"cause"`
	ProcessAlive     bool     `json:"processAlive"`
	PortListening    bool     `json:"portListening"`
	Port             int      `json:"port,omitempty"`
	Problem          string   `json:"problem"`
	Suggestion       string   `json:"suggestion"`
	SuggestedCommand string   `json:"suggestedCommand,omitempty"`
	LastLogs         []string `json:"lastLogs"`
}

// Troubleshoot checks the package directory first, then the recent output,
// then liveness and reachability. The first matching check decides.
func (e *Engine) Troubleshoot(ctx context.Context, c Check) Report {
	r := Report{Port: c.Port, LastLogs: []string{}}
	installer := c.Installer
	if installer == "" {
		installer = "npm"
	}

	manifest := filepath.Join(c.Dir, "package.json")
	b, err := os.ReadFile(manifest)
	switch {
	case err != nil:
		return r.with(CauseNoManifest,
			fmt.Sprintf("No package.json found in %s.", c.Dir),
			"Open the project folder, or pass the package directory of a monorepo.", "")
	case !gjson.ValidBytes(b) || !gjson.GetBytes(b, "scripts.dev").Exists():
		return r.with(CauseNoDevScript,
			"No \"dev\" script found in package.json.",
			"Add a dev script, for example \"dev\": \"vite\" or \"dev\": \"next dev\".", "")
	case !hasDependencies(c.Dir, c.Root):
		return r.with(CauseNoDependencies,
			"Dependencies are not installed yet.",
			"Install the project's packages before starting the dev server.", installer+" install")
	}

	if c.Process != nil {
		ok, err := c.Process.Alive()
		r.ProcessAlive = err == nil && ok
	}
	if c.Port > 0 {
		r.PortListening = probe.Reachable(ctx, e.Prober, c.Port)
	}
	r.LastLogs = tail(c.Logs, e.TailSize)
	text := make([]string, len(r.LastLogs))
	for i, l := range r.LastLogs {
		text[i] = cleanLine(l)
	}
	logText := strings.Join(text, "\n")

	switch {
	case c.Process == nil && len(c.Logs) == 0:
		return r.with(CauseNotStarted,
			"The dev server has not been started.",
			"Start it, then check again once it had time to boot.", "")
	case !r.ProcessAlive && containsAny(logText, commandNotFoundMarkers):
		return r.with(CauseCommandNotFound,
			"The dev command could not be found on this system.",
			"Make sure the package manager is installed and on PATH.", "")
	case containsAny(logText, portInUseMarkers):
		cmd := ""
		if c.Port > 0 {
			cmd = fmt.Sprintf("previewd kill-port %d", c.Port)
		}
		return r.with(CausePortInUse,
			fmt.Sprintf("Port %d is already used by another process.", c.Port),
			"Stop the other process, or change the dev server port.", cmd)
	case containsAny(logText, missingModuleMarkers):
		return r.with(CauseMissingModules,
			"Some packages are missing.",
			"Install the project's dependencies.", installer+" install")
	case containsAny(logText, scriptErrorMarkers):
		return r.with(CauseScriptError,
			"The code has errors that stopped the dev server.",
			"Fix the error shown in the output and restart.", "")
	case r.ProcessAlive && r.PortListening:
		return r.with(CauseHealthy,
			fmt.Sprintf("The dev server is serving on port %d.", c.Port),
			"Nothing to fix.", "")
	case r.ProcessAlive:
		return r.with(CauseWrongPort,
			fmt.Sprintf("The dev server started but does not answer on port %d.", c.Port),
			"The framework may use another port; check its config, or wait longer for large projects.", "")
	case len(c.Logs) > 0:
		return r.with(CauseCrashed,
			"The dev server stopped unexpectedly.",
			"Read the output for details.", "")
	}
	return r.with(CauseUnknown,
		"Something went wrong.",
		"Read the dev server output for details.", "")
}

func (r Report) with(cause Cause, problem, suggestion, command string) Report {
	r.Cause = cause
	r.Problem = problem
	r.Suggestion = suggestion
	r.SuggestedCommand = command
	return r
}

// hasDependencies looks for node_modules in dir and its parents up to root.
func hasDependencies(dir, root string) bool {
	dir = filepath.Clean(dir)
	if root != "" {
		root = filepath.Clean(root)
	}
	for {
		if st, err := os.Stat(filepath.Join(dir, "node_modules")); err == nil && st.IsDir() {
			return true
		}
		if root == "" || dir == root {
			return false
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return false
		}
		dir = parent
	}
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
