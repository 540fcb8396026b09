package inference

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/loykin/previewd/internal/diagnosis"
)

// LaunchConfig describes how to start a project's dev server.
type LaunchConfig struct {
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	// ExpectedPort is where the server should listen; 0 when unknown.
	ExpectedPort int `json:"expectedPort,omitempty"`
	// ExplicitPort is the port spelled out in the dev script, if any.
	ExplicitPort int `json:"explicitPort,omitempty"`
	// WorkingDir is relative to the project root, or absolute. Empty means
	// the root itself.
	WorkingDir string `json:"workingDir,omitempty"`
}

// CommandLine renders the command and its arguments for display.
func (c LaunchConfig) CommandLine() string {
	return strings.TrimSpace(strings.Join(append([]string{c.Command}, c.Args...), " "))
}

// Clone returns a deep copy.
func (c LaunchConfig) Clone() LaunchConfig {
	c.Args = append([]string(nil), c.Args...)
	return c
}

// ResolveDir joins WorkingDir onto root.
func (c LaunchConfig) ResolveDir(root string) string {
	switch {
	case c.WorkingDir == "":
		return filepath.Clean(root)
	case filepath.IsAbs(c.WorkingDir):
		return filepath.Clean(c.WorkingDir)
	default:
		return filepath.Join(root, filepath.FromSlash(c.WorkingDir))
	}
}

// Detect infers a LaunchConfig for the project at root. subdir, when set,
// pins the package to launch. It returns (nil, nil) when no package manager
// can run the project, and a NotPreviewable *diagnosis.Error when the project
// has nothing to preview.
func Detect(root, subdir string) (*LaunchConfig, error) {
	pf, err := ReadProjectFile(root)
	if err != nil {
		return nil, fmt.Errorf("read project file: %w", err)
	}
	suit := ScanSuitability(root)
	if !suit.Previewable && pf.Command == "" {
		return nil, suit.NotPreviewable(root)
	}

	target := pickTarget(subdir, pf, suit)
	cfg := &LaunchConfig{}
	if target != "." {
		cfg.WorkingDir = target
	}
	dir := cfg.ResolveDir(root)
	if !dirExists(dir) {
		return nil, WrongCwd(dir, suit)
	}

	script, err := ReadDevScript(dir)
	if err != nil && !errors.Is(err, ErrNoDevScript) && !errors.Is(err, ErrNoManifest) {
		return nil, err
	}
	if p, ok := ParseExplicitPort(script); ok {
		cfg.ExplicitPort = p
	}

	if pf.Command != "" {
		cfg.Command = pf.Command
		cfg.Args = append([]string(nil), pf.Args...)
		switch {
		case pf.Port > 0:
			cfg.ExpectedPort = pf.Port
		case script != "":
			cfg.ExpectedPort = ScriptPort(script)
		}
		return cfg, nil
	}

	if script == "" {
		return nil, nil
	}
	pm, ok := DetectManager(dir, root)
	if !ok {
		return nil, nil
	}
	cfg.Command = string(pm)
	cfg.Args = DefaultArgs(pm)
	cfg.ExpectedPort = pf.Port
	if cfg.ExpectedPort == 0 {
		cfg.ExpectedPort = ScriptPort(script)
	}
	return cfg, nil
}

func pickTarget(subdir string, pf ProjectFile, suit Suitability) string {
	switch {
	case strings.TrimSpace(subdir) != "":
		return strings.TrimSpace(subdir)
	case pf.WorkingDir != "":
		return pf.WorkingDir
	case slices.Contains(suit.WebDirs, "."):
		return "."
	case len(suit.WebDirs) > 0:
		return suit.WebDirs[0]
	}
	return "."
}

// WrongCwd builds the diagnostic for a working directory that is missing or
// not a directory, suggesting the first web package found by the scan.
func WrongCwd(dir string, suit Suitability) *diagnosis.Error {
	d := diagnosis.Diagnostic{
		ReasonCode:    diagnosis.ReasonMonorepoWrongCwd,
		Message:       fmt.Sprintf("Working directory %s does not exist or is not a directory.", dir),
		Cwd:           dir,
		SuggestedDirs: suit.WebDirs,
		URLAttempts:   []string{},
		LogsTail:      []string{},
	}
	if len(suit.WebDirs) > 0 {
		d.SuggestedCwd = suit.WebDirs[0]
	}
	return &diagnosis.Error{Diagnostic: d}
}
