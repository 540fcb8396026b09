package diagnosis

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/loykin/previewd/internal/detector"
)

func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, data := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

// readyProject has a manifest with a dev script and installed dependencies.
func readyProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"package.json":              `{"scripts":{"dev":"vite"}}`,
		"node_modules/.placeholder": "",
	})
	return dir
}

func TestTroubleshootFilesystemChecks(t *testing.T) {
	cases := []struct {
		name  string
		files map[string]string
		want  Cause
		cmd   string
	}{
		{"no manifest", map[string]string{"README.md": "hi"}, CauseNoManifest, ""},
		{"invalid manifest", map[string]string{"package.json": "{not json"}, CauseNoDevScript, ""},
		{"no dev script", map[string]string{"package.json": `{"scripts":{"build":"vite build"}}`}, CauseNoDevScript, ""},
		{"no node_modules", map[string]string{"package.json": `{"scripts":{"dev":"vite"}}`}, CauseNoDependencies, "pnpm install"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			writeTree(t, dir, tc.files)
			r := NewEngine(fakeProber{}).Troubleshoot(context.Background(), Check{
				Dir:       dir,
				Port:      3000,
				Installer: "pnpm",
				Process:   detector.Static(true),
				Logs:      []string{"[10:00:00] EADDRINUSE"},
			})
			if r.Cause != tc.want || r.SuggestedCommand != tc.cmd {
				t.Fatalf("got %s %q, want %s %q", r.Cause, r.SuggestedCommand, tc.want, tc.cmd)
			}
			if r.LastLogs == nil || r.Problem == "" || r.Suggestion == "" {
				t.Fatalf("incomplete report: %+v", r)
			}
		})
	}
}

func TestTroubleshootHoistedDependencies(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"node_modules/.placeholder": "",
		"apps/web/package.json":     `{"scripts":{"dev":"next dev"}}`,
	})
	dir := filepath.Join(root, "apps", "web")
	e := NewEngine(fakeProber{})

	r := e.Troubleshoot(context.Background(), Check{Dir: dir, Root: root})
	if r.Cause == CauseNoDependencies {
		t.Fatalf("hoisted node_modules not found: %+v", r)
	}
	r = e.Troubleshoot(context.Background(), Check{Dir: dir})
	if r.Cause != CauseNoDependencies || r.SuggestedCommand != "npm install" {
		t.Fatalf("without a root only dir is checked: %+v", r)
	}
}

func TestTroubleshootLogPatterns(t *testing.T) {
	cases := []struct {
		name  string
		alive bool
		open  bool
		logs  []string
		want  Cause
		cmd   string
	}{
		{"command not found", false, false, []string{"sh: bun: command not found"}, CauseCommandNotFound, ""},
		{"spawn enoent", false, false, []string{"Error: spawn pnpm ENOENT"}, CauseCommandNotFound, ""},
		{"address in use", true, false, []string{"Error: listen EADDRINUSE: address already in use :::3000"}, CausePortInUse, "previewd kill-port 3000"},
		{"address in use text", false, false, []string{"bind: address already in use"}, CausePortInUse, "previewd kill-port 3000"},
		{"module not found code", false, false, []string{"code: 'MODULE_NOT_FOUND'"}, CauseMissingModules, "bun install"},
		{"cannot find module", false, false, []string{"Error: Cannot find module 'vite'"}, CauseMissingModules, "bun install"},
		{"webpack module not found", true, false, []string{"Module not found: Can't resolve 'react'"}, CauseMissingModules, "bun install"},
		{"syntax error", false, false, []string{"SyntaxError: Unexpected token '<'"}, CauseScriptError, ""},
		{"type error", true, false, []string{"TypeError: x is not a function"}, CauseScriptError, ""},
		{"reference error", false, false, []string{"ReferenceError: window is not defined"}, CauseScriptError, ""},
		{"typescript", true, false, []string{"src/App.tsx(3,1): error TS2304: Cannot find name 'foo'."}, CauseScriptError, ""},
		{"build error", true, false, []string{"Build error occurred"}, CauseScriptError, ""},
		{"failed to compile", true, false, []string{"Failed to compile."}, CauseScriptError, ""},
		{"healthy", true, true, []string{"ready on port 3000"}, CauseHealthy, ""},
		{"wrong port", true, false, []string{"ready on port 5173"}, CauseWrongPort, ""},
		{"crashed", false, false, []string{"> vite", "killed"}, CauseCrashed, ""},
		{"colored marker", false, false, []string{"[10:00:00] \x1b[31mSyntaxError\x1b[39m: bad"}, CauseScriptError, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := fakeProber{}
			if tc.open {
				p[3000] = true
			}
			r := NewEngine(p).Troubleshoot(context.Background(), Check{
				Dir:       readyProject(t),
				Port:      3000,
				Installer: "bun",
				Process:   detector.Static(tc.alive),
				Logs:      tc.logs,
			})
			if r.Cause != tc.want || r.SuggestedCommand != tc.cmd {
				t.Fatalf("got %s %q, want %s %q", r.Cause, r.SuggestedCommand, tc.want, tc.cmd)
			}
			if r.ProcessAlive != tc.alive || r.PortListening != tc.open {
				t.Fatalf("alive/listening = %v/%v", r.ProcessAlive, r.PortListening)
			}
			if len(r.LastLogs) != len(tc.logs) {
				t.Fatalf("last logs = %v", r.LastLogs)
			}
		})
	}
}

func TestTroubleshootNotStarted(t *testing.T) {
	r := NewEngine(fakeProber{}).Troubleshoot(context.Background(), Check{Dir: readyProject(t), Port: 3000})
	if r.Cause != CauseNotStarted || r.ProcessAlive || r.PortListening {
		t.Fatalf("unexpected report: %+v", r)
	}
}

func TestTroubleshootLastLogsBounded(t *testing.T) {
	logs := make([]string, 0, 40)
	for i := 0; i < 40; i++ {
		logs = append(logs, "[10:00:00] working")
	}
	r := NewEngine(fakeProber{}).Troubleshoot(context.Background(), Check{
		Dir:     readyProject(t),
		Process: detector.Static(false),
		Logs:    logs,
	})
	if r.Cause != CauseCrashed || len(r.LastLogs) != DefaultTailSize {
		t.Fatalf("unexpected report: %s with %d lines", r.Cause, len(r.LastLogs))
	}
}
