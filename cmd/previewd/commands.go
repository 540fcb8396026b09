package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/loykin/previewd"
	"github.com/loykin/previewd/pkg/client"
)

const defaultAPIUrl = "http://127.0.0.1:8080/api"

type command struct {
	global *GlobalFlags
}

// apiClient connects to the daemon, which owns the supervised servers.
func (c command) apiClient(ctx context.Context) (*client.Client, error) {
	apiUrl := c.global.APIUrl
	if apiUrl == "" {
		apiUrl = defaultAPIUrl
	}
	cl := client.New(client.Config{
		BaseURL: apiUrl,
		Timeout: c.global.APITimeout,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if !cl.IsReachable(ctx) {
		return nil, fmt.Errorf("daemon not reachable at %s - please start daemon first with 'previewd serve'", apiUrl)
	}
	return cl, nil
}

// Detect prints the inferred launch configuration.
func (c command) Detect(w io.Writer, root string, f DetectFlags) error {
	cfg, err := previewd.Detect(root, f.Dir)
	if err != nil {
		return reportDiagnostic(w, err)
	}
	if cfg == nil {
		return fmt.Errorf("could not infer a package manager for %s", root)
	}
	printJSON(w, cfg)
	return nil
}

// Check prints the suitability scan and fails for unpreviewable projects.
func (c command) Check(w io.Writer, root string) error {
	s := previewd.ScanSuitability(root)
	printJSON(w, s)
	if !s.Previewable {
		return fmt.Errorf("%s: %s", previewd.ReasonNotPreviewable, s.Reason)
	}
	return nil
}

// launchConfig builds the explicit config sent with a start request, or nil
// to let the daemon detect one.
func launchConfig(root string, f StartFlags) (*previewd.LaunchConfig, error) {
	if cmd := strings.Fields(f.Cmd); len(cmd) > 0 {
		return &previewd.LaunchConfig{
			Command:      cmd[0],
			Args:         cmd[1:],
			ExpectedPort: f.Port,
			WorkingDir:   f.Dir,
		}, nil
	}
	if f.Port <= 0 {
		return nil, nil
	}
	cfg, err := previewd.Detect(root, f.Dir)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = &previewd.LaunchConfig{WorkingDir: f.Dir}
	}
	cfg.ExpectedPort = f.Port
	return cfg, nil
}

func (c command) Start(ctx context.Context, w io.Writer, root string, f StartFlags) error {
	cfg, err := launchConfig(root, f)
	if err != nil {
		return reportDiagnostic(w, err)
	}
	cl, err := c.apiClient(ctx)
	if err != nil {
		return err
	}
	st, err := cl.Start(ctx, client.StartRequest{Path: root, Dir: f.Dir, Config: cfg})
	if err != nil {
		return reportDiagnostic(w, err)
	}
	if f.Wait > 0 {
		st, err = waitRunning(ctx, cl, root, f.Wait, f.Interval)
		if err != nil {
			return err
		}
	}
	printJSON(w, st)
	if f.Wait > 0 && !st.Running {
		if st.Diagnostic != nil {
			return fmt.Errorf("%s: %s", st.Diagnostic.ReasonCode, st.Diagnostic.Message)
		}
		return fmt.Errorf("server did not become reachable within %s", f.Wait)
	}
	return nil
}

// waitRunning polls the daemon until the server answers, exits, or wait
// passes, and returns the last state seen.
func waitRunning(ctx context.Context, cl *client.Client, root string, wait, interval time.Duration) (previewd.ServerState, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	t := time.NewTicker(interval)
	defer t.Stop()
	var last previewd.ServerState
	for {
		st, err := cl.State(ctx, root)
		if err != nil {
			if ctx.Err() != nil {
				return last, nil
			}
			return last, err
		}
		last = st
		switch {
		case st.Running:
			return st, nil
		case st.Phase == previewd.PhaseCrashed, st.Phase == previewd.PhaseStopped:
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, nil
		case <-t.C:
		}
	}
}

func (c command) Stop(ctx context.Context, w io.Writer, root string) error {
	cl, err := c.apiClient(ctx)
	if err != nil {
		return err
	}
	st, err := cl.Stop(ctx, root)
	if err != nil {
		return err
	}
	printJSON(w, st)
	return nil
}

func (c command) Status(ctx context.Context, w io.Writer, root string, f StatusFlags) error {
	cl, err := c.apiClient(ctx)
	if err != nil {
		return err
	}
	st, err := cl.State(ctx, root)
	if err != nil {
		return err
	}
	if !f.Logs {
		st.Logs = nil
	}
	printJSON(w, st)
	return nil
}

func (c command) List(ctx context.Context, w io.Writer) error {
	cl, err := c.apiClient(ctx)
	if err != nil {
		return err
	}
	keys, err := cl.Servers(ctx)
	if err != nil {
		return err
	}
	printJSON(w, keys)
	return nil
}

func (c command) Diagnose(ctx context.Context, w io.Writer, root string, f DiagnoseFlags) error {
	cl, err := c.apiClient(ctx)
	if err != nil {
		return err
	}
	r, err := cl.Diagnose(ctx, root, f.Dir, f.Port)
	if err != nil {
		return err
	}
	printJSON(w, r)
	return nil
}

// KillPort runs locally: it needs no supervisor state.
func (c command) KillPort(ctx context.Context, w io.Writer, port int) error {
	pids, err := previewd.KillByPort(ctx, port)
	if err != nil {
		return err
	}
	if pids == nil {
		pids = []int{}
	}
	printJSON(w, map[string]any{"port": port, "pids": pids})
	return nil
}

func (c command) CleanupLocks(w io.Writer, root string, f PackageDirFlags) error {
	dir := previewd.LaunchConfig{WorkingDir: f.Dir}.ResolveDir(root)
	removed, err := previewd.CleanupLocks(dir)
	if removed == nil {
		removed = []string{}
	}
	printJSON(w, map[string]any{"removed": removed})
	return err
}

func (c command) SetPort(w io.Writer, root string, port int, f PackageDirFlags) error {
	dir := previewd.LaunchConfig{WorkingDir: f.Dir}.ResolveDir(root)
	if err := previewd.SetDevPort(dir, port); err != nil {
		return fmt.Errorf("set dev port in %s: %w", dir, err)
	}
	printJSON(w, map[string]any{"ok": true, "port": port, "dir": dir})
	return nil
}
