package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/loykin/previewd/internal/diagnosis"
	"github.com/loykin/previewd/internal/inference"
	"github.com/loykin/previewd/internal/manager"
)

// Client provides HTTP client functionality to communicate with the previewd daemon
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8080/api",
		Timeout: 30 * time.Second,
	}
}

// New creates a new previewd API client
func New(config Config) *Client {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/servers", nil)
	if err != nil {
		c.logger.Debug("Failed to create request for reachability check", "error", err)
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	ok := resp.StatusCode == http.StatusOK
	c.logger.Debug("Daemon reachability check", "reachable", ok, "status", resp.StatusCode)
	return ok
}

// Detect returns the inferred launch config for the project at path, or nil
// when no package manager can run it.
func (c *Client) Detect(ctx context.Context, path, dir string) (*inference.LaunchConfig, error) {
	q := url.Values{"path": {path}}
	if dir != "" {
		q.Set("dir", dir)
	}
	var out detectResponse
	if err := c.do(ctx, http.MethodGet, "/detect", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Config, nil
}

// Suitability runs the static previewability scan on path.
func (c *Client) Suitability(ctx context.Context, path string) (inference.Suitability, error) {
	var out inference.Suitability
	err := c.do(ctx, http.MethodGet, "/suitability", url.Values{"path": {path}}, nil, &out)
	return out, err
}

// ProjectFile returns the launch hints declared in the project's AGENTS.md.
func (c *Client) ProjectFile(ctx context.Context, path string) (inference.ProjectFile, error) {
	var out inference.ProjectFile
	err := c.do(ctx, http.MethodGet, "/project-file", url.Values{"path": {path}}, nil, &out)
	return out, err
}

// Start launches a dev server. Launch failures come back as *diagnosis.Error.
func (c *Client) Start(ctx context.Context, req StartRequest) (manager.ServerState, error) {
	c.logger.Debug("Starting dev server", "path", req.Path, "dir", req.Dir)
	var out manager.ServerState
	if err := c.do(ctx, http.MethodPost, "/start", nil, req, &out); err != nil {
		return out, err
	}
	c.logger.Debug("Dev server started", "path", req.Path, "pid", out.PID)
	return out, nil
}

// Stop terminates the dev server of path. Unknown paths are not an error.
func (c *Client) Stop(ctx context.Context, path string) (manager.ServerState, error) {
	c.logger.Debug("Stopping dev server", "path", path)
	var out manager.ServerState
	err := c.do(ctx, http.MethodPost, "/stop", nil, pathRequest{Path: path}, &out)
	return out, err
}

// State returns the live state of the dev server of path.
func (c *Client) State(ctx context.Context, path string) (manager.ServerState, error) {
	var out manager.ServerState
	err := c.do(ctx, http.MethodGet, "/state", url.Values{"path": {path}}, nil, &out)
	return out, err
}

// Servers lists the project paths the daemon tracks.
func (c *Client) Servers(ctx context.Context) ([]string, error) {
	var out []string
	err := c.do(ctx, http.MethodGet, "/servers", nil, nil, &out)
	return out, err
}

// KillPort kills whatever listens on port and returns the pids signalled.
func (c *Client) KillPort(ctx context.Context, port int) ([]int, error) {
	c.logger.Debug("Killing listeners", "port", port)
	var out killPortResponse
	if err := c.do(ctx, http.MethodPost, "/kill-port", nil, killPortRequest{Port: port}, &out); err != nil {
		return nil, err
	}
	return out.PIDs, nil
}

// CleanupLocks removes stale dev-server lock files in the package dir.
func (c *Client) CleanupLocks(ctx context.Context, path, dir string) ([]string, error) {
	var out cleanupLocksResponse
	if err := c.do(ctx, http.MethodPost, "/cleanup-locks", nil, pathRequest{Path: path, Dir: dir}, &out); err != nil {
		return nil, err
	}
	return out.Removed, nil
}

// SetDevPort rewrites the port flag of the package's dev script.
func (c *Client) SetDevPort(ctx context.Context, path, dir string, port int) error {
	c.logger.Debug("Rewriting dev script port", "path", path, "dir", dir, "port", port)
	return c.do(ctx, http.MethodPost, "/dev-port", nil, devPortRequest{Path: path, Dir: dir, Port: port}, nil)
}

// Diagnose explains why the dev server of path is not serving. dir selects
// the package of a monorepo and port overrides the expected port; zero
// values leave the daemon to work them out.
func (c *Client) Diagnose(ctx context.Context, path, dir string, port int) (diagnosis.Report, error) {
	q := url.Values{"path": {path}}
	if dir != "" {
		q.Set("dir", dir)
	}
	if port > 0 {
		q.Set("port", strconv.Itoa(port))
	}
	var out diagnosis.Report
	err := c.do(ctx, http.MethodGet, "/diagnose", q, nil, &out)
	return out, err
}

// do performs an HTTP request with common error handling and decodes a 200
// body into out when out is not nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", u)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.handleErrorResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse turns non-200 answers into errors. Diagnostics are
// returned as *diagnosis.Error.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		c.logger.Error("Failed to decode error response", "status", resp.StatusCode)
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if errorResp.Diagnostic != nil && errorResp.Diagnostic.ReasonCode.Valid() {
		c.logger.Debug("API returned diagnostic", "reason", errorResp.Diagnostic.ReasonCode)
		return &diagnosis.Error{Diagnostic: *errorResp.Diagnostic}
	}
	if d, ok := diagnosis.Parse(errorResp.Error); ok {
		return &diagnosis.Error{Diagnostic: *d}
	}

	c.logger.Error("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return fmt.Errorf("API error: %s", errorResp.Error)
}
