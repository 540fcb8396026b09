package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/previewd/internal/inference"
	mng "github.com/loykin/previewd/internal/manager"
	"github.com/loykin/previewd/internal/ports"
)

// Router provides embeddable HTTP handlers for previewing dev servers.
// Endpoints, relative to basePath:
//
//	GET  /detect?path=&dir=     inferred launch config
//	GET  /suitability?path=     static previewability scan
//	GET  /project-file?path=    launch hints from AGENTS.md
//	POST /start                 body: {"path", "dir", "config"}
//	POST /stop                  body: {"path"}
//	GET  /state?path=           live server state
//	GET  /servers               tracked project paths
//	GET  /diagnose?path=&dir=&port=  likely cause and suggested fix
//	POST /kill-port             body: {"port"}
//	POST /cleanup-locks         body: {"path", "dir"}
//	POST /dev-port              body: {"path", "dir", "port"}
//
// Diagnostics are answered with 422 and {"error", "diagnostic"}.
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	mgr      *mng.Manager
	basePath string
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(mgr *mng.Manager, basePath string) *Router {
	return &Router{mgr: mgr, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	r.Register(g.Group(r.basePath))
	return g
}

// Register mounts the endpoints on an existing gin group.
func (r *Router) Register(group *gin.RouterGroup) {
	group.GET("/detect", r.handleDetect)
	group.GET("/suitability", r.handleSuitability)
	group.GET("/project-file", r.handleProjectFile)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.GET("/state", r.handleState)
	group.GET("/servers", r.handleServers)
	group.GET("/diagnose", r.handleDiagnose)
	group.POST("/kill-port", r.handleKillPort)
	group.POST("/cleanup-locks", r.handleCleanupLocks)
	group.POST("/dev-port", r.handleDevPort)
}

// NewServer binds addr and serves this router on it in the background.
func NewServer(addr, basePath string, mgr *mng.Manager) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	r := NewRouter(mgr, basePath)
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.Serve(ln) }()
	return server, nil
}

// --- Requests and responses ---

type okResp struct {
	OK bool `json:"ok"`
}

type pathReq struct {
	Path string `json:"path"`
	Dir  string `json:"dir,omitempty"`
}

// StartRequest starts the project at Path. Without Config the launch
// configuration is detected, optionally pinned to the package in Dir.
type StartRequest struct {
	Path   string                  `json:"path"`
	Dir    string                  `json:"dir,omitempty"`
	Config *inference.LaunchConfig `json:"config,omitempty"`
}

type DetectResponse struct {
	Config *inference.LaunchConfig `json:"config"`
}

type KillPortRequest struct {
	Port int `json:"port"`
}

type KillPortResponse struct {
	Port int   `json:"port"`
	PIDs []int `json:"pids"`
}

type CleanupLocksResponse struct {
	Removed []string `json:"removed"`
}

type DevPortRequest struct {
	Path string `json:"path"`
	Dir  string `json:"dir,omitempty"`
	Port int    `json:"port"`
}

// --- Handlers ---

func (r *Router) handleDetect(c *gin.Context) {
	root, err := projectPath(c.Query("path"))
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	dir, ok := relDir(c.Query("dir"))
	if !ok {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid dir: must be relative to path"})
		return
	}
	cfg, err := inference.Detect(root, dir)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	writeJSON(c, http.StatusOK, DetectResponse{Config: cfg})
}

func (r *Router) handleSuitability(c *gin.Context) {
	root, err := projectPath(c.Query("path"))
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	writeJSON(c, http.StatusOK, inference.ScanSuitability(root))
}

func (r *Router) handleProjectFile(c *gin.Context) {
	root, err := projectPath(c.Query("path"))
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	pf, err := inference.ReadProjectFile(root)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	writeJSON(c, http.StatusOK, pf)
}

func (r *Router) handleStart(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	root, err := projectPath(req.Path)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	dir, ok := relDir(req.Dir)
	if !ok {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid dir: must be relative to path"})
		return
	}

	var cfg inference.LaunchConfig
	switch {
	case req.Config != nil:
		cfg = req.Config.Clone()
		if cfg.WorkingDir == "" {
			cfg.WorkingDir = dir
		}
		if !validWorkingDir(cfg.WorkingDir) {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid config.workingDir"})
			return
		}
	default:
		detected, err := inference.Detect(root, dir)
		if err != nil {
			writeError(c, http.StatusInternalServerError, err)
			return
		}
		if detected != nil {
			cfg = *detected
		} else {
			// let the supervisor look for a package manager itself
			cfg.WorkingDir = dir
		}
	}

	ctx := c.Request.Context()
	if err := r.mgr.Start(ctx, root, cfg); err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	writeJSON(c, http.StatusOK, r.mgr.Query(ctx, root))
}

func (r *Router) handleStop(c *gin.Context) {
	var req pathReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	root, err := projectPath(req.Path)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	ctx := c.Request.Context()
	if err := r.mgr.Stop(ctx, root); err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	writeJSON(c, http.StatusOK, r.mgr.Query(ctx, root))
}

func (r *Router) handleState(c *gin.Context) {
	root, err := projectPath(c.Query("path"))
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	writeJSON(c, http.StatusOK, r.mgr.Query(c.Request.Context(), root))
}

func (r *Router) handleServers(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.mgr.Keys())
}

func (r *Router) handleDiagnose(c *gin.Context) {
	root, err := projectPath(c.Query("path"))
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	dir, ok := relDir(c.Query("dir"))
	if !ok {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid dir: must be relative to path"})
		return
	}
	port := 0
	if v := c.Query("port"); v != "" {
		port, err = strconv.Atoi(v)
		if err != nil || port < 1 || port > 65535 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid port: " + v})
			return
		}
	}
	writeJSON(c, http.StatusOK, r.mgr.Troubleshoot(c.Request.Context(), root, dir, port))
}

func (r *Router) handleKillPort(c *gin.Context) {
	var req KillPortRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	pids, err := ports.KillByPort(c.Request.Context(), req.Port)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, ports.ErrInvalidPort) {
			code = http.StatusBadRequest
		}
		writeError(c, code, err)
		return
	}
	if pids == nil {
		pids = []int{}
	}
	writeJSON(c, http.StatusOK, KillPortResponse{Port: req.Port, PIDs: pids})
}

func (r *Router) handleCleanupLocks(c *gin.Context) {
	var req pathReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	dir, err := r.packageDir(req.Path, req.Dir)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	removed, err := mng.CleanupLocks(dir)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	if removed == nil {
		removed = []string{}
	}
	writeJSON(c, http.StatusOK, CleanupLocksResponse{Removed: removed})
}

func (r *Router) handleDevPort(c *gin.Context) {
	var req DevPortRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	dir, err := r.packageDir(req.Path, req.Dir)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	if err := inference.WriteDevScriptPort(dir, req.Port); err != nil {
		writeError(c, devPortStatus(err), err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) packageDir(path, rel string) (string, error) {
	root, err := projectPath(path)
	if err != nil {
		return "", err
	}
	dir, ok := relDir(rel)
	if !ok {
		return "", errors.New("invalid dir: must be relative to path")
	}
	return inference.LaunchConfig{WorkingDir: dir}.ResolveDir(root), nil
}

func devPortStatus(err error) int {
	switch {
	case errors.Is(err, inference.ErrNoManifest), errors.Is(err, inference.ErrNoDevScript):
		return http.StatusNotFound
	case errors.Is(err, inference.ErrNoPortFlag),
		errors.Is(err, inference.ErrPortFlagNoValue),
		errors.Is(err, inference.ErrEmptyScript),
		errors.Is(err, inference.ErrInvalidPort):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// validWorkingDir accepts clean absolute paths and relative paths that stay
// below the project root.
func validWorkingDir(d string) bool {
	if d == "" {
		return true
	}
	if filepath.IsAbs(d) {
		_, err := projectPath(d)
		return err == nil
	}
	_, ok := relDir(d)
	return ok
}
