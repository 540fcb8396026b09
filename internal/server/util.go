package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/loykin/previewd/internal/diagnosis"
)

var (
	errPathRequired = errors.New("path required")
	errPathNotAbs   = errors.New("path must be an absolute path without traversal")
)

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	bp = strings.TrimRight(bp, "/")
	return bp
}

// projectPath validates a project root sent by a client. It must be absolute
// and already clean apart from trailing separators; the cleaned form is the
// supervisor key.
func projectPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", errPathRequired
	}
	if !filepath.IsAbs(p) {
		return "", errPathNotAbs
	}
	clean := filepath.Clean(p)
	trimmed := strings.TrimRight(p, string(filepath.Separator))
	if trimmed == "" {
		trimmed = p // keep root like "/" on Unix
	}
	if clean != p && clean != trimmed {
		return "", errPathNotAbs
	}
	return clean, nil
}

// relDir validates a working dir relative to the project root.
func relDir(d string) (string, bool) {
	d = strings.TrimSpace(d)
	if d == "" {
		return "", true
	}
	if filepath.IsAbs(d) || filepath.VolumeName(d) != "" {
		return "", false
	}
	clean := filepath.ToSlash(filepath.Clean(filepath.FromSlash(d)))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", false
	}
	return clean, true
}

type errorResp struct {
	Error      string                `json:"error"`
	Diagnostic *diagnosis.Diagnostic `json:"diagnostic,omitempty"`
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

// writeError sends diagnostics as 422 with the structured payload and
// everything else with the fallback status.
func writeError(c *gin.Context, fallback int, err error) {
	var de *diagnosis.Error
	if errors.As(err, &de) {
		d := de.Diagnostic
		if d.URLAttempts == nil {
			d.URLAttempts = []string{}
		}
		if d.LogsTail == nil {
			d.LogsTail = []string{}
		}
		writeJSON(c, http.StatusUnprocessableEntity, errorResp{Error: err.Error(), Diagnostic: &d})
		return
	}
	writeJSON(c, fallback, errorResp{Error: err.Error()})
}
