package client

import (
	"github.com/loykin/previewd/internal/diagnosis"
	"github.com/loykin/previewd/internal/inference"
)

// StartRequest starts the project at Path. When Config is nil the daemon
// detects the launch configuration, pinned to Dir when set.
type StartRequest struct {
	Path   string                  `json:"path"`
	Dir    string                  `json:"dir,omitempty"`
	Config *inference.LaunchConfig `json:"config,omitempty"`
}

type pathRequest struct {
	Path string `json:"path"`
	Dir  string `json:"dir,omitempty"`
}

type devPortRequest struct {
	Path string `json:"path"`
	Dir  string `json:"dir,omitempty"`
	Port int    `json:"port"`
}

type killPortRequest struct {
	Port int `json:"port"`
}

type killPortResponse struct {
	Port int   `json:"port"`
	PIDs []int `json:"pids"`
}

type cleanupLocksResponse struct {
	Removed []string `json:"removed"`
}

type detectResponse struct {
	Config *inference.LaunchConfig `json:"config"`
}

// ErrorResponse represents an API error response. Diagnostic is set for 422
// answers.
type ErrorResponse struct {
	Error      string                `json:"error"`
	Diagnostic *diagnosis.Diagnostic `json:"diagnostic,omitempty"`
}
