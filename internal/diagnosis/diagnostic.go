package diagnosis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ReasonCode classifies why a dev server is not usable from a preview.
type ReasonCode string

const (
	ReasonMonorepoWrongCwd ReasonCode = "MonorepoWrongCwd"
	ReasonPortMismatch     ReasonCode = "PortMismatch"
	ReasonStartupTimeout   ReasonCode = "StartupTimeout"
	ReasonCommandFailed    ReasonCode = "CommandFailed"
	ReasonProtocolMismatch ReasonCode = "ProtocolMismatch"
	ReasonNotPreviewable   ReasonCode = "NotPreviewable"
)

// Valid reports whether r is one of the known reason codes.
func (r ReasonCode) Valid() bool {
	switch r {
	case ReasonMonorepoWrongCwd, ReasonPortMismatch, ReasonStartupTimeout,
		ReasonCommandFailed, ReasonProtocolMismatch, ReasonNotPreviewable:
		return true
	}
	return false
}

func (r *ReasonCode) UnmarshalText(b []byte) error {
	v := ReasonCode(b)
	if !v.Valid() {
		return fmt.Errorf("unknown reason code %q", string(b))
	}
	*r = v
	return nil
}

// Diagnostic is a structured explanation of a dev server problem, detailed
// enough for a UI to render and suggest a remediation.
type Diagnostic struct {
	ReasonCode    ReasonCode `json:"reasonCode"`
	Message       string     `json:"message"`
	ExpectedPort  int        `json:"expectedPort,omitempty"`
	ObservedPort  int        `json:"observedPort,omitempty"`
	Command       string     `json:"command,omitempty"`
	Cwd           string     `json:"cwd,omitempty"`
	SuggestedCwd  string     `json:"suggestedCwd,omitempty"`
	SuggestedDirs []string   `json:"suggestedDirs,omitempty"`
	URLAttempts   []string   `json:"urlAttempts"`
	PreferredURL  string     `json:"preferredUrl,omitempty"`
	LogsTail      []string   `json:"logsTail"`
}

const errorPrefix = "previewd-diagnostic: "

// Error carries a Diagnostic through error-returning APIs. Its text embeds
// the JSON payload so the structure survives transports that only keep the
// message.
type Error struct {
	Diagnostic Diagnostic
}

// Errorf builds an *Error with a formatted message.
func Errorf(code ReasonCode, format string, args ...any) *Error {
	return &Error{Diagnostic: Diagnostic{ReasonCode: code, Message: fmt.Sprintf(format, args...)}}
}

func (e *Error) Error() string {
	d := e.Diagnostic
	if d.URLAttempts == nil {
		d.URLAttempts = []string{}
	}
	if d.LogsTail == nil {
		d.LogsTail = []string{}
	}
	b, err := json.Marshal(d)
	if err != nil {
		return errorPrefix + string(d.ReasonCode) + ": " + d.Message
	}
	return errorPrefix + string(b)
}

// Parse recovers a Diagnostic from any text containing an Error's message,
// including messages wrapped with additional context.
func Parse(s string) (*Diagnostic, bool) {
	i := strings.Index(s, errorPrefix)
	if i < 0 {
		return nil, false
	}
	var d Diagnostic
	if err := json.NewDecoder(strings.NewReader(s[i+len(errorPrefix):])).Decode(&d); err != nil {
		return nil, false
	}
	if !d.ReasonCode.Valid() {
		return nil, false
	}
	return &d, true
}

// From extracts a Diagnostic from err, first through the error chain and
// then from the error text.
func From(err error) (*Diagnostic, bool) {
	if err == nil {
		return nil, false
	}
	var de *Error
	if errors.As(err, &de) {
		d := de.Diagnostic
		return &d, true
	}
	return Parse(err.Error())
}
