package diagnosis

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/loykin/previewd/internal/detector"
	"github.com/loykin/previewd/internal/probe"
)

const (
	DefaultScanDepth     = 50
	DefaultTailSize      = 20
	DefaultMaxCandidates = 4
)

// Input is everything the engine needs to judge one tracked server.
type Input struct {
	// Process reports child liveness; nil when no child exists.
	Process      detector.Detector
	ExpectedPort int
	Logs         []string
	Command      string
	Cwd          string
	// Stopped is set after an explicit stop so earlier output is not
	// mistaken for a crash.
	Stopped bool
}

// Result is the engine's verdict.
type Result struct {
	Running    bool
	ActivePort int
	Diagnostic *Diagnostic
}

// Engine correlates liveness, reachability and captured output.
type Engine struct {
	Prober        probe.Prober
	ScanDepth     int
	TailSize      int
	MaxCandidates int
}

// NewEngine returns an Engine with default limits. A nil prober selects
// probe.TCPProber with its default timeout.
func NewEngine(p probe.Prober) *Engine {
	if p == nil {
		p = probe.TCPProber{}
	}
	return &Engine{
		Prober:        p,
		ScanDepth:     DefaultScanDepth,
		TailSize:      DefaultTailSize,
		MaxCandidates: DefaultMaxCandidates,
	}
}

// Evaluate computes running state and, when something is wrong, a diagnostic.
// It only reads its input and never fails.
func (e *Engine) Evaluate(ctx context.Context, in Input) Result {
	alive := false
	if in.Process != nil {
		ok, err := in.Process.Alive()
		alive = err == nil && ok
	}
	expectedOK := in.ExpectedPort > 0 && probe.Reachable(ctx, e.Prober, in.ExpectedPort)

	var observed, guessed int
	if alive && !expectedOK {
		cands := portCandidates(in.Logs, e.ScanDepth, in.ExpectedPort)
		if len(cands) > 0 {
			guessed = cands[0]
		}
		for i, p := range cands {
			if e.MaxCandidates > 0 && i >= e.MaxCandidates {
				break
			}
			if probe.Reachable(ctx, e.Prober, p) {
				observed = p
				break
			}
		}
	}

	res := Result{Running: alive && (expectedOK || observed > 0)}
	switch {
	case expectedOK:
		res.ActivePort = in.ExpectedPort
	case observed > 0:
		res.ActivePort = observed
	default:
		res.ActivePort = in.ExpectedPort
	}
	res.Diagnostic = e.decide(in, alive, expectedOK, observed, guessed)
	return res
}

func (e *Engine) decide(in Input, alive, expectedOK bool, observed, guessed int) *Diagnostic {
	d := &Diagnostic{
		ExpectedPort: in.ExpectedPort,
		Command:      in.Command,
		Cwd:          in.Cwd,
		LogsTail:     tail(in.Logs, e.TailSize),
	}
	switch {
	case alive && !expectedOK && observed > 0 && in.ExpectedPort > 0:
		d.ReasonCode = ReasonPortMismatch
		d.ObservedPort = observed
		d.Message = fmt.Sprintf("Dev server is listening on port %d, not the expected port %d.", observed, in.ExpectedPort)
		d.URLAttempts = attempts(observed)
		d.PreferredURL = preferredHTTP(in.Logs, observed)
	case alive && !expectedOK && observed == 0:
		port := in.ExpectedPort
		if port == 0 {
			port = guessed
		}
		if mentionsHTTPS(in.Logs) {
			d.ReasonCode = ReasonProtocolMismatch
			d.Message = "Dev server appears to serve HTTPS; open the preview with an https:// URL."
			d.PreferredURL = preferredHTTPS(in.Logs, port)
			if port == 0 {
				port = urlPort(d.PreferredURL)
			}
			d.URLAttempts = attempts(port)
		} else {
			d.ReasonCode = ReasonStartupTimeout
			if port > 0 {
				d.Message = fmt.Sprintf("Dev server is running but nothing answers on port %d yet.", port)
			} else {
				d.Message = "Dev server is running but no listening port could be confirmed yet."
			}
			d.URLAttempts = attempts(port)
			d.PreferredURL = localURL("http", port)
		}
	case !alive && !in.Stopped && len(in.Logs) > 0 && hasFailureMarker(in.Logs):
		d.ReasonCode = ReasonCommandFailed
		d.Message = fmt.Sprintf("`%s` exited with an error in %s.", in.Command, in.Cwd)
		d.URLAttempts = attempts(in.ExpectedPort)
		d.PreferredURL = localURL("http", in.ExpectedPort)
	default:
		return nil
	}
	return d
}

func attempts(port int) []string {
	if u := probe.CandidateURLs(port); u != nil {
		return u
	}
	return []string{}
}

func localURL(scheme string, port int) string {
	if port <= 0 {
		return ""
	}
	return scheme + "://localhost:" + strconv.Itoa(port)
}

// preferredHTTP prefers the server's own announced URL for port.
func preferredHTTP(lines []string, port int) string {
	for _, u := range urlLiterals(lines) {
		if urlPort(u) == port {
			return u
		}
	}
	return localURL("http", port)
}

func preferredHTTPS(lines []string, port int) string {
	for _, u := range urlLiterals(lines) {
		if strings.HasPrefix(u, "https://") && (port == 0 || urlPort(u) == port) {
			return u
		}
	}
	return localURL("https", port)
}

func tail(lines []string, n int) []string {
	if n <= 0 || n > len(lines) {
		n = len(lines)
	}
	out := make([]string, n)
	copy(out, lines[len(lines)-n:])
	return out
}
