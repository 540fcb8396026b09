package diagnosis

import (
	"context"
	"strings"
	"testing"

	"github.com/loykin/previewd/internal/detector"
)

// fakeProber treats a fixed set of ports as reachable on every host.
type fakeProber map[int]bool

func (f fakeProber) Probe(_ context.Context, _ string, port int) bool { return f[port] }

func evaluate(p fakeProber, in Input) Result {
	return NewEngine(p).Evaluate(context.Background(), in)
}

func TestHealthyExpectedPort(t *testing.T) {
	res := evaluate(fakeProber{3000: true}, Input{
		Process:      detector.Static(true),
		ExpectedPort: 3000,
		Logs:         []string{"[10:00:00] ready"},
	})
	if !res.Running || res.ActivePort != 3000 || res.Diagnostic != nil {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestPortMismatch(t *testing.T) {
	res := evaluate(fakeProber{5173: true}, Input{
		Process:      detector.Static(true),
		ExpectedPort: 3000,
		Logs: []string{
			"[10:00:00] > bun run dev",
			"[10:00:01]   VITE v5.0.0  ready in 312 ms",
			"[10:00:01]   ➜  Local:   http://localhost:5173/",
		},
		Command: "bun run dev",
		Cwd:     "/work/app",
	})
	d := res.Diagnostic
	if d == nil || d.ReasonCode != ReasonPortMismatch {
		t.Fatalf("expected PortMismatch, got %+v", d)
	}
	if d.ObservedPort != 5173 || d.ExpectedPort != 3000 {
		t.Fatalf("ports = %d/%d", d.ObservedPort, d.ExpectedPort)
	}
	if d.PreferredURL != "http://localhost:5173" {
		t.Fatalf("preferred = %q", d.PreferredURL)
	}
	if len(d.URLAttempts) != 6 || !contains(d.URLAttempts, "http://localhost:5173") {
		t.Fatalf("attempts = %v", d.URLAttempts)
	}
	if !res.Running || res.ActivePort != 5173 {
		t.Fatalf("expected running on 5173, got %+v", res)
	}
}

func TestPortMismatchFromRotatedPort(t *testing.T) {
	res := evaluate(fakeProber{3001: true}, Input{
		Process:      detector.Static(true),
		ExpectedPort: 3000,
		Logs:         []string{"[10:00:00] Port 3000 is in use, trying 3001 instead."},
	})
	if res.Diagnostic == nil || res.Diagnostic.ObservedPort != 3001 {
		t.Fatalf("expected observed 3001, got %+v", res.Diagnostic)
	}
	if res.Diagnostic.PreferredURL != "http://localhost:3001" {
		t.Fatalf("preferred = %q", res.Diagnostic.PreferredURL)
	}
}

func TestPortMismatchFromMultiNumberLine(t *testing.T) {
	for _, line := range []string{
		"[10:00:00] server listening on port 5173 (pid 48213)",
		"[10:00:00] port 3000 in use, using port 5173 instead of 3000",
	} {
		res := evaluate(fakeProber{5173: true}, Input{
			Process:      detector.Static(true),
			ExpectedPort: 3000,
			Logs:         []string{line},
		})
		d := res.Diagnostic
		if d == nil || d.ReasonCode != ReasonPortMismatch || d.ObservedPort != 5173 {
			t.Fatalf("%q: expected PortMismatch on 5173, got %+v", line, d)
		}
		if !res.Running || res.ActivePort != 5173 {
			t.Fatalf("%q: expected running on 5173, got %+v", line, res)
		}
	}
}

func TestColoredOutputIsParsed(t *testing.T) {
	line := "[10:00:00]   \x1b[32m➜\x1b[39m  \x1b[1mLocal\x1b[22m:   \x1b[36mhttp://localhost:\x1b[1m5174\x1b[22m/\x1b[39m"
	res := evaluate(fakeProber{5174: true}, Input{
		Process:      detector.Static(true),
		ExpectedPort: 5173,
		Logs:         []string{line},
	})
	if res.Diagnostic == nil || res.Diagnostic.ObservedPort != 5174 {
		t.Fatalf("expected observed 5174, got %+v", res.Diagnostic)
	}
	if res.Diagnostic.PreferredURL != "http://localhost:5174" {
		t.Fatalf("preferred = %q", res.Diagnostic.PreferredURL)
	}
}

func TestUnreachableObservedPortIsNotTrusted(t *testing.T) {
	res := evaluate(fakeProber{}, Input{
		Process:      detector.Static(true),
		ExpectedPort: 3000,
		Logs:         []string{"[10:00:00] Local: http://localhost:5173"},
	})
	d := res.Diagnostic
	if d == nil || d.ReasonCode != ReasonStartupTimeout {
		t.Fatalf("expected StartupTimeout, got %+v", d)
	}
	if d.ObservedPort != 0 {
		t.Fatalf("unconfirmed port leaked: %d", d.ObservedPort)
	}
	if d.PreferredURL != "http://localhost:3000" || len(d.URLAttempts) != 6 {
		t.Fatalf("unexpected urls: %q %v", d.PreferredURL, d.URLAttempts)
	}
	if res.Running {
		t.Fatalf("must not be running when no port is reachable")
	}
}

func TestTimestampDigitsIgnored(t *testing.T) {
	res := evaluate(fakeProber{12: true, 30: true, 45: true}, Input{
		Process:      detector.Static(true),
		ExpectedPort: 3000,
		Logs:         []string{"[12:30:45] compiling port 3000"},
	})
	if res.Running {
		t.Fatalf("timestamp digits were treated as a port: %+v", res)
	}
}

func TestProtocolMismatch(t *testing.T) {
	res := evaluate(fakeProber{}, Input{
		Process:      detector.Static(true),
		ExpectedPort: 3000,
		Logs:         []string{"[10:00:00] - Local: https://localhost:3000"},
	})
	d := res.Diagnostic
	if d == nil || d.ReasonCode != ReasonProtocolMismatch {
		t.Fatalf("expected ProtocolMismatch, got %+v", d)
	}
	if d.PreferredURL != "https://localhost:3000" {
		t.Fatalf("preferred = %q", d.PreferredURL)
	}
	if !contains(d.URLAttempts, "https://127.0.0.1:3000") {
		t.Fatalf("attempts = %v", d.URLAttempts)
	}
}

func TestCommandFailed(t *testing.T) {
	res := evaluate(fakeProber{}, Input{
		Process:      detector.Static(false),
		ExpectedPort: 3000,
		Logs:         []string{"[10:00:00] > bun run dev", "[10:00:00] sh: bun: command not found"},
		Command:      "bun run dev",
		Cwd:          "/work/app",
	})
	d := res.Diagnostic
	if d == nil || d.ReasonCode != ReasonCommandFailed {
		t.Fatalf("expected CommandFailed, got %+v", d)
	}
	if d.Command != "bun run dev" || d.Cwd != "/work/app" {
		t.Fatalf("command/cwd = %q %q", d.Command, d.Cwd)
	}
	if !strings.Contains(d.Message, "bun run dev") || len(d.LogsTail) != 2 {
		t.Fatalf("unexpected diagnostic: %+v", d)
	}
}

func TestStoppedServerHasNoDiagnostic(t *testing.T) {
	res := evaluate(fakeProber{}, Input{
		Process: nil,
		Logs:    []string{"[10:00:00] error: something", "[10:00:05] Server stopped"},
		Stopped: true,
	})
	if res.Running || res.Diagnostic != nil {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestDeadProcessWithForeignListener(t *testing.T) {
	res := evaluate(fakeProber{3000: true}, Input{
		Process:      detector.Static(false),
		ExpectedPort: 3000,
		Logs:         []string{"[10:00:00] ready"},
	})
	if res.Running {
		t.Fatalf("a dead child must never be reported running")
	}
	if res.Diagnostic != nil {
		t.Fatalf("unexpected diagnostic: %+v", res.Diagnostic)
	}
}

func TestObservedPortWithoutExpectation(t *testing.T) {
	res := evaluate(fakeProber{4321: true}, Input{
		Process: detector.Static(true),
		Logs:    []string{"[10:00:00] listening on http://127.0.0.1:4321"},
	})
	if !res.Running || res.ActivePort != 4321 || res.Diagnostic != nil {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestNeverStarted(t *testing.T) {
	res := evaluate(fakeProber{}, Input{})
	if res.Running || res.ActivePort != 0 || res.Diagnostic != nil {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestLogsTailIsBounded(t *testing.T) {
	logs := make([]string, 0, 60)
	for i := 0; i < 60; i++ {
		logs = append(logs, "[10:00:00] failed step")
	}
	res := evaluate(fakeProber{}, Input{Process: detector.Static(false), Logs: logs})
	if res.Diagnostic == nil || len(res.Diagnostic.LogsTail) != DefaultTailSize {
		t.Fatalf("unexpected tail: %+v", res.Diagnostic)
	}
	if res.Diagnostic.URLAttempts == nil {
		t.Fatalf("url attempts must never be nil")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
