package diagnosis

import (
	"reflect"
	"testing"
)

func TestPortCandidatesNewestFirst(t *testing.T) {
	lines := []string{
		"[10:00:00] server on port 4000",
		"[10:00:01] built in 1200 ms",
		"[10:00:02] Local: http://127.0.0.1:5173/",
		"[10:00:03] Network: http://0.0.0.0:5173/",
	}
	got := portCandidates(lines, 0, 0)
	want := []int{5173, 4000}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("candidates = %v, want %v", got, want)
	}
	if got := portCandidates(lines, 2, 0); !reflect.DeepEqual(got, []int{5173}) {
		t.Fatalf("depth-limited candidates = %v", got)
	}
	if got := portCandidates(lines, 0, 5173); !reflect.DeepEqual(got, []int{4000}) {
		t.Fatalf("skip not honoured: %v", got)
	}
}

func TestPortCandidatesEveryRunOnLine(t *testing.T) {
	cases := []struct {
		line string
		skip int
		want []int
	}{
		{"server listening on port 5173 (pid 48213)", 0, []int{48213, 5173}},
		{"port 3000 in use, using port 5173 instead of 3000", 3000, []int{5173}},
		{"Local: http://127.0.0.1:4000/ and http://0.0.0.0:4001/", 0, []int{4001, 4000}},
		{"port 70000 busy, falling back to 8080", 0, []int{8080}},
	}
	for _, tc := range cases {
		if got := portCandidates([]string{tc.line}, 0, tc.skip); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("portCandidates(%q, skip=%d) = %v, want %v", tc.line, tc.skip, got, tc.want)
		}
	}
}

func TestPortCandidatesRejectsOutOfRange(t *testing.T) {
	got := portCandidates([]string{"port 99999"}, 0, 0)
	if len(got) != 0 {
		t.Fatalf("out of range port accepted: %v", got)
	}
}

func TestURLPort(t *testing.T) {
	cases := map[string]int{
		"http://localhost:5173":      5173,
		"https://[::1]:3000/app":     3000,
		"http://[::1]":               0,
		"http://localhost":           0,
		"https://127.0.0.1:8443/x/y": 8443,
	}
	for in, want := range cases {
		if got := urlPort(in); got != want {
			t.Fatalf("urlPort(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestURLLiteralsTrimmed(t *testing.T) {
	got := urlLiterals([]string{"see http://localhost:3000/.", "then https://localhost:3443/"})
	want := []string{"https://localhost:3443", "http://localhost:3000"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("literals = %v, want %v", got, want)
	}
}

func TestFailureMarkers(t *testing.T) {
	if !hasFailureMarker([]string{"Error: Cannot find module 'vite'"}) {
		t.Fatal("expected marker in Error line")
	}
	if !hasFailureMarker([]string{"spawn pnpm ENOENT"}) {
		t.Fatal("expected ENOENT marker")
	}
	if hasFailureMarker([]string{"ready in 300ms", "Server stopped"}) {
		t.Fatal("unexpected marker")
	}
}
