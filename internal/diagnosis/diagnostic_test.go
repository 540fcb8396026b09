package diagnosis

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func sample() Diagnostic {
	return Diagnostic{
		ReasonCode:   ReasonPortMismatch,
		Message:      "Dev server is listening on port 5173, not the expected port 3000.",
		ExpectedPort: 3000,
		ObservedPort: 5173,
		Command:      "bun run dev",
		Cwd:          "/work/app",
		URLAttempts:  []string{"http://localhost:5173"},
		PreferredURL: "http://localhost:5173",
		LogsTail:     []string{"[10:00:00] Local: http://localhost:5173/", `quote " and backslash \`},
	}
}

func TestErrorRoundTrip(t *testing.T) {
	want := sample()
	err := &Error{Diagnostic: want}
	got, ok := Parse(err.Error())
	if !ok {
		t.Fatalf("parse failed for %q", err.Error())
	}
	if !reflect.DeepEqual(*got, want) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", *got, want)
	}
}

func TestParseWrappedText(t *testing.T) {
	inner := &Error{Diagnostic: sample()}
	wrapped := fmt.Errorf("start /work/app: %w", inner)

	got, ok := Parse(wrapped.Error())
	if !ok || got.ReasonCode != ReasonPortMismatch {
		t.Fatalf("expected to parse wrapped text, got %+v %v", got, ok)
	}

	// From prefers the error chain
	d, ok := From(wrapped)
	if !ok || d.ObservedPort != 5173 {
		t.Fatalf("From = %+v %v", d, ok)
	}

	// and falls back to the message when the chain was lost
	flat := errors.New("API error: " + inner.Error())
	d, ok = From(flat)
	if !ok || d.Cwd != "/work/app" {
		t.Fatalf("From(flat) = %+v %v", d, ok)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	cases := []string{
		"",
		"plain failure",
		errorPrefix + "{not json",
		errorPrefix + `{"reasonCode":"Bogus","message":"x"}`,
		errorPrefix + `{"message":"no code"}`,
	}
	for _, c := range cases {
		if d, ok := Parse(c); ok {
			t.Fatalf("Parse(%q) = %+v, want failure", c, d)
		}
	}
	if _, ok := From(nil); ok {
		t.Fatalf("From(nil) must fail")
	}
}

func TestErrorfAlwaysEncodesLists(t *testing.T) {
	err := Errorf(ReasonMonorepoWrongCwd, "working directory %s does not exist", "/x/apps/web")
	var raw map[string]any
	if err := json.Unmarshal([]byte(err.Error()[len(errorPrefix):]), &raw); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if _, ok := raw["urlAttempts"].([]any); !ok {
		t.Fatalf("urlAttempts must encode as a list: %v", raw["urlAttempts"])
	}
	if raw["reasonCode"] != "MonorepoWrongCwd" {
		t.Fatalf("reasonCode = %v", raw["reasonCode"])
	}
}

func TestReasonCodeJSON(t *testing.T) {
	var d Diagnostic
	if err := json.Unmarshal([]byte(`{"reasonCode":"NotPreviewable","message":"m"}`), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.ReasonCode != ReasonNotPreviewable {
		t.Fatalf("code = %q", d.ReasonCode)
	}
	if err := json.Unmarshal([]byte(`{"reasonCode":"Nope"}`), &d); err == nil {
		t.Fatalf("expected unknown code to fail")
	}
}
