package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loykin/previewd/internal/diagnosis"
)

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	printJSON(&buf, map[string]int{"port": 3000})
	if got := buf.String(); got != "{\n  \"port\": 3000\n}\n" {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestProjectArg(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	for _, args := range [][]string{nil, {""}, {"  "}} {
		got, err := projectArg(args)
		if err != nil || got != wd {
			t.Fatalf("projectArg(%q) = %q, %v; want %q", args, got, err, wd)
		}
	}
	got, err := projectArg([]string{"sub/app"})
	if err != nil || got != filepath.Join(wd, "sub", "app") {
		t.Fatalf("relative arg resolved to %q, %v", got, err)
	}
}

func TestPortArg(t *testing.T) {
	cases := map[string]bool{
		"3000":  true,
		" 80 ":  true,
		"65535": true,
		"0":     false,
		"-1":    false,
		"65536": false,
		"http":  false,
		"":      false,
	}
	for in, ok := range cases {
		_, err := portArg(in)
		if (err == nil) != ok {
			t.Errorf("portArg(%q) err=%v, want ok=%v", in, err, ok)
		}
	}
}

func TestReportDiagnostic(t *testing.T) {
	var buf bytes.Buffer
	plain := errors.New("boom")
	if err := reportDiagnostic(&buf, plain); err != plain || buf.Len() != 0 {
		t.Fatalf("plain errors should pass through untouched: %v %q", err, buf.String())
	}

	derr := diagnosis.Errorf(diagnosis.ReasonPortMismatch, "server listens on %d, expected %d", 5173, 3000)
	err := reportDiagnostic(&buf, derr)
	if err == nil || !strings.HasPrefix(err.Error(), string(diagnosis.ReasonPortMismatch)+": ") {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), `"reasonCode": "PortMismatch"`) {
		t.Fatalf("diagnostic not printed: %s", buf.String())
	}
}
