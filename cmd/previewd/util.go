package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/loykin/previewd/internal/diagnosis"
)

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}

// projectArg returns the absolute project root named by args[0], or the
// current directory.
func projectArg(args []string) (string, error) {
	p := "."
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		p = args[0]
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", p, err)
	}
	return abs, nil
}

func portArg(s string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || p <= 0 || p > 65535 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return p, nil
}

// reportDiagnostic prints a structured diagnostic and returns a short error
// for the exit status. Other errors pass through.
func reportDiagnostic(w io.Writer, err error) error {
	d, ok := diagnosis.From(err)
	if !ok {
		return err
	}
	printJSON(w, d)
	return fmt.Errorf("%s: %s", d.ReasonCode, d.Message)
}
