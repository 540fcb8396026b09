package inference

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var (
	ErrNoManifest      = errors.New("package.json not found")
	ErrNoDevScript     = errors.New("package.json has no dev script")
	ErrEmptyScript     = errors.New("dev script is empty")
	ErrPortFlagNoValue = errors.New("dev script has a port flag without a value")
	ErrNoPortFlag      = errors.New("dev script does not define an explicit port flag")
	ErrInvalidPort     = errors.New("port must be between 1 and 65535")
)

const defaultPort = 3000

// ParseExplicitPort returns the first valid port given by -p, --port,
// --port=N or -pN in script.
func ParseExplicitPort(script string) (int, bool) {
	toks := fields(script)
	for i, tk := range toks {
		s := tk.text
		switch {
		case s == "-p" || s == "--port":
			if i+1 < len(toks) {
				if p, ok := parsePort(toks[i+1].text); ok {
					return p, true
				}
			}
		case strings.HasPrefix(s, "--port="):
			if p, ok := parsePort(strings.TrimPrefix(s, "--port=")); ok {
				return p, true
			}
		case strings.HasPrefix(s, "-p") && len(s) > 2:
			if p, ok := parsePort(s[2:]); ok {
				return p, true
			}
		}
	}
	return 0, false
}

// InferDefaultPort guesses the port a framework's dev server binds when the
// script does not say.
func InferDefaultPort(script string) int {
	lower := strings.ToLower(script)
	switch {
	case strings.Contains(lower, "next"):
		return 3000
	case strings.Contains(lower, "vite"):
		return 5173
	case strings.Contains(lower, "remix"):
		return 3000
	}
	return defaultPort
}

// ScriptPort is the explicit port of script, or its inferred default.
func ScriptPort(script string) int {
	if p, ok := ParseExplicitPort(script); ok {
		return p
	}
	return InferDefaultPort(script)
}

// UpdateExplicitPort rewrites the first port flag in script to port,
// keeping the flag's spelling and the rest of the script untouched.
func UpdateExplicitPort(script string, port int) (string, error) {
	if port <= 0 || port > 65535 {
		return "", ErrInvalidPort
	}
	toks := fields(script)
	if len(toks) == 0 {
		return "", ErrEmptyScript
	}
	ps := strconv.Itoa(port)
	for i, tk := range toks {
		s := tk.text
		switch {
		case s == "-p" || s == "--port":
			if i+1 >= len(toks) {
				return "", ErrPortFlagNoValue
			}
			return splice(script, toks[i+1], ps), nil
		case strings.HasPrefix(s, "--port="):
			return splice(script, tk, "--port="+ps), nil
		case strings.HasPrefix(s, "-p") && len(s) > 2 && allDigits(s[2:]):
			return splice(script, tk, "-p"+ps), nil
		}
	}
	return "", ErrNoPortFlag
}

// ReadDevScript returns scripts.dev from dir/package.json.
func ReadDevScript(dir string) (string, error) {
	b, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoManifest
		}
		return "", err
	}
	dev := gjson.GetBytes(b, "scripts.dev")
	if !dev.Exists() || strings.TrimSpace(dev.String()) == "" {
		return "", ErrNoDevScript
	}
	return dev.String(), nil
}

// WriteDevScriptPort rewrites the port flag of scripts.dev in
// dir/package.json. Everything else in the file is preserved byte for byte.
func WriteDevScriptPort(dir string, port int) error {
	path := filepath.Join(dir, "package.json")
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNoManifest
		}
		return err
	}
	dev := gjson.GetBytes(b, "scripts.dev")
	if !dev.Exists() {
		return ErrNoDevScript
	}
	updated, err := UpdateExplicitPort(dev.String(), port)
	if err != nil {
		return err
	}
	out, err := sjson.SetBytes(b, "scripts.dev", updated)
	if err != nil {
		return fmt.Errorf("rewrite %s: %w", path, err)
	}
	st, err := os.Stat(path)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, st.Mode().Perm())
}

type token struct {
	text       string
	start, end int
}

// fields splits s on whitespace and remembers byte offsets.
func fields(s string) []token {
	var out []token
	start := -1
	for i, r := range s {
		if unicode.IsSpace(r) {
			if start >= 0 {
				out = append(out, token{text: s[start:i], start: start, end: i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, token{text: s[start:], start: start, end: len(s)})
	}
	return out
}

func splice(s string, tk token, repl string) string {
	return s[:tk.start] + repl + s[tk.end:]
}

func parsePort(s string) (int, bool) {
	if !allDigits(s) {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil || v == 0 {
		return 0, false
	}
	return int(v), true
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
