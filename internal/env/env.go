package env

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Var maps variable names to values.
type Var map[string]string

// Env composes the environment handed to a dev server.
type Env struct {
	Var  Var // configured overrides (K->V)
	base Var // cached process environment
}

func New() *Env {
	return &Env{Var: make(Var)}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	e.base = Parse(os.Environ())
}

// Set sets an override K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// Unset removes an override.
func (e *Env) Unset(k string) {
	if e.Var != nil {
		delete(e.Var, k)
	}
}

// Merge layers the base environment, the configured overrides and extra
// (a "K=V" slice) in that order, expands ${VAR} references against the
// composed map and returns a sorted "K=V" slice.
func (e *Env) Merge(extra []string) []string {
	if e.base == nil {
		e.FromOS()
	}
	m := make(Var, len(e.base)+len(e.Var)+len(extra))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.Var {
		if k != "" {
			m[k] = v
		}
	}
	for k, v := range Parse(extra) {
		m[k] = v
	}

	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	slices.Sort(out)
	return out
}

// Parse converts "K=V" pairs to a map, dropping malformed entries and empty
// keys.
func Parse(pairs []string) Var {
	m := make(Var, len(pairs))
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		m[k] = v
	}
	return m
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	for k, v := range m {
		s = strings.ReplaceAll(s, "${"+k+"}", v)
	}
	return s
}

// ExtraPathDirs are the places package managers commonly install to but
// which a GUI-launched parent often lacks on PATH. "~" is the home dir.
var ExtraPathDirs = []string{
	"/usr/local/bin",
	"/opt/homebrew/bin",
	"~/.bun/bin",
	"~/.volta/bin",
	"~/.local/share/pnpm",
	"~/Library/pnpm",
	"~/.yarn/bin",
	"~/.npm-global/bin",
	"/usr/bin",
	"/bin",
	"/usr/sbin",
	"/sbin",
}

// AugmentPath appends ExtraPathDirs missing from path. Existing entries keep
// their order and precedence.
func AugmentPath(path, home string) string {
	parts := filepath.SplitList(path)
	seen := make(map[string]bool, len(parts))
	for _, p := range parts {
		seen[p] = true
	}
	for _, d := range ExtraPathDirs {
		if strings.HasPrefix(d, "~/") {
			if home == "" {
				continue
			}
			d = filepath.Join(home, d[2:])
		}
		if seen[d] {
			continue
		}
		seen[d] = true
		parts = append(parts, d)
	}
	return strings.Join(parts, string(os.PathListSeparator))
}
