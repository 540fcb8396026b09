package inference

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
)

// PackageManager is a JavaScript package manager able to run a dev script.
type PackageManager string

const (
	Bun  PackageManager = "bun"
	Pnpm PackageManager = "pnpm"
	Yarn PackageManager = "yarn"
	Npm  PackageManager = "npm"
)

// lockfiles in priority order.
var lockfiles = []struct {
	name string
	pm   PackageManager
}{
	{"bun.lockb", Bun},
	{"bun.lock", Bun},
	{"pnpm-lock.yaml", Pnpm},
	{"yarn.lock", Yarn},
	{"package-lock.json", Npm},
}

// Known reports whether s names a supported package manager.
func Known(s string) (PackageManager, bool) {
	switch pm := PackageManager(strings.ToLower(strings.TrimSpace(s))); pm {
	case Bun, Pnpm, Yarn, Npm:
		return pm, true
	}
	return "", false
}

// DefaultArgs returns the arguments that run the dev script with pm.
func DefaultArgs(pm PackageManager) []string {
	if pm == Yarn {
		return []string{"dev"}
	}
	return []string{"run", "dev"}
}

// DetectManager walks upward from dir looking for a package.json
// "packageManager" field, then for a lockfile. The walk stops after
// boundary, or at the filesystem root when boundary is empty.
func DetectManager(dir, boundary string) (PackageManager, bool) {
	dir = filepath.Clean(dir)
	if boundary != "" {
		boundary = filepath.Clean(boundary)
	}
	for {
		if pm, ok := managerAt(dir); ok {
			return pm, true
		}
		if dir == boundary {
			return "", false
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

func managerAt(dir string) (PackageManager, bool) {
	if b, err := os.ReadFile(filepath.Join(dir, "package.json")); err == nil {
		if field := gjson.GetBytes(b, "packageManager").String(); field != "" {
			name, _, _ := strings.Cut(field, "@")
			if pm, ok := Known(name); ok {
				return pm, true
			}
		}
	}
	for _, lf := range lockfiles {
		if fileExists(filepath.Join(dir, lf.name)) {
			return lf.pm, true
		}
	}
	return "", false
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}

func dirExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && st.IsDir()
}
