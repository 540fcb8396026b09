package env

import (
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func TestMergeOrderAndExpansion(t *testing.T) {
	e := New()
	e.base = Var{"HOME": "/home/dev", "PORT": "1"}
	e.Set("PORT", "2")
	e.Set("CACHE", "${HOME}/.cache")
	e.Set("", "ignored")

	out := e.Merge([]string{"PORT=5173", "bad", "=x"})
	want := []string{"CACHE=/home/dev/.cache", "HOME=/home/dev", "PORT=5173"}
	if !slices.Equal(out, want) {
		t.Fatalf("Merge = %v, want %v", out, want)
	}

	e.Unset("CACHE")
	if slices.Contains(e.Merge(nil), "CACHE=/home/dev/.cache") {
		t.Fatalf("unset override still present")
	}
}

func TestMergeUsesOSEnv(t *testing.T) {
	t.Setenv("PREVIEWD_ENV_TEST", "yes")
	if !slices.Contains(New().Merge(nil), "PREVIEWD_ENV_TEST=yes") {
		t.Fatalf("OS environment not inherited")
	}
}

func TestAugmentPath(t *testing.T) {
	sep := string(filepath.ListSeparator)
	got := AugmentPath(strings.Join([]string{"/custom/bin", "/usr/bin"}, sep), "/home/dev")
	parts := filepath.SplitList(got)

	if parts[0] != "/custom/bin" || parts[1] != "/usr/bin" {
		t.Fatalf("existing entries reordered: %v", parts)
	}
	for _, want := range []string{"/usr/local/bin", "/home/dev/.bun/bin", "/home/dev/.volta/bin", "/sbin"} {
		if !slices.Contains(parts, want) {
			t.Fatalf("missing %s in %v", want, parts)
		}
	}
	count := 0
	for _, p := range parts {
		if p == "/usr/bin" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("/usr/bin duplicated: %v", parts)
	}
}

func TestAugmentPathWithoutHome(t *testing.T) {
	for _, p := range filepath.SplitList(AugmentPath("", "")) {
		if strings.Contains(p, "~") || p == "" {
			t.Fatalf("unexpected entry %q", p)
		}
	}
}
