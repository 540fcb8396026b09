package inference

import (
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/loykin/previewd/internal/diagnosis"
	"github.com/loykin/previewd/internal/probe"
)

// Reasons reported when a project cannot be previewed.
const (
	ReasonNotWebLike   = "A dev script exists but it does not start a web frontend."
	ReasonBackendOnly  = "This looks like a backend-only project with no web frontend to preview."
	ReasonNoDevScript  = "No dev script was found in package.json at the root, apps/* or packages/*."
	reasonHTTPSWarning = "The dev script serves HTTPS; open the preview with an https:// URL."
)

var (
	webFrameworks     = []string{"next", "react", "vite", "svelte", "vue", "nuxt", "astro"}
	backendFrameworks = []string{"express", "fastify", "koa", "@nestjs", "hono"}
	workspaceRoots    = []string{"apps", "packages"}
	httpsFlagRe       = regexp.MustCompile(`(^|\s)--(experimental-)?https(\s|=|$)`)
)

// Suitability is the result of a static "can this project be previewed"
// scan.
type Suitability struct {
	Previewable bool   `json:"previewable"`
	Reason      string `json:"reason,omitempty"`
	// Candidates are the relative dirs ("." for the root) with any dev script.
	Candidates []string `json:"candidates"`
	// WebDirs are the candidates whose dev script looks like a web frontend.
	WebDirs []string `json:"webDirs"`
	// Warning is an advisory diagnostic for previewable projects.
	Warning *diagnosis.Diagnostic `json:"warning,omitempty"`
}

type manifest struct {
	rel     string
	dev     string
	deps    []string
	web     bool
	backend bool
}

// ScanSuitability inspects root/package.json plus one and two levels below
// apps/ and packages/.
func ScanSuitability(root string) Suitability {
	var found []manifest
	for _, dir := range scanDirs(root) {
		if m, ok := readManifest(root, dir); ok {
			found = append(found, m)
		}
	}

	s := Suitability{Candidates: []string{}, WebDirs: []string{}}
	backend := false
	var https *manifest
	for i := range found {
		m := &found[i]
		s.Candidates = append(s.Candidates, m.rel)
		if m.web {
			s.WebDirs = append(s.WebDirs, m.rel)
			if https == nil && httpsFlagRe.MatchString(m.dev) {
				https = m
			}
		}
		backend = backend || m.backend
	}
	s.Candidates = sortedUnique(s.Candidates)
	s.WebDirs = sortedUnique(s.WebDirs)

	switch {
	case len(s.WebDirs) > 0:
		s.Previewable = true
	case len(s.Candidates) == 0:
		s.Reason = ReasonNoDevScript
	case backend:
		s.Reason = ReasonBackendOnly
	default:
		s.Reason = ReasonNotWebLike
	}
	if https != nil {
		port := ScriptPort(https.dev)
		s.Warning = &diagnosis.Diagnostic{
			ReasonCode:   diagnosis.ReasonProtocolMismatch,
			Message:      reasonHTTPSWarning,
			ExpectedPort: port,
			Cwd:          https.rel,
			URLAttempts:  probe.CandidateURLs(port),
			PreferredURL: "https://localhost:" + strconv.Itoa(port),
			LogsTail:     []string{},
		}
	}
	return s
}

// NotPreviewable converts an unsuitable scan into a diagnostic error.
func (s Suitability) NotPreviewable(root string) *diagnosis.Error {
	return &diagnosis.Error{Diagnostic: diagnosis.Diagnostic{
		ReasonCode:    diagnosis.ReasonNotPreviewable,
		Message:       s.Reason,
		Cwd:           root,
		SuggestedDirs: s.Candidates,
		URLAttempts:   []string{},
		LogsTail:      []string{},
	}}
}

func scanDirs(root string) []string {
	dirs := []string{"."}
	for _, ws := range workspaceRoots {
		for _, child := range subdirs(filepath.Join(root, ws)) {
			rel := ws + "/" + child
			dirs = append(dirs, rel)
			for _, grand := range subdirs(filepath.Join(root, ws, child)) {
				dirs = append(dirs, rel+"/"+grand)
			}
		}
	}
	return dirs
}

func subdirs(dir string) []string {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range ents {
		name := e.Name()
		if !e.IsDir() || name == "node_modules" || strings.HasPrefix(name, ".") {
			continue
		}
		out = append(out, name)
	}
	return out
}

func readManifest(root, rel string) (manifest, bool) {
	b, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel), "package.json"))
	if err != nil {
		return manifest{}, false
	}
	dev := gjson.GetBytes(b, "scripts.dev").String()
	if strings.TrimSpace(dev) == "" {
		return manifest{}, false
	}
	m := manifest{rel: rel, dev: dev}
	for _, section := range []string{"dependencies", "devDependencies"} {
		gjson.GetBytes(b, section).ForEach(func(k, _ gjson.Result) bool {
			m.deps = append(m.deps, strings.ToLower(k.String()))
			return true
		})
	}
	lowerDev := strings.ToLower(dev)
	m.web = mentionsAny(lowerDev, m.deps, webFrameworks)
	m.backend = mentionsAny(lowerDev, m.deps, backendFrameworks)
	return m, true
}

func mentionsAny(script string, deps []string, words []string) bool {
	for _, w := range words {
		if strings.Contains(script, w) {
			return true
		}
		for _, d := range deps {
			if strings.Contains(d, w) {
				return true
			}
		}
	}
	return false
}

func sortedUnique(in []string) []string {
	slices.Sort(in)
	return slices.Compact(in)
}
