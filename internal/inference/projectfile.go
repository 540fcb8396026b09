package inference

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

// ProjectFileNames are checked in order; the first one present wins.
var ProjectFileNames = []string{"AGENTS.md", "agents.md", ".agents.md"}

var (
	portLabels = []string{"- dev server port:", "dev server port:", "- port:", "port:"}
	cwdLabels  = []string{"- working directory:", "working directory:", "- cwd:", "cwd:"}
)

// ProjectFile holds the launch hints a project declares in its
// agent-instructions markdown file.
type ProjectFile struct {
	Path       string   `json:"path,omitempty"`
	Port       int      `json:"port,omitempty"`
	Command    string   `json:"command,omitempty"`
	Args       []string `json:"args,omitempty"`
	WorkingDir string   `json:"workingDir,omitempty"`
	Monorepo   bool     `json:"monorepo"`
}

// Found reports whether a project file was read.
func (p ProjectFile) Found() bool { return p.Path != "" }

// ReadProjectFile reads the first project file under root. A missing file is
// not an error; the result then only carries monorepo detection.
func ReadProjectFile(root string) (ProjectFile, error) {
	pf := ProjectFile{Monorepo: IsMonorepo(root)}
	for _, name := range ProjectFileNames {
		path := filepath.Join(root, name)
		b, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return pf, err
		}
		pf.Path = path
		parseProjectFile(string(b), &pf)
		return pf, nil
	}
	return pf, nil
}

func parseProjectFile(text string, pf *ProjectFile) {
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		lower := strings.ToLower(line)

		if pf.Port == 0 {
			if v, ok := labelValue(line, lower, portLabels); ok {
				if p, ok := firstDigits(v); ok {
					pf.Port = p
				}
			}
		}
		if pf.WorkingDir == "" {
			if v, ok := labelValue(line, lower, cwdLabels); ok {
				pf.WorkingDir = strings.Trim(strings.TrimSpace(v), "`\"'")
			}
		}
		if pf.Command == "" && strings.Contains(lower, "command") {
			first := strings.IndexByte(line, '`')
			last := strings.LastIndexByte(line, '`')
			if first >= 0 && last > first {
				parts := strings.Fields(line[first+1 : last])
				if len(parts) > 0 {
					pf.Command = parts[0]
					pf.Args = parts[1:]
				}
			}
		}
	}
}

func labelValue(line, lower string, labels []string) (string, bool) {
	for _, l := range labels {
		if strings.HasPrefix(lower, l) {
			return line[len(l):], true
		}
	}
	return "", false
}

func firstDigits(s string) (int, bool) {
	start := strings.IndexAny(s, "0123456789")
	if start < 0 {
		return 0, false
	}
	end := start
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	return parsePort(s[start:end])
}

// IsMonorepo reports whether root is a JavaScript workspace root.
func IsMonorepo(root string) bool {
	for _, f := range []string{"turbo.json", "nx.json", "lerna.json"} {
		if fileExists(filepath.Join(root, f)) {
			return true
		}
	}
	return len(Workspaces(root)) > 0
}

// Workspaces returns the workspace globs declared by pnpm-workspace.yaml or
// the package.json "workspaces" field.
func Workspaces(root string) []string {
	if b, err := os.ReadFile(filepath.Join(root, "pnpm-workspace.yaml")); err == nil {
		var ws struct {
			Packages []string `yaml:"packages"`
		}
		if yaml.Unmarshal(b, &ws) == nil && len(ws.Packages) > 0 {
			return ws.Packages
		}
	}
	b, err := os.ReadFile(filepath.Join(root, "package.json"))
	if err != nil {
		return nil
	}
	// both the array form and the {"packages": [...]} form are in use
	field := gjson.GetBytes(b, "workspaces")
	if field.IsObject() {
		field = field.Get("packages")
	}
	var out []string
	for _, v := range field.Array() {
		if s := v.String(); s != "" {
			out = append(out, s)
		}
	}
	return out
}
