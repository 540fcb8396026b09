package diagnosis

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/loykin/previewd/internal/logbuf"
)

var (
	ansiRe   = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]`)
	digitsRe = regexp.MustCompile(`[0-9]{2,}`)
	urlRe    = regexp.MustCompile(`https?://[^\s"'<>()\x60]+`)
)

var loopbackLiterals = []string{"localhost", "127.0.0.1", "::1", "0.0.0.0"}

// addressDigits hides the digits of loopback literals from the port scan.
var addressDigits = strings.NewReplacer("127.0.0.1", " ", "0.0.0.0", " ")

var failureMarkers = []string{"not found", "enoent", "failed", "error"}

// cleanLine drops the capture timestamp and terminal escape sequences.
func cleanLine(line string) string {
	return ansiRe.ReplaceAllString(logbuf.StripStamp(line), "")
}

func mentionsPort(lower string) bool {
	if strings.Contains(lower, "port") {
		return true
	}
	for _, l := range loopbackLiterals {
		if strings.Contains(lower, l) {
			return true
		}
	}
	return false
}

// portCandidates scans up to depth lines, newest first, and returns every
// valid port-sized number on lines that mention a port or a loopback
// address, right to left within a line. Duplicates and the skip port are
// dropped.
func portCandidates(lines []string, depth int, skip int) []int {
	var out []int
	seen := map[int]bool{}
	for i, n := len(lines)-1, 0; i >= 0 && (depth <= 0 || n < depth); i, n = i-1, n+1 {
		l := cleanLine(lines[i])
		if !mentionsPort(strings.ToLower(l)) {
			continue
		}
		runs := digitsRe.FindAllString(addressDigits.Replace(l), -1)
		for j := len(runs) - 1; j >= 0; j-- {
			p, err := strconv.Atoi(runs[j])
			if err != nil || p <= 0 || p > 65535 || p == skip || seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// urlLiterals returns http(s) URLs found in lines, newest first, with
// trailing punctuation and slashes trimmed.
func urlLiterals(lines []string) []string {
	var out []string
	for i := len(lines) - 1; i >= 0; i-- {
		found := urlRe.FindAllString(cleanLine(lines[i]), -1)
		for j := len(found) - 1; j >= 0; j-- {
			out = append(out, strings.TrimRight(found[j], "/.,;:"))
		}
	}
	return out
}

// urlPort returns the explicit port of a URL literal, or 0.
func urlPort(u string) int {
	rest := u[strings.Index(u, "://")+3:]
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	i := strings.LastIndexByte(rest, ':')
	if i < 0 || strings.HasSuffix(rest, "]") {
		return 0
	}
	p, err := strconv.Atoi(rest[i+1:])
	if err != nil {
		return 0
	}
	return p
}

func hasFailureMarker(lines []string) bool {
	for _, l := range lines {
		lower := strings.ToLower(cleanLine(l))
		for _, m := range failureMarkers {
			if strings.Contains(lower, m) {
				return true
			}
		}
	}
	return false
}

func mentionsHTTPS(lines []string) bool {
	for _, l := range lines {
		if strings.Contains(cleanLine(l), "https://") {
			return true
		}
	}
	return false
}
