// Package servers keeps the master server list healthy: dedupe, TCP probes,
// quarantine of unreachable entries and remark decoration.
package servers

import (
	"strings"

	"github.com/justVisiting992/subkeeper/internal/proxyuri"
)

// Key identifies the server behind line regardless of its remark. Lines that
// cannot be parsed are keyed by their text.
func Key(line string) string {
	line = strings.TrimSpace(line)
	if c, err := proxyuri.Canonicalize(line); err == nil {
		return c
	}
	return line
}

// Dedupe keeps the first line of every Key, dropping blanks and comments.
func Dedupe(lines []string) []string {
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if !isServerLine(line) {
			continue
		}
		line = strings.TrimSpace(line)
		k := Key(line)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, line)
	}
	return out
}
