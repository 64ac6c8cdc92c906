// Package fileset parses delimited multi-file model responses.
package fileset

import (
	"sort"
	"strings"
)

// Response markers.
const (
	StartMarker = "[FILE:"
	LooseMarker = "FILE:"
	EndMarker   = "[END FILE]"
)

// FileSet maps forward-slash relative paths to file content.
type FileSet map[string]string

// Paths returns the file paths in lexical order.
func (fs FileSet) Paths() []string {
	paths := make([]string, 0, len(fs))
	for p := range fs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Serialize renders the set in the canonical response format, one block per file in path order.
func (fs FileSet) Serialize() string {
	var b strings.Builder
	for _, p := range fs.Paths() {
		b.WriteString(StartMarker)
		b.WriteString(" ")
		b.WriteString(p)
		b.WriteString("]\n")
		b.WriteString(fs[p])
		b.WriteString("\n")
		b.WriteString(EndMarker)
		b.WriteString("\n")
	}
	return b.String()
}
