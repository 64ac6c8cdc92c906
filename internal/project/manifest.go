package project

import (
	"regexp"
	"strings"
)

var (
	sectionHeader = regexp.MustCompile(`^\[\s*([^\[\]]+?)\s*\]\s*(#.*)?$`)
	arrayHeader   = regexp.MustCompile(`^\[\[\s*([^\[\]]+?)\s*\]\]\s*(#.*)?$`)
	bareVersion   = regexp.MustCompile(`^([\^~=<>]*[0-9][0-9A-Za-z.+\-*]*|\*)$`)
)

type manifestEntry struct {
	key   string
	lines []string
}

type manifestSection struct {
	name    string
	header  string
	array   bool
	entries []manifestEntry
	keys    map[string]int
}

func (s *manifestSection) add(e manifestEntry) {
	if e.key == "" || s.array {
		s.entries = append(s.entries, e)
		return
	}
	if i, ok := s.keys[e.key]; ok {
		s.entries[i] = e
		return
	}
	s.keys[e.key] = len(s.entries)
	s.entries = append(s.entries, e)
}

// NormalizeManifest rewrites a TOML manifest into canonical blocks: duplicate sections
// merge, duplicate keys keep their first position and last value, known sections come
// first in the given order and the rest follow in first-seen order. Lines before the
// first section and blank lines are dropped, and bare dependency versions are quoted.
// The bodies of multi-line strings are copied unchanged.
// It returns the new content and the section names it contains.
func NormalizeManifest(content string, known []string) (string, []string) {
	var (
		order   []*manifestSection
		current *manifestSection
		pending *manifestEntry
		depth   int
		// closing delimiter of an open multi-line string
		mlDelim string
	)
	byName := map[string]*manifestSection{}

	flush := func() {
		if pending != nil && current != nil {
			current.add(*pending)
		}
		pending = nil
		depth = 0
		mlDelim = ""
	}

	for _, raw := range strings.Split(StripFences(content), "\n") {
		if pending != nil && mlDelim != "" {
			// String bodies are kept byte for byte.
			pending.lines = append(pending.lines, strings.TrimRight(raw, "\r"))
			if strings.Contains(raw, mlDelim) {
				flush()
			}
			continue
		}
		line := strings.TrimSpace(raw)
		if pending != nil && depth > 0 {
			if line != "" {
				pending.lines = append(pending.lines, line)
				depth += bracketDelta(line)
			}
			if depth <= 0 {
				flush()
			}
			continue
		}
		if line == "" {
			continue
		}
		if m := arrayHeader.FindStringSubmatch(line); m != nil {
			flush()
			current = &manifestSection{name: m[1], header: "[[" + m[1] + "]]", array: true, keys: map[string]int{}}
			order = append(order, current)
			continue
		}
		if m := sectionHeader.FindStringSubmatch(line); m != nil {
			flush()
			if s, ok := byName[m[1]]; ok {
				current = s
				continue
			}
			current = &manifestSection{name: m[1], header: "[" + m[1] + "]", keys: map[string]int{}}
			byName[m[1]] = current
			order = append(order, current)
			continue
		}
		if current == nil {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok || strings.HasPrefix(line, "#") {
			current.add(manifestEntry{lines: []string{line}})
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if delim := openMultilineString(value); delim != "" {
			_, rawValue, _ := strings.Cut(strings.TrimRight(raw, "\r"), "=")
			pending = &manifestEntry{key: key, lines: []string{key + " = " + strings.TrimLeft(rawValue, " \t")}}
			mlDelim = delim
			continue
		}
		if isDependencySection(current.name) && bareVersion.MatchString(value) {
			value = `"` + value + `"`
		}
		pending = &manifestEntry{key: key, lines: []string{key + " = " + value}}
		depth = bracketDelta(value)
		if depth <= 0 {
			flush()
		}
	}
	flush()

	var emitted []*manifestSection
	seen := map[*manifestSection]bool{}
	for _, name := range known {
		if s, ok := byName[name]; ok && !seen[s] {
			emitted = append(emitted, s)
			seen[s] = true
		}
	}
	for _, s := range order {
		if !seen[s] {
			emitted = append(emitted, s)
			seen[s] = true
		}
	}

	var b strings.Builder
	names := make([]string, 0, len(emitted))
	for i, s := range emitted {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(s.header)
		b.WriteString("\n")
		for _, e := range s.entries {
			for _, l := range e.lines {
				b.WriteString(l)
				b.WriteString("\n")
			}
		}
		names = append(names, s.name)
	}
	return b.String(), names
}

// openMultilineString returns the delimiter of a multi-line string that value opens
// but does not close, or "".
func openMultilineString(value string) string {
	for _, delim := range []string{`"""`, `'''`} {
		if strings.HasPrefix(value, delim) && !strings.Contains(value[len(delim):], delim) {
			return delim
		}
	}
	return ""
}

func isDependencySection(name string) bool {
	return strings.HasSuffix(name, "dependencies")
}

// bracketDelta counts unclosed [ and { outside of quoted strings.
func bracketDelta(s string) int {
	depth := 0
	var quote rune
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '#':
			return depth
		case r == '[' || r == '{':
			depth++
		case r == ']' || r == '}':
			depth--
		}
	}
	return depth
}
