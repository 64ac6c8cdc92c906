package fileset

import (
	"path"
	"regexp"
	"strings"
)

var fenceToken = regexp.MustCompile("```[A-Za-z0-9_+-]*")

// Options controls lossy parser behaviour.
type Options struct {
	// DropBlankLines skips whitespace-only lines inside file bodies.
	DropBlankLines bool
}

// Parser turns a raw response into a FileSet. It never fails: stray end markers
// are ignored and an unterminated file is closed at end of input.
type Parser struct {
	opts Options
}

func NewParser(opts Options) *Parser {
	return &Parser{opts: opts}
}

// Parse uses the default options.
func Parse(raw string) FileSet {
	return NewParser(Options{}).Parse(raw)
}

type state int

const (
	outsideFile state = iota
	insideFile
)

type machine struct {
	opts    Options
	state   state
	path    string
	discard bool
	buf     []string
	files   FileSet
}

func (p *Parser) Parse(raw string) FileSet {
	m := &machine{opts: p.opts, files: FileSet{}}
	for _, rawLine := range strings.Split(raw, "\n") {
		line, ok := stripFences(strings.TrimSuffix(rawLine, "\r"))
		if !ok {
			continue
		}
		m.step(line)
	}
	m.close()
	return m.files
}

// stripFences removes code-fence tokens. A line that held only fences is dropped.
func stripFences(line string) (string, bool) {
	if !strings.Contains(line, "```") {
		return line, true
	}
	stripped := fenceToken.ReplaceAllString(line, "")
	if strings.TrimSpace(stripped) == "" {
		return "", false
	}
	return stripped, true
}

func (m *machine) step(line string) {
	if p, ok := startMarkerPath(line); ok {
		m.close()
		m.open(p)
		return
	}
	if idx := strings.Index(line, EndMarker); idx >= 0 {
		if m.state == insideFile {
			if before := line[:idx]; strings.TrimSpace(before) != "" {
				m.appendLine(before)
			}
			m.close()
		}
		return
	}
	if m.state == insideFile {
		m.appendLine(line)
	}
}

func (m *machine) open(raw string) {
	m.state = insideFile
	m.buf = nil
	m.path, m.discard = "", false
	clean, ok := cleanPath(raw)
	if !ok {
		m.discard = true
		return
	}
	m.path = clean
}

func (m *machine) appendLine(line string) {
	if m.discard {
		return
	}
	if m.opts.DropBlankLines && strings.TrimSpace(line) == "" {
		return
	}
	m.buf = append(m.buf, line)
}

// close records the open file if it accumulated any non-blank content.
func (m *machine) close() {
	if m.state != insideFile {
		return
	}
	if !m.discard {
		if content := trimBlankLines(m.buf); content != "" {
			m.files[m.path] = content
		}
	}
	m.state = outsideFile
	m.path, m.discard, m.buf = "", false, nil
}

func trimBlankLines(lines []string) string {
	start, end := 0, len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return strings.Join(lines[start:end], "\n")
}

// startMarkerPath reports whether line opens a file and returns the raw path.
// Leading markdown decoration such as "###" or "**" is tolerated.
func startMarkerPath(line string) (string, bool) {
	t := strings.TrimLeft(strings.TrimSpace(line), "#*>` ")
	var rest string
	switch {
	case strings.HasPrefix(t, StartMarker):
		rest = t[len(StartMarker):]
		if i := strings.Index(rest, "]"); i >= 0 {
			rest = rest[:i]
		}
	case strings.HasPrefix(t, LooseMarker):
		rest = strings.TrimSuffix(strings.TrimSpace(t[len(LooseMarker):]), "]")
	default:
		return "", false
	}
	return strings.Trim(rest, " \t*`'\""), true
}

// cleanPath normalises a marker path to a relative forward-slash path.
// Absolute paths and paths escaping the root are rejected.
func cleanPath(raw string) (string, bool) {
	p := strings.ReplaceAll(strings.TrimSpace(raw), "\\", "/")
	if p == "" || strings.HasPrefix(p, "/") || (len(p) >= 2 && p[1] == ':') {
		return "", false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", false
		}
	}
	p = path.Clean(p)
	if p == "." {
		return "", false
	}
	return p, true
}
