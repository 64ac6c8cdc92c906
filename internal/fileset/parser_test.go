package fileset

import (
	"reflect"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want FileSet
	}{
		{name: "empty input", in: "", want: FileSet{}},
		{name: "unterminated file", in: "[FILE: a.txt]\nhello", want: FileSet{"a.txt": "hello"}},
		{
			name: "stray end marker",
			in:   "[END FILE]\n[FILE: a.txt]\nx\n[END FILE]",
			want: FileSet{"a.txt": "x"},
		},
		{
			name: "duplicate path keeps last",
			in:   "[FILE: a.txt]\nfirst\n[END FILE]\n[FILE: a.txt]\nsecond\n[END FILE]",
			want: FileSet{"a.txt": "second"},
		},
		{
			name: "start marker closes open file",
			in:   "[FILE: a.rs]\nfn a() {}\n[FILE: b.rs]\nfn b() {}\n[END FILE]",
			want: FileSet{"a.rs": "fn a() {}", "b.rs": "fn b() {}"},
		},
		{
			name: "loose marker and whitespace around path",
			in:   "FILE:   src/main.rs  \nfn main() {}\n[END FILE]\n[FILE:Cargo.toml ]\n[package]\n[END FILE]",
			want: FileSet{"src/main.rs": "fn main() {}", "Cargo.toml": "[package]"},
		},
		{
			name: "markdown decorated markers",
			in:   "### FILE: src/lib.rs\npub fn f() {}\n[END FILE]\n**[FILE: `README.md`]**\n# Title\n[END FILE]",
			want: FileSet{"src/lib.rs": "pub fn f() {}", "README.md": "# Title"},
		},
		{
			name: "code fences stripped",
			in:   "[FILE: src/main.rs]\n```rust\nfn main() {}\n```\n[END FILE]\n```toml\n[FILE: Cargo.toml]\n```toml [package]\n[END FILE]",
			want: FileSet{"src/main.rs": "fn main() {}", "Cargo.toml": " [package]"},
		},
		{
			name: "first end marker terminates",
			in:   "[FILE: a.txt]\nlet s = \"[END FILE]\";\nrest\n[END FILE]",
			want: FileSet{"a.txt": "let s = \""},
		},
		{
			name: "blank lines kept inside, trimmed at edges",
			in:   "[FILE: src/main.rs]\n\nuse std::io;\n\nfn main() {}\n\n[END FILE]",
			want: FileSet{"src/main.rs": "use std::io;\n\nfn main() {}"},
		},
		{
			name: "empty file dropped",
			in:   "[FILE: empty.rs]\n\n[END FILE]\n[FILE: a.rs]\nx\n[END FILE]",
			want: FileSet{"a.rs": "x"},
		},
		{
			name: "unsafe paths consumed and dropped",
			in:   "[FILE: ../etc/passwd]\nroot\n[END FILE]\n[FILE: /abs.txt]\nabs\n[END FILE]\n[FILE: ok.txt]\nfine\n[END FILE]",
			want: FileSet{"ok.txt": "fine"},
		},
		{
			name: "windows separators and dot prefix",
			in:   "[FILE: .\\src\\bin\\tool.rs]\nfn main() {}\n[END FILE]",
			want: FileSet{"src/bin/tool.rs": "fn main() {}"},
		},
		{
			name: "crlf line endings",
			in:   "[FILE: a.txt]\r\nline one\r\nline two\r\n[END FILE]\r\n",
			want: FileSet{"a.txt": "line one\nline two"},
		},
		{
			name: "text outside files ignored",
			in:   "Here is your project:\n[FILE: a.txt]\nbody\n[END FILE]\nLet me know!",
			want: FileSet{"a.txt": "body"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Parse(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Parse(%q)\n got: %#v\nwant: %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseDropBlankLines(t *testing.T) {
	t.Parallel()

	in := "[FILE: Cargo.toml]\n[package]\nname = \"demo\"\n\n[dependencies]\n[END FILE]"
	got := NewParser(Options{DropBlankLines: true}).Parse(in)
	want := "[package]\nname = \"demo\"\n[dependencies]"
	if got["Cargo.toml"] != want {
		t.Fatalf("got %q, want %q", got["Cargo.toml"], want)
	}
}

func TestParseSerializeRoundTrip(t *testing.T) {
	t.Parallel()

	raw := strings.Join([]string{
		"Sure! Here is the project.",
		"[FILE: src/main.rs]",
		"```rust",
		"use std::collections::HashMap;",
		"",
		"fn main() {",
		"    let mut m = HashMap::new();",
		"    m.insert(1, \"one\");",
		"}",
		"```",
		"[END FILE]",
		"FILE: Cargo.toml",
		"[package]",
		"name = \"demo\"",
		"",
		"[dependencies]",
		"[END FILE]",
		"[FILE: tests/it.rs]",
		"#[test]",
		"fn works() {}",
	}, "\n")

	for _, opts := range []Options{{}, {DropBlankLines: true}} {
		p := NewParser(opts)
		first := p.Parse(raw)
		if len(first) != 3 {
			t.Fatalf("expected 3 files, got %v", first.Paths())
		}
		second := p.Parse(first.Serialize())
		if !reflect.DeepEqual(first, second) {
			t.Fatalf("round trip mismatch (%+v)\nfirst:  %#v\nsecond: %#v", opts, first, second)
		}
	}
}

func TestSerializeOrder(t *testing.T) {
	t.Parallel()

	fs := FileSet{"src/main.rs": "fn main() {}", "Cargo.toml": "[package]"}
	want := "[FILE: Cargo.toml]\n[package]\n[END FILE]\n[FILE: src/main.rs]\nfn main() {}\n[END FILE]\n"
	if got := fs.Serialize(); got != want {
		t.Fatalf("Serialize() = %q, want %q", got, want)
	}
	if got := (FileSet{}).Serialize(); got != "" {
		t.Fatalf("empty set should serialize to empty string, got %q", got)
	}
}
