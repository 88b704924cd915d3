package chunker

import "testing"

func TestStripMarkdown(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "plain text untouched",
			in:   "Hello there. General Kenobi.",
			want: "Hello there. General Kenobi.",
		},
		{
			name: "formatting dropped",
			in:   "# Title\n\nSome **bold** and *italic* text.",
			want: "Title Some bold and italic text.",
		},
		{
			name: "fenced code skipped",
			in:   "Run this:\n\n```go\nfmt.Println(42)\n```\n\nThen you are done.",
			want: "Run this: Then you are done.",
		},
		{
			name: "link keeps its text, loses its URL",
			in:   "See [the docs](https://example.com/docs) for more.",
			want: "See the docs for more.",
		},
		{
			name: "image skipped entirely",
			in:   "![diagram](arch.png)\n\nThe caption survives.",
			want: "The caption survives.",
		},
		{
			name: "list items flattened",
			in:   "- first point\n- second point",
			want: "first point second point",
		},
		{
			name: "inline code read verbatim",
			in:   "Use `go doc` to check.",
			want: "Use go doc to check.",
		},
		{
			name: "empty input",
			in:   "",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripMarkdown(tt.in); got != tt.want {
				t.Errorf("StripMarkdown(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
