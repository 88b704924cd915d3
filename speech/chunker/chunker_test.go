package chunker

import (
	"strings"
	"testing"
)

func TestChunk(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxSize  int
		expected []string
	}{
		{
			name:    "breaks at sentence boundaries",
			input:   "Hello world. This is a test. Short.",
			maxSize: 15,
			expected: []string{
				"Hello world.",
				"This is a test.",
				"Short.",
			},
		},
		{
			name:    "accumulates sentences that fit together",
			input:   "One. Two. Three.",
			maxSize: 12,
			expected: []string{
				"One. Two.",
				"Three.",
			},
		},
		{
			name:    "single sentence under limit",
			input:   "Just one sentence here.",
			maxSize: 100,
			expected: []string{
				"Just one sentence here.",
			},
		},
		{
			name:    "oversize sentence emitted whole",
			input:   "This sentence is far longer than the limit allows. Ok.",
			maxSize: 10,
			expected: []string{
				"This sentence is far longer than the limit allows.",
				"Ok.",
			},
		},
		{
			name:    "question and exclamation marks",
			input:   "Really? Yes! Of course.",
			maxSize: 14,
			expected: []string{
				"Really? Yes!",
				"Of course.",
			},
		},
		{
			name:    "unterminated tail gets a period",
			input:   "First sentence. Trailing fragment",
			maxSize: 16,
			expected: []string{
				"First sentence.",
				"Trailing fragment.",
			},
		},
		{
			name:     "empty input",
			input:    "",
			maxSize:  10,
			expected: nil,
		},
		{
			name:     "whitespace only",
			input:    "   \n\t  ",
			maxSize:  10,
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Chunk(tt.input, tt.maxSize)
			if len(got) != len(tt.expected) {
				t.Fatalf("Chunk() = %q, want %q", got, tt.expected)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("chunk[%d] = %q, want %q", i, got[i], tt.expected[i])
				}
			}
		})
	}
}

func TestChunkFragmentsNonEmpty(t *testing.T) {
	inputs := []string{
		"Hello world. This is a test. Short.",
		"One! Two? Three... Four.",
		"No punctuation at all in this one",
	}
	for _, input := range inputs {
		for _, size := range []int{5, 15, 40, 200} {
			for _, c := range Chunk(input, size) {
				if strings.TrimSpace(c) == "" {
					t.Errorf("Chunk(%q, %d) produced empty fragment", input, size)
				}
			}
		}
	}
}

func TestChunkRoundTrip(t *testing.T) {
	inputs := []string{
		"Hello world. This is a test. Short.",
		"The quick brown fox jumps over the lazy dog. It barked. The fox ran away quickly.",
		"A fragment with no terminator",
	}
	for _, input := range inputs {
		chunks := Chunk(input, 20)

		var parts []string
		for _, c := range chunks {
			parts = append(parts, c)
		}
		joined := strings.Join(parts, " ")

		// Normalize whitespace and drop the synthetic trailing period
		// before comparing; no words may be lost or truncated.
		want := strings.Join(strings.Fields(input), " ")
		got := strings.Join(strings.Fields(joined), " ")
		got = strings.TrimSuffix(got, ".")
		want = strings.TrimSuffix(want, ".")
		if got != want {
			t.Errorf("round trip mismatch:\n got  %q\n want %q", got, want)
		}
	}
}

func TestSmartChunk(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		targetSize int
		expected   []string
	}{
		{
			name:       "short text unchanged",
			input:      "Short enough.",
			targetSize: 50,
			expected:   []string{"Short enough."},
		},
		{
			name:       "prefers sentence end",
			input:      "First sentence here. Second sentence follows after it.",
			targetSize: 25,
			expected: []string{
				"First sentence here.",
				"Second sentence follows",
				"after it.",
			},
		},
		{
			name:       "falls back to clause punctuation",
			input:      "one two three, four five six seven eight nine ten",
			targetSize: 20,
			expected: []string{
				"one two three,",
				"four five six seven",
				"eight nine ten",
			},
		},
		{
			name:       "breaks before conjunction",
			input:      "the cat sat down and the dog stood up",
			targetSize: 22,
			expected: []string{
				"the cat sat down",
				"and the dog stood up",
			},
		},
		{
			name:       "whitespace break when nothing better",
			input:      "alpha beta gamma delta epsilon",
			targetSize: 12,
			expected: []string{
				"alpha beta",
				"gamma delta",
				"epsilon",
			},
		},
		{
			name:       "hard break on unbroken run",
			input:      "aaaaaaaaaaaaaaaaaaaa",
			targetSize: 8,
			expected: []string{
				"aaaaaaaa",
				"aaaaaaaa",
				"aaaa",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SmartChunk(tt.input, tt.targetSize)
			if len(got) != len(tt.expected) {
				t.Fatalf("SmartChunk() = %q, want %q", got, tt.expected)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("chunk[%d] = %q, want %q", i, got[i], tt.expected[i])
				}
			}
		})
	}
}

func TestSmartChunkNoDataLoss(t *testing.T) {
	input := "The pipeline must never drop words, even when fragments are rebalanced across several windows of text."
	for _, size := range []int{10, 25, 40} {
		chunks := SmartChunk(input, size)
		joined := strings.Join(strings.Fields(strings.Join(chunks, " ")), " ")
		want := strings.Join(strings.Fields(input), " ")
		if joined != want {
			t.Errorf("SmartChunk(%d) lost content:\n got  %q\n want %q", size, joined, want)
		}
	}
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:  "simple sentences",
			input: "Hello world. How are you? I'm fine!",
			expected: []string{
				"Hello world.",
				"How are you?",
				"I'm fine!",
			},
		},
		{
			name:  "abbreviation does not split",
			input: "Dr. Smith arrived. He sat down.",
			expected: []string{
				"Dr. Smith arrived.",
				"He sat down.",
			},
		},
		{
			name:  "decimal number does not split",
			input: "The value is 3.14 exactly. Next sentence.",
			expected: []string{
				"The value is 3.14 exactly.",
				"Next sentence.",
			},
		},
		{
			name:  "mixed punctuation runs",
			input: "Really?! Yes. Why not?",
			expected: []string{
				"Really?!",
				"Yes.",
				"Why not?",
			},
		},
		{
			name:     "no terminator",
			input:    "just a fragment",
			expected: []string{"just a fragment"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitSentences(tt.input)
			if len(got) != len(tt.expected) {
				t.Fatalf("SplitSentences() = %q, want %q", got, tt.expected)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("sentence[%d] = %q, want %q", i, got[i], tt.expected[i])
				}
			}
		})
	}
}
