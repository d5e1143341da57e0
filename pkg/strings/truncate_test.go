package strings

import (
	"testing"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLen   int
		expected string
	}{
		{
			name:     "short string unchanged",
			input:    "hello",
			maxLen:   10,
			expected: "hello",
		},
		{
			name:     "exact length unchanged",
			input:    "hello",
			maxLen:   5,
			expected: "hello",
		},
		{
			name:     "long string truncated",
			input:    "sync timed out waiting for worker 3",
			maxLen:   15,
			expected: "sync timed o...",
		},
		{
			name:     "newlines collapsed",
			input:    "gather failed:\n\n  worker unreachable",
			maxLen:   80,
			expected: "gather failed: worker unreachable",
		},
		{
			name:     "unicode cut on rune boundary",
			input:    "λλλλλλλλ",
			maxLen:   6,
			expected: "λλλ...",
		},
		{
			name:     "tiny maxLen clamped",
			input:    "abcdefgh",
			maxLen:   1,
			expected: "a...",
		},
		{
			name:     "empty input",
			input:    "",
			maxLen:   10,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.input, tt.maxLen); got != tt.expected {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.expected)
			}
		})
	}
}

func TestJoinTruncated(t *testing.T) {
	tests := []struct {
		name     string
		items    []string
		maxLen   int
		expected string
	}{
		{
			name:     "fits",
			items:    []string{"field0", "field1"},
			maxLen:   40,
			expected: "field0,field1",
		},
		{
			name:     "drops trailing items",
			items:    []string{"field0", "field1", "field2", "field3"},
			maxLen:   22,
			expected: "field0,field1,+2 more",
		},
		{
			name:     "single long item",
			items:    []string{"a-very-long-image-name"},
			maxLen:   10,
			expected: "a-very-...",
		},
		{
			name:     "empty",
			items:    nil,
			maxLen:   10,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := JoinTruncated(tt.items, ",", tt.maxLen); got != tt.expected {
				t.Errorf("JoinTruncated(%v) = %q, want %q", tt.items, got, tt.expected)
			}
		})
	}
}
