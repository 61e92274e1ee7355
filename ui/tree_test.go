package ui

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestBuildTreePrefix(t *testing.T) {
	tests := []struct {
		name         string
		depth        int
		isLast       bool
		parentIsLast []bool
		expected     string
	}{
		{name: "depth 0", depth: 0, expected: ""},
		{name: "depth 1, not last", depth: 1, expected: "├── "},
		{name: "depth 1, is last", depth: 1, isLast: true, expected: "└── "},
		{name: "depth 2, parent not last", depth: 2, parentIsLast: []bool{false}, expected: "│   ├── "},
		{name: "depth 2, parent was last", depth: 2, isLast: true, parentIsLast: []bool{true}, expected: "    └── "},
		{name: "depth 3, mixed", depth: 3, parentIsLast: []bool{false, true}, expected: "│       ├── "},
		{name: "missing parent info continues", depth: 3, isLast: true, expected: "│   │   └── "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, BuildTreePrefix(tt.depth, tt.isLast, tt.parentIsLast))
		})
	}
}

func TestBox(t *testing.T) {
	header := BuildBoxHeader("SCENARIO: トップページ", 30)
	lines := strings.Split(strings.TrimSuffix(header, "\n"), "\n")
	assert.Len(t, lines, 3)
	for _, line := range lines {
		assert.Equal(t, 30, utf8.RuneCountInString(line), "line %q", line)
	}

	line := BuildBoxLine("Status: pass", 30)
	assert.Equal(t, 30, utf8.RuneCountInString(strings.TrimSuffix(line, "\n")))
	assert.True(t, strings.HasPrefix(line, BoxVertical+" Status: pass"))

	assert.Equal(t, "└────┘\n", BuildBoxFooter(6))
}

func TestBoxLineTruncatesByRunes(t *testing.T) {
	line := BuildBoxLine(strings.Repeat("犬", 40), 20)
	trimmed := strings.TrimSuffix(line, "\n")
	assert.Equal(t, 20, utf8.RuneCountInString(trimmed))
	assert.True(t, utf8.ValidString(trimmed))
	assert.Contains(t, trimmed, "...")
}

func TestBoxHeaderWidensForLongTitles(t *testing.T) {
	header := BuildBoxHeader("a very long title", 5)
	first := strings.SplitN(header, "\n", 2)[0]
	assert.Equal(t, utf8.RuneCountInString("a very long title")+4, utf8.RuneCountInString(first))
}
