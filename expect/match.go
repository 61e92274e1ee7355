package expect

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/ethereum-optimism/infra/op-pagecheck/types"
)

// NormalizeWhitespace trims s and collapses every run of whitespace to a single space.
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// MatchExact compares two strings byte for byte.
func MatchExact(actual, expected string) bool {
	return actual == expected
}

// MatchText compares rendered text after whitespace normalization.
func MatchText(actual, expected string) bool {
	return NormalizeWhitespace(actual) == NormalizeWhitespace(expected)
}

// MatchContains reports whether the normalized actual text contains the normalized expected text.
func MatchContains(actual, expected string) bool {
	return strings.Contains(NormalizeWhitespace(actual), NormalizeWhitespace(expected))
}

func MatchCount(actual, expected int) bool {
	return actual == expected
}

// MatchCSS compares a computed style serialization with a css expectation:
// Value is string exact, Contains is substring containment.
func MatchCSS(actual string, c *types.CSSExpect) bool {
	switch {
	case c.Value != nil:
		return actual == *c.Value
	case c.Contains != nil:
		return strings.Contains(actual, *c.Contains)
	}
	return false
}

// UnifiedDiff renders a unified diff between expected and actual when either
// spans multiple lines. Single-line values return "".
func UnifiedDiff(expected, actual string) string {
	if !strings.Contains(expected, "\n") && !strings.Contains(actual, "\n") {
		return ""
	}
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(expected),
		B:        difflib.SplitLines(actual),
		FromFile: "expected",
		ToFile:   "actual",
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return diff
}
