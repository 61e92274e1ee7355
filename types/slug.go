package types

import (
	"regexp"
	"strings"
	"unicode"
)

var retrySlug = regexp.MustCompile(`-retry\d+$`)

// Slug turns a display name into a path segment. Letters of any script are
// kept so that Japanese scenario names stay readable on disk. Names that
// differ only in case or punctuation share a slug.
func Slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimRight(b.String(), "-")
	if out == "" {
		return "_"
	}
	return out
}

// IsRetrySlug reports whether slug has the suffix used for the artifact
// directories of retried attempts.
func IsRetrySlug(slug string) bool {
	return retrySlug.MatchString(slug)
}
