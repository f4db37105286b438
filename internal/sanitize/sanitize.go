// Package sanitize normalises user-supplied cluster names before they reach
// the catalogue, the MCP surface, or file names derived from them.
package sanitize

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
)

// MaxNameLength is the maximum allowed length for a cluster name.
const MaxNameLength = 80

// ErrEmptyName is returned when nothing usable remains of a name.
var ErrEmptyName = errors.New("cluster name is empty")

// Names never start or end with a separator or a space.
const trimSet = " -_.+"

var (
	reWhitespace = regexp.MustCompile(`\s+`)
	reRepeated   = regexp.MustCompile(`([-_.])[-_.]+`)
)

// ClusterName keeps letters, digits, spaces and the characters "-_.+",
// collapses runs of whitespace and of separators, trims separators from
// both ends, and truncates to MaxNameLength. "NGC\t 2516" becomes "NGC 2516".
func ClusterName(input string) string {
	if input == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		case r == '-', r == '_', r == '.', r == '+':
			b.WriteRune(r)
		}
	}

	s := reWhitespace.ReplaceAllString(b.String(), " ")
	s = reRepeated.ReplaceAllString(s, "$1")
	s = strings.Trim(s, trimSet)

	if len(s) > MaxNameLength {
		s = strings.Trim(truncateRunes(s, MaxNameLength), trimSet)
	}
	return s
}

// ValidateClusterName sanitises input and fails when the result is empty.
func ValidateClusterName(input string) (string, error) {
	name := ClusterName(input)
	if name == "" {
		return "", ErrEmptyName
	}
	return name, nil
}

// truncateRunes cuts s to at most n bytes without splitting a rune.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
