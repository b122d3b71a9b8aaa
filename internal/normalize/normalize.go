// Package normalize canonicalises raw item identifiers (track names) so that
// names seen while mining and names arriving in queries compare byte-equal.
package normalize

import (
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Item lowercases raw, composes it to Unicode NFC, trims surrounding
// whitespace and removes ASCII punctuation. Whitespace is trimmed before
// punctuation is removed, so "hello ." becomes "hello ".
func Item(raw string) string {
	s := strings.ToLower(raw)
	s = norm.NFC.String(s)
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if isASCIIPunct(r) {
			return -1
		}
		return r
	}, s)
}

// Set normalizes every raw identifier and returns the distinct results in
// ascending order. Identifiers that normalize to "" are dropped.
func Set(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		item := Item(r)
		if item == "" {
			continue
		}
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	sort.Strings(out)
	return out
}

// isASCIIPunct matches the 32 printable ASCII punctuation characters.
func isASCIIPunct(r rune) bool {
	switch {
	case r >= '!' && r <= '/':
		return true
	case r >= ':' && r <= '@':
		return true
	case r >= '[' && r <= '`':
		return true
	case r >= '{' && r <= '~':
		return true
	}
	return false
}
