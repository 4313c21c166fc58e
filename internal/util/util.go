// Package util provides small helpers shared across the server.
package util

import (
	"strings"

	"github.com/google/uuid"
)

// HasPrefixes returns true if the string s has any of the given prefixes.
func HasPrefixes(src string, prefixes ...string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(src, prefix) {
			return true
		}
	}
	return false
}

// ValidateUUID reports whether s is a well-formed UUID.
func ValidateUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// TruncateRunes truncates s to at most n runes.
func TruncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
