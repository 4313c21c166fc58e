// Package rank implements lexicographically sortable fractional order keys.
//
// A key is a non-empty string of base-36 digits interpreted as a fraction in
// (0, 1). Between returns a key strictly between its neighbors, growing one
// digit only when the neighbors are adjacent, so reordering one item never
// requires rewriting the others.
package rank

import (
	"strings"

	"github.com/pkg/errors"
)

const digits = "0123456789abcdefghijklmnopqrstuvwxyz"

const base = len(digits)

// Initial returns the key used for the first item in an empty list.
func Initial() string {
	return string(digits[base/2])
}

// IsValid reports whether key is a well-formed order key.
// Keys must be non-empty base-36 strings and must not end in the smallest
// digit, which keeps every key representation canonical.
func IsValid(key string) bool {
	if key == "" || strings.HasSuffix(key, "0") {
		return false
	}
	for i := 0; i < len(key); i++ {
		if strings.IndexByte(digits, key[i]) < 0 {
			return false
		}
	}
	return true
}

// Between returns a key strictly between a and b in lexicographic order.
// An empty a means "before everything"; an empty b means "after everything".
func Between(a, b string) (string, error) {
	if a != "" && !IsValid(a) {
		return "", errors.Errorf("invalid order key %q", a)
	}
	if b != "" && !IsValid(b) {
		return "", errors.Errorf("invalid order key %q", b)
	}
	if a != "" && b != "" && a >= b {
		return "", errors.Errorf("order keys out of order: %q >= %q", a, b)
	}
	return midpoint(a, b), nil
}

// midpoint computes a digit string strictly between a and b, where the empty
// string stands for zero (as a) or one (as b). Preconditions: a < b, neither
// ends in the smallest digit.
func midpoint(a, b string) string {
	if b != "" {
		// Skip the longest common prefix, reading a as zero-padded on the
		// right; the answer keeps the prefix verbatim.
		n := 0
		for n < len(b) && digitAt(a, n) == b[n] {
			n++
		}
		if n > 0 {
			if n < len(a) {
				return b[:n] + midpoint(a[n:], b[n:])
			}
			return b[:n] + midpoint("", b[n:])
		}
	}

	digitA := 0
	if a != "" {
		digitA = strings.IndexByte(digits, a[0])
	}
	digitB := base
	if b != "" {
		digitB = strings.IndexByte(digits, b[0])
	}

	if digitB-digitA > 1 {
		return string(digits[(digitA+digitB)/2])
	}

	// First digits are consecutive integers with no room between them.
	if len(b) > 1 {
		// b has more digits; its first digit alone sorts strictly below it
		// and strictly above a.
		return b[:1]
	}

	// The answer must start with a's first digit and recurse into its tail.
	rest := ""
	if a != "" {
		rest = a[1:]
	}
	return string(digits[digitA]) + midpoint(rest, "")
}

// digitAt returns the byte of key at position i, zero-padding past the end.
func digitAt(key string, i int) byte {
	if i < len(key) {
		return key[i]
	}
	return digits[0]
}
