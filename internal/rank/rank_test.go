package rank

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBetweenBasic(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
	}{
		{"empty space", "", ""},
		{"before first", "", "i"},
		{"after last", "i", ""},
		{"wide gap", "3", "x"},
		{"adjacent digits", "a", "b"},
		{"adjacent with tail", "a1", "a2"},
		{"prefix neighbor", "a", "a1"},
		{"long common prefix", "abcq", "abcr"},
		{"near top", "zzzy", ""},
		{"near bottom", "", "01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := Between(tt.a, tt.b)
			require.NoError(t, err)
			assert.True(t, IsValid(key), "key %q should be valid", key)
			if tt.a != "" {
				assert.Greater(t, key, tt.a)
			}
			if tt.b != "" {
				assert.Less(t, key, tt.b)
			}
		})
	}
}

func TestBetweenRejectsBadInput(t *testing.T) {
	_, err := Between("b", "a")
	assert.Error(t, err)

	_, err = Between("a", "a")
	assert.Error(t, err)

	// Trailing smallest digit is non-canonical.
	_, err = Between("a0", "b")
	assert.Error(t, err)

	_, err = Between("a", "B!")
	assert.Error(t, err)
}

// Repeated insertion at the front, back, and middle must keep every key unique
// and strictly ordered without ever rewriting neighbors.
func TestBetweenRepeatedInsertion(t *testing.T) {
	keys := []string{Initial()}

	for i := 0; i < 100; i++ {
		// Front.
		front, err := Between("", keys[0])
		require.NoError(t, err)
		keys = append([]string{front}, keys...)

		// Back.
		back, err := Between(keys[len(keys)-1], "")
		require.NoError(t, err)
		keys = append(keys, back)

		// Middle of the two middlemost keys.
		mid := len(keys) / 2
		between, err := Between(keys[mid-1], keys[mid])
		require.NoError(t, err)
		keys = append(keys[:mid], append([]string{between}, keys[mid:]...)...)
	}

	require.True(t, sort.StringsAreSorted(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		_, dup := seen[k]
		require.False(t, dup, "duplicate key %q", k)
		seen[k] = struct{}{}
		require.True(t, IsValid(k))
	}
}

// Squeezing keys into an ever-narrowing gap must always terminate with a
// strictly-between result (unbounded precision).
func TestBetweenNarrowingGap(t *testing.T) {
	lo, hi := "a", "b"
	for i := 0; i < 64; i++ {
		mid, err := Between(lo, hi)
		require.NoError(t, err)
		require.Greater(t, mid, lo)
		require.Less(t, mid, hi)
		if i%2 == 0 {
			hi = mid
		} else {
			lo = mid
		}
	}
}

func TestInitial(t *testing.T) {
	assert.True(t, IsValid(Initial()))
}
