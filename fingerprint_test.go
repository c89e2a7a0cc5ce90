package tiercache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustFingerprint(t *testing.T, name string, args ...any) string {
	t.Helper()
	key, err := Fingerprint(name, args...)
	require.NoError(t, err)
	return key
}

func TestFingerprint_Deterministic(t *testing.T) {
	type query struct {
		Table string
		Limit int
	}

	a := mustFingerprint(t, "fetch", query{Table: "users", Limit: 10}, map[string]int{"x": 1, "y": 2})
	b := mustFingerprint(t, "fetch", query{Table: "users", Limit: 10}, map[string]int{"y": 2, "x": 1})
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "fetch:"))
	assert.Len(t, a, len("fetch:")+16)
}

func TestFingerprint_Distinguishes(t *testing.T) {
	keys := map[string]string{
		"int":       mustFingerprint(t, "f", 1),
		"int64":     mustFingerprint(t, "f", int64(1)),
		"string":    mustFingerprint(t, "f", "1"),
		"float":     mustFingerprint(t, "f", 1.0),
		"two args":  mustFingerprint(t, "f", 1, 2),
		"swapped":   mustFingerprint(t, "f", 2, 1),
		"no args":   mustFingerprint(t, "f"),
		"nil arg":   mustFingerprint(t, "f", nil),
		"slice":     mustFingerprint(t, "f", []int{1}),
		"other fn":  mustFingerprint(t, "g", 1),
		"str pair":  mustFingerprint(t, "f", "a b", "c"),
		"str pair2": mustFingerprint(t, "f", "a", "b c"),
	}

	seen := make(map[string]string)
	for name, key := range keys {
		if other, dup := seen[key]; dup {
			t.Errorf("%s and %s share key %s", name, other, key)
		}
		seen[key] = name
	}
}

func TestFingerprint_Unhashable(t *testing.T) {
	_, err := Fingerprint("f", func() {})
	assert.ErrorIs(t, err, ErrSerialization)

	_, err = Fingerprint("f", make(chan int))
	assert.ErrorIs(t, err, ErrSerialization)
}
