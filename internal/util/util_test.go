package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalJSONSortsKeys(t *testing.T) {
	a, err := CanonicalJSON(map[string]any{"b": 1, "a": 2})
	assert.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1}`, string(a))
}

func TestCanonicalJSONIsOrderIndependent(t *testing.T) {
	a, err := CanonicalJSON(map[string]any{"b": 1, "a": 2})
	assert.NoError(t, err)
	b, err := CanonicalJSON(map[string]any{"a": 2, "b": 1})
	assert.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestHashBytesIsDeterministic(t *testing.T) {
	assert.Equal(t, HashBytes([]byte("payload")), HashBytes([]byte("payload")))
	assert.NotEqual(t, HashBytes([]byte("payload")), HashBytes([]byte("other")))
}

func TestStringSliceContains(t *testing.T) {
	assert.True(t, StringSliceContains([]string{"a", "b"}, "b"))
	assert.False(t, StringSliceContains([]string{"a", "b"}, "c"))
}
