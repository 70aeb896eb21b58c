package pushrelay

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssign_Deterministic(t *testing.T) {
	env := Envelope{
		Text:           "Sale today!",
		TargetActivity: "Main",
		Metadata:       map[string]string{"a": "1", "b": "2", "c": "3"},
	}
	first := Assign(env)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, Assign(env.Clone()))
	}

	parsed, err := uuid.Parse(first.String())
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(5), parsed.Version())
}

func TestAssign_MetadataOrderIndependent(t *testing.T) {
	a := Envelope{Text: "x", Metadata: map[string]string{}}
	b := Envelope{Text: "x", Metadata: map[string]string{}}
	keys := []string{"k1", "k2", "k3", "k4", "k5"}
	for _, k := range keys {
		a.Metadata[k] = k + "-v"
	}
	for i := len(keys) - 1; i >= 0; i-- {
		b.Metadata[keys[i]] = keys[i] + "-v"
	}
	assert.Equal(t, Assign(a), Assign(b))
}

func TestAssign_ExplicitIDWins(t *testing.T) {
	a := Envelope{ID: "abc", Text: "first"}
	b := Envelope{ID: "abc", Text: "second"}
	assert.Equal(t, Assign(a), Assign(b))
	assert.NotEqual(t, Assign(a), Assign(Envelope{ID: "abd", Text: "first"}))
}

func TestAssign_ContentDistinguishes(t *testing.T) {
	base := Envelope{Text: "hello", TargetActivity: "Main"}
	assert.NotEqual(t, Assign(base), Assign(Envelope{Text: "hello!", TargetActivity: "Main"}))
	assert.NotEqual(t, Assign(base), Assign(Envelope{Text: "hello", TargetActivity: "Other"}))
	assert.NotEqual(t, Assign(base), Assign(Envelope{Text: "hello", TargetActivity: "Main", Metadata: map[string]string{"k": "v"}}))
	// An id equal to some content never collides with content hashing.
	assert.NotEqual(t, Assign(Envelope{ID: "hello"}), Assign(Envelope{Text: "hello"}))
}

func TestAssign_IgnoresExpiryAndVersion(t *testing.T) {
	a := Envelope{Text: "x", Version: 1}
	b := Envelope{Text: "x"}
	assert.Equal(t, Assign(a), Assign(b))
}
