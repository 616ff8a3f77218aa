package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryAssignsUniqueIDs(t *testing.T) {
	reg := NewRegistry()

	a := &Session{key: "Llama3"}
	b := &Session{key: "Llama3"}

	idA := reg.Register(a)
	idB := reg.Register(b)

	require.NotEmpty(t, idA)
	assert.NotEqual(t, idA, idB)
	assert.Equal(t, 2, reg.Len())
}

func TestRegistryUnregisterIsIdempotent(t *testing.T) {
	reg := NewRegistry()
	id := reg.Register(&Session{key: "Phi3"})

	reg.Unregister(id)
	assert.Equal(t, 0, reg.Len())

	// Unregistering again, or an id that never existed, is a no-op.
	reg.Unregister(id)
	reg.Unregister("never-registered")
	assert.Equal(t, 0, reg.Len())
}
