package module

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedmem/federated-memory/internal/apperr"
	"github.com/fedmem/federated-memory/internal/vectorstore"
)

func registryWith(t *testing.T, ids ...string) *Registry {
	t.Helper()
	reg := NewRegistry()
	for _, id := range ids {
		mod := New(Definition{ID: id, TableName: id + "_memories"},
			vectorstore.NewMemoryStore(16), testProvider(), newFakeIndexer())
		require.NoError(t, reg.Register(mod))
	}
	return reg
}

func TestRegistryLookupAndOrdering(t *testing.T) {
	reg := registryWith(t, "work", "personal", "technical")

	mod, err := reg.Get("personal")
	require.NoError(t, err)
	assert.Equal(t, "personal", mod.ID())

	assert.Equal(t, []string{"personal", "technical", "work"}, reg.IDs())

	list := reg.List()
	require.Len(t, list, 3)
	assert.Equal(t, "personal", list[0].ID())
}

func TestRegistryUnknownModule(t *testing.T) {
	reg := registryWith(t, "work")
	_, err := reg.Get("nope")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := registryWith(t, "work")
	dup := New(Definition{ID: "work"}, vectorstore.NewMemoryStore(16), testProvider(), newFakeIndexer())
	err := reg.Register(dup)
	assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))
}

func TestStandardDefinitionsComplete(t *testing.T) {
	defs := StandardDefinitions()
	require.Len(t, defs, 6)
	seen := map[string]bool{}
	for _, def := range defs {
		assert.NotEmpty(t, def.TableName)
		assert.NotEmpty(t, def.Description)
		assert.False(t, seen[def.ID], "duplicate module id %s", def.ID)
		seen[def.ID] = true
	}
	assert.True(t, seen[DefaultModuleID])
}
