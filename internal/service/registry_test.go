package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/breqdev/portal-bridge-go/internal/errors"
	"github.com/breqdev/portal-bridge-go/internal/model"
	"github.com/breqdev/portal-bridge-go/internal/store"
)

func newTestRegistry() *Registry {
	return NewRegistry(store.NewMemory())
}

func TestRegistryGet(t *testing.T) {
	ctx := context.Background()
	registry := newTestRegistry()

	t.Run("unknown id is NotFound", func(t *testing.T) {
		_, err := registry.Get(ctx, "missing", "")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
	})

	t.Run("round trips a stored portal", func(t *testing.T) {
		created, err := registry.Create(ctx, "alice")
		require.NoError(t, err)

		got, err := registry.Get(ctx, created.ID, "")
		require.NoError(t, err)
		assert.Equal(t, created.ID, got.ID)
		assert.Equal(t, "alice", got.OwnerID)
		assert.Equal(t, int64(0), got.Price)
		assert.Equal(t, model.StatusDisconnected, got.Status)
	})

	t.Run("owner filter rejects non-owners before anything else", func(t *testing.T) {
		created, err := registry.Create(ctx, "alice")
		require.NoError(t, err)

		_, err = registry.Get(ctx, created.ID, "bob")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePermissionDenied))

		_, err = registry.Get(ctx, created.ID, "alice")
		assert.NoError(t, err)
	})

	t.Run("missing price reads as zero", func(t *testing.T) {
		mem := store.NewMemory()
		registry := NewRegistry(mem)
		require.NoError(t, mem.HSet(ctx, "portal:legacy", map[string]string{
			"id":    "legacy",
			"name":  "Old",
			"owner": "alice",
		}))

		got, err := registry.Get(ctx, "legacy", "")
		require.NoError(t, err)
		assert.Equal(t, int64(0), got.Price)
	})
}

func TestRegistryPut(t *testing.T) {
	ctx := context.Background()
	registry := newTestRegistry()

	portal := &model.Portal{ID: "p1", Name: "Greeter", OwnerID: "alice", Token: "tok"}
	require.NoError(t, registry.Put(ctx, portal))

	t.Run("repeated put with same id is safe", func(t *testing.T) {
		portal.Name = "Greeter 2"
		require.NoError(t, registry.Put(ctx, portal))

		got, err := registry.Get(ctx, "p1", "")
		require.NoError(t, err)
		assert.Equal(t, "Greeter 2", got.Name)

		owned, err := registry.ListByOwner(ctx, "alice")
		require.NoError(t, err)
		assert.Len(t, owned, 1)
	})
}

func TestRegistrySetField(t *testing.T) {
	ctx := context.Background()
	registry := newTestRegistry()

	portal, err := registry.Create(ctx, "alice")
	require.NoError(t, err)

	t.Run("updates name, desc, and price", func(t *testing.T) {
		_, err := registry.SetField(ctx, portal.ID, "alice", "name", "Greeter")
		require.NoError(t, err)
		_, err = registry.SetField(ctx, portal.ID, "alice", "desc", "Says hello")
		require.NoError(t, err)
		updated, err := registry.SetField(ctx, portal.ID, "alice", "price", "50")
		require.NoError(t, err)

		assert.Equal(t, "Greeter", updated.Name)
		assert.Equal(t, "Says hello", updated.Description)
		assert.Equal(t, int64(50), updated.Price)
	})

	t.Run("unknown field is InvalidField", func(t *testing.T) {
		_, err := registry.SetField(ctx, portal.ID, "alice", "color", "red")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidField))
	})

	t.Run("negative or malformed price rejected", func(t *testing.T) {
		_, err := registry.SetField(ctx, portal.ID, "alice", "price", "-5")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
		_, err = registry.SetField(ctx, portal.ID, "alice", "price", "lots")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
	})

	t.Run("non-owner mutation leaves the record unchanged", func(t *testing.T) {
		before, err := registry.Get(ctx, portal.ID, "")
		require.NoError(t, err)

		_, err = registry.SetField(ctx, portal.ID, "bob", "name", "Stolen")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePermissionDenied))

		after, err := registry.Get(ctx, portal.ID, "")
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})
}

func TestRegistryRetoken(t *testing.T) {
	ctx := context.Background()
	registry := newTestRegistry()

	portal, err := registry.Create(ctx, "alice")
	require.NoError(t, err)
	oldToken := portal.Token

	t.Run("non-owner denied", func(t *testing.T) {
		_, err := registry.Retoken(ctx, portal.ID, "bob")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePermissionDenied))
	})

	t.Run("owner gets a fresh token, old one invalid", func(t *testing.T) {
		updated, err := registry.Retoken(ctx, portal.ID, "alice")
		require.NoError(t, err)
		assert.NotEqual(t, oldToken, updated.Token)

		_, err = registry.Authenticate(ctx, portal.ID, oldToken)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnauthorized))

		_, err = registry.Authenticate(ctx, portal.ID, updated.Token)
		assert.NoError(t, err)
	})
}

func TestRegistryAliases(t *testing.T) {
	ctx := context.Background()
	registry := newTestRegistry()

	portal, err := registry.Create(ctx, "alice")
	require.NoError(t, err)

	t.Run("unknown alias is NotFound", func(t *testing.T) {
		_, err := registry.ResolveAlias(ctx, "g1", "greeter")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
	})

	t.Run("add then resolve, idempotently", func(t *testing.T) {
		require.NoError(t, registry.AddToGuild(ctx, portal.ID, "g1", "greeter"))

		id, err := registry.ResolveAlias(ctx, "g1", "greeter")
		require.NoError(t, err)
		assert.Equal(t, portal.ID, id)

		again, err := registry.ResolveAlias(ctx, "g1", "greeter")
		require.NoError(t, err)
		assert.Equal(t, id, again)
	})

	t.Run("duplicate alias in the same guild conflicts", func(t *testing.T) {
		other, err := registry.Create(ctx, "alice")
		require.NoError(t, err)

		err = registry.AddToGuild(ctx, other.ID, "g1", "greeter")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))
	})

	t.Run("duplicate guild attachment conflicts", func(t *testing.T) {
		err := registry.AddToGuild(ctx, portal.ID, "g1", "greeter2")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))
	})

	t.Run("same portal may carry different aliases in different guilds", func(t *testing.T) {
		require.NoError(t, registry.AddToGuild(ctx, portal.ID, "g2", "hello"))

		id, err := registry.ResolveAlias(ctx, "g2", "hello")
		require.NoError(t, err)
		assert.Equal(t, portal.ID, id)
	})

	t.Run("removed alias slot is free for reuse", func(t *testing.T) {
		require.NoError(t, registry.RemoveFromGuild(ctx, portal.ID, "g2"))

		_, err := registry.ResolveAlias(ctx, "g2", "hello")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))

		require.NoError(t, registry.AddToGuild(ctx, portal.ID, "g2", "hello"))
	})

	t.Run("removing an absent association is a no-op", func(t *testing.T) {
		assert.NoError(t, registry.RemoveFromGuild(ctx, portal.ID, "g-nowhere"))
	})
}

func TestRegistryStaleAliasSelfHealing(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	registry := NewRegistry(mem)

	portal, err := registry.Create(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, registry.AddToGuild(ctx, portal.ID, "g1", "greeter"))

	// Simulate a record vanishing out from under its alias.
	require.NoError(t, mem.Del(ctx, "portal:"+portal.ID))

	t.Run("stale alias resolves NotFound and is purged", func(t *testing.T) {
		_, err := registry.ResolveAlias(ctx, "g1", "greeter")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))

		raw, err := mem.Get(ctx, "portal:from_name:g1:greeter")
		require.NoError(t, err)
		assert.Empty(t, raw, "stale alias mapping should be deleted")
	})

	t.Run("freed slot accepts a new portal", func(t *testing.T) {
		replacement, err := registry.Create(ctx, "bob")
		require.NoError(t, err)

		// The stale portal is still in the guild list; the alias slot itself
		// must be reusable.
		require.NoError(t, registry.AddToGuild(ctx, replacement.ID, "g2", "greeter"))
		id, err := registry.ResolveAlias(ctx, "g2", "greeter")
		require.NoError(t, err)
		assert.Equal(t, replacement.ID, id)
	})

	t.Run("stale alias healed during availability check", func(t *testing.T) {
		other, err := registry.Create(ctx, "carol")
		require.NoError(t, err)
		require.NoError(t, registry.AddToGuild(ctx, other.ID, "g3", "ghost"))
		require.NoError(t, mem.Del(ctx, "portal:"+other.ID))

		fresh, err := registry.Create(ctx, "carol")
		require.NoError(t, err)
		assert.NoError(t, registry.AddToGuild(ctx, fresh.ID, "g3", "ghost"))
	})
}

func TestRegistryDeleteCascades(t *testing.T) {
	ctx := context.Background()
	registry := newTestRegistry()

	portal, err := registry.Create(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, registry.AddToGuild(ctx, portal.ID, "g1", "greeter"))
	require.NoError(t, registry.AddToGuild(ctx, portal.ID, "g2", "hello"))

	t.Run("non-owner cannot delete", func(t *testing.T) {
		err := registry.Delete(ctx, portal.ID, "bob")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodePermissionDenied))

		_, err = registry.Get(ctx, portal.ID, "")
		assert.NoError(t, err)
	})

	t.Run("delete removes record, guild lists, and aliases", func(t *testing.T) {
		require.NoError(t, registry.Delete(ctx, portal.ID, "alice"))

		_, err := registry.Get(ctx, portal.ID, "")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))

		for _, guild := range []string{"g1", "g2"} {
			listed, err := registry.ListByGuild(ctx, guild)
			require.NoError(t, err)
			assert.Empty(t, listed, "guild %s should no longer list the portal", guild)
		}

		_, err = registry.ResolveAlias(ctx, "g1", "greeter")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
		_, err = registry.ResolveAlias(ctx, "g2", "hello")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))

		owned, err := registry.ListByOwner(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, owned)
	})
}

func TestRegistryListByGuild(t *testing.T) {
	ctx := context.Background()
	registry := newTestRegistry()

	p1, err := registry.Create(ctx, "alice")
	require.NoError(t, err)
	p2, err := registry.Create(ctx, "bob")
	require.NoError(t, err)

	require.NoError(t, registry.AddToGuild(ctx, p1.ID, "g1", "one"))
	require.NoError(t, registry.AddToGuild(ctx, p2.ID, "g1", "two"))

	listed, err := registry.ListByGuild(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, listed, 2)

	aliases := map[string]string{}
	for _, gp := range listed {
		aliases[gp.ID] = gp.Alias
	}
	assert.Equal(t, "one", aliases[p1.ID])
	assert.Equal(t, "two", aliases[p2.ID])
}

func TestRegistrySetStatus(t *testing.T) {
	ctx := context.Background()
	registry := newTestRegistry()

	portal, err := registry.Create(ctx, "alice")
	require.NoError(t, err)

	t.Run("records a valid status", func(t *testing.T) {
		require.NoError(t, registry.SetStatus(ctx, portal.ID, model.StatusConnectedReady))

		got, err := registry.Get(ctx, portal.ID, "")
		require.NoError(t, err)
		assert.Equal(t, model.StatusConnectedReady, got.Status)
	})

	t.Run("rejects an unknown status value", func(t *testing.T) {
		err := registry.SetStatus(ctx, portal.ID, model.Status(9))
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
	})

	t.Run("unknown portal is NotFound", func(t *testing.T) {
		err := registry.SetStatus(ctx, "missing", model.StatusConnectedReady)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
	})
}
