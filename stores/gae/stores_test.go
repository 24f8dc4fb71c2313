//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	la "github.com/panyam/linkauth"
)

func TestNamespacedKeys(t *testing.T) {
	s := NewStore(nil, "tenant-1")
	key := s.identityKey(la.ProviderOpenID, "https://example.com/alice")
	assert.Equal(t, KindIdentity, key.Kind)
	assert.Equal(t, "openid:https://example.com/alice", key.Name)
	assert.Equal(t, "tenant-1", key.Namespace)
}

func TestSortAudit(t *testing.T) {
	base := time.Now()
	entries := []*la.AuditEntry{
		{ID: "b", CreatedAt: base},
		{ID: "c", CreatedAt: base.Add(-time.Second)},
		{ID: "a", CreatedAt: base},
	}
	sortAudit(entries)
	assert.Equal(t, "c", entries[0].ID)
	assert.Equal(t, "a", entries[1].ID)
	assert.Equal(t, "b", entries[2].ID)
}

// newEmulatorStore uses the Datastore emulator when DATASTORE_EMULATOR_HOST is set
func newEmulatorStore(t *testing.T) *Store {
	t.Helper()
	if os.Getenv("DATASTORE_EMULATOR_HOST") == "" {
		t.Skip("DATASTORE_EMULATOR_HOST not set")
	}
	client, err := datastore.NewClient(context.Background(), "linkauth-test")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return NewStore(client, "test-"+time.Now().Format("20060102150405.000000000"))
}

func TestStore_Emulator(t *testing.T) {
	store := newEmulatorStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.CreateAccount(ctx, &la.Account{ID: "a1", Username: "TW-alice", CreatedAt: now}))
	assert.ErrorIs(t, store.CreateAccount(ctx, &la.Account{ID: "a2", Username: "TW-alice", CreatedAt: now}), la.ErrUsernameTaken)
	require.NoError(t, store.CreateAccount(ctx, &la.Account{ID: "a3", Username: "TW-alice2", CreatedAt: now}))
	require.NoError(t, store.CreateAccount(ctx, &la.Account{ID: "a4", Username: "TW-bob", CreatedAt: now}))

	count, err := store.CountUsernamesWithPrefix(ctx, "TW-alice")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	record := &la.IdentityRecord{ID: "r1", Provider: la.ProviderTwitter, ExternalID: "alice", AccountID: "a1", CreatedAt: now}
	require.NoError(t, store.InsertIdentity(ctx, record))
	assert.ErrorIs(t, store.InsertIdentity(ctx, record), la.ErrIdentityExists)

	err = store.RunInTransaction(ctx, func(tx la.Store) error {
		if err := tx.CreateAccount(ctx, &la.Account{ID: "a5", Username: "TW-carol", CreatedAt: now}); err != nil {
			return err
		}
		return tx.InsertIdentity(ctx, &la.IdentityRecord{ID: "r2", Provider: la.ProviderTwitter, ExternalID: "alice", AccountID: "a5"})
	})
	assert.ErrorIs(t, err, la.ErrIdentityExists)
	_, err = store.GetAccount(ctx, "a5")
	assert.ErrorIs(t, err, la.ErrNotFound)
}
