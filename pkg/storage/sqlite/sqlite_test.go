package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinytrack/pkg/event"
	"github.com/nicktill/tinytrack/pkg/storage"
	"github.com/nicktill/tinytrack/pkg/storage/storagetest"
)

func TestSQLiteStorage(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		store, err := Open(filepath.Join(t.TempDir(), "events.db"))
		require.NoError(t, err)
		return store
	})
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}

func TestSQLiteStorage_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	ctx := context.Background()

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Write(ctx, []event.Persisted{storagetest.NewEvent("Card", "outlined", "click", 0)}))
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	defer store.Close()

	snap, err := store.Snapshot(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"Card": 1}, snap.TotalsByComponent)
}

func TestSQLiteStorage_DuplicateIDRollsBack(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	dup := storagetest.NewEvent("Button", "primary", "click", 0)
	other := storagetest.NewEvent("Input", "default", "focus", 0)

	require.NoError(t, store.Write(ctx, []event.Persisted{dup}))
	require.Error(t, store.Write(ctx, []event.Persisted{other, dup}))

	snap, err := store.Snapshot(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), snap.TotalEvents)
}
