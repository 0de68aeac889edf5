package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinytrack/pkg/event"
	"github.com/nicktill/tinytrack/pkg/storage"
	"github.com/nicktill/tinytrack/pkg/storage/storagetest"
)

func TestMemoryStorage(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		return New()
	})
}

func TestMemoryStorage_Closed(t *testing.T) {
	store := New()
	require.NoError(t, store.Close())

	ctx := context.Background()
	require.ErrorIs(t, store.Write(ctx, []event.Persisted{storagetest.NewEvent("Button", "primary", "click", 0)}), storage.ErrClosed)
	_, err := store.Snapshot(ctx, 0)
	require.ErrorIs(t, err, storage.ErrClosed)
	_, err = store.Query(ctx, storage.QueryRequest{})
	require.ErrorIs(t, err, storage.ErrClosed)
}

func TestMemoryStorage_SnapshotIsACopy(t *testing.T) {
	store := New()
	ctx := context.Background()
	require.NoError(t, store.Write(ctx, []event.Persisted{storagetest.NewEvent("Button", "primary", "click", 0)}))

	snap, err := store.Snapshot(ctx, 0)
	require.NoError(t, err)
	snap.TotalsByComponent["Button"] = 99

	again, err := store.Snapshot(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), again.TotalsByComponent["Button"])
}
