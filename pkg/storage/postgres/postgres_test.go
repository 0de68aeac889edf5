package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinytrack/pkg/storage"
	"github.com/nicktill/tinytrack/pkg/storage/storagetest"
)

// Set TINYTRACK_TEST_POSTGRES_URL to run these against a real database.
// The tracking_events table is truncated before every subtest.
func postgresURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("TINYTRACK_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("TINYTRACK_TEST_POSTGRES_URL not set")
	}
	return url
}

func TestPostgresStorage(t *testing.T) {
	url := postgresURL(t)

	storagetest.Run(t, func(t *testing.T) storage.Storage {
		ctx := context.Background()
		store, err := New(ctx, Config{URL: url, MaxConns: 8})
		require.NoError(t, err)
		require.NoError(t, store.Truncate(ctx))
		return store
	})
}

func TestNew_RequiresURL(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}

func TestNew_BadURL(t *testing.T) {
	_, err := New(context.Background(), Config{URL: "postgres://%zz"})
	require.Error(t, err)
}
