package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinytrack/pkg/event"
)

func sampleSnapshot() *event.Snapshot {
	snap := event.NewSnapshot()
	snap.Count("Button", "primary", "click")
	snap.Count("Input", "default", "focus")
	snap.RecentEvents = append(snap.RecentEvents, event.Recent{
		Component: "Input",
		Variant:   "default",
		Action:    "focus",
		Timestamp: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	return snap
}

func TestLocal_Expiry(t *testing.T) {
	ctx := context.Background()
	clock := quartz.NewMock(t)
	c := NewLocal(time.Second, clock)

	_, ok, err := c.Get(ctx, 20)
	require.NoError(t, err)
	require.False(t, ok)

	snap := sampleSnapshot()
	require.NoError(t, c.Set(ctx, 20, snap))

	got, ok, err := c.Get(ctx, 20)
	require.NoError(t, err)
	require.True(t, ok)
	require.Same(t, snap, got)

	// keyed by limit
	_, ok, _ = c.Get(ctx, 5)
	require.False(t, ok)

	clock.Advance(time.Second)
	_, ok, _ = c.Get(ctx, 20)
	require.False(t, ok)
}

func TestNop(t *testing.T) {
	var c SnapshotCache = Nop{}
	require.NoError(t, c.Set(context.Background(), 20, sampleSnapshot()))
	_, ok, err := c.Get(context.Background(), 20)
	require.NoError(t, err)
	require.False(t, ok)
}

// Set TINYTRACK_TEST_REDIS_ADDR to run against a real Redis.
func TestRedis_RoundTrip(t *testing.T) {
	addr := os.Getenv("TINYTRACK_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TINYTRACK_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()

	c, err := NewRedis(ctx, addr, 2*time.Second)
	require.NoError(t, err)
	defer c.Close()

	limit := int(time.Now().UnixNano()%1000) + 1000
	_, ok, err := c.Get(ctx, limit)
	require.NoError(t, err)
	require.False(t, ok)

	want := sampleSnapshot()
	require.NoError(t, c.Set(ctx, limit, want))

	got, ok, err := c.Get(ctx, limit)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, want.TotalEvents, got.TotalEvents)
	require.Equal(t, want.TotalsByComponent, got.TotalsByComponent)
	require.Len(t, got.RecentEvents, 1)
	require.True(t, got.RecentEvents[0].Timestamp.Equal(want.RecentEvents[0].Timestamp))
}

func TestNewRedis_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewRedis(ctx, "127.0.0.1:1", time.Second)
	require.Error(t, err)
}
