// Package storagetest holds the behavior every storage backend must share.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinytrack/pkg/event"
	"github.com/nicktill/tinytrack/pkg/storage"
)

// Factory returns an empty backend. The suite closes it.
type Factory func(t *testing.T) storage.Storage

// Base is the first timestamp the suite writes. Millisecond precision keeps
// it representable by every backend.
var Base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// NewEvent builds a persisted event at Base plus offset.
func NewEvent(component, variant, action string, offset time.Duration) event.Persisted {
	return event.Persisted{
		ID:        uuid.NewString(),
		Component: component,
		Variant:   variant,
		Action:    action,
		Timestamp: Base.Add(offset),
	}
}

// Run executes the shared suite against backends produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Storage)
	}{
		{"EmptySnapshot", testEmptySnapshot},
		{"SnapshotFacets", testSnapshotFacets},
		{"RecentNewestFirst", testRecentNewestFirst},
		{"RecentProjection", testRecentProjection},
		{"QueryNewestFirst", testQueryNewestFirst},
		{"QueryTimeRange", testQueryTimeRange},
		{"SnapshotConsistentUnderWrites", testSnapshotConsistentUnderWrites},
		{"Stats", testStats},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			tt.fn(t, s)
		})
	}
}

func testEmptySnapshot(t *testing.T, s storage.Storage) {
	snap, err := s.Snapshot(context.Background(), 0)
	require.NoError(t, err)

	assert.Zero(t, snap.TotalEvents)
	assert.NotNil(t, snap.TotalsByComponent)
	assert.Empty(t, snap.TotalsByComponent)
	assert.NotNil(t, snap.TotalsByVariant)
	assert.NotNil(t, snap.TotalsByAction)
	assert.NotNil(t, snap.RecentEvents)
	assert.Empty(t, snap.RecentEvents)
}

func testSnapshotFacets(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	require.NoError(t, s.Write(ctx, []event.Persisted{
		NewEvent("Button", "primary", "click", 0),
		NewEvent("Button", "ghost", "click", time.Millisecond),
		NewEvent("Input", "default", "focus", 2*time.Millisecond),
	}))

	snap, err := s.Snapshot(ctx, 20)
	require.NoError(t, err)

	assert.Equal(t, int64(3), snap.TotalEvents)
	assert.Equal(t, map[string]int64{"Button": 2, "Input": 1}, snap.TotalsByComponent)
	assert.Equal(t, map[string]int64{"primary": 1, "ghost": 1, "default": 1}, snap.TotalsByVariant)
	assert.Equal(t, map[string]int64{"click": 2, "focus": 1}, snap.TotalsByAction)
	assert.Len(t, snap.RecentEvents, 3)
}

func testRecentNewestFirst(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	// Written out of order on purpose.
	var events []event.Persisted
	for i := 29; i >= 0; i-- {
		events = append(events, NewEvent("Card", "elevated", fmt.Sprintf("a%02d", i), time.Duration(i)*time.Second))
	}
	require.NoError(t, s.Write(ctx, events[:15]))
	require.NoError(t, s.Write(ctx, events[15:]))

	snap, err := s.Snapshot(ctx, 0)
	require.NoError(t, err)
	require.Len(t, snap.RecentEvents, storage.DefaultRecentLimit)
	for i, ev := range snap.RecentEvents {
		assert.Equal(t, fmt.Sprintf("a%02d", 29-i), ev.Action)
	}

	snap, err = s.Snapshot(ctx, 5)
	require.NoError(t, err)
	require.Len(t, snap.RecentEvents, 5)
	assert.Equal(t, "a29", snap.RecentEvents[0].Action)
	assert.Equal(t, "a25", snap.RecentEvents[4].Action)
	assert.Equal(t, int64(30), snap.TotalEvents)
}

func testRecentProjection(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	ev := NewEvent("Modal", "default", "open", 1500*time.Millisecond)
	ev.Metadata = map[string]any{
		"title":          "Confirm",
		"dismissable":    true,
		event.TrackingKey: map[string]any{"sessionId": "sess-1"},
	}
	require.NoError(t, s.Write(ctx, []event.Persisted{ev}))

	snap, err := s.Snapshot(ctx, 1)
	require.NoError(t, err)
	require.Len(t, snap.RecentEvents, 1)

	got := snap.RecentEvents[0]
	assert.Equal(t, "Modal", got.Component)
	assert.Equal(t, "default", got.Variant)
	assert.Equal(t, "open", got.Action)
	assert.True(t, got.Timestamp.Equal(ev.Timestamp), "timestamp %s != %s", got.Timestamp, ev.Timestamp)
	assert.Equal(t, ev.Metadata, got.Metadata)
}

func testQueryNewestFirst(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Write(ctx, []event.Persisted{
			NewEvent("Button", "primary", fmt.Sprintf("a%d", i), time.Duration(i)*time.Second),
		}))
	}

	all, err := s.Query(ctx, storage.QueryRequest{})
	require.NoError(t, err)
	require.Len(t, all, 10)
	assert.Equal(t, "a9", all[0].Action)
	assert.Equal(t, "a0", all[9].Action)
	assert.NotEmpty(t, all[0].ID)

	limited, err := s.Query(ctx, storage.QueryRequest{Limit: 3})
	require.NoError(t, err)
	require.Len(t, limited, 3)
	assert.Equal(t, []string{"a9", "a8", "a7"}, actions(limited))
}

func testQueryTimeRange(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Write(ctx, []event.Persisted{
			NewEvent("Button", "primary", fmt.Sprintf("a%d", i), time.Duration(i)*time.Minute),
		}))
	}

	got, err := s.Query(ctx, storage.QueryRequest{
		Start: Base.Add(3 * time.Minute),
		End:   Base.Add(5 * time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a5", "a4", "a3"}, actions(got))
}

func testSnapshotConsistentUnderWrites(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	components := []string{"Button", "Input", "Card", "Modal"}

	const writers, perWriter = 4, 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				offset := time.Duration(w*perWriter+i) * time.Millisecond
				ev := NewEvent(components[(w+i)%len(components)], "default", "click", offset)
				assert.NoError(t, s.Write(ctx, []event.Persisted{ev}))
			}
		}(w)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		snap, err := s.Snapshot(ctx, 10)
		require.NoError(t, err)
		assertConsistent(t, snap)

		select {
		case <-done:
			snap, err := s.Snapshot(ctx, 10)
			require.NoError(t, err)
			assertConsistent(t, snap)
			require.Equal(t, int64(writers*perWriter), snap.TotalEvents)
			return
		default:
		}
	}
}

func assertConsistent(t *testing.T, snap *event.Snapshot) {
	t.Helper()
	assert.Equal(t, snap.TotalEvents, sum(snap.TotalsByComponent), "component facet")
	assert.Equal(t, snap.TotalEvents, sum(snap.TotalsByVariant), "variant facet")
	assert.Equal(t, snap.TotalEvents, sum(snap.TotalsByAction), "action facet")
	assert.LessOrEqual(t, int64(len(snap.RecentEvents)), snap.TotalEvents)
}

func testStats(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	require.NoError(t, s.Write(ctx, []event.Persisted{
		NewEvent("Button", "primary", "click", 0),
		NewEvent("Button", "primary", "click", time.Hour),
	}))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.TotalEvents)
	assert.True(t, stats.OldestEvent.Equal(Base), "oldest %s", stats.OldestEvent)
	assert.True(t, stats.NewestEvent.Equal(Base.Add(time.Hour)), "newest %s", stats.NewestEvent)
}

func sum(m map[string]int64) int64 {
	var total int64
	for _, v := range m {
		total += v
	}
	return total
}

func actions(events []event.Persisted) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Action
	}
	return out
}
