package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinytrack/pkg/cache"
	"github.com/nicktill/tinytrack/pkg/event"
	"github.com/nicktill/tinytrack/pkg/httpx"
	"github.com/nicktill/tinytrack/pkg/storage"
	"github.com/nicktill/tinytrack/pkg/storage/memory"
	"github.com/nicktill/tinytrack/pkg/storage/storagetest"
)

func seed(t *testing.T, store storage.Storage, n int) {
	t.Helper()
	events := make([]event.Persisted, n)
	for i := range events {
		events[i] = storagetest.NewEvent("Button", "primary", fmt.Sprintf("a%d", i), time.Duration(i)*time.Millisecond)
	}
	require.NoError(t, store.Write(context.Background(), events))
}

func getStats(t *testing.T, h *Handler, query string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/stats"+query, nil)
	rr := httptest.NewRecorder()
	h.HandleStats(rr, req)
	return rr
}

func TestHandleStats_ButtonButtonInput(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.Write(context.Background(), []event.Persisted{
		storagetest.NewEvent("Button", "primary", "click", 0),
		storagetest.NewEvent("Button", "secondary", "click", time.Millisecond),
		storagetest.NewEvent("Input", "default", "focus", 2*time.Millisecond),
	}))

	h := NewHandler(NewEngine(store, nil))
	rr := getStats(t, h, "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "no-store", rr.Header().Get("Cache-Control"))

	var snap event.Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	require.Equal(t, int64(3), snap.TotalEvents)
	require.Equal(t, map[string]int64{"Button": 2, "Input": 1}, snap.TotalsByComponent)
	require.Equal(t, map[string]int64{"primary": 1, "secondary": 1, "default": 1}, snap.TotalsByVariant)
	require.Equal(t, map[string]int64{"click": 2, "focus": 1}, snap.TotalsByAction)
	require.Len(t, snap.RecentEvents, 3)
	require.Equal(t, "Input", snap.RecentEvents[0].Component)
}

func TestHandleStats_EmptyLogEncodesObjects(t *testing.T) {
	h := NewHandler(NewEngine(memory.New(), nil))
	rr := getStats(t, h, "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{
		"totalEvents": 0,
		"totalsByComponent": {},
		"totalsByVariant": {},
		"totalsByAction": {},
		"recentEvents": []
	}`, rr.Body.String())
}

func TestHandleStats_RecentParam(t *testing.T) {
	store := memory.New()
	seed(t, store, 150)
	h := NewHandler(NewEngine(store, nil))

	tests := []struct {
		query string
		want  int
	}{
		{"", 20},
		{"?recent=5", 5},
		{"?recent=100", 100},
		{"?recent=500", 100},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rr := getStats(t, h, tt.query)
			require.Equal(t, http.StatusOK, rr.Code)

			var snap event.Snapshot
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
			require.Len(t, snap.RecentEvents, tt.want)
			require.Equal(t, int64(150), snap.TotalEvents)
		})
	}
}

func TestHandleStats_InvalidRecent(t *testing.T) {
	h := NewHandler(NewEngine(memory.New(), nil))
	for _, q := range []string{"?recent=abc", "?recent=0", "?recent=-3"} {
		rr := getStats(t, h, q)
		require.Equal(t, http.StatusBadRequest, rr.Code, q)

		var resp httpx.ErrorResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		require.Equal(t, httpx.CodeValidation, resp.Code)
	}
}

type brokenStore struct{ storage.Storage }

func (brokenStore) Snapshot(context.Context, int) (*event.Snapshot, error) {
	return nil, errors.New("connection refused")
}

func TestHandleStats_StoreError(t *testing.T) {
	h := NewHandler(NewEngine(brokenStore{}, nil))
	rr := getStats(t, h, "")
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "connection refused")
}

func TestClampRecentLimit(t *testing.T) {
	assert.Equal(t, 20, ClampRecentLimit(0))
	assert.Equal(t, 20, ClampRecentLimit(-1))
	assert.Equal(t, 7, ClampRecentLimit(7))
	assert.Equal(t, 100, ClampRecentLimit(101))
}

type sources struct{ got []string }

func (s *sources) ObserveStats(_ time.Duration, source string) { s.got = append(s.got, source) }

func TestEngine_Cache(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(t, store, 3)

	clock := quartz.NewMock(t)
	engine := NewEngine(store, nil)
	engine.SetCache(cache.NewLocal(time.Second, clock))
	rec := &sources{}
	engine.SetRecorder(rec)

	first, err := engine.Compute(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, int64(3), first.TotalEvents)

	seed(t, store, 2)

	cached, err := engine.Compute(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, int64(3), cached.TotalEvents, "served from cache within TTL")

	clock.Advance(time.Second)
	fresh, err := engine.Compute(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, int64(5), fresh.TotalEvents)

	require.Equal(t, []string{SourceStore, SourceCache, SourceStore}, rec.got)
}

type flakyCache struct{ sets int }

func (f *flakyCache) Get(context.Context, int) (*event.Snapshot, bool, error) {
	return nil, false, errors.New("redis: connection pool timeout")
}

func (f *flakyCache) Set(context.Context, int, *event.Snapshot) error {
	f.sets++
	return errors.New("redis: connection pool timeout")
}

func TestEngine_CacheErrorsFallBackToStore(t *testing.T) {
	store := memory.New()
	seed(t, store, 4)

	engine := NewEngine(store, nil)
	fc := &flakyCache{}
	engine.SetCache(fc)

	snap, err := engine.Compute(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, int64(4), snap.TotalEvents)
	require.Equal(t, 1, fc.sets)
}

func TestEngine_ConsistentTotals(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.Write(context.Background(), []event.Persisted{
		storagetest.NewEvent("Button", "primary", "click", 0),
		storagetest.NewEvent("Modal", "default", "open", 0),
		storagetest.NewEvent("Modal", "default", "close", 0),
		storagetest.NewEvent("Card", "outlined", "click", 0),
	}))

	snap, err := NewEngine(store, nil).Compute(context.Background(), 0)
	require.NoError(t, err)

	for _, facet := range []map[string]int64{snap.TotalsByComponent, snap.TotalsByVariant, snap.TotalsByAction} {
		var sum int64
		for _, n := range facet {
			sum += n
		}
		require.Equal(t, snap.TotalEvents, sum)
	}
}
