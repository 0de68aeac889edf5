package poller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinytrack/pkg/event"
)

func statsServer(t *testing.T, hits *atomic.Int32, gate chan struct{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stats", r.URL.Path)
		n := hits.Add(1)
		if gate != nil {
			<-gate
		}
		snap := event.NewSnapshot()
		for i := int32(0); i < n; i++ {
			snap.Count("Button", "primary", "click")
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snap)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_InvalidEndpoint(t *testing.T) {
	_, err := New(Config{Endpoint: ""})
	require.Error(t, err)
}

func TestPoller_Poll(t *testing.T) {
	var hits atomic.Int32
	srv := statsServer(t, &hits, nil)

	var (
		mu      sync.Mutex
		updates int
	)
	p, err := New(Config{Endpoint: srv.URL, OnUpdate: func(s *event.Snapshot, err error) {
		mu.Lock()
		defer mu.Unlock()
		updates++
	}})
	require.NoError(t, err)

	snap, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), snap.TotalEvents)
	require.Equal(t, map[string]int64{"Button": 1}, snap.TotalsByComponent)

	last, at := p.Last()
	require.Same(t, snap, last)
	require.False(t, at.IsZero())
	require.NoError(t, p.Err())
	require.Equal(t, 1, updates)
}

func TestPoller_RecentLimitQuery(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		json.NewEncoder(w).Encode(event.NewSnapshot())
	}))
	defer srv.Close()

	p, err := New(Config{Endpoint: srv.URL + "/", RecentLimit: 5})
	require.NoError(t, err)
	_, err = p.Poll(context.Background())
	require.NoError(t, err)
	require.Equal(t, "recent=5", query)
}

func TestPoller_ErrorKeepsLastSnapshot(t *testing.T) {
	fail := atomic.Bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(event.NewSnapshot())
	}))
	defer srv.Close()

	p, err := New(Config{Endpoint: srv.URL})
	require.NoError(t, err)

	first, err := p.Poll(context.Background())
	require.NoError(t, err)

	fail.Store(true)
	_, err = p.Poll(context.Background())
	require.ErrorContains(t, err, "status 500")

	last, _ := p.Last()
	require.Same(t, first, last)
	require.Error(t, p.Err())
}

func TestPoller_SingleFlight(t *testing.T) {
	var hits atomic.Int32
	gate := make(chan struct{})
	srv := statsServer(t, &hits, gate)

	p, err := New(Config{Endpoint: srv.URL})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := p.Poll(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, time.Millisecond)

	_, err = p.Poll(context.Background())
	require.ErrorIs(t, err, ErrBusy)

	close(gate)
	require.NoError(t, <-done)
	require.EqualValues(t, 1, hits.Load())
}

func TestPoller_StartPollsOnInterval(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var hits atomic.Int32
	srv := statsServer(t, &hits, nil)
	clock := quartz.NewMock(t)

	p, err := New(Config{Endpoint: srv.URL, Clock: clock})
	require.NoError(t, err)

	p.Start(ctx)
	defer p.Stop()
	require.EqualValues(t, 1, hits.Load())

	clock.Advance(DefaultInterval).MustWait(ctx)
	require.Eventually(t, func() bool { return hits.Load() == 2 }, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		last, _ := p.Last()
		return last != nil && last.TotalEvents == 2
	}, time.Second, time.Millisecond)
}
