package server

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nicktill/tinytrack/pkg/config"
	"github.com/nicktill/tinytrack/pkg/storage"
	"github.com/nicktill/tinytrack/pkg/storage/memory"
)

type gcStore struct {
	storage.Storage
	runs  atomic.Int32
	ratio atomic.Value
}

func (s *gcStore) RunGC(discardRatio float64) error {
	s.ratio.Store(discardRatio)
	s.runs.Add(1)
	return errors.New("nothing to rewrite")
}

func TestRunBadgerGC_Ticks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := quartz.NewMock(t)
	trap := clock.Trap().NewTicker("badger", "gc")
	defer trap.Close()

	store := &gcStore{Storage: memory.New()}
	runCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		RunBadgerGC(runCtx, store, clock, zap.NewNop())
	}()

	call := trap.MustWait(ctx)
	call.MustRelease(ctx)
	require.Equal(t, config.BadgerGCInterval, call.Duration)

	clock.Advance(config.BadgerGCInterval).MustWait(ctx)
	require.Eventually(t, func() bool { return store.runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, config.BadgerGCDiscardRatio, store.ratio.Load())

	stop()
	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("GC loop did not stop")
	}
}

func TestRunBadgerGC_SkipsOtherStores(t *testing.T) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		RunBadgerGC(context.Background(), memory.New(), quartz.NewMock(t), zap.NewNop())
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunBadgerGC should return for a store without a value log")
	}
}
