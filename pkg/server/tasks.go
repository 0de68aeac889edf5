package server

import (
	"context"
	"errors"
	"time"

	"github.com/coder/quartz"
	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/nicktill/tinytrack/pkg/config"
	"github.com/nicktill/tinytrack/pkg/storage"
)

// gcRunner is implemented by stores with a value log to reclaim (badger).
type gcRunner interface {
	RunGC(discardRatio float64) error
}

// RunBadgerGC runs value log garbage collection every config.BadgerGCInterval
// until ctx is done. It returns immediately for stores that have nothing to collect.
func RunBadgerGC(ctx context.Context, store storage.Storage, clock quartz.Clock, log *zap.Logger) {
	gc, ok := store.(gcRunner)
	if !ok {
		log.Debug("storage has no value log, skipping GC")
		return
	}

	ticker := clock.NewTicker(config.BadgerGCInterval, "badger", "gc")
	defer ticker.Stop()

	log.Info("badger GC scheduler started", zap.Duration("interval", config.BadgerGCInterval))

	for {
		select {
		case <-ticker.C:
			start := clock.Now()
			err := gc.RunGC(config.BadgerGCDiscardRatio)
			elapsed := clock.Since(start).Round(time.Millisecond)
			switch {
			case err == nil:
				log.Info("badger GC reclaimed space", zap.Duration("took", elapsed))
			case errors.Is(err, badger.ErrNoRewrite), errors.Is(err, badger.ErrGCInMemoryMode):
				log.Debug("badger GC: nothing to rewrite", zap.Duration("took", elapsed))
			default:
				log.Warn("badger GC failed", zap.Error(err))
			}
		case <-ctx.Done():
			log.Info("stopping badger GC scheduler")
			return
		}
	}
}
