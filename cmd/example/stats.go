package main

import (
	"maps"
	"slices"

	"go.uber.org/zap"

	"github.com/nicktill/tinytrack/pkg/event"
)

// printSnapshot logs each dashboard update: totals plus the busiest component.
func printSnapshot(log *zap.Logger) func(*event.Snapshot, error) {
	return func(snap *event.Snapshot, err error) {
		if err != nil {
			log.Warn("stats unavailable", zap.Error(err))
			return
		}

		fields := []zap.Field{
			zap.Int64("total", snap.TotalEvents),
			zap.Any("components", snap.TotalsByComponent),
			zap.Any("actions", snap.TotalsByAction),
		}
		if top, n := busiest(snap.TotalsByComponent); n > 0 {
			fields = append(fields, zap.String("busiest", top), zap.Int64("busiest_count", n))
		}
		if len(snap.RecentEvents) > 0 {
			last := snap.RecentEvents[0]
			fields = append(fields, zap.String("last", last.Component+"/"+last.Variant+"/"+last.Action))
		}
		log.Info("snapshot", fields...)
	}
}

// busiest returns the key with the highest count, ties broken by name.
func busiest(counts map[string]int64) (string, int64) {
	var top string
	var best int64
	for _, k := range slices.Sorted(maps.Keys(counts)) {
		if counts[k] > best {
			top, best = k, counts[k]
		}
	}
	return top, best
}
