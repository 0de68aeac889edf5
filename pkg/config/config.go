package config

import "time"

// Server defaults
const (
	DefaultPort         = "8080"
	DefaultMaxStorageGB = 1
	DefaultMaxMemoryMB  = 48
)

// Background tasks
const (
	BadgerGCInterval     = 10 * time.Minute
	BadgerGCDiscardRatio = 0.5
	StorageUsageCacheFor = 10 * time.Second
)

// Ingest timeouts and limits
const (
	IngestTimeout     = 5 * time.Second
	DefaultRateLimit  = 50 // events per second per session
	DefaultRateBurst  = 100
	MaxValuesPerFacet = 1000
	LimiterIdleAfter  = 10 * time.Minute
)

// Stats defaults
const (
	StatsTimeout         = 5 * time.Second
	DefaultRecentLimit   = 20
	MaxRecentLimit       = 100
	DefaultStatsCacheTTL = 1 * time.Second
)

// Export defaults and limits
const (
	ExportTimeout  = 30 * time.Second
	MaxExportLimit = 10000
)

// Health thresholds
const (
	MaxConsecutiveWriteFailures = 3
)
