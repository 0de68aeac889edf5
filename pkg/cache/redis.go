package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/nicktill/tinytrack/pkg/event"
)

const keyPrefix = "tinytrack:stats:"

// Redis shares snapshots between server instances.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to addr and pings it.
func NewRedis(ctx context.Context, addr string, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &Redis{client: client, ttl: ttl}, nil
}

func key(recentLimit int) string {
	return fmt.Sprintf("%s%d", keyPrefix, recentLimit)
}

func (r *Redis) Get(ctx context.Context, recentLimit int) (*event.Snapshot, bool, error) {
	val, err := r.client.Get(ctx, key(recentLimit)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	snap := event.NewSnapshot()
	if err := json.Unmarshal(val, snap); err != nil {
		return nil, false, fmt.Errorf("decode cached snapshot: %w", err)
	}
	return snap, true, nil
}

func (r *Redis) Set(ctx context.Context, recentLimit int, snap *event.Snapshot) error {
	val, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := r.client.Set(ctx, key(recentLimit), val, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}
