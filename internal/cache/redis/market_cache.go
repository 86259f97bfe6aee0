package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/loopbot/internal/domain"
)

const snapshotTTL = 24 * time.Hour

// MarketCache implements domain.MarketCache using Redis string keys with
// JSON-serialized snapshots.
//
// Key schema:
//
//	md:{unix_nano} - JSON-encoded MarketSnapshot aligned to that timestamp
type MarketCache struct {
	rdb *redis.Client
}

// NewMarketCache creates a MarketCache backed by the given Client.
func NewMarketCache(c *Client) *MarketCache {
	return &MarketCache{rdb: c.Underlying()}
}

func snapshotKey(ts time.Time) string {
	return fmt.Sprintf("md:%d", ts.UTC().UnixNano())
}

// Set stores a snapshot keyed by its own timestamp with a 24-hour TTL.
func (mc *MarketCache) Set(ctx context.Context, snap domain.MarketSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot %s: %w", snap.Timestamp.Format(time.RFC3339), err)
	}
	if err := mc.rdb.Set(ctx, snapshotKey(snap.Timestamp), data, snapshotTTL).Err(); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", snap.Timestamp.Format(time.RFC3339), err)
	}
	return nil
}

// Get fetches the snapshot aligned to ts, ErrNoMarketData on a miss.
func (mc *MarketCache) Get(ctx context.Context, ts time.Time) (domain.MarketSnapshot, error) {
	data, err := mc.rdb.Get(ctx, snapshotKey(ts)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.MarketSnapshot{}, fmt.Errorf("redis: snapshot %s: %w", ts.UTC().Format(time.RFC3339), domain.ErrNoMarketData)
	}
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("redis: get snapshot %s: %w", ts.UTC().Format(time.RFC3339), err)
	}

	var snap domain.MarketSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("redis: unmarshal snapshot %s: %w", ts.UTC().Format(time.RFC3339), err)
	}
	return snap, nil
}

// Compile-time interface check.
var _ domain.MarketCache = (*MarketCache)(nil)
