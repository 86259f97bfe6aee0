// Package marketdata supplies time-aligned market snapshots to the engine.
// StaticProvider serves a preloaded series for backtests; CachedProvider
// puts a shared cache in front of any provider for reruns.
package marketdata

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/alanyoungcy/loopbot/internal/domain"
)

// StaticProvider serves snapshots from an in-memory series keyed by
// timestamp. Lookups require an exact timestamp match; the series is
// expected to be pre-aligned to the engine's timesteps.
type StaticProvider struct {
	byTS   map[int64]domain.MarketSnapshot
	stamps []time.Time
}

// NewStaticProvider indexes the series. Duplicate timestamps keep the later
// entry.
func NewStaticProvider(series []domain.MarketSnapshot) *StaticProvider {
	p := &StaticProvider{byTS: make(map[int64]domain.MarketSnapshot, len(series))}
	for _, snap := range series {
		key := snap.Timestamp.UTC().UnixNano()
		if _, seen := p.byTS[key]; !seen {
			p.stamps = append(p.stamps, snap.Timestamp.UTC())
		}
		p.byTS[key] = snap
	}
	sort.Slice(p.stamps, func(i, j int) bool { return p.stamps[i].Before(p.stamps[j]) })
	return p
}

// Timestamps returns the series timestamps in ascending order. The engine
// iterates these as its backtest timesteps.
func (p *StaticProvider) Timestamps() []time.Time {
	out := make([]time.Time, len(p.stamps))
	copy(out, p.stamps)
	return out
}

func (p *StaticProvider) Snapshot(_ context.Context, ts time.Time) (domain.MarketSnapshot, error) {
	snap, ok := p.byTS[ts.UTC().UnixNano()]
	if !ok {
		return domain.MarketSnapshot{}, fmt.Errorf("%w: no snapshot at %s", domain.ErrNoMarketData, ts.UTC().Format(time.RFC3339))
	}
	return snap, nil
}

// CacheOnlyProvider serves snapshots exclusively from the shared cache; an
// external feeder is expected to populate it. A miss surfaces as
// ErrNoMarketData, which the engine treats as a skipped timestep.
type CacheOnlyProvider struct {
	cache domain.MarketCache
}

func NewCacheOnlyProvider(cache domain.MarketCache) *CacheOnlyProvider {
	return &CacheOnlyProvider{cache: cache}
}

func (p *CacheOnlyProvider) Snapshot(ctx context.Context, ts time.Time) (domain.MarketSnapshot, error) {
	return p.cache.Get(ctx, ts)
}

// CachedProvider consults a shared cache before the upstream provider and
// writes through on miss. Cache failures fall back to the upstream; they are
// never fatal.
type CachedProvider struct {
	upstream domain.MarketDataProvider
	cache    domain.MarketCache
}

func NewCachedProvider(upstream domain.MarketDataProvider, cache domain.MarketCache) *CachedProvider {
	return &CachedProvider{upstream: upstream, cache: cache}
}

func (p *CachedProvider) Snapshot(ctx context.Context, ts time.Time) (domain.MarketSnapshot, error) {
	if snap, err := p.cache.Get(ctx, ts); err == nil {
		return snap, nil
	}
	snap, err := p.upstream.Snapshot(ctx, ts)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}
	_ = p.cache.Set(ctx, snap)
	return snap, nil
}
