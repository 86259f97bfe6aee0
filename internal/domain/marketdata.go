package domain

import (
	"context"
	"time"
)

// Rate kinds stored in MarketSnapshot.Rates under "venue:kind:token" keys.
const (
	RateSupplyIndex   = "supply_index"
	RateBorrowIndex   = "borrow_index"
	RateStakingOracle = "staking_oracle"
)

// MarketSnapshot is externally supplied market data time-aligned to a single
// timestamp. An instrument missing from the snapshot is unavailable, never
// zero.
type MarketSnapshot struct {
	Timestamp    time.Time
	Prices       map[string]float64 // token -> price in valuation currency
	Rates        map[string]float64 // "venue:kind:token" -> index/oracle value
	FundingRates map[string]float64 // "venue:instrument" -> per-interval rate
	Indices      map[string]float64 // misc series, e.g. "venue:basis_spread:pair"
}

// Price looks up the valuation-currency price of a token.
func (m MarketSnapshot) Price(token string) (float64, bool) {
	p, ok := m.Prices[token]
	return p, ok
}

// Rate looks up a venue rate series value by kind and token.
func (m MarketSnapshot) Rate(venue, kind, token string) (float64, bool) {
	r, ok := m.Rates[venue+":"+kind+":"+token]
	return r, ok
}

// FundingRate looks up the funding rate for a venue instrument.
func (m MarketSnapshot) FundingRate(venue, instrument string) (float64, bool) {
	r, ok := m.FundingRates[venue+":"+instrument]
	return r, ok
}

// MarketDataProvider supplies time-aligned market snapshots. Implementations
// return an error wrapping ErrNoMarketData when no aligned data exists for
// the timestamp; that is an expected condition, not a failure.
type MarketDataProvider interface {
	Snapshot(ctx context.Context, ts time.Time) (MarketSnapshot, error)
}
