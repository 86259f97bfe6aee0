package domain

import "time"

// Category buckets exposure by the economic function of the instrument.
type Category string

const (
	CategoryLending Category = "lending"
	CategoryStaking Category = "staking"
	CategoryBasis   Category = "basis"
	CategoryFunding Category = "funding"
	CategoryDelta   Category = "delta"
	CategoryOther   Category = "other"
)

// Categories lists all categories in classifier priority order. Ties in the
// keyword classifier resolve to the first matching entry.
var Categories = []Category{
	CategoryLending, CategoryStaking, CategoryBasis,
	CategoryFunding, CategoryDelta, CategoryOther,
}

// ExposureSnapshot is the immutable valuation of one ledger snapshot at a
// timestamp, in the common valuation currency. Derived solely from a ledger
// snapshot plus market data at the same timestamp.
type ExposureSnapshot struct {
	Timestamp         time.Time
	ValuationCurrency string
	TotalValuation    float64
	ByInstrument      map[string]float64 // instrument key -> converted amount
	ByCategory        map[Category]float64
	// Concentration is a Herfindahl index over per-instrument share of the
	// total valuation; 1.0 means everything in one instrument.
	Concentration float64
	// MissingInstruments counts instruments excluded from the totals because
	// market data was unavailable. The caller decides severity.
	MissingInstruments int
}
