// Package exposure converts a position ledger snapshot into a valuation in
// the common valuation currency. Calculation is a pure function of the
// ledger snapshot, the market snapshot, and the timestamp, so reruns are
// deterministic.
package exposure

import (
	"math"
	"sort"
	"time"

	"github.com/alanyoungcy/loopbot/internal/domain"
)

// Valuator computes exposure snapshots. It holds only static configuration,
// never per-call state.
type Valuator struct {
	valuationCurrency string
}

// NewValuator creates a Valuator reporting in the given valuation currency.
func NewValuator(valuationCurrency string) *Valuator {
	return &Valuator{valuationCurrency: valuationCurrency}
}

// Calculate values every holding in snap using md, both aligned to ts.
// Instruments with no market data are excluded from all totals and counted
// in MissingInstruments; the caller decides how severe that is.
func (v *Valuator) Calculate(snap domain.LedgerSnapshot, md domain.MarketSnapshot, ts time.Time) domain.ExposureSnapshot {
	exp := domain.ExposureSnapshot{
		Timestamp:         ts,
		ValuationCurrency: v.valuationCurrency,
		ByInstrument:      make(map[string]float64),
		ByCategory:        make(map[domain.Category]float64),
	}

	// Balance holdings: value = native qty x token price.
	for key, qty := range snap.Balances() {
		_, token := domain.SplitInstrumentKey(key)
		price, ok := md.Price(token)
		if !ok {
			exp.MissingInstruments++
			continue
		}
		value := qty.InexactFloat64() * price
		exp.ByInstrument[key] = value
		exp.ByCategory[Classify(key)] += value
		exp.TotalValuation += value
	}

	// Derivative positions: value = signed size x instrument mark price.
	for venue, positions := range snap.Derivatives {
		for instrument, pos := range positions {
			price, ok := md.Price(instrument)
			if !ok {
				exp.MissingInstruments++
				continue
			}
			key := domain.InstrumentKey(venue, instrument)
			value := pos.Size.InexactFloat64() * price
			exp.ByInstrument[key] = value
			exp.ByCategory[Classify(key)] += value
			exp.TotalValuation += value
		}
	}

	exp.Concentration = herfindahl(exp.ByInstrument)
	return exp
}

// herfindahl computes the Herfindahl index over per-instrument share of the
// gross (absolute) valuation. Returns 0 for an empty book, 1 for a single
// instrument.
func herfindahl(byInstrument map[string]float64) float64 {
	gross := 0.0
	for _, v := range byInstrument {
		gross += math.Abs(v)
	}
	if gross == 0 {
		return 0
	}
	// Deterministic iteration keeps floating-point results stable across runs.
	keys := make([]string, 0, len(byInstrument))
	for k := range byInstrument {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := 0.0
	for _, k := range keys {
		share := math.Abs(byInstrument[k]) / gross
		h += share * share
	}
	return h
}
