package pnl

import (
	"fmt"
	"math"
	"time"

	"github.com/alanyoungcy/loopbot/internal/domain"
	"github.com/alanyoungcy/loopbot/internal/exposure"
)

// fundingHoursUTC are the only UTC hours at which funding accrues.
var fundingHoursUTC = map[int]bool{0: true, 8: true, 16: true}

// AttributionState is the running cumulative total per component, owned
// exclusively by one Engine instance.
type AttributionState struct {
	totals map[string]float64
}

func newAttributionState() *AttributionState {
	return &AttributionState{totals: make(map[string]float64)}
}

func (s *AttributionState) add(component string, amount float64) {
	s.totals[component] += amount
}

func (s *AttributionState) cumulative(component string) float64 {
	return s.totals[component]
}

func (s *AttributionState) total() float64 {
	sum := 0.0
	for _, v := range s.totals {
		sum += v
	}
	return sum
}

// attribute decomposes the change between the previous and current exposure
// snapshots into named components using the venue rate series. The first
// call (prev == nil) contributes nothing: there is no interval to explain.
func (e *Engine) attribute(exp domain.ExposureSnapshot, prev *domain.ExposureSnapshot, md domain.MarketSnapshot, ts time.Time) (map[string]float64, error) {
	contributions := make(map[string]float64, len(domain.AttributionComponents))
	if prev == nil || e.prevMD == nil {
		return contributions, nil
	}
	prevMD := *e.prevMD
	accrueFunding := fundingDue(ts, e.lastFunding)

	for key, prevValue := range prev.ByInstrument {
		venue, token := domain.SplitInstrumentKey(key)
		switch exposure.Classify(key) {
		case domain.CategoryLending:
			if prevValue >= 0 {
				contributions[domain.ComponentSupplyYield] += indexGrowth(md, prevMD, venue, domain.RateSupplyIndex, token) * prevValue
			} else {
				// Debt grows with the borrow index; the position is a cost.
				contributions[domain.ComponentBorrowCost] += indexGrowth(md, prevMD, venue, domain.RateBorrowIndex, token) * prevValue
			}

		case domain.CategoryStaking:
			contributions[domain.ComponentStakingYield] += indexGrowth(md, prevMD, venue, domain.RateStakingOracle, token) * prevValue

		case domain.CategoryBasis:
			hedged := math.Abs(prevValue)
			spreadKey := venue + ":basis_spread:" + token
			if spread, ok := md.Indices[spreadKey]; ok {
				if prevSpread, ok := prevMD.Indices[spreadKey]; ok {
					contributions[domain.ComponentBasisSpread] += (spread - prevSpread) * hedged
				}
			}
			if accrueFunding && hedged > 0 {
				rate, ok := md.FundingRate(venue, token)
				if !ok {
					return nil, domain.E("funding_source_unavailable", "pnl", domain.SeverityHigh,
						fmt.Errorf("%w: venue %s instrument %s", domain.ErrFundingSource, venue, token))
				}
				// The hedge leg is short; a positive rate pays the short.
				contributions[domain.ComponentFunding] += rate * hedged
			}

		case domain.CategoryDelta:
			if p, ok := md.Price(token); ok {
				if pPrev, ok := prevMD.Price(token); ok && pPrev != 0 {
					contributions[domain.ComponentNetDelta] += prevValue * (p - pPrev) / pPrev
				}
			}
		}
	}
	if accrueFunding {
		e.lastFunding = ts.UTC().Truncate(time.Hour)
	}
	return contributions, nil
}

// fundingDue reports whether ts falls in a funding hour that has not yet
// been accrued.
func fundingDue(ts, lastAccrued time.Time) bool {
	utc := ts.UTC()
	if !fundingHoursUTC[utc.Hour()] {
		return false
	}
	return !utc.Truncate(time.Hour).Equal(lastAccrued)
}

// indexGrowth returns the relative growth of a venue rate series between the
// previous and current snapshots, zero when either side is unavailable.
func indexGrowth(md, prevMD domain.MarketSnapshot, venue, kind, token string) float64 {
	idx, ok := md.Rate(venue, kind, token)
	if !ok {
		return 0
	}
	prevIdx, ok := prevMD.Rate(venue, kind, token)
	if !ok || prevIdx == 0 {
		return 0
	}
	return idx/prevIdx - 1
}
