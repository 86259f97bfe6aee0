package pnl

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/loopbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func exposureAt(ts time.Time, total float64, byInstrument map[string]float64) domain.ExposureSnapshot {
	return domain.ExposureSnapshot{
		Timestamp:      ts,
		TotalValuation: total,
		ByInstrument:   byInstrument,
	}
}

// nonFundingHour returns a fixed timestamp outside the funding accrual hours.
func nonFundingHour() time.Time {
	return time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC)
}

func TestCalculateBaselineIsSeedCapital(t *testing.T) {
	e := NewEngine(100_000, "USD", testLogger())
	ts := nonFundingHour()

	// The first exposure reading already carries some yield; the baseline must
	// stay the seed capital, not the first reading.
	rec, err := e.Calculate(exposureAt(ts, 100_500, nil), nil, domain.MarketSnapshot{}, ts, 0)
	require.NoError(t, err)

	assert.InDelta(t, 100_000, rec.BalanceBased.InitialValuation, 1e-9)
	assert.InDelta(t, 500, rec.BalanceBased.PnLCumulative, 1e-9)
	assert.Zero(t, rec.BalanceBased.PnLSincePrevious)
}

func TestCalculateSupplyYieldAttribution(t *testing.T) {
	e := NewEngine(100_000, "USD", testLogger())
	t0 := nonFundingHour()
	t1 := t0.Add(time.Hour)

	prev := exposureAt(t0, 100_000, map[string]float64{"aave:aWSTETH": 100_000})
	md0 := domain.MarketSnapshot{Rates: map[string]float64{"aave:supply_index:aWSTETH": 1.00}}
	md1 := domain.MarketSnapshot{Rates: map[string]float64{"aave:supply_index:aWSTETH": 1.001}}

	_, err := e.Calculate(prev, nil, md0, t0, 0)
	require.NoError(t, err)

	cur := exposureAt(t1, 100_100, map[string]float64{"aave:aWSTETH": 100_100})
	rec, err := e.Calculate(cur, &prev, md1, t1, 0)
	require.NoError(t, err)

	yield := rec.Attribution.Components[domain.ComponentSupplyYield]
	assert.InDelta(t, 100, yield.Cumulative, 1e-6)
	assert.InDelta(t, 100, rec.Attribution.PnLCumulative, 1e-6)
	assert.True(t, rec.Reconciliation.Passed)
}

func TestCalculateFeesReduceTxCosts(t *testing.T) {
	e := NewEngine(100_000, "USD", testLogger())
	t0 := nonFundingHour()
	t1 := t0.Add(time.Hour)

	prev := exposureAt(t0, 100_000, nil)
	_, err := e.Calculate(prev, nil, domain.MarketSnapshot{}, t0, 0)
	require.NoError(t, err)

	rec, err := e.Calculate(exposureAt(t1, 99_950, nil), &prev, domain.MarketSnapshot{}, t1, 50)
	require.NoError(t, err)

	costs := rec.Attribution.Components[domain.ComponentTxCosts]
	assert.InDelta(t, -50, costs.Cumulative, 1e-9)
	assert.True(t, rec.Reconciliation.Passed)
}

func TestReconciliationBreachIsReportedNotRaised(t *testing.T) {
	e := NewEngine(100_000, "USD", testLogger())
	t0 := nonFundingHour()
	t1 := t0.Add(time.Hour)

	prev := exposureAt(t0, 100_000, nil)
	_, err := e.Calculate(prev, nil, domain.MarketSnapshot{}, t0, 0)
	require.NoError(t, err)

	// A large unexplained valuation jump: balance-based moves, attribution
	// cannot explain any of it.
	rec, err := e.Calculate(exposureAt(t1, 110_000, nil), &prev, domain.MarketSnapshot{}, t1, 0)
	require.NoError(t, err)

	assert.False(t, rec.Reconciliation.Passed)
	assert.InDelta(t, 10_000, rec.Reconciliation.Difference, 1e-9)
	assert.Greater(t, rec.Reconciliation.Tolerance, 0.0)
}

func TestFundingAccruesOnlyAtFundingHours(t *testing.T) {
	e := NewEngine(100_000, "USD", testLogger())
	t0 := time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)
	prev := exposureAt(t0, 100_000, map[string]float64{"hyperliquid:ETHperp": -20_000})
	md := domain.MarketSnapshot{
		FundingRates: map[string]float64{"hyperliquid:ETHperp": 0.0001},
	}

	_, err := e.Calculate(prev, nil, md, t0, 0)
	require.NoError(t, err)

	// 07:00 UTC is not a funding hour; nothing accrues.
	t1 := t0.Add(30 * time.Minute)
	rec, err := e.Calculate(exposureAt(t1, 100_000, prev.ByInstrument), &prev, md, t1, 0)
	require.NoError(t, err)
	assert.Zero(t, rec.Attribution.Components[domain.ComponentFunding].Cumulative)

	// 08:00 UTC is; the short hedge earns rate x hedged notional.
	t2 := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	rec, err = e.Calculate(exposureAt(t2, 100_002, prev.ByInstrument), &prev, md, t2, 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.0001*20_000, rec.Attribution.Components[domain.ComponentFunding].Cumulative, 1e-9)

	// A second calculation inside the same hour bucket does not double-accrue.
	t3 := t2.Add(10 * time.Minute)
	rec, err = e.Calculate(exposureAt(t3, 100_002, prev.ByInstrument), &prev, md, t3, 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.0001*20_000, rec.Attribution.Components[domain.ComponentFunding].Cumulative, 1e-9)
}

func TestMissingFundingRateFailsLoudly(t *testing.T) {
	e := NewEngine(100_000, "USD", testLogger())
	t0 := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	prev := exposureAt(t0, 100_000, map[string]float64{"hyperliquid:ETHperp": -20_000})
	md := domain.MarketSnapshot{
		FundingRates: map[string]float64{"hyperliquid:ETHperp": 0.0001},
	}
	_, err := e.Calculate(prev, nil, md, t0, 0)
	require.NoError(t, err)

	// Funding hour arrives but the rate source has gone dark.
	t1 := time.Date(2026, 3, 10, 16, 0, 0, 0, time.UTC)
	_, err = e.Calculate(exposureAt(t1, 100_000, prev.ByInstrument), &prev, domain.MarketSnapshot{}, t1, 0)
	require.ErrorIs(t, err, domain.ErrFundingSource)
	assert.Equal(t, domain.SeverityHigh, domain.SeverityOf(err))
}

func TestDegradedRecordCarriesErrorAsData(t *testing.T) {
	e := NewEngine(100_000, "USD", testLogger())
	ts := nonFundingHour()

	rec := e.Degraded(exposureAt(ts, 99_000, nil), ts, domain.ErrFundingSource)

	assert.NotEmpty(t, rec.Err)
	assert.InDelta(t, -1000, rec.BalanceBased.PnLCumulative, 1e-9)
	assert.Empty(t, rec.Attribution.Components)
}

func TestAttributionStateIsEngineOwned(t *testing.T) {
	ts := nonFundingHour()
	a := NewEngine(100_000, "USD", testLogger())
	b := NewEngine(100_000, "USD", testLogger())

	prev := exposureAt(ts, 100_000, nil)
	_, err := a.Calculate(prev, nil, domain.MarketSnapshot{}, ts, 0)
	require.NoError(t, err)
	rec, err := a.Calculate(exposureAt(ts.Add(time.Hour), 100_000, nil), &prev, domain.MarketSnapshot{}, ts.Add(time.Hour), 75)
	require.NoError(t, err)
	assert.InDelta(t, -75, rec.Attribution.PnLCumulative, 1e-9)

	// A fresh engine starts from zero regardless of the first one's totals.
	recB, err := b.Calculate(prev, nil, domain.MarketSnapshot{}, ts, 0)
	require.NoError(t, err)
	assert.Zero(t, recB.Attribution.PnLCumulative)
}
