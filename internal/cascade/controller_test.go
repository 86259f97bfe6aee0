package cascade

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/loopbot/internal/domain"
	"github.com/alanyoungcy/loopbot/internal/exposure"
	"github.com/alanyoungcy/loopbot/internal/ledger"
	"github.com/alanyoungcy/loopbot/internal/pnl"
	"github.com/alanyoungcy/loopbot/internal/risk"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type captureEvents struct {
	mu     sync.Mutex
	events []domain.Event
}

func (c *captureEvents) Log(_ context.Context, ev domain.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func newController(t *testing.T, l *ledger.Ledger, events domain.EventLogger) *Controller {
	t.Helper()
	assessor, err := risk.New(risk.Params{
		TargetLTV:        0.6,
		MaxDrawdown:      0.2,
		VenueMaxLeverage: map[string]float64{"aave": 3, "hyperliquid": 10},
	}, testLogger())
	require.NoError(t, err)

	return New(
		l,
		exposure.NewValuator("USD"),
		assessor,
		pnl.NewEngine(100_000, "USD", testLogger()),
		events,
		testLogger(),
	)
}

func TestOnLedgerChangeRunsAllStages(t *testing.T) {
	l := ledger.New(decimal.NewFromInt(100_000), "USDC", testLogger())
	events := &captureEvents{}
	c := newController(t, l, events)

	ts := time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC)
	md := domain.MarketSnapshot{Prices: map[string]float64{"USDC": 1}}

	result, err := c.OnLedgerChange(context.Background(), domain.CascadeTrigger{Reason: "order:op-1"}, ts, md)
	require.NoError(t, err)

	// All three views share the trigger's timestamp.
	assert.Equal(t, ts, result.Exposure.Timestamp)
	assert.Equal(t, ts, result.Risk.Timestamp)
	assert.Equal(t, ts, result.PnL.Timestamp)

	assert.InDelta(t, 100_000, result.Exposure.TotalValuation, 1e-9)
	assert.Empty(t, result.RiskErr)
	assert.Empty(t, result.PnLErr)
	assert.Zero(t, result.PnL.BalanceBased.PnLCumulative)

	require.Len(t, events.events, 1)
	assert.Equal(t, "cascade", events.events[0].Type)
	assert.Equal(t, false, events.events[0].Data["degraded"])
}

func TestOnLedgerChangeCarriesPreviousExposure(t *testing.T) {
	l := ledger.New(decimal.NewFromInt(100_000), "USDC", testLogger())
	c := newController(t, l, nil)

	md := domain.MarketSnapshot{Prices: map[string]float64{"USDC": 1}}
	t0 := time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC)
	_, err := c.OnLedgerChange(context.Background(), domain.CascadeTrigger{Reason: "order:a"}, t0, md)
	require.NoError(t, err)

	_, err = l.Apply(domain.ChangeBatch{Balances: []domain.BalanceChange{
		{Venue: domain.WalletVenue, Token: "USDC", Delta: decimal.NewFromInt(500), Reason: "yield"},
	}})
	require.NoError(t, err)

	result, err := c.OnLedgerChange(context.Background(), domain.CascadeTrigger{Reason: "order:b"}, t0.Add(time.Hour), md)
	require.NoError(t, err)

	assert.InDelta(t, 100_000, result.PnL.BalanceBased.PreviousValuation, 1e-9)
	assert.InDelta(t, 500, result.PnL.BalanceBased.PnLSincePrevious, 1e-9)
	require.NotNil(t, c.LastExposure())
	assert.InDelta(t, 100_500, c.LastExposure().TotalValuation, 1e-9)
}

func TestOnLedgerChangeDegradesPnLWithoutAborting(t *testing.T) {
	l := ledger.New(decimal.NewFromInt(100_000), "USDC", testLogger())

	// A perp hedge whose funding rate disappears at a funding hour forces the
	// P&L stage to fail while exposure and risk stay valid.
	_, err := l.Apply(domain.ChangeBatch{Balances: []domain.BalanceChange{
		{Venue: "hyperliquid", Token: "ETHperp", Delta: decimal.NewFromInt(-5), Reason: "hedge"},
	}})
	require.NoError(t, err)

	events := &captureEvents{}
	c := newController(t, l, events)

	mdWithRate := domain.MarketSnapshot{
		Prices:       map[string]float64{"USDC": 1, "ETHperp": 3000},
		FundingRates: map[string]float64{"hyperliquid:ETHperp": 0.0001},
	}
	t0 := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	_, err = c.OnLedgerChange(context.Background(), domain.CascadeTrigger{Reason: "order:a"}, t0, mdWithRate)
	require.NoError(t, err)

	mdNoRate := domain.MarketSnapshot{Prices: mdWithRate.Prices}
	t1 := time.Date(2026, 3, 10, 16, 0, 0, 0, time.UTC)
	result, err := c.OnLedgerChange(context.Background(), domain.CascadeTrigger{Reason: "order:b"}, t1, mdNoRate)
	require.NoError(t, err)

	assert.NotEmpty(t, result.PnLErr)
	assert.NotEmpty(t, result.PnL.Err)
	assert.Empty(t, result.RiskErr)
	assert.NotZero(t, result.Exposure.TotalValuation)
	assert.NotEmpty(t, result.Risk.Level)

	last := events.events[len(events.events)-1]
	assert.Equal(t, true, last.Data["degraded"])
}
