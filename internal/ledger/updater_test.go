package ledger

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/loopbot/internal/domain"
)

func TestSimulatedUpdaterRejectsFailedHandshake(t *testing.T) {
	u := NewSimulatedUpdater()
	_, err := u.BatchFor(context.Background(), domain.Order{}, domain.ExecutionHandshake{
		Status: domain.HandshakeFailed,
	})
	require.Error(t, err)
}

func TestSimulatedUpdaterBuildsBalancesFromActualDeltas(t *testing.T) {
	u := NewSimulatedUpdater()
	order := domain.Order{
		OperationID: "op-1",
		Venue:       "aave",
		Operation:   domain.OpSupply,
	}
	h := domain.ExecutionHandshake{
		OperationID: "op-1",
		Status:      domain.HandshakeConfirmed,
		ActualDeltas: map[string]decimal.Decimal{
			"wallet:USDC": decimal.NewFromInt(-500),
			"aave:aUSDC":  decimal.NewFromInt(500),
		},
	}

	batch, err := u.BatchFor(context.Background(), order, h)
	require.NoError(t, err)
	require.Len(t, batch.Balances, 2)
	assert.Empty(t, batch.Derivatives)

	byKey := map[string]domain.BalanceChange{}
	for _, bc := range batch.Balances {
		byKey[domain.InstrumentKey(bc.Venue, bc.Token)] = bc
	}
	assert.True(t, byKey["wallet:USDC"].Delta.Equal(decimal.NewFromInt(-500)))
	assert.True(t, byKey["aave:aUSDC"].Delta.Equal(decimal.NewFromInt(500)))
}

func TestSimulatedUpdaterOpensShortPerpPosition(t *testing.T) {
	u := NewSimulatedUpdater()
	order := domain.Order{
		OperationID: "op-2",
		Venue:       "hyperliquid",
		Operation:   domain.OpPerpTrade,
		Amount:      decimal.NewFromInt(10),
		Price:       3000,
		Pair:        "ETH-PERP",
		Side:        domain.SideShort,
	}
	h := domain.ExecutionHandshake{OperationID: "op-2", Status: domain.HandshakeConfirmed}

	batch, err := u.BatchFor(context.Background(), order, h)
	require.NoError(t, err)
	require.Len(t, batch.Derivatives, 1)

	dc := batch.Derivatives[0]
	assert.Equal(t, domain.DerivativeOpen, dc.Action)
	assert.Equal(t, "ETH-PERP", dc.Instrument)
	assert.True(t, dc.Payload.Size.Equal(decimal.NewFromInt(-10)))
	assert.Equal(t, 30000.0, dc.Payload.NotionalAtEntry)
}

type stubSource struct {
	balances map[string]map[string]decimal.Decimal
}

func (s *stubSource) LiveBalances(_ context.Context, venue string) (map[string]decimal.Decimal, error) {
	return s.balances[venue], nil
}

func TestLiveUpdaterEmitsDifferencesAgainstBaseline(t *testing.T) {
	baseline := domain.LedgerSnapshot{
		Wallet: map[string]decimal.Decimal{"USDC": decimal.NewFromInt(1000)},
	}
	source := &stubSource{balances: map[string]map[string]decimal.Decimal{
		"aave":   {"aUSDC": decimal.NewFromInt(400)},
		"wallet": {"USDC": decimal.NewFromInt(600)},
	}}
	u := NewLiveUpdater(source, baseline)

	order := domain.Order{
		OperationID: "op-3",
		Venue:       "aave",
		Operation:   domain.OpSupply,
		ExpectedDeltas: map[string]decimal.Decimal{
			"wallet:USDC": decimal.NewFromInt(-400),
			"aave:aUSDC":  decimal.NewFromInt(400),
		},
	}
	h := domain.ExecutionHandshake{
		OperationID:  "op-3",
		Status:       domain.HandshakeConfirmed,
		ActualDeltas: order.ExpectedDeltas,
	}

	batch, err := u.BatchFor(context.Background(), order, h)
	require.NoError(t, err)

	byKey := map[string]decimal.Decimal{}
	for _, bc := range batch.Balances {
		byKey[domain.InstrumentKey(bc.Venue, bc.Token)] = bc.Delta
	}
	assert.True(t, byKey["aave:aUSDC"].Equal(decimal.NewFromInt(400)))
	assert.True(t, byKey["wallet:USDC"].Equal(decimal.NewFromInt(-400)))

	// A second call with unchanged venue balances produces no deltas.
	batch, err = u.BatchFor(context.Background(), order, h)
	require.NoError(t, err)
	assert.Empty(t, batch.Balances)
}
