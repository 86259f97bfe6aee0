package venue

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/loopbot/internal/domain"
)

func supplyOrder(id string, amount int64) domain.Order {
	d := decimal.NewFromInt(amount)
	return domain.Order{
		OperationID: id,
		Venue:       "aave",
		Operation:   domain.OpSupply,
		Amount:      d,
		TokenIn:     "USDC",
		ExpectedDeltas: map[string]decimal.Decimal{
			"wallet:USDC": d.Neg(),
			"aave:aUSDC":  d,
		},
	}
}

func TestSimulatorFillsAtExpectedDeltas(t *testing.T) {
	s := NewLending("aave", 0.001, "USDC")

	h, err := s.Execute(context.Background(), supplyOrder("op-1", 1000))
	require.NoError(t, err)
	assert.True(t, h.Confirmed())
	assert.True(t, h.ActualDeltas["aave:aUSDC"].Equal(decimal.NewFromInt(1000)))
	assert.True(t, h.FeeAmount.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, "USDC", h.FeeCurrency)
}

func TestSimulatorIsIdempotentPerOperationID(t *testing.T) {
	s := NewLending("aave", 0, "USDC")

	first, err := s.Execute(context.Background(), supplyOrder("op-1", 1000))
	require.NoError(t, err)

	// A retry with the same id returns the recorded handshake, not a refill.
	second, err := s.Execute(context.Background(), supplyOrder("op-1", 9999))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	recorded, ok := s.Recorded("op-1")
	require.True(t, ok)
	assert.True(t, recorded.ActualDeltas["aave:aUSDC"].Equal(decimal.NewFromInt(1000)))
}

func TestSimulatorRejectsUnsupportedOperation(t *testing.T) {
	s := NewStaking("lido", 0, "WETH")

	h, err := s.Execute(context.Background(), supplyOrder("op-1", 1000))
	require.NoError(t, err)
	assert.False(t, h.Confirmed())
	assert.Equal(t, "unsupported_operation", h.ErrorCode)
}

func TestSimulatorInjectedFailures(t *testing.T) {
	s := NewLending("aave", 0, "USDC")
	s.FailOperation(domain.OpSupply, "paused", "market paused")

	h, err := s.Execute(context.Background(), supplyOrder("op-1", 1000))
	require.NoError(t, err)
	assert.Equal(t, "paused", h.ErrorCode)

	s.ClearFailures()
	s.FailOperationID("op-2", "reverted", "tx reverted")

	h, err = s.Execute(context.Background(), supplyOrder("op-2", 1000))
	require.NoError(t, err)
	assert.Equal(t, "reverted", h.ErrorCode)

	h, err = s.Execute(context.Background(), supplyOrder("op-3", 1000))
	require.NoError(t, err)
	assert.True(t, h.Confirmed())
}

func TestGroupSumsConfirmedDeltasPerVenue(t *testing.T) {
	lending := NewLending("aave", 0, "USDC")
	g := NewGroup(lending).SeedWallet("USDC", decimal.NewFromInt(100_000))

	_, err := lending.Execute(context.Background(), supplyOrder("op-1", 40_000))
	require.NoError(t, err)
	_, err = lending.Execute(context.Background(), supplyOrder("op-2", 10_000))
	require.NoError(t, err)

	venueBal, err := g.LiveBalances(context.Background(), "aave")
	require.NoError(t, err)
	assert.True(t, venueBal["aUSDC"].Equal(decimal.NewFromInt(50_000)))

	walletBal, err := g.LiveBalances(context.Background(), domain.WalletVenue)
	require.NoError(t, err)
	assert.True(t, walletBal["USDC"].Equal(decimal.NewFromInt(50_000)))
}

func TestGroupOmitsFailedFills(t *testing.T) {
	lending := NewLending("aave", 0, "USDC")
	lending.FailOperationID("op-2", "reverted", "tx reverted")
	g := NewGroup(lending).SeedWallet("USDC", decimal.NewFromInt(1000))

	_, err := lending.Execute(context.Background(), supplyOrder("op-1", 100))
	require.NoError(t, err)
	_, err = lending.Execute(context.Background(), supplyOrder("op-2", 100))
	require.NoError(t, err)

	venueBal, err := g.LiveBalances(context.Background(), "aave")
	require.NoError(t, err)
	assert.True(t, venueBal["aUSDC"].Equal(decimal.NewFromInt(100)))
}
