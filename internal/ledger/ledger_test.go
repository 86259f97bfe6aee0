package ledger

import (
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/loopbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLedgerSeedsWallet(t *testing.T) {
	l := New(decimal.NewFromInt(100_000), "USDC", testLogger())

	snap := l.Snapshot()
	assert.True(t, snap.Balance(domain.WalletVenue, "USDC").Equal(decimal.NewFromInt(100_000)))
	assert.True(t, snap.Balance(domain.WalletVenue, "WETH").IsZero())
}

func TestLedgerApplyIsAdditive(t *testing.T) {
	l := New(decimal.NewFromInt(1000), "USDC", testLogger())

	_, err := l.Apply(domain.ChangeBatch{Balances: []domain.BalanceChange{
		{Venue: domain.WalletVenue, Token: "USDC", Delta: decimal.NewFromInt(-300), Reason: "supply"},
		{Venue: "aave", Token: "aUSDC", Delta: decimal.NewFromInt(300), Reason: "supply"},
	}})
	require.NoError(t, err)

	snap, err := l.Apply(domain.ChangeBatch{Balances: []domain.BalanceChange{
		{Venue: "aave", Token: "aUSDC", Delta: decimal.NewFromInt(-100), Reason: "withdraw"},
		{Venue: domain.WalletVenue, Token: "USDC", Delta: decimal.NewFromInt(100), Reason: "withdraw"},
	}})
	require.NoError(t, err)

	assert.True(t, snap.Balance(domain.WalletVenue, "USDC").Equal(decimal.NewFromInt(800)))
	assert.True(t, snap.Balance("aave", "aUSDC").Equal(decimal.NewFromInt(200)))
}

func TestLedgerRejectsStructurallyInvalidBatchWhole(t *testing.T) {
	l := New(decimal.NewFromInt(1000), "USDC", testLogger())

	// Second change is missing its token; the first must not land either.
	_, err := l.Apply(domain.ChangeBatch{Balances: []domain.BalanceChange{
		{Venue: domain.WalletVenue, Token: "USDC", Delta: decimal.NewFromInt(-500), Reason: "bad batch"},
		{Venue: "aave", Delta: decimal.NewFromInt(500), Reason: "bad batch"},
	}})
	require.Error(t, err)

	snap := l.Snapshot()
	assert.True(t, snap.Balance(domain.WalletVenue, "USDC").Equal(decimal.NewFromInt(1000)))
	assert.False(t, l.Poisoned())
}

func TestLedgerRejectsDerivativeActionOnUnknownPosition(t *testing.T) {
	l := New(decimal.Zero, "USDC", testLogger())

	_, err := l.Apply(domain.ChangeBatch{Derivatives: []domain.DerivativeChange{
		{Venue: "hyperliquid", Instrument: "ETH-PERP", Action: domain.DerivativeClose},
	}})
	require.Error(t, err)
	assert.False(t, l.Poisoned())
}

func TestLedgerDerivativeLifecycle(t *testing.T) {
	l := New(decimal.Zero, "USDC", testLogger())

	open := domain.DerivativeChange{
		Venue:      "hyperliquid",
		Instrument: "ETH-PERP",
		Action:     domain.DerivativeOpen,
		Payload:    domain.DerivativePosition{Size: decimal.NewFromInt(-10), EntryPrice: 3000},
	}
	snap, err := l.Apply(domain.ChangeBatch{Derivatives: []domain.DerivativeChange{open}})
	require.NoError(t, err)
	require.Contains(t, snap.Derivatives, "hyperliquid")
	assert.True(t, snap.Derivatives["hyperliquid"]["ETH-PERP"].Size.Equal(decimal.NewFromInt(-10)))

	// Adjusting to exactly zero removes the position.
	snap, err = l.Apply(domain.ChangeBatch{Derivatives: []domain.DerivativeChange{{
		Venue:      "hyperliquid",
		Instrument: "ETH-PERP",
		Action:     domain.DerivativeAdjust,
		Payload:    domain.DerivativePosition{Size: decimal.NewFromInt(10)},
	}}})
	require.NoError(t, err)
	assert.NotContains(t, snap.Derivatives["hyperliquid"], "ETH-PERP")
}

func TestLedgerPoisonedFailsFast(t *testing.T) {
	l := New(decimal.NewFromInt(1000), "USDC", testLogger())

	// Two OPENs for the same instrument both pass pre-validation (neither
	// exists yet) but the second fails mid-apply, poisoning the ledger.
	open := domain.DerivativeChange{
		Venue:      "hyperliquid",
		Instrument: "ETH-PERP",
		Action:     domain.DerivativeOpen,
		Payload:    domain.DerivativePosition{Size: decimal.NewFromInt(1)},
	}
	_, err := l.Apply(domain.ChangeBatch{Derivatives: []domain.DerivativeChange{open, open}})
	require.Error(t, err)
	assert.True(t, l.Poisoned())

	_, err = l.Apply(domain.ChangeBatch{Balances: []domain.BalanceChange{
		{Venue: domain.WalletVenue, Token: "USDC", Delta: decimal.NewFromInt(1), Reason: "after poison"},
	}})
	require.ErrorIs(t, err, domain.ErrLedgerPoisoned)
}

func TestLedgerSnapshotIsIsolated(t *testing.T) {
	l := New(decimal.NewFromInt(100), "USDC", testLogger())

	snap := l.Snapshot()
	snap.Wallet["USDC"] = decimal.NewFromInt(999)

	assert.True(t, l.Snapshot().Balance(domain.WalletVenue, "USDC").Equal(decimal.NewFromInt(100)))
}

func TestSnapshotBalancesOmitsZero(t *testing.T) {
	l := New(decimal.NewFromInt(50), "USDC", testLogger())
	_, err := l.Apply(domain.ChangeBatch{Balances: []domain.BalanceChange{
		{Venue: "aave", Token: "aUSDC", Delta: decimal.NewFromInt(10), Reason: "t"},
		{Venue: "aave", Token: "aUSDC", Delta: decimal.NewFromInt(-10), Reason: "t"},
	}})
	require.NoError(t, err)

	balances := l.Snapshot().Balances()
	assert.NotContains(t, balances, "aave:aUSDC")
	assert.Contains(t, balances, "wallet:USDC")
}
