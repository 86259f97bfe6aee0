package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/loopbot/internal/domain"
)

func TestReconcilerAgreesWhenBooksMatch(t *testing.T) {
	l := New(decimal.NewFromInt(1000), "USDC", testLogger())
	source := &stubSource{balances: map[string]map[string]decimal.Decimal{
		"wallet": {"USDC": decimal.NewFromInt(1000)},
	}}
	r := NewReconciler(l, source, []string{domain.WalletVenue}, testLogger())

	require.NoError(t, r.Check(context.Background()))
}

func TestReconcilerReportsDrift(t *testing.T) {
	l := New(decimal.NewFromInt(1000), "USDC", testLogger())
	source := &stubSource{balances: map[string]map[string]decimal.Decimal{
		"wallet": {"USDC": decimal.NewFromInt(990)},
	}}
	r := NewReconciler(l, source, []string{domain.WalletVenue}, testLogger())

	err := r.Check(context.Background())
	require.Error(t, err)

	var drift *domain.BalanceDriftError
	require.True(t, errors.As(err, &drift))
	assert.InDelta(t, 10, drift.Drifts["wallet:USDC"], 1e-9)
}

func TestReconcilerFlagsLedgerOnlyHoldings(t *testing.T) {
	l := New(decimal.Zero, "USDC", testLogger())
	_, err := l.Apply(domain.ChangeBatch{Balances: []domain.BalanceChange{
		{Venue: "aave", Token: "aUSDC", Delta: decimal.NewFromInt(500), Reason: "phantom"},
	}})
	require.NoError(t, err)

	// The venue reports nothing for a token the ledger holds.
	source := &stubSource{balances: map[string]map[string]decimal.Decimal{}}
	r := NewReconciler(l, source, []string{"aave"}, testLogger())

	err = r.Check(context.Background())
	require.Error(t, err)

	var drift *domain.BalanceDriftError
	require.True(t, errors.As(err, &drift))
	assert.Contains(t, drift.Drifts, "aave:aUSDC")
}

type flakySource struct {
	inner *stubSource
	down  map[string]bool
}

func (s *flakySource) LiveBalances(ctx context.Context, venue string) (map[string]decimal.Decimal, error) {
	if s.down[venue] {
		return nil, errors.New("connection refused")
	}
	return s.inner.LiveBalances(ctx, venue)
}

func TestReconcilerSkipsUnreachableVenues(t *testing.T) {
	l := New(decimal.NewFromInt(1000), "USDC", testLogger())
	_, err := l.Apply(domain.ChangeBatch{Balances: []domain.BalanceChange{
		{Venue: "wallet", Token: "USDC", Delta: decimal.NewFromInt(-500), Reason: "supply"},
		{Venue: "aave", Token: "aUSDC", Delta: decimal.NewFromInt(500), Reason: "supply"},
	}})
	require.NoError(t, err)

	source := &flakySource{
		inner: &stubSource{balances: map[string]map[string]decimal.Decimal{
			"wallet": {"USDC": decimal.NewFromInt(400)},
		}},
		down: map[string]bool{"aave": true},
	}
	r := NewReconciler(l, source, []string{domain.WalletVenue, "aave"}, testLogger())

	// The unreachable venue is skipped; the wallet drift is still reported.
	err = r.Check(context.Background())
	require.Error(t, err)

	var drift *domain.BalanceDriftError
	require.True(t, errors.As(err, &drift))
	assert.Len(t, drift.Drifts, 1)
	assert.InDelta(t, 100, drift.Drifts["wallet:USDC"], 1e-9)
}

func TestReconcilerToleratesSubThresholdDifferences(t *testing.T) {
	l := New(decimal.NewFromInt(1000), "USDC", testLogger())
	source := &stubSource{balances: map[string]map[string]decimal.Decimal{
		"wallet": {"USDC": decimal.NewFromFloat(1000.005)},
	}}
	r := NewReconciler(l, source, []string{domain.WalletVenue}, testLogger())

	require.NoError(t, r.Check(context.Background()))
}
