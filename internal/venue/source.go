package venue

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/loopbot/internal/domain"
)

// Group aggregates the recorded fills of several simulators into a
// domain.BalanceSource: the balance of a venue is the sum of every confirmed
// delta touching that venue, independent of the ledger's own bookkeeping.
// That independence is what makes reconciliation against it meaningful.
type Group struct {
	sims []*Simulator

	seedToken  string
	seedAmount decimal.Decimal
}

// NewGroup creates a Group over the given simulators.
func NewGroup(sims ...*Simulator) *Group {
	return &Group{sims: sims}
}

// SeedWallet records the starting wallet balance so the source agrees with a
// ledger seeded with the same capital.
func (g *Group) SeedWallet(token string, amount decimal.Decimal) *Group {
	g.seedToken = token
	g.seedAmount = amount
	return g
}

// LiveBalances sums the confirmed deltas for the requested venue across all
// simulators. Tokens that net out to zero are omitted.
func (g *Group) LiveBalances(_ context.Context, venue string) (map[string]decimal.Decimal, error) {
	balances := make(map[string]decimal.Decimal)
	if venue == domain.WalletVenue && g.seedToken != "" {
		balances[g.seedToken] = g.seedAmount
	}
	for _, s := range g.sims {
		s.mu.Lock()
		for _, h := range s.recorded {
			if !h.Confirmed() {
				continue
			}
			for key, delta := range h.ActualDeltas {
				v, token := domain.SplitInstrumentKey(key)
				if v != venue {
					continue
				}
				balances[token] = balances[token].Add(delta)
			}
		}
		s.mu.Unlock()
	}
	for token, qty := range balances {
		if qty.IsZero() {
			delete(balances, token)
		}
	}
	return balances, nil
}

// Compile-time interface check.
var _ domain.BalanceSource = (*Group)(nil)
