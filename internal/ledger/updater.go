package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/loopbot/internal/domain"
)

// Updater turns a confirmed execution handshake into the change batch that
// lands on the ledger. It is selected once at wiring time: simulated for
// backtests, live for real venues.
type Updater interface {
	BatchFor(ctx context.Context, order domain.Order, h domain.ExecutionHandshake) (domain.ChangeBatch, error)
}

// SimulatedUpdater derives ledger changes from the handshake's actual
// deltas. Used in backtests where the handshake is the full truth.
type SimulatedUpdater struct{}

// NewSimulatedUpdater returns an Updater for backtest mode.
func NewSimulatedUpdater() *SimulatedUpdater { return &SimulatedUpdater{} }

// BatchFor converts the handshake's actual deltas into balance changes and,
// for perp trades, a derivative change.
func (u *SimulatedUpdater) BatchFor(_ context.Context, order domain.Order, h domain.ExecutionHandshake) (domain.ChangeBatch, error) {
	if !h.Confirmed() {
		return domain.ChangeBatch{}, fmt.Errorf("ledger: updater called with non-confirmed handshake %s", h.OperationID)
	}

	var batch domain.ChangeBatch
	reason := string(order.Operation) + ":" + order.OperationID
	for key, delta := range h.ActualDeltas {
		venue, token := domain.SplitInstrumentKey(key)
		if venue == "" {
			venue = order.Venue
		}
		batch.Balances = append(batch.Balances, domain.BalanceChange{
			Venue:  venue,
			Token:  token,
			Delta:  delta,
			Reason: reason,
		})
	}

	if order.Operation == domain.OpPerpTrade {
		size := order.Amount
		if order.Side == domain.SideShort {
			size = size.Neg()
		}
		batch.Derivatives = append(batch.Derivatives, domain.DerivativeChange{
			Venue:      order.Venue,
			Instrument: order.Pair,
			Action:     domain.DerivativeOpen,
			Payload: domain.DerivativePosition{
				Size:            size,
				EntryPrice:      order.Price,
				EntryTime:       h.ExecutedAt,
				NotionalAtEntry: order.Price * order.Amount.InexactFloat64(),
			},
		})
	}
	return batch, nil
}

// LiveUpdater refreshes balances from the venue after a confirmed execution
// and emits the observed differences as the change batch. The handshake's
// deltas are only consulted when the venue cannot report a token.
type LiveUpdater struct {
	source domain.BalanceSource
	prev   domain.LedgerSnapshot
}

// NewLiveUpdater returns an Updater for live mode, reading post-trade
// balances from source. baseline is the ledger snapshot taken at startup.
func NewLiveUpdater(source domain.BalanceSource, baseline domain.LedgerSnapshot) *LiveUpdater {
	return &LiveUpdater{source: source, prev: baseline}
}

// BatchFor queries live balances for the order's venue and converts the
// difference against the previously observed snapshot into balance changes.
func (u *LiveUpdater) BatchFor(ctx context.Context, order domain.Order, h domain.ExecutionHandshake) (domain.ChangeBatch, error) {
	if !h.Confirmed() {
		return domain.ChangeBatch{}, fmt.Errorf("ledger: updater called with non-confirmed handshake %s", h.OperationID)
	}

	venues := map[string]bool{order.Venue: true}
	for key := range h.ActualDeltas {
		if v, _ := domain.SplitInstrumentKey(key); v != "" {
			venues[v] = true
		}
	}

	var batch domain.ChangeBatch
	reason := string(order.Operation) + ":" + order.OperationID
	for venue := range venues {
		live, err := u.source.LiveBalances(ctx, venue)
		if err != nil {
			return domain.ChangeBatch{}, fmt.Errorf("ledger: live balances for %s: %w", venue, err)
		}
		for token, qty := range live {
			delta := qty.Sub(u.prevBalance(venue, token))
			if delta.IsZero() {
				continue
			}
			batch.Balances = append(batch.Balances, domain.BalanceChange{
				Venue: venue, Token: token, Delta: delta, Reason: reason,
			})
			u.setPrev(venue, token, qty)
		}
	}
	return batch, nil
}

func (u *LiveUpdater) prevBalance(venue, token string) decimal.Decimal {
	return u.prev.Balance(venue, token)
}

func (u *LiveUpdater) setPrev(venue, token string, qty decimal.Decimal) {
	if venue == domain.WalletVenue {
		if u.prev.Wallet == nil {
			u.prev.Wallet = make(map[string]decimal.Decimal)
		}
		u.prev.Wallet[token] = qty
		return
	}
	if u.prev.Venues == nil {
		u.prev.Venues = make(map[string]map[string]decimal.Decimal)
	}
	m, ok := u.prev.Venues[venue]
	if !ok {
		m = make(map[string]decimal.Decimal)
		u.prev.Venues[venue] = m
	}
	m[token] = qty
}
