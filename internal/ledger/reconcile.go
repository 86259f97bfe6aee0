package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/loopbot/internal/domain"
)

// driftThreshold is the absolute native-unit difference above which a
// ledger/venue balance mismatch is reported.
var driftThreshold = decimal.NewFromFloat(0.01)

// Reconciler compares ledger balances against live venue balances on an
// independent schedule. It only reports drift; it never corrects the ledger.
// Live mode only.
type Reconciler struct {
	ledger *Ledger
	source domain.BalanceSource
	venues []string
	logger *slog.Logger
}

// NewReconciler creates a Reconciler checking the given venues against the
// balance source.
func NewReconciler(l *Ledger, source domain.BalanceSource, venues []string, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		ledger: l,
		source: source,
		venues: venues,
		logger: logger.With(slog.String("component", "reconciler")),
	}
}

// Check queries live balances for every configured venue and returns a
// *domain.BalanceDriftError when any per-key absolute difference exceeds the
// 0.01 native-unit threshold. A nil return means the books agree.
func (r *Reconciler) Check(ctx context.Context) error {
	snap := r.ledger.Snapshot()
	drifts := make(map[string]float64)

	for _, venue := range r.venues {
		live, err := r.source.LiveBalances(ctx, venue)
		if err != nil {
			// Best effort: one unreachable venue must not abort the sweep.
			r.logger.Warn("reconciler: venue unreachable",
				slog.String("venue", venue),
				slog.String("error", err.Error()),
			)
			continue
		}
		seen := make(map[string]bool, len(live))
		for token, qty := range live {
			seen[token] = true
			diff := qty.Sub(snap.Balance(venue, token)).Abs()
			if diff.GreaterThan(driftThreshold) {
				drifts[domain.InstrumentKey(venue, token)] = diff.InexactFloat64()
			}
		}
		// Tokens the ledger holds but the venue no longer reports.
		for token, qty := range venueBalances(snap, venue) {
			if !seen[token] && qty.Abs().GreaterThan(driftThreshold) {
				drifts[domain.InstrumentKey(venue, token)] = qty.Abs().InexactFloat64()
			}
		}
	}

	if len(drifts) == 0 {
		return nil
	}
	err := &domain.BalanceDriftError{Drifts: drifts}
	r.logger.Warn("balance drift detected",
		slog.Int("instruments", len(drifts)),
		slog.Any("drifts", drifts),
	)
	return err
}

// Run performs drift checks on the given interval until the context ends.
// Drift is logged by Check; errors never stop the loop.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_ = r.Check(ctx)
		}
	}
}

func venueBalances(snap domain.LedgerSnapshot, venue string) map[string]decimal.Decimal {
	if venue == domain.WalletVenue {
		return snap.Wallet
	}
	return snap.Venues[venue]
}
