// Package ledger holds the raw native-unit position state: wallet balances,
// custodial venue balances, and derivative positions. It stores no prices
// and no valuations; converting holdings into a valuation is the exposure
// layer's job.
package ledger

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/loopbot/internal/domain"
)

// Ledger is the single-writer position ledger. Mutations happen only through
// Apply, which lands a whole ChangeBatch atomically. Concurrent readers may
// take snapshots at any time.
type Ledger struct {
	mu          sync.RWMutex
	wallet      map[string]decimal.Decimal
	venues      map[string]map[string]decimal.Decimal
	derivatives map[string]map[string]domain.DerivativePosition
	poisoned    bool
	logger      *slog.Logger
}

// New creates a ledger seeded with the initial capital in the wallet under
// the share-class token.
func New(seed decimal.Decimal, shareToken string, logger *slog.Logger) *Ledger {
	l := &Ledger{
		wallet:      make(map[string]decimal.Decimal),
		venues:      make(map[string]map[string]decimal.Decimal),
		derivatives: make(map[string]map[string]domain.DerivativePosition),
		logger:      logger.With(slog.String("component", "ledger")),
	}
	if !seed.IsZero() {
		l.wallet[shareToken] = seed
	}
	return l
}

// Apply lands every change in the batch and returns an immutable snapshot of
// the resulting state. The batch either all lands or, on an internal
// invariant violation, the ledger is poisoned and every later call fails
// fast. Unknown venue/token pairs are lazily zero-initialized.
func (l *Ledger) Apply(batch domain.ChangeBatch) (domain.LedgerSnapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.poisoned {
		return domain.LedgerSnapshot{}, domain.E("ledger_poisoned", "ledger", domain.SeverityCritical, domain.ErrLedgerPoisoned)
	}

	// Validate the whole batch before touching state so a structural defect
	// cannot partially apply.
	for _, bc := range batch.Balances {
		if bc.Venue == "" || bc.Token == "" {
			return domain.LedgerSnapshot{}, fmt.Errorf("ledger: balance change missing venue or token (reason %q)", bc.Reason)
		}
	}
	for _, dc := range batch.Derivatives {
		if err := l.checkDerivativeLocked(dc); err != nil {
			return domain.LedgerSnapshot{}, err
		}
	}

	for _, bc := range batch.Balances {
		l.applyBalanceLocked(bc)
	}
	for _, dc := range batch.Derivatives {
		if err := l.applyDerivativeLocked(dc); err != nil {
			// checkDerivativeLocked should have caught this; the state is now
			// indeterminate, so the ledger must be considered poisoned.
			l.poisoned = true
			l.logger.Error("ledger poisoned by partial batch apply",
				slog.String("venue", dc.Venue),
				slog.String("instrument", dc.Instrument),
				slog.String("error", err.Error()),
			)
			return domain.LedgerSnapshot{}, domain.E("batch_apply_failed", "ledger", domain.SeverityCritical, err)
		}
	}

	return l.snapshotLocked(), nil
}

// Snapshot returns an immutable copy of the current state without mutation.
func (l *Ledger) Snapshot() domain.LedgerSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshotLocked()
}

// Poisoned reports whether a failed apply has invalidated the ledger.
func (l *Ledger) Poisoned() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.poisoned
}

func (l *Ledger) applyBalanceLocked(bc domain.BalanceChange) {
	if bc.Venue == domain.WalletVenue {
		l.wallet[bc.Token] = l.wallet[bc.Token].Add(bc.Delta)
		return
	}
	m, ok := l.venues[bc.Venue]
	if !ok {
		m = make(map[string]decimal.Decimal)
		l.venues[bc.Venue] = m
	}
	m[bc.Token] = m[bc.Token].Add(bc.Delta)
}

func (l *Ledger) checkDerivativeLocked(dc domain.DerivativeChange) error {
	if dc.Venue == "" || dc.Instrument == "" {
		return fmt.Errorf("ledger: derivative change missing venue or instrument")
	}
	existing := false
	if m, ok := l.derivatives[dc.Venue]; ok {
		_, existing = m[dc.Instrument]
	}
	switch dc.Action {
	case domain.DerivativeOpen:
		if existing {
			return fmt.Errorf("ledger: OPEN on existing position %s:%s", dc.Venue, dc.Instrument)
		}
	case domain.DerivativeAdjust, domain.DerivativeClose:
		if !existing {
			return fmt.Errorf("ledger: %s on unknown position %s:%s", dc.Action, dc.Venue, dc.Instrument)
		}
	default:
		return fmt.Errorf("ledger: unknown derivative action %q", dc.Action)
	}
	return nil
}

func (l *Ledger) applyDerivativeLocked(dc domain.DerivativeChange) error {
	m, ok := l.derivatives[dc.Venue]
	if !ok {
		m = make(map[string]domain.DerivativePosition)
		l.derivatives[dc.Venue] = m
	}
	switch dc.Action {
	case domain.DerivativeOpen:
		if _, exists := m[dc.Instrument]; exists {
			return fmt.Errorf("ledger: OPEN on existing position %s:%s", dc.Venue, dc.Instrument)
		}
		m[dc.Instrument] = dc.Payload
	case domain.DerivativeAdjust:
		pos, exists := m[dc.Instrument]
		if !exists {
			return fmt.Errorf("ledger: ADJUST on unknown position %s:%s", dc.Venue, dc.Instrument)
		}
		pos.Size = pos.Size.Add(dc.Payload.Size)
		if pos.Size.IsZero() {
			delete(m, dc.Instrument)
		} else {
			m[dc.Instrument] = pos
		}
	case domain.DerivativeClose:
		if _, exists := m[dc.Instrument]; !exists {
			return fmt.Errorf("ledger: CLOSE on unknown position %s:%s", dc.Venue, dc.Instrument)
		}
		delete(m, dc.Instrument)
	default:
		return fmt.Errorf("ledger: unknown derivative action %q", dc.Action)
	}
	return nil
}

func (l *Ledger) snapshotLocked() domain.LedgerSnapshot {
	snap := domain.LedgerSnapshot{
		TakenAt:     time.Now().UTC(),
		Wallet:      make(map[string]decimal.Decimal, len(l.wallet)),
		Venues:      make(map[string]map[string]decimal.Decimal, len(l.venues)),
		Derivatives: make(map[string]map[string]domain.DerivativePosition, len(l.derivatives)),
	}
	for token, qty := range l.wallet {
		snap.Wallet[token] = qty
	}
	for venue, tokens := range l.venues {
		m := make(map[string]decimal.Decimal, len(tokens))
		for token, qty := range tokens {
			m[token] = qty
		}
		snap.Venues[venue] = m
	}
	for venue, positions := range l.derivatives {
		m := make(map[string]domain.DerivativePosition, len(positions))
		for instrument, pos := range positions {
			m[instrument] = pos
		}
		snap.Derivatives[venue] = m
	}
	return snap
}
