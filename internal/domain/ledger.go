package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// WalletVenue is the venue name of the single on-chain-style wallet. Seed
// capital lands here and flash loans settle against it.
const WalletVenue = "wallet"

// InstrumentKey builds the canonical "venue:token" key used across the
// exposure, risk, and P&L layers.
func InstrumentKey(venue, token string) string {
	return venue + ":" + token
}

// SplitInstrumentKey is the inverse of InstrumentKey. The second return is
// empty when the key has no venue prefix.
func SplitInstrumentKey(key string) (venue, token string) {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return "", key
}

// BalanceChange is one discrete signed native-unit mutation of a venue/token
// balance. Quantities are always in the token's own unit; no valuation is
// recorded here.
type BalanceChange struct {
	Venue  string
	Token  string
	Delta  decimal.Decimal
	Reason string
}

// DerivativeAction describes what a DerivativeChange does to a position.
type DerivativeAction string

const (
	DerivativeOpen   DerivativeAction = "OPEN"
	DerivativeAdjust DerivativeAction = "ADJUST"
	DerivativeClose  DerivativeAction = "CLOSE"
)

// DerivativePosition is the payload of an open derivative (perp/futures)
// position on a venue.
type DerivativePosition struct {
	Size            decimal.Decimal // signed; negative is short
	EntryPrice      float64
	EntryTime       time.Time
	NotionalAtEntry float64
}

// DerivativeChange mutates one derivative position. For ADJUST the payload
// size is a signed delta added to the existing size; for OPEN and CLOSE it is
// the full position payload.
type DerivativeChange struct {
	Venue      string
	Instrument string
	Action     DerivativeAction
	Payload    DerivativePosition
}

// ChangeBatch groups balance and derivative changes that must land
// atomically in one ledger apply.
type ChangeBatch struct {
	Balances    []BalanceChange
	Derivatives []DerivativeChange
}

// Empty reports whether the batch contains no changes at all.
func (b ChangeBatch) Empty() bool {
	return len(b.Balances) == 0 && len(b.Derivatives) == 0
}

// LedgerSnapshot is an immutable copy of the position ledger at a point in
// time. Maps are deep-copied on creation and must not be mutated by callers.
type LedgerSnapshot struct {
	TakenAt     time.Time
	Wallet      map[string]decimal.Decimal            // token -> native qty
	Venues      map[string]map[string]decimal.Decimal // venue -> token -> native qty
	Derivatives map[string]map[string]DerivativePosition
}

// Balance returns the native-unit balance for (venue, token), zero when the
// pair is unknown. The wallet is addressed via WalletVenue.
func (s LedgerSnapshot) Balance(venue, token string) decimal.Decimal {
	if venue == WalletVenue {
		return s.Wallet[token]
	}
	if m, ok := s.Venues[venue]; ok {
		return m[token]
	}
	return decimal.Zero
}

// Balances flattens the snapshot to instrument-key -> native quantity,
// including wallet holdings under the WalletVenue prefix. Zero balances are
// omitted.
func (s LedgerSnapshot) Balances() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(s.Wallet)+8)
	for token, qty := range s.Wallet {
		if !qty.IsZero() {
			out[InstrumentKey(WalletVenue, token)] = qty
		}
	}
	for venue, tokens := range s.Venues {
		for token, qty := range tokens {
			if !qty.IsZero() {
				out[InstrumentKey(venue, token)] = qty
			}
		}
	}
	return out
}
