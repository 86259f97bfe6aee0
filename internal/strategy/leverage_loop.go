package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/loopbot/internal/domain"
)

// LeverageLoop enters a leveraged staking position in one atomic group:
// flash-borrow the base token, stake everything, supply the staked token as
// collateral, borrow against it, and repay the flash loan with the borrowed
// amount. The loop either settles whole or leaves the ledger untouched.
type LeverageLoop struct {
	cfg     Config
	logger  *slog.Logger
	entered bool
}

func NewLeverageLoop(cfg Config, logger *slog.Logger) *LeverageLoop {
	return &LeverageLoop{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "strategy"), slog.String("strategy", cfg.Name)),
	}
}

func (s *LeverageLoop) Name() string { return s.cfg.Name }

func (s *LeverageLoop) Init(_ context.Context) error {
	if s.cfg.TargetLTV <= 0 || s.cfg.TargetLTV >= 1 {
		return fmt.Errorf("leverage_loop: target_ltv must be in (0,1), got %f", s.cfg.TargetLTV)
	}
	if s.cfg.Capital <= 0 {
		return fmt.Errorf("leverage_loop: capital must be positive")
	}
	return nil
}

func (s *LeverageLoop) Close() error { return nil }

// GenerateOrders emits the entry group once, then maintains the position
// through dust cleanup only. Deleveraging is the rebalancer's job. A book
// that no longer carries the loop's collateral means the entry group rolled
// back, so the strategy re-arms and tries again next call.
func (s *LeverageLoop) GenerateOrders(_ context.Context, _ time.Time, exposure *domain.ExposureSnapshot, _ *domain.RiskAssessment, market domain.MarketSnapshot) ([]domain.Order, error) {
	if s.entered {
		if !s.positionLost(exposure) {
			return SellDust(exposure, market, s.cfg.StakingVenue, s.cfg.BaseToken, s.cfg.DustThreshold)
		}
		s.logger.Warn("entry position missing from book, re-arming")
		s.entered = false
	}

	basePrice, ok := market.Price(s.cfg.BaseToken)
	if !ok || basePrice <= 0 {
		return nil, fmt.Errorf("leverage_loop: %w: no price for %s", domain.ErrNoMarketData, s.cfg.BaseToken)
	}
	stakedPrice, ok := market.Price(s.cfg.StakedToken)
	if !ok || stakedPrice <= 0 {
		return nil, fmt.Errorf("leverage_loop: %w: no price for %s", domain.ErrNoMarketData, s.cfg.StakedToken)
	}

	// Flash size that lands the position exactly at target LTV:
	// borrow/(capital+borrow) = L, so borrow = capital * L/(1-L).
	capital := s.cfg.Capital
	flash := capital * s.cfg.TargetLTV / (1 - s.cfg.TargetLTV)
	stakeIn := capital + flash
	stakedOut := stakeIn * basePrice / stakedPrice

	base := s.cfg.BaseToken
	staked := s.cfg.StakedToken
	lending := s.cfg.LendingVenue
	staking := s.cfg.StakingVenue
	walletBase := domain.InstrumentKey(domain.WalletVenue, base)
	walletStaked := domain.InstrumentKey(domain.WalletVenue, staked)
	collateralKey := domain.InstrumentKey(lending, "a"+staked)
	debtKey := domain.InstrumentKey(lending, "debt"+base)

	dFlash := decimal.NewFromFloat(flash)
	dStakeIn := decimal.NewFromFloat(stakeIn)
	dStakedOut := decimal.NewFromFloat(stakedOut)

	raw := withGroup(uuid.New().String(), []domain.Order{
		{
			Venue:          lending,
			Operation:      domain.OpFlashBorrow,
			Amount:         dFlash,
			Token:          base,
			ExpectedDeltas: map[string]decimal.Decimal{walletBase: dFlash},
		},
		{
			Venue:     staking,
			Operation: domain.OpStake,
			Amount:    dStakeIn,
			TokenIn:   base,
			Token:     staked,
			ExpectedDeltas: map[string]decimal.Decimal{
				walletBase:   dStakeIn.Neg(),
				walletStaked: dStakedOut,
			},
		},
		{
			Venue:     lending,
			Operation: domain.OpSupply,
			Amount:    dStakedOut,
			TokenIn:   staked,
			ExpectedDeltas: map[string]decimal.Decimal{
				walletStaked:  dStakedOut.Neg(),
				collateralKey: dStakedOut,
			},
		},
		{
			Venue:     lending,
			Operation: domain.OpBorrow,
			Amount:    dFlash,
			Token:     base,
			ExpectedDeltas: map[string]decimal.Decimal{
				walletBase: dFlash,
				debtKey:    dFlash.Neg(),
			},
		},
		{
			Venue:          lending,
			Operation:      domain.OpFlashRepay,
			Amount:         dFlash,
			Token:          base,
			ExpectedDeltas: map[string]decimal.Decimal{walletBase: dFlash.Neg()},
		},
	})

	orders := make([]domain.Order, 0, len(raw))
	for _, r := range raw {
		o, err := domain.NewOrder(r)
		if err != nil {
			return nil, fmt.Errorf("leverage_loop: %w", err)
		}
		orders = append(orders, o)
	}

	s.entered = true
	s.logger.Info("entering leverage loop",
		slog.Float64("capital", capital),
		slog.Float64("flash_size", flash),
		slog.Float64("target_ltv", s.cfg.TargetLTV),
	)
	return orders, nil
}

// positionLost reports whether a complete valuation shows no collateral for
// the loop. Nil or partially valued books are not trusted: an instrument
// excluded for missing market data must not trigger a second entry.
func (s *LeverageLoop) positionLost(exposure *domain.ExposureSnapshot) bool {
	if exposure == nil || exposure.MissingInstruments > 0 {
		return false
	}
	key := domain.InstrumentKey(s.cfg.LendingVenue, "a"+s.cfg.StakedToken)
	_, ok := exposure.ByInstrument[key]
	return !ok
}
