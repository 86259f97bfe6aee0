package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/loopbot/internal/domain"
	"github.com/alanyoungcy/loopbot/internal/exposure"
)

// Rebalance keeps the lending position's loan-to-value inside a band around
// the target. When LTV drifts above the band it repays debt from the wallet;
// below the band it borrows more. Each adjustment is a single sequential
// order so risk is reassessed before the next move.
type Rebalance struct {
	cfg    Config
	logger *slog.Logger
}

func NewRebalance(cfg Config, logger *slog.Logger) *Rebalance {
	return &Rebalance{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "strategy"), slog.String("strategy", cfg.Name)),
	}
}

func (s *Rebalance) Name() string { return s.cfg.Name }

func (s *Rebalance) Init(_ context.Context) error {
	if s.cfg.RebalanceBand <= 0 {
		return fmt.Errorf("rebalance: rebalance_band must be positive")
	}
	return nil
}

func (s *Rebalance) Close() error { return nil }

func (s *Rebalance) GenerateOrders(_ context.Context, _ time.Time, exp *domain.ExposureSnapshot, risk *domain.RiskAssessment, market domain.MarketSnapshot) ([]domain.Order, error) {
	if exp == nil {
		return nil, nil
	}

	collateral, debt := lendingPosition(exp, s.cfg.LendingVenue)
	if collateral <= 0 || debt <= 0 {
		return nil, nil
	}
	ltv := debt / collateral
	drift := ltv - s.cfg.TargetLTV
	if math.Abs(drift) <= s.cfg.RebalanceBand {
		return nil, nil
	}

	basePrice, ok := market.Price(s.cfg.BaseToken)
	if !ok || basePrice <= 0 {
		return nil, fmt.Errorf("rebalance: %w: no price for %s", domain.ErrNoMarketData, s.cfg.BaseToken)
	}

	// Value of debt change that restores target: d' = L * collateral.
	adjustValue := math.Abs(s.cfg.TargetLTV*collateral - debt)
	amount := decimal.NewFromFloat(adjustValue / basePrice)
	walletBase := domain.InstrumentKey(domain.WalletVenue, s.cfg.BaseToken)
	debtKey := domain.InstrumentKey(s.cfg.LendingVenue, "debt"+s.cfg.BaseToken)

	var raw domain.Order
	if drift > 0 {
		raw = domain.Order{
			Venue:     s.cfg.LendingVenue,
			Operation: domain.OpRepay,
			Amount:    amount,
			Token:     s.cfg.BaseToken,
			Mode:      domain.ModeSequential,
			ExpectedDeltas: map[string]decimal.Decimal{
				walletBase: amount.Neg(),
				debtKey:    amount,
			},
		}
	} else {
		raw = domain.Order{
			Venue:     s.cfg.LendingVenue,
			Operation: domain.OpBorrow,
			Amount:    amount,
			Token:     s.cfg.BaseToken,
			Mode:      domain.ModeSequential,
			ExpectedDeltas: map[string]decimal.Decimal{
				walletBase: amount,
				debtKey:    amount.Neg(),
			},
		}
	}

	o, err := domain.NewOrder(raw)
	if err != nil {
		return nil, fmt.Errorf("rebalance: %w", err)
	}

	level := domain.RiskLevel("")
	if risk != nil {
		level = risk.Level
	}
	s.logger.Info("rebalancing position",
		slog.Float64("ltv", ltv),
		slog.Float64("target_ltv", s.cfg.TargetLTV),
		slog.String("operation", string(o.Operation)),
		slog.String("risk_level", string(level)),
	)
	return []domain.Order{o}, nil
}

// lendingPosition sums collateral and debt valuation for one lending venue.
func lendingPosition(exp *domain.ExposureSnapshot, venue string) (collateral, debt float64) {
	for key, value := range exp.ByInstrument {
		v, _ := domain.SplitInstrumentKey(key)
		if v != venue || exposure.Classify(key) != domain.CategoryLending {
			continue
		}
		if value >= 0 {
			collateral += value
		} else {
			debt += -value
		}
	}
	return collateral, debt
}
