// Package risk derives risk metrics from an exposure snapshot plus market
// data. Channels are independent of each other and are evaluated
// concurrently; only the shared exposure/market inputs feed them.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/loopbot/internal/domain"
	"github.com/alanyoungcy/loopbot/internal/exposure"
)

// Fixed channel weights. Each channel score is clamped to [0,1] before
// weighting and the weighted sum is clamped to 1.0.
const (
	weightLiquidation = 0.40
	weightDelta       = 0.30
	weightFunding     = 0.15
	weightBasis       = 0.10
	weightDefault     = 0.05
)

// referenceFundingRate is the per-interval funding rate that maps to a full
// funding channel score at 100% perp exposure.
const referenceFundingRate = 0.01

// Params is the configuration the assessor needs. It comes from the
// pre-validated settings object; New only enforces structural presence of
// the required keys.
type Params struct {
	TargetLTV   float64
	MaxDrawdown float64
	// VenueMaxLeverage maps venue name -> maximum allowed leverage.
	VenueMaxLeverage map[string]float64
	// LiquidationThresholds maps lending venue -> LTV at which positions
	// liquidate. Venues absent from the map fall back to TargetLTV / 0.8.
	LiquidationThresholds map[string]float64
	// CategoryMultipliers scales per-category channel scores; missing
	// categories default to 1.0.
	CategoryMultipliers map[domain.Category]float64
}

// Assessor computes risk assessments from exposure snapshots.
type Assessor struct {
	params Params
	logger *slog.Logger
}

// New validates the structurally required configuration keys and returns an
// Assessor. Missing keys are a critical startup defect: the process must not
// accept input without them.
func New(params Params, logger *slog.Logger) (*Assessor, error) {
	var missing []string
	if params.TargetLTV <= 0 {
		missing = append(missing, "risk.target_ltv")
	}
	if params.MaxDrawdown <= 0 {
		missing = append(missing, "risk.max_drawdown")
	}
	if len(params.VenueMaxLeverage) == 0 {
		missing = append(missing, "venues[*].max_leverage")
	}
	for venue, lev := range params.VenueMaxLeverage {
		if lev <= 0 {
			missing = append(missing, fmt.Sprintf("venues.%s.max_leverage", venue))
		}
	}
	if len(missing) > 0 {
		return nil, domain.E("missing_config_keys", "risk", domain.SeverityCritical,
			fmt.Errorf("%w: %s", domain.ErrMissingConfigKeys, strings.Join(missing, ", ")))
	}
	return &Assessor{
		params: params,
		logger: logger.With(slog.String("component", "risk_assessor")),
	}, nil
}

// Assess computes all five channels concurrently and combines them into the
// weighted overall score and discrete level.
func (a *Assessor) Assess(ctx context.Context, exp domain.ExposureSnapshot, md domain.MarketSnapshot) (domain.RiskAssessment, error) {
	var liquidation, delta, funding, basis, dflt float64

	// Channels share only their read-only inputs, so each can run on its own
	// goroutine and write to its own slot.
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error { liquidation = a.liquidationScore(exp); return nil })
	g.Go(func() error { delta = a.deltaScore(exp); return nil })
	g.Go(func() error { funding = a.fundingScore(exp, md); return nil })
	g.Go(func() error { basis = a.basisScore(exp); return nil })
	g.Go(func() error { dflt = a.defaultScore(exp); return nil })
	if err := g.Wait(); err != nil {
		return domain.RiskAssessment{}, fmt.Errorf("risk: assess: %w", err)
	}

	channels := map[string]float64{
		domain.ChannelLiquidation: clamp01(liquidation),
		domain.ChannelDelta:       clamp01(delta),
		domain.ChannelFunding:     clamp01(funding),
		domain.ChannelBasis:       clamp01(basis),
		domain.ChannelDefault:     clamp01(dflt),
	}
	overall := clamp01(channels[domain.ChannelLiquidation]*weightLiquidation +
		channels[domain.ChannelDelta]*weightDelta +
		channels[domain.ChannelFunding]*weightFunding +
		channels[domain.ChannelBasis]*weightBasis +
		channels[domain.ChannelDefault]*weightDefault)

	assessment := domain.RiskAssessment{
		Timestamp: exp.Timestamp,
		Channels:  channels,
		Overall:   overall,
		Level:     levelFor(overall),
	}
	if assessment.Level == domain.RiskHigh || assessment.Level == domain.RiskCritical {
		a.logger.Warn("elevated risk level",
			slog.String("level", string(assessment.Level)),
			slog.Float64("overall", overall),
		)
	}
	return assessment, nil
}

// liquidationScore measures how close each lending venue's loan-to-value
// sits to its liquidation threshold. The worst venue sets the score.
func (a *Assessor) liquidationScore(exp domain.ExposureSnapshot) float64 {
	type book struct{ collateral, debt float64 }
	venues := make(map[string]*book)
	for key, value := range exp.ByInstrument {
		if exposure.Classify(key) != domain.CategoryLending {
			continue
		}
		venue, _ := domain.SplitInstrumentKey(key)
		b, ok := venues[venue]
		if !ok {
			b = &book{}
			venues[venue] = b
		}
		if value >= 0 {
			b.collateral += value
		} else {
			b.debt += -value
		}
	}

	worst := 0.0
	for venue, b := range venues {
		if b.collateral <= 0 {
			if b.debt > 0 {
				return 1.0 // debt with no collateral
			}
			continue
		}
		threshold, ok := a.params.LiquidationThresholds[venue]
		if !ok || threshold <= 0 {
			threshold = a.params.TargetLTV / 0.8
		}
		ltv := b.debt / b.collateral
		if score := ltv / threshold; score > worst {
			worst = score
		}
	}
	return worst * a.multiplier(domain.CategoryLending)
}

// deltaScore measures unhedged directional exposure as a share of the gross
// book, scaled so that a share equal to max_drawdown maps to a full score.
func (a *Assessor) deltaScore(exp domain.ExposureSnapshot) float64 {
	gross := grossValuation(exp)
	if gross == 0 {
		return 0
	}
	netDelta := math.Abs(exp.ByCategory[domain.CategoryDelta])
	return (netDelta / gross) / a.params.MaxDrawdown * a.multiplier(domain.CategoryDelta)
}

// fundingScore weights perp exposure share by the worst current funding
// rate relative to the reference rate.
func (a *Assessor) fundingScore(exp domain.ExposureSnapshot, md domain.MarketSnapshot) float64 {
	gross := grossValuation(exp)
	if gross == 0 {
		return 0
	}
	perpShare := (math.Abs(exp.ByCategory[domain.CategoryBasis]) +
		math.Abs(exp.ByCategory[domain.CategoryFunding])) / gross
	worstRate := 0.0
	for _, rate := range md.FundingRates {
		if r := math.Abs(rate); r > worstRate {
			worstRate = r
		}
	}
	return perpShare * (worstRate / referenceFundingRate) * a.multiplier(domain.CategoryFunding)
}

// basisScore measures hedged basis exposure as a share of the gross book.
func (a *Assessor) basisScore(exp domain.ExposureSnapshot) float64 {
	gross := grossValuation(exp)
	if gross == 0 {
		return 0
	}
	return math.Abs(exp.ByCategory[domain.CategoryBasis]) / gross * a.multiplier(domain.CategoryBasis)
}

// defaultScore proxies counterparty risk by instrument concentration.
func (a *Assessor) defaultScore(exp domain.ExposureSnapshot) float64 {
	return exp.Concentration * a.multiplier(domain.CategoryOther)
}

func (a *Assessor) multiplier(cat domain.Category) float64 {
	if m, ok := a.params.CategoryMultipliers[cat]; ok && m > 0 {
		return m
	}
	return 1.0
}

func levelFor(overall float64) domain.RiskLevel {
	switch {
	case overall < 0.2:
		return domain.RiskLow
	case overall < 0.5:
		return domain.RiskMedium
	case overall < 0.8:
		return domain.RiskHigh
	default:
		return domain.RiskCritical
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func grossValuation(exp domain.ExposureSnapshot) float64 {
	gross := 0.0
	for _, v := range exp.ByInstrument {
		gross += math.Abs(v)
	}
	return gross
}
