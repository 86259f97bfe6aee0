// Package pnl derives balance-based and attribution-based profit/loss from
// exposure snapshots and reconciles the two. All running totals live in an
// AttributionState owned by the engine instance; nothing is package-global,
// and totals reset only when a new engine is constructed.
package pnl

import (
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/loopbot/internal/domain"
)

// reconciliationTolerance is the annualized fraction of initial capital the
// two P&L methods may diverge before the record is flagged.
const reconciliationTolerance = 0.02

// Engine computes P&L records. It is single-writer by contract: the state
// cascade is the only caller, one timestep at a time.
type Engine struct {
	valuationCurrency string
	initialCapital    float64
	logger            *slog.Logger

	firstAt     time.Time
	state       *AttributionState
	prevMD      *domain.MarketSnapshot
	prevAt      time.Time
	lastFunding time.Time // last hour bucket funding accrued for
}

// NewEngine creates an engine whose balance-based baseline is the strategy's
// seed capital. The baseline is deliberately not taken from the first
// exposure reading, which may already include accrued yield.
func NewEngine(initialCapital float64, valuationCurrency string, logger *slog.Logger) *Engine {
	return &Engine{
		valuationCurrency: valuationCurrency,
		initialCapital:    initialCapital,
		logger:            logger.With(slog.String("component", "pnl_engine")),
		state:             newAttributionState(),
	}
}

// Calculate produces the P&L record for exp at ts. prev is the previous
// exposure snapshot or nil on the first call; fees is the transaction cost
// of the triggering ledger change in valuation currency. A funding-rate
// source missing for a venue with perp exposure is a hard failure, not a
// silent default.
func (e *Engine) Calculate(exp domain.ExposureSnapshot, prev *domain.ExposureSnapshot, md domain.MarketSnapshot, ts time.Time, fees float64) (domain.PnLRecord, error) {
	if e.firstAt.IsZero() {
		e.firstAt = ts
	}

	balance := domain.BalanceBasedPnL{
		CurrentValuation: exp.TotalValuation,
		InitialValuation: e.initialCapital,
		PnLCumulative:    exp.TotalValuation - e.initialCapital,
	}
	if prev != nil {
		balance.PreviousValuation = prev.TotalValuation
		balance.PnLSincePrevious = exp.TotalValuation - prev.TotalValuation
	}

	contributions, err := e.attribute(exp, prev, md, ts)
	if err != nil {
		return domain.PnLRecord{}, err
	}
	if fees != 0 {
		contributions[domain.ComponentTxCosts] -= fees
	}
	for component, amount := range contributions {
		e.state.add(component, amount)
	}

	elapsedHours := ts.Sub(e.prevAt).Hours()
	if e.prevAt.IsZero() || elapsedHours <= 0 {
		elapsedHours = 1
	}
	attribution := domain.AttributionPnL{
		Components: make(map[string]domain.AttributionComponent, len(domain.AttributionComponents)),
	}
	for _, component := range domain.AttributionComponents {
		attribution.Components[component] = domain.AttributionComponent{
			Hourly:     contributions[component] / elapsedHours,
			Cumulative: e.state.cumulative(component),
		}
	}
	attribution.PnLCumulative = e.state.total()

	record := domain.PnLRecord{
		Timestamp:      ts,
		BalanceBased:   balance,
		Attribution:    attribution,
		Reconciliation: e.reconcile(balance.PnLCumulative, attribution.PnLCumulative, ts),
	}
	if !record.Reconciliation.Passed {
		e.logger.Warn("pnl reconciliation breach",
			slog.Float64("difference", record.Reconciliation.Difference),
			slog.Float64("tolerance", record.Reconciliation.Tolerance),
		)
	}

	e.prevMD = &md
	e.prevAt = ts
	return record, nil
}

// Degraded builds the record returned when attribution fails: balance-based
// figures default from exposure totals, attribution is absent, and the error
// is carried as data so the cascade stays available.
func (e *Engine) Degraded(exp domain.ExposureSnapshot, ts time.Time, cause error) domain.PnLRecord {
	if e.firstAt.IsZero() {
		e.firstAt = ts
	}
	return domain.PnLRecord{
		Timestamp: ts,
		BalanceBased: domain.BalanceBasedPnL{
			CurrentValuation: exp.TotalValuation,
			InitialValuation: e.initialCapital,
			PnLCumulative:    exp.TotalValuation - e.initialCapital,
		},
		Err: cause.Error(),
	}
}

// reconcile compares the two methods. The tolerance is 2% of initial
// capital, annualized and pro-rated by elapsed time since the engine's first
// record, floored at one hour's worth so the first record cannot trivially
// breach. A breach is reported, never raised.
func (e *Engine) reconcile(balanceCum, attributionCum float64, ts time.Time) domain.Reconciliation {
	elapsed := ts.Sub(e.firstAt)
	if elapsed < time.Hour {
		elapsed = time.Hour
	}
	years := elapsed.Hours() / (365 * 24)
	tolerance := reconciliationTolerance * math.Abs(e.initialCapital) * years

	diff := balanceCum - attributionCum
	return domain.Reconciliation{
		Difference: diff,
		Tolerance:  tolerance,
		Passed:     math.Abs(diff) <= tolerance,
	}
}
