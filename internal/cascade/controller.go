// Package cascade drives the mandatory recomputation chain after any ledger
// change: exposure, then risk, then P&L, synchronously and in that order.
// It is the single place this ordering lives.
package cascade

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/loopbot/internal/domain"
	"github.com/alanyoungcy/loopbot/internal/exposure"
	"github.com/alanyoungcy/loopbot/internal/ledger"
	"github.com/alanyoungcy/loopbot/internal/pnl"
	"github.com/alanyoungcy/loopbot/internal/risk"
)

// Controller owns the cascade. OnLedgerChange must be invoked exactly once
// per externally visible ledger change: one sequential order, or one settled
// or rolled-back atomic group. Single-writer: callers serialize timesteps.
type Controller struct {
	ledger   *ledger.Ledger
	valuator *exposure.Valuator
	assessor *risk.Assessor
	engine   *pnl.Engine
	events   domain.EventLogger
	logger   *slog.Logger

	prevExposure *domain.ExposureSnapshot
	lastRisk     *domain.RiskAssessment
}

// New creates the controller. events may be nil when no event sink is wired.
func New(l *ledger.Ledger, v *exposure.Valuator, a *risk.Assessor, e *pnl.Engine, events domain.EventLogger, logger *slog.Logger) *Controller {
	return &Controller{
		ledger:   l,
		valuator: v,
		assessor: a,
		engine:   e,
		events:   events,
		logger:   logger.With(slog.String("component", "cascade")),
	}
}

// OnLedgerChange runs exposure, risk, and P&L against the current ledger
// state. A risk or P&L failure degrades the result rather than aborting:
// the stages already computed stay valid and are returned, so the position
// and exposure views remain available even when attribution breaks.
func (c *Controller) OnLedgerChange(ctx context.Context, trigger domain.CascadeTrigger, ts time.Time, md domain.MarketSnapshot) (domain.CascadeResult, error) {
	snap := c.ledger.Snapshot()

	// Stage 1: exposure. Pure; only a structurally invalid input can fail
	// it, and that propagates.
	exp := c.valuator.Calculate(snap, md, ts)
	if exp.MissingInstruments > 0 {
		c.logger.Warn("exposure excludes instruments without market data",
			slog.Int("excluded", exp.MissingInstruments),
			slog.String("trigger", trigger.Reason),
		)
	}

	result := domain.CascadeResult{Trigger: trigger, Exposure: exp}

	// Stage 2: risk. On failure the last-known-good assessment is carried so
	// stage 3 still runs; no stage is skipped.
	assessment, err := c.assessor.Assess(ctx, exp, md)
	if err != nil {
		result.RiskErr = err.Error()
		c.logger.Error("risk stage failed, carrying last-known-good",
			slog.String("trigger", trigger.Reason),
			slog.String("error", err.Error()),
		)
		if c.lastRisk != nil {
			assessment = *c.lastRisk
		} else {
			assessment = domain.RiskAssessment{Timestamp: ts, Level: domain.RiskCritical, Overall: 1}
		}
		assessment.Timestamp = ts
	} else {
		c.lastRisk = &assessment
	}
	result.Risk = assessment

	// Stage 3: P&L. Failure populates PnLErr and defaults the balance-based
	// figures; the exposure and risk just computed are not rolled back.
	record, err := c.engine.Calculate(exp, c.prevExposure, md, ts, trigger.Fees)
	if err != nil {
		result.PnLErr = err.Error()
		result.PnL = c.engine.Degraded(exp, ts, err)
		c.logger.Error("pnl stage failed, returning degraded record",
			slog.String("trigger", trigger.Reason),
			slog.String("error", err.Error()),
		)
	} else {
		result.PnL = record
	}

	c.prevExposure = &exp
	c.emit(ctx, trigger, result)
	return result, nil
}

// LastExposure returns the most recent cascade's exposure snapshot, nil
// before the first cascade.
func (c *Controller) LastExposure() *domain.ExposureSnapshot { return c.prevExposure }

// LastRisk returns the most recent successful risk assessment, nil before
// the first cascade.
func (c *Controller) LastRisk() *domain.RiskAssessment { return c.lastRisk }

func (c *Controller) emit(ctx context.Context, trigger domain.CascadeTrigger, result domain.CascadeResult) {
	if c.events == nil {
		return
	}
	c.events.Log(ctx, domain.Event{
		Timestamp: result.Exposure.Timestamp,
		Type:      "cascade",
		Data: map[string]any{
			"trigger":         trigger.Reason,
			"total_valuation": result.Exposure.TotalValuation,
			"risk_level":      string(result.Risk.Level),
			"pnl_cumulative":  result.PnL.BalanceBased.PnLCumulative,
			"degraded":        result.PnLErr != "" || result.RiskErr != "",
		},
	})
}
