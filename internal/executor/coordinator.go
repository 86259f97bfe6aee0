// Package executor sequences orders, delegates each to its venue's
// execution interface, applies the resulting deltas to the position ledger,
// and drives the state cascade. Atomic groups settle all-or-nothing.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/loopbot/internal/cascade"
	"github.com/alanyoungcy/loopbot/internal/domain"
	"github.com/alanyoungcy/loopbot/internal/ledger"
)

// StepState records what happened to one order within a batch.
type StepState string

const (
	StepApplied    StepState = "applied"
	StepSkipped    StepState = "skipped"
	StepRolledBack StepState = "rolled_back"
)

// GroupState is the terminal state of an atomic group.
type GroupState string

const (
	GroupSettled    GroupState = "SETTLED"
	GroupRolledBack GroupState = "ROLLED_BACK"
)

// StepResult pairs an order with its handshake and final step state.
type StepResult struct {
	Order     domain.Order
	Handshake *domain.ExecutionHandshake
	State     StepState
	GroupID   string
	Group     GroupState // set only for grouped steps
}

// Report is the outcome of one Execute call: every step in submission order
// plus every cascade that ran.
type Report struct {
	Steps    []StepResult
	Cascades []domain.CascadeResult
}

// relativeDeltaTolerance is the allowed relative deviation between expected
// and actual per-instrument deltas before a warning is logged. Slippage and
// fees make small deviations normal; they never block settlement.
const relativeDeltaTolerance = 0.01

// Coordinator is the single-writer execution engine. One logical strategy
// timestep may call Execute at a time; callers serialize.
type Coordinator struct {
	runID      string
	ledger     *ledger.Ledger
	updater    ledger.Updater
	venues     map[string]domain.ExecutionInterface
	cascade    *cascade.Controller
	events     domain.EventLogger
	handshakes domain.HandshakeStore
	dedup      *Dedup
	logger     *slog.Logger
}

// New creates a Coordinator. venues maps venue name to the execution
// interface of its family; events and handshakes may be nil.
func New(
	runID string,
	l *ledger.Ledger,
	updater ledger.Updater,
	venues map[string]domain.ExecutionInterface,
	c *cascade.Controller,
	events domain.EventLogger,
	handshakes domain.HandshakeStore,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		runID:      runID,
		ledger:     l,
		updater:    updater,
		venues:     venues,
		cascade:    c,
		events:     events,
		handshakes: handshakes,
		dedup:      NewDedup(2 * time.Minute),
		logger:     logger.With(slog.String("component", "executor")),
	}
}

// Execute processes a batch of orders submitted together. Sequential orders
// each get their own cascade before the next order is submitted; orders
// sharing an atomic group settle all-or-nothing with one deferred cascade.
// Ledger mutations and cascades happen in submission order. A non-nil error
// means the ledger itself failed (critical); ordinary order failures are
// reported in the Report.
func (c *Coordinator) Execute(ctx context.Context, orders []domain.Order, md domain.MarketSnapshot, ts time.Time) (Report, error) {
	var report Report
	processed := make(map[string]bool) // group ids already run

	for i := range orders {
		o := orders[i]
		if o.Mode == domain.ModeAtomic {
			if processed[o.GroupID] {
				continue
			}
			processed[o.GroupID] = true
			group := collectGroup(orders, o.GroupID)
			steps, cas, err := c.executeGroup(ctx, group, md, ts)
			report.Steps = append(report.Steps, steps...)
			if cas != nil {
				report.Cascades = append(report.Cascades, *cas)
			}
			if err != nil {
				return report, err
			}
			continue
		}

		step, cas, err := c.executeSequential(ctx, o, md, ts)
		report.Steps = append(report.Steps, step)
		if cas != nil {
			report.Cascades = append(report.Cascades, *cas)
		}
		if err != nil {
			return report, err
		}
	}
	return report, nil
}

// executeSequential submits one standalone order and, on confirmation,
// applies its deltas and runs the cascade immediately so the strategy sees
// up-to-date risk and P&L before the next order.
func (c *Coordinator) executeSequential(ctx context.Context, o domain.Order, md domain.MarketSnapshot, ts time.Time) (StepResult, *domain.CascadeResult, error) {
	log := c.logger.With(
		slog.String("operation_id", o.OperationID),
		slog.String("operation", string(o.Operation)),
		slog.String("venue", o.Venue),
	)

	if c.dedup.IsDuplicate(o.OperationID) {
		log.Debug("duplicate operation, skipping")
		return StepResult{Order: o, State: StepSkipped}, nil, nil
	}

	h := c.submit(ctx, o)
	if !h.Confirmed() {
		log.Warn("order failed",
			slog.String("error_code", h.ErrorCode),
			slog.String("error", h.ErrorMessage),
		)
		c.logHandshake(ctx, o, h)
		return StepResult{Order: o, Handshake: &h, State: StepSkipped}, nil, nil
	}

	c.checkDeltaMismatch(o, h)

	batch, err := c.updater.BatchFor(ctx, o, h)
	if err != nil {
		return StepResult{Order: o, Handshake: &h, State: StepSkipped}, nil,
			fmt.Errorf("executor: batch for %s: %w", o.OperationID, err)
	}
	if _, err := c.ledger.Apply(batch); err != nil {
		// Ledger apply failures are critical; the caller must stop.
		return StepResult{Order: o, Handshake: &h, State: StepSkipped}, nil,
			fmt.Errorf("executor: apply %s: %w", o.OperationID, err)
	}
	c.logHandshake(ctx, o, h)

	trigger := domain.CascadeTrigger{
		Reason: "order:" + o.OperationID,
		Fees:   c.feeValue(h, md),
	}
	cas, err := c.cascade.OnLedgerChange(ctx, trigger, ts, md)
	if err != nil {
		return StepResult{Order: o, Handshake: &h, State: StepApplied}, nil,
			fmt.Errorf("executor: cascade for %s: %w", o.OperationID, err)
	}
	log.Info("order settled", slog.String("status", string(h.Status)))
	return StepResult{Order: o, Handshake: &h, State: StepApplied}, &cas, nil
}

// submit routes the order to its venue's execution interface and normalizes
// transport errors into a FAILED handshake.
func (c *Coordinator) submit(ctx context.Context, o domain.Order) domain.ExecutionHandshake {
	now := time.Now().UTC()
	venue, ok := c.venues[o.Venue]
	if !ok {
		return domain.ExecutionHandshake{
			OperationID:  o.OperationID,
			Status:       domain.HandshakeFailed,
			ErrorCode:    "unknown_venue",
			ErrorMessage: fmt.Sprintf("no execution interface for venue %q", o.Venue),
			SubmittedAt:  now,
			ExecutedAt:   now,
		}
	}
	h, err := venue.Execute(ctx, o)
	if err != nil {
		return domain.ExecutionHandshake{
			OperationID:  o.OperationID,
			Status:       domain.HandshakeFailed,
			ErrorCode:    "execution_error",
			ErrorMessage: err.Error(),
			SubmittedAt:  now,
			ExecutedAt:   time.Now().UTC(),
		}
	}
	return h
}

// checkDeltaMismatch compares expected against actual deltas. Deviations
// beyond the relative tolerance are logged as warnings only; slippage and
// fees are expected to cause small differences.
func (c *Coordinator) checkDeltaMismatch(o domain.Order, h domain.ExecutionHandshake) {
	for key, expected := range o.ExpectedDeltas {
		actual := h.ActualDeltas[key]
		diff := actual.Sub(expected).Abs()
		tol := expected.Abs().Mul(decimal.NewFromFloat(relativeDeltaTolerance))
		if diff.GreaterThan(tol) {
			c.logger.Warn("expected/actual delta mismatch",
				slog.String("operation_id", o.OperationID),
				slog.String("instrument", key),
				slog.String("expected", expected.String()),
				slog.String("actual", actual.String()),
			)
		}
	}
}

// feeValue converts the handshake fee into the valuation currency using the
// market snapshot. An unpriceable fee currency is logged and treated as
// zero rather than blocking settlement.
func (c *Coordinator) feeValue(h domain.ExecutionHandshake, md domain.MarketSnapshot) float64 {
	if h.FeeAmount.IsZero() {
		return 0
	}
	price, ok := md.Price(h.FeeCurrency)
	if !ok {
		c.logger.Warn("fee currency not priceable, treating as zero",
			slog.String("operation_id", h.OperationID),
			slog.String("fee_currency", h.FeeCurrency),
		)
		return 0
	}
	return h.FeeAmount.InexactFloat64() * price
}

func (c *Coordinator) logHandshake(ctx context.Context, o domain.Order, h domain.ExecutionHandshake) {
	if c.handshakes != nil {
		if err := c.handshakes.Insert(ctx, c.runID, h); err != nil {
			c.logger.Warn("handshake persist failed",
				slog.String("operation_id", h.OperationID),
				slog.String("error", err.Error()),
			)
		}
	}
	if c.events == nil {
		return
	}
	c.events.Log(ctx, domain.Event{
		Timestamp: h.ExecutedAt,
		Type:      "handshake",
		Venue:     o.Venue,
		Token:     o.TokenIn,
		Data: map[string]any{
			"operation_id": h.OperationID,
			"operation":    string(o.Operation),
			"status":       string(h.Status),
			"error_code":   h.ErrorCode,
		},
	})
}

// collectGroup returns every order of the group in ascending sequence
// order, preserving all-or-nothing submission semantics.
func collectGroup(orders []domain.Order, groupID string) []domain.Order {
	var group []domain.Order
	for _, o := range orders {
		if o.Mode == domain.ModeAtomic && o.GroupID == groupID {
			group = append(group, o)
		}
	}
	for i := 1; i < len(group); i++ {
		for j := i; j > 0 && group[j].SeqInGroup < group[j-1].SeqInGroup; j-- {
			group[j], group[j-1] = group[j-1], group[j]
		}
	}
	return group
}
