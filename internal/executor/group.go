package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/loopbot/internal/domain"
)

// executeGroup runs one atomic group to its terminal state. The ledger is
// mutated incrementally as each step confirms, so later steps observe
// earlier effects (a stake step needs the flash-borrowed balance from step
// one), but the state cascade is deferred until the whole group settles or
// rolls back; no exposure/risk/P&L recomputation is visible mid-group.
func (c *Coordinator) executeGroup(ctx context.Context, group []domain.Order, md domain.MarketSnapshot, ts time.Time) ([]StepResult, *domain.CascadeResult, error) {
	if err := domain.ValidateGroup(group); err != nil {
		return nil, nil, fmt.Errorf("executor: %w", err)
	}
	groupID := group[0].GroupID
	log := c.logger.With(slog.String("group_id", groupID), slog.Int("steps", len(group)))
	log.Info("atomic group started")

	steps := make([]StepResult, len(group))
	for i := range group {
		steps[i] = StepResult{Order: group[i], State: StepSkipped, GroupID: groupID}
	}

	// Batches applied so far, kept for reversal on failure.
	applied := make([]domain.ChangeBatch, 0, len(group))
	totalFees := 0.0
	failedAt := -1

	for i, o := range group {
		h := c.submit(ctx, o)
		steps[i].Handshake = &h
		c.logHandshake(ctx, o, h)

		if !h.Confirmed() {
			log.Warn("atomic step failed, rolling back group",
				slog.Int("sequence", o.SeqInGroup),
				slog.String("operation_id", o.OperationID),
				slog.String("error_code", h.ErrorCode),
			)
			failedAt = i
			break
		}
		c.checkDeltaMismatch(o, h)

		batch, err := c.updater.BatchFor(ctx, o, h)
		if err != nil {
			// A mid-group updater failure still may not leave earlier steps
			// applied: restore the ledger before the error propagates.
			if revErr := c.rollbackApplied(applied, steps); revErr != nil {
				return steps, nil, fmt.Errorf("executor: group %s rollback after batch error: %w",
					groupID, errors.Join(err, revErr))
			}
			return steps, nil, fmt.Errorf("executor: group %s batch for %s: %w", groupID, o.OperationID, err)
		}
		if _, err := c.ledger.Apply(batch); err != nil {
			// Apply failures poison the ledger; reversal cannot succeed.
			return steps, nil, fmt.Errorf("executor: group %s apply %s: %w", groupID, o.OperationID, err)
		}
		applied = append(applied, batch)
		steps[i].State = StepApplied
		totalFees += c.feeValue(h, md)
	}

	if failedAt >= 0 {
		if err := c.rollbackApplied(applied, steps); err != nil {
			return steps, nil, fmt.Errorf("executor: group %s rollback: %w", groupID, err)
		}

		// The group reverted; venue fees revert with it, so the cascade
		// carries no transaction costs.
		trigger := domain.CascadeTrigger{Reason: "group_rollback:" + groupID}
		cas, err := c.cascade.OnLedgerChange(ctx, trigger, ts, md)
		if err != nil {
			return steps, nil, fmt.Errorf("executor: group %s cascade: %w", groupID, err)
		}
		log.Warn("atomic group rolled back", slog.Int("failed_sequence", group[failedAt].SeqInGroup))
		return steps, &cas, nil
	}

	for i := range steps {
		steps[i].Group = GroupSettled
	}
	trigger := domain.CascadeTrigger{Reason: "group:" + groupID, Fees: totalFees}
	cas, err := c.cascade.OnLedgerChange(ctx, trigger, ts, md)
	if err != nil {
		return steps, nil, fmt.Errorf("executor: group %s cascade: %w", groupID, err)
	}
	log.Info("atomic group settled", slog.Time("settled_at", time.Now().UTC()))
	return steps, &cas, nil
}

// rollbackApplied reverses every applied delta, newest first, so the ledger
// returns to its pre-group state, and marks all steps as a rolled-back
// group. Applied steps become rolled back; untouched steps keep skipped.
func (c *Coordinator) rollbackApplied(applied []domain.ChangeBatch, steps []StepResult) error {
	for i := len(applied) - 1; i >= 0; i-- {
		if _, err := c.ledger.Apply(reverseBatch(applied[i])); err != nil {
			return err
		}
		steps[i].State = StepRolledBack
	}
	for i := range steps {
		steps[i].Group = GroupRolledBack
	}
	return nil
}

// reverseBatch builds the inverse of a previously applied batch: balance
// deltas are negated and derivative actions are inverted.
func reverseBatch(batch domain.ChangeBatch) domain.ChangeBatch {
	var rev domain.ChangeBatch
	for _, bc := range batch.Balances {
		rev.Balances = append(rev.Balances, domain.BalanceChange{
			Venue:  bc.Venue,
			Token:  bc.Token,
			Delta:  bc.Delta.Neg(),
			Reason: "rollback:" + bc.Reason,
		})
	}
	for _, dc := range batch.Derivatives {
		inv := domain.DerivativeChange{
			Venue:      dc.Venue,
			Instrument: dc.Instrument,
			Payload:    dc.Payload,
		}
		switch dc.Action {
		case domain.DerivativeOpen:
			inv.Action = domain.DerivativeClose
		case domain.DerivativeClose:
			inv.Action = domain.DerivativeOpen
		case domain.DerivativeAdjust:
			inv.Action = domain.DerivativeAdjust
			inv.Payload.Size = dc.Payload.Size.Neg()
		}
		rev.Derivatives = append(rev.Derivatives, inv)
	}
	return rev
}
