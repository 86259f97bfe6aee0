// Package venue provides simulated execution interfaces for backtests. Each
// simulator models one venue family: it accepts the family's operations,
// fills at the requested terms with a configurable fee, and records every
// handshake by operation id so retries are idempotent.
package venue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/loopbot/internal/domain"
)

// failure is an injected failure rule for tests and fault drills.
type failure struct {
	code    string
	message string
}

// Simulator is a deterministic in-process venue. Safe for concurrent use.
type Simulator struct {
	name    string
	ops     map[domain.OperationType]bool
	feeRate decimal.Decimal
	feeCcy  string

	mu       sync.Mutex
	recorded map[string]domain.ExecutionHandshake // operationID -> handshake
	failOps  map[domain.OperationType]failure
	failIDs  map[string]failure
}

func newSimulator(name string, feeRate float64, feeCcy string, ops ...domain.OperationType) *Simulator {
	allowed := make(map[domain.OperationType]bool, len(ops))
	for _, op := range ops {
		allowed[op] = true
	}
	return &Simulator{
		name:     name,
		ops:      allowed,
		feeRate:  decimal.NewFromFloat(feeRate),
		feeCcy:   feeCcy,
		recorded: make(map[string]domain.ExecutionHandshake),
		failOps:  make(map[domain.OperationType]failure),
		failIDs:  make(map[string]failure),
	}
}

// NewLending simulates a lending market: supply, borrow, repay, withdraw and
// the flash-loan pair.
func NewLending(name string, feeRate float64, feeCcy string) *Simulator {
	return newSimulator(name, feeRate, feeCcy,
		domain.OpSupply, domain.OpBorrow, domain.OpRepay, domain.OpWithdraw,
		domain.OpFlashBorrow, domain.OpFlashRepay, domain.OpSwap)
}

// NewStaking simulates a liquid staking venue.
func NewStaking(name string, feeRate float64, feeCcy string) *Simulator {
	return newSimulator(name, feeRate, feeCcy, domain.OpStake, domain.OpUnstake, domain.OpSwap)
}

// NewPerp simulates a derivatives venue.
func NewPerp(name string, feeRate float64, feeCcy string) *Simulator {
	return newSimulator(name, feeRate, feeCcy, domain.OpPerpTrade, domain.OpSpotTrade)
}

// NewTransfer simulates cross-venue transfers.
func NewTransfer(name string, feeRate float64, feeCcy string) *Simulator {
	return newSimulator(name, feeRate, feeCcy, domain.OpTransfer)
}

// FailOperation makes every future submission of the given operation type
// fail with the code until cleared by ClearFailures.
func (s *Simulator) FailOperation(op domain.OperationType, code, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOps[op] = failure{code: code, message: message}
}

// FailOperationID makes one specific operation id fail.
func (s *Simulator) FailOperationID(operationID, code, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failIDs[operationID] = failure{code: code, message: message}
}

// ClearFailures removes all injected failure rules.
func (s *Simulator) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOps = make(map[domain.OperationType]failure)
	s.failIDs = make(map[string]failure)
}

// Execute fills the order. A repeated operation id returns the previously
// recorded handshake unchanged, never a second fill.
func (s *Simulator) Execute(_ context.Context, order domain.Order) (domain.ExecutionHandshake, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.recorded[order.OperationID]; ok {
		return h, nil
	}

	now := time.Now().UTC()
	h := domain.ExecutionHandshake{
		OperationID: order.OperationID,
		SubmittedAt: now,
		ExecutedAt:  now,
	}

	if f, ok := s.failIDs[order.OperationID]; ok {
		h.Status = domain.HandshakeFailed
		h.ErrorCode = f.code
		h.ErrorMessage = f.message
	} else if f, ok := s.failOps[order.Operation]; ok {
		h.Status = domain.HandshakeFailed
		h.ErrorCode = f.code
		h.ErrorMessage = f.message
	} else if !s.ops[order.Operation] {
		h.Status = domain.HandshakeFailed
		h.ErrorCode = "unsupported_operation"
		h.ErrorMessage = fmt.Sprintf("venue %s does not support %s", s.name, order.Operation)
	} else {
		h.Status = domain.HandshakeConfirmed
		h.ActualDeltas = make(map[string]decimal.Decimal, len(order.ExpectedDeltas))
		for key, delta := range order.ExpectedDeltas {
			h.ActualDeltas[key] = delta
		}
		h.FeeAmount = order.Amount.Mul(s.feeRate)
		h.FeeCurrency = s.feeCcy
	}

	s.recorded[order.OperationID] = h
	return h, nil
}

// Recorded returns the handshake previously recorded for the operation id.
func (s *Simulator) Recorded(operationID string) (domain.ExecutionHandshake, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.recorded[operationID]
	return h, ok
}
