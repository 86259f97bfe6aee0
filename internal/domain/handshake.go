package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// HandshakeStatus is the terminal status of one execution attempt.
type HandshakeStatus string

const (
	HandshakeConfirmed HandshakeStatus = "CONFIRMED"
	HandshakeFailed    HandshakeStatus = "FAILED"
)

// ExecutionHandshake records the outcome of attempting one Order against a
// venue. It is created by the coordinator from the execution interface's
// response and never mutated afterwards.
type ExecutionHandshake struct {
	OperationID  string
	Status       HandshakeStatus
	ActualDeltas map[string]decimal.Decimal // instrument key -> signed native change
	FeeAmount    decimal.Decimal
	FeeCurrency  string
	ErrorCode    string
	ErrorMessage string
	SubmittedAt  time.Time
	ExecutedAt   time.Time
}

// Confirmed reports whether the handshake ended in CONFIRMED state.
func (h ExecutionHandshake) Confirmed() bool {
	return h.Status == HandshakeConfirmed
}
