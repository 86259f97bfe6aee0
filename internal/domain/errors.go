package domain

import (
	"errors"
	"fmt"
)

// Severity classifies how an error affects the running process.
type Severity string

const (
	// SeverityCritical marks startup/configuration defects. The process must
	// not start (or must stop) when one is raised.
	SeverityCritical Severity = "critical"
	// SeverityHigh marks execution or data failures that abort the current
	// operation but not the process.
	SeverityHigh Severity = "high"
	// SeverityMedium marks recoverable data issues that are logged and
	// degrade the result without interrupting the timestep loop.
	SeverityMedium Severity = "medium"
	// SeverityLow marks informational conditions.
	SeverityLow Severity = "low"
)

// Error carries the (code, component, severity) triple used across the core.
// It wraps an underlying cause when one exists.
type Error struct {
	Code      string
	Component string
	Severity  Severity
	Err       error
}

// E builds an *Error. The cause may be nil when the code is self-describing.
func E(code, component string, sev Severity, cause error) *Error {
	return &Error{Code: code, Component: component, Severity: sev, Err: cause}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%s): %v", e.Component, e.Code, e.Severity, e.Err)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Component, e.Code, e.Severity)
}

func (e *Error) Unwrap() error { return e.Err }

// SeverityOf extracts the severity from err, defaulting to high for untagged
// errors so that unknown failures are never silently downgraded.
func SeverityOf(err error) Severity {
	var de *Error
	if errors.As(err, &de) {
		return de.Severity
	}
	return SeverityHigh
}

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInvalidOrder      = errors.New("invalid order parameters")
	ErrLedgerPoisoned    = errors.New("ledger poisoned by failed batch apply")
	ErrNoMarketData      = errors.New("no market data for timestamp")
	ErrFundingSource     = errors.New("funding rate source unavailable")
	ErrUnknownVenue      = errors.New("unknown venue")
	ErrGroupRolledBack   = errors.New("atomic group rolled back")
	ErrLockHeld          = errors.New("lock already held")
	ErrContextDone       = errors.New("context cancelled")
	ErrQueueClosed       = errors.New("result queue closed")
	ErrMissingConfigKeys = errors.New("missing required configuration keys")
)

// BalanceDriftError reports ledger balances that deviate from live venue
// balances beyond the reconciliation threshold. It is medium severity by
// contract: drift is reported, never auto-corrected.
type BalanceDriftError struct {
	Drifts map[string]float64 // instrument key -> absolute difference
}

func (e *BalanceDriftError) Error() string {
	return fmt.Sprintf("balance drift on %d instrument(s) exceeds threshold", len(e.Drifts))
}
