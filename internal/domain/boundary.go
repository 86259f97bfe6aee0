package domain

import (
	"context"
	"io"
	"time"

	"github.com/shopspring/decimal"
)

// ExecutionInterface submits one Order to a venue family and returns the
// recorded handshake. Implementations must be idempotent-safe per
// OperationID: a retried submission for the same id must not double-apply.
type ExecutionInterface interface {
	Execute(ctx context.Context, order Order) (ExecutionHandshake, error)
}

// BalanceSource exposes live venue balances for reconciliation and the live
// ledger updater. Keys of the returned map are token symbols.
type BalanceSource interface {
	LiveBalances(ctx context.Context, venue string) (map[string]decimal.Decimal, error)
}

// Event is one append-only event log entry.
type Event struct {
	Timestamp time.Time
	Type      string
	Venue     string
	Token     string
	Data      map[string]any
}

// EventLogger is an append-only sink for events. Calls are fire-and-forget
// from the cascade's perspective; implementations must not block on I/O.
type EventLogger interface {
	Log(ctx context.Context, ev Event)
}

// ResultKind tags payloads flowing through the ordered result queue.
type ResultKind string

const (
	ResultTimestep ResultKind = "timestep"
	ResultFinal    ResultKind = "final"
	ResultEventLog ResultKind = "event_log"
)

// ResultRecord is the persisted representation of one queue item. Seq is the
// enqueue sequence number; persisted order must be strictly increasing per
// run.
type ResultRecord struct {
	RunID     string
	Seq       uint64
	Kind      ResultKind
	Payload   any
	CreatedAt time.Time
}

// ResultStore persists queue items durably, preserving enqueue order.
type ResultStore interface {
	Insert(ctx context.Context, rec ResultRecord) error
	ListByRun(ctx context.Context, runID string, limit int) ([]ResultRecord, error)
}

// HandshakeStore persists execution handshakes.
type HandshakeStore interface {
	Insert(ctx context.Context, runID string, h ExecutionHandshake) error
	GetByOperationID(ctx context.Context, operationID string) (ExecutionHandshake, error)
}

// EventStore persists the append-only event log.
type EventStore interface {
	Append(ctx context.Context, runID string, ev Event) error
	ListRecent(ctx context.Context, runID string, limit int) ([]Event, error)
}

// MarketCache caches aligned market snapshots keyed by timestamp so reruns
// and parallel readers do not hit the upstream provider.
type MarketCache interface {
	Get(ctx context.Context, ts time.Time) (MarketSnapshot, error)
	Set(ctx context.Context, snap MarketSnapshot) error
}

// LockManager provides distributed locks; used to guarantee a single live
// trader instance per account.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// BlobWriter uploads an object to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver uploads the completed run artifacts (results, events) to cold
// storage once the engine finishes.
type Archiver interface {
	ArchiveRun(ctx context.Context, runID string) (string, error)
}

// CascadeTrigger describes the ledger change that triggered a cascade.
type CascadeTrigger struct {
	Reason string // e.g. "order:<id>", "group:<id>", "group_rollback:<id>"
	// Fees is the total transaction cost of the triggering change, already
	// converted to the valuation currency.
	Fees float64
}

// CascadeResult is the output of one state cascade: the three views
// recomputed in fixed order from the same timestamp. RiskErr/PnLErr mark
// degraded stages; the remaining views stay valid.
type CascadeResult struct {
	Trigger  CascadeTrigger
	Exposure ExposureSnapshot
	Risk     RiskAssessment
	PnL      PnLRecord
	RiskErr  string
	PnLErr   string
}
