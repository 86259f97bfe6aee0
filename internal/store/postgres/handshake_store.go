package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/loopbot/internal/domain"
)

// HandshakeStore implements domain.HandshakeStore using PostgreSQL.
type HandshakeStore struct {
	pool *pgxpool.Pool
}

// NewHandshakeStore creates a HandshakeStore backed by the given pool.
func NewHandshakeStore(pool *pgxpool.Pool) *HandshakeStore {
	return &HandshakeStore{pool: pool}
}

// Insert persists one handshake. Re-inserting the same operation id is a
// no-op; handshakes are immutable once recorded.
func (s *HandshakeStore) Insert(ctx context.Context, runID string, h domain.ExecutionHandshake) error {
	deltas, err := json.Marshal(h.ActualDeltas)
	if err != nil {
		return fmt.Errorf("postgres: marshal actual deltas: %w", err)
	}

	const query = `
		INSERT INTO handshakes (
			operation_id, run_id, status, actual_deltas, fee_amount, fee_currency,
			error_code, error_message, submitted_at, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (operation_id) DO NOTHING`
	_, err = s.pool.Exec(ctx, query,
		h.OperationID, runID, string(h.Status), deltas, h.FeeAmount, h.FeeCurrency,
		h.ErrorCode, h.ErrorMessage, h.SubmittedAt, h.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert handshake %s: %w", h.OperationID, err)
	}
	return nil
}

// GetByOperationID fetches a recorded handshake, ErrNotFound when absent.
func (s *HandshakeStore) GetByOperationID(ctx context.Context, operationID string) (domain.ExecutionHandshake, error) {
	const query = `
		SELECT operation_id, status, actual_deltas, fee_amount, fee_currency,
		       error_code, error_message, submitted_at, executed_at
		FROM handshakes WHERE operation_id = $1`

	var h domain.ExecutionHandshake
	var status string
	var deltas []byte
	err := s.pool.QueryRow(ctx, query, operationID).Scan(
		&h.OperationID, &status, &deltas, &h.FeeAmount, &h.FeeCurrency,
		&h.ErrorCode, &h.ErrorMessage, &h.SubmittedAt, &h.ExecutedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ExecutionHandshake{}, fmt.Errorf("postgres: handshake %s: %w", operationID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.ExecutionHandshake{}, fmt.Errorf("postgres: get handshake %s: %w", operationID, err)
	}

	h.Status = domain.HandshakeStatus(status)
	if deltas != nil {
		h.ActualDeltas = make(map[string]decimal.Decimal)
		if err := json.Unmarshal(deltas, &h.ActualDeltas); err != nil {
			return domain.ExecutionHandshake{}, fmt.Errorf("postgres: unmarshal actual deltas: %w", err)
		}
	}
	return h, nil
}
