package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/loopbot/internal/domain"
)

// ResultStore implements domain.ResultStore using PostgreSQL. Enqueue order
// is preserved by the (run_id, seq) unique pair assigned by the queue.
type ResultStore struct {
	pool *pgxpool.Pool
}

// NewResultStore creates a ResultStore backed by the given connection pool.
func NewResultStore(pool *pgxpool.Pool) *ResultStore {
	return &ResultStore{pool: pool}
}

// Insert persists one queue record. The payload is stored as JSONB.
func (s *ResultStore) Insert(ctx context.Context, rec domain.ResultRecord) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("postgres: marshal result payload: %w", err)
	}

	const query = `
		INSERT INTO run_results (run_id, seq, kind, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id, seq) DO NOTHING`
	if _, err := s.pool.Exec(ctx, query, rec.RunID, rec.Seq, string(rec.Kind), payload, rec.CreatedAt); err != nil {
		return fmt.Errorf("postgres: insert result %s/%d: %w", rec.RunID, rec.Seq, err)
	}
	return nil
}

// ListByRun returns the run's records in ascending sequence order.
func (s *ResultStore) ListByRun(ctx context.Context, runID string, limit int) ([]domain.ResultRecord, error) {
	query := `SELECT run_id, seq, kind, payload, created_at FROM run_results WHERE run_id = $1 ORDER BY seq ASC`
	args := []any{runID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list results for %s: %w", runID, err)
	}
	defer rows.Close()

	var records []domain.ResultRecord
	for rows.Next() {
		var rec domain.ResultRecord
		var kind string
		var payload []byte
		if err := rows.Scan(&rec.RunID, &rec.Seq, &kind, &payload, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan result: %w", err)
		}
		rec.Kind = domain.ResultKind(kind)
		if payload != nil {
			var decoded any
			if err := json.Unmarshal(payload, &decoded); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal result payload: %w", err)
			}
			rec.Payload = decoded
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list results rows: %w", err)
	}
	return records, nil
}
