package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/loopbot/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL. The event log is
// append-only; nothing updates or deletes rows.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates an EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append writes one event. The data map is stored as JSONB.
func (s *EventStore) Append(ctx context.Context, runID string, ev domain.Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("postgres: marshal event data: %w", err)
	}

	const query = `
		INSERT INTO events (run_id, ts, event_type, venue, token, data)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := s.pool.Exec(ctx, query, runID, ev.Timestamp, ev.Type, ev.Venue, ev.Token, data); err != nil {
		return fmt.Errorf("postgres: append event %s: %w", ev.Type, err)
	}
	return nil
}

// ListRecent returns the run's newest events first.
func (s *EventStore) ListRecent(ctx context.Context, runID string, limit int) ([]domain.Event, error) {
	query := `SELECT ts, event_type, venue, token, data FROM events WHERE run_id = $1 ORDER BY ts DESC`
	args := []any{runID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events for %s: %w", runID, err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var ev domain.Event
		var data []byte
		if err := rows.Scan(&ev.Timestamp, &ev.Type, &ev.Venue, &ev.Token, &data); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		if data != nil {
			if err := json.Unmarshal(data, &ev.Data); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal event data: %w", err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events rows: %w", err)
	}
	return events, nil
}
