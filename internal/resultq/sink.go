package resultq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/alanyoungcy/loopbot/internal/domain"
)

// MultiSink fans one record out to every child sink. Each child's error is
// handled independently; the first error is returned for logging but later
// sinks still run.
type MultiSink []Sink

func (m MultiSink) Handle(ctx context.Context, rec domain.ResultRecord) error {
	var first error
	for _, s := range m {
		if err := s.Handle(ctx, rec); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// StoreSink persists records through a durable ResultStore.
type StoreSink struct {
	store domain.ResultStore
}

func NewStoreSink(store domain.ResultStore) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Handle(ctx context.Context, rec domain.ResultRecord) error {
	return s.store.Insert(ctx, rec)
}

// FileSink appends records as JSON lines to a local file, one line per
// record. Used by backtest runs that have no database configured.
type FileSink struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("resultq: open %s: %w", path, err)
	}
	return &FileSink{f: f, enc: json.NewEncoder(f)}, nil
}

func (s *FileSink) Handle(_ context.Context, rec domain.ResultRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(rec)
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// ArchiveSink triggers cold-storage archival when the final record of a run
// arrives. Non-final records pass through untouched.
type ArchiveSink struct {
	archiver domain.Archiver
	logger   *slog.Logger
}

func NewArchiveSink(archiver domain.Archiver, logger *slog.Logger) *ArchiveSink {
	return &ArchiveSink{
		archiver: archiver,
		logger:   logger.With(slog.String("component", "archive_sink")),
	}
}

func (s *ArchiveSink) Handle(ctx context.Context, rec domain.ResultRecord) error {
	if rec.Kind != domain.ResultFinal {
		return nil
	}
	location, err := s.archiver.ArchiveRun(ctx, rec.RunID)
	if err != nil {
		return fmt.Errorf("resultq: archive run %s: %w", rec.RunID, err)
	}
	s.logger.Info("run archived", slog.String("run_id", rec.RunID), slog.String("location", location))
	return nil
}
