package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/loopbot/internal/domain"
)

// RunArchiver implements domain.Archiver by exporting a finished run's
// results and event log from the durable stores as JSONL objects under
// archive/runs/{run_id}/.
//
// Deletion of archived rows from the primary store is intentionally NOT
// performed here; that is a separate, explicit step to be executed after the
// archive has been verified.
type RunArchiver struct {
	writer  domain.BlobWriter
	results domain.ResultStore
	events  domain.EventStore
}

// NewRunArchiver creates a RunArchiver. events may be nil when no event
// store is configured; only results are archived then.
func NewRunArchiver(writer domain.BlobWriter, results domain.ResultStore, events domain.EventStore) *RunArchiver {
	return &RunArchiver{writer: writer, results: results, events: events}
}

// ArchiveRun uploads the run's results and events and returns the archive
// prefix. An empty run archives nothing and still succeeds.
func (a *RunArchiver) ArchiveRun(ctx context.Context, runID string) (string, error) {
	prefix := "archive/runs/" + runID

	records, err := a.results.ListByRun(ctx, runID, 0)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive run %s results query: %w", runID, err)
	}
	if len(records) > 0 {
		buf, err := marshalJSONL(records)
		if err != nil {
			return "", fmt.Errorf("s3blob: archive run %s results marshal: %w", runID, err)
		}
		if err := a.writer.Put(ctx, prefix+"/results.jsonl", bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return "", fmt.Errorf("s3blob: archive run %s results upload: %w", runID, err)
		}
	}

	if a.events != nil {
		events, err := a.events.ListRecent(ctx, runID, 0)
		if err != nil {
			return "", fmt.Errorf("s3blob: archive run %s events query: %w", runID, err)
		}
		if len(events) > 0 {
			buf, err := marshalJSONL(events)
			if err != nil {
				return "", fmt.Errorf("s3blob: archive run %s events marshal: %w", runID, err)
			}
			if err := a.writer.Put(ctx, prefix+"/events.jsonl", bytes.NewReader(buf), "application/x-ndjson"); err != nil {
				return "", fmt.Errorf("s3blob: archive run %s events upload: %w", runID, err)
			}
		}
	}

	manifest := map[string]any{
		"run_id":      runID,
		"archived_at": time.Now().UTC().Format(time.RFC3339),
		"results":     len(records),
	}
	buf, err := json.Marshal(manifest)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive run %s manifest marshal: %w", runID, err)
	}
	if err := a.writer.Put(ctx, prefix+"/manifest.json", bytes.NewReader(buf), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive run %s manifest upload: %w", runID, err)
	}

	return prefix, nil
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*RunArchiver)(nil)
