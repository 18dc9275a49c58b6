package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/obligo/bondengine/internal/domain"
)

// Archiver moves aged journal events to object storage. Events older
// than the cutoff are serialized to JSONL, uploaded under
// archive/bond_events/YYYY-MM.jsonl, and then pruned from the journal.
// Pruning happens only after the upload succeeds.
type Archiver struct {
	writer  domain.BlobWriter
	journal domain.EventJournal
	logger  *slog.Logger
}

// NewArchiver creates a new Archiver.
func NewArchiver(writer domain.BlobWriter, journal domain.EventJournal, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		writer:  writer,
		journal: journal,
		logger:  logger.With(slog.String("component", "archiver")),
	}
}

// Archive uploads and prunes all events recorded before the cutoff,
// returning the number archived.
func (a *Archiver) Archive(ctx context.Context, before time.Time) (int64, error) {
	events, err := a.journal.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive marshal: %w", err)
	}

	path := archivePath(before)
	if err := a.writer.Put(ctx, path, buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive upload: %w", err)
	}

	pruned, err := a.journal.DeleteBefore(ctx, before)
	if err != nil {
		return int64(len(events)), fmt.Errorf("s3blob: archive prune: %w", err)
	}

	a.logger.InfoContext(ctx, "journal archived",
		slog.String("path", path),
		slog.Int("events", len(events)),
		slog.Int64("pruned", pruned),
	)
	return int64(len(events)), nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
func archivePath(before time.Time) string {
	return fmt.Sprintf("archive/bond_events/%s.jsonl", before.Format("2006-01"))
}

// marshalJSONL serialises events as newline-delimited JSON.
func marshalJSONL(events []domain.Event) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return nil, fmt.Errorf("jsonl encode event %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
