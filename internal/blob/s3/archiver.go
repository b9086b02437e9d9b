package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alanyoungcy/whalecopybot/internal/domain"
)

// ResolvedLister provides read access to settled positions for archival.
// The Postgres PositionStore satisfies it through ListResolved.
type ResolvedLister interface {
	ListResolved(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error)
}

// ArchiveImpl implements domain.Archiver by querying resolved positions and
// recent audit rows, serializing them to JSONL, and uploading to S3.
//
// Deletion of the archived records from the primary store is intentionally
// NOT performed here -- that is a separate, explicit step to be executed
// after the archive has been verified.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	reader    domain.BlobReader
	positions ResolvedLister
	audit     domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl. reader may be nil; when present it
// makes the daily archive idempotent by skipping keys that already exist.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, positions ResolvedLister, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		reader:    reader,
		positions: positions,
		audit:     audit,
	}
}

// ArchiveResolved uploads all positions resolved before the cutoff to
// archive/positions/YYYY-MM-DD.jsonl, plus the audit rows from the same
// window to archive/audit/YYYY-MM-DD.jsonl. The archival event is recorded
// in the audit log and the count of archived positions is returned.
func (a *ArchiveImpl) ArchiveResolved(ctx context.Context, before time.Time) (int64, error) {
	path := archivePath("positions", before)
	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive existence check: %w", err)
		}
		if exists {
			return 0, nil
		}
	}

	positions, err := a.positions.ListResolved(ctx, domain.ListOpts{Until: &before})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions query: %w", err)
	}
	if len(positions) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(positions)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions marshal: %w", err)
	}

	if err := a.upload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive positions upload: %w", err)
	}

	count := int64(len(positions))

	if err := a.archiveAudit(ctx, before); err != nil {
		// The position archive already landed; surface the partial failure.
		return count, err
	}

	if err := a.audit.Log(ctx, "archive.positions", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive audit log: %w", err)
	}

	return count, nil
}

// archiveAudit uploads the audit rows before the cutoff. The audit log is
// where risk snapshots and decision records live, so this is the risk
// history archive as well.
func (a *ArchiveImpl) archiveAudit(ctx context.Context, before time.Time) error {
	entries, err := a.audit.List(ctx, domain.ListOpts{Until: &before})
	if err != nil {
		return fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := archivePath("audit", before)
	if err := a.upload(ctx, path, buf); err != nil {
		return fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	return nil
}

// upload writes a JSONL payload, switching to a multipart upload once the
// payload crosses the S3 minimum part size.
func (a *ArchiveImpl) upload(ctx context.Context, path string, buf []byte) error {
	type multipartWriter interface {
		PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
	}
	if mw, ok := a.writer.(multipartWriter); ok && int64(len(buf)) >= minPartSize {
		return mw.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
}

// archivePath builds the S3 key for an archive file, partitioned by the
// UTC day of the cutoff time.
//
//	archive/positions/2026-08-30.jsonl
//	archive/audit/2026-08-30.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01-02"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
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

var _ domain.Archiver = (*ArchiveImpl)(nil)
