package s3blob

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/whalecopybot/internal/domain"
)

type memWriter struct {
	puts map[string]string
}

func (m *memWriter) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if m.puts == nil {
		m.puts = make(map[string]string)
	}
	m.puts[path] = string(b)
	return nil
}

type memReader struct {
	existing map[string]bool
}

func (m *memReader) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	return nil, domain.ErrNotFound
}

func (m *memReader) List(ctx context.Context, prefix string) ([]domain.BlobInfo, error) {
	return nil, nil
}

func (m *memReader) Exists(ctx context.Context, path string) (bool, error) {
	return m.existing[path], nil
}

type memPositions struct {
	resolved []domain.Position
}

func (m *memPositions) ListResolved(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	return m.resolved, nil
}

type memAudit struct {
	entries []domain.AuditEntry
	logged  []string
}

func (m *memAudit) Log(ctx context.Context, event string, detail map[string]any) error {
	m.logged = append(m.logged, event)
	return nil
}

func (m *memAudit) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return m.entries, nil
}

func TestArchiveResolved(t *testing.T) {
	w := &memWriter{}
	audit := &memAudit{entries: []domain.AuditEntry{{ID: 1, Event: "trade_opened"}}}
	positions := &memPositions{resolved: []domain.Position{
		{ID: "p1", Status: domain.PositionStatusResolved},
		{ID: "p2", Status: domain.PositionStatusResolved},
	}}

	a := NewArchiver(w, &memReader{}, positions, audit)

	cutoff := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	n, err := a.ArchiveResolved(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("ArchiveResolved: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}

	posBody, ok := w.puts["archive/positions/2026-08-30.jsonl"]
	if !ok {
		t.Fatalf("positions archive missing, puts = %v", w.puts)
	}
	if lines := strings.Count(posBody, "\n"); lines != 2 {
		t.Errorf("positions jsonl lines = %d, want 2", lines)
	}
	if _, ok := w.puts["archive/audit/2026-08-30.jsonl"]; !ok {
		t.Error("audit archive missing")
	}
	if len(audit.logged) != 1 || audit.logged[0] != "archive.positions" {
		t.Errorf("audit log events = %v", audit.logged)
	}
}

func TestArchiveResolvedIdempotent(t *testing.T) {
	w := &memWriter{}
	r := &memReader{existing: map[string]bool{"archive/positions/2026-08-30.jsonl": true}}
	a := NewArchiver(w, r, &memPositions{resolved: []domain.Position{{ID: "p1"}}}, &memAudit{})

	n, err := a.ArchiveResolved(context.Background(), time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ArchiveResolved: %v", err)
	}
	if n != 0 || len(w.puts) != 0 {
		t.Errorf("existing archive should be skipped, n = %d, puts = %v", n, w.puts)
	}
}

func TestArchiveResolvedEmpty(t *testing.T) {
	w := &memWriter{}
	a := NewArchiver(w, &memReader{}, &memPositions{}, &memAudit{})

	n, err := a.ArchiveResolved(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("ArchiveResolved: %v", err)
	}
	if n != 0 || len(w.puts) != 0 {
		t.Errorf("nothing to archive should be a no-op, n = %d", n)
	}
}
