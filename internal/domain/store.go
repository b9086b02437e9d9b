package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists positions. MarkResolved must be guarded so a
// position transitions PENDING to RESOLVED exactly once; a second call for
// the same id returns ErrAlreadyResolved.
type PositionStore interface {
	Upsert(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListPending(ctx context.Context, due time.Time) ([]Position, error)
	MarkResolved(ctx context.Context, id string, upd ResolvedUpdate) error
	ListResolved(ctx context.Context, opts ListOpts) ([]Position, error)
	PendingExposure(ctx context.Context) (float64, error)
}

// WhaleStatsStore persists the incremental whale quality aggregates.
type WhaleStatsStore interface {
	Upsert(ctx context.Context, stats WhaleIncrementalStats) error
	List(ctx context.Context) ([]WhaleIncrementalStats, error)
}

// TierStore persists the authoritative tier roster.
type TierStore interface {
	UpsertWhale(ctx context.Context, profile WhaleTierProfile) error
	ListWhales(ctx context.Context) ([]WhaleTierProfile, error)
}

// CapitalStore persists the capital pool so a restart resumes from the last
// resolved state rather than the configured starting value.
type CapitalStore interface {
	Save(ctx context.Context, state CapitalState) error
	Load(ctx context.Context) (CapitalState, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only decision and resolution log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
