// Package report turns periodic engine snapshots into operator-facing
// output: structured logs, audit rows, notifications, and a daily archive
// of resolved history to object storage.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/whalecopybot/internal/domain"
	"github.com/alanyoungcy/whalecopybot/internal/notify"
)

// Notification event types.
const (
	EventSnapshot  = "snapshot"
	EventRiskState = "risk_state"
)

// Reporter implements the pipeline's reporting hook. All sinks are
// best-effort: a failed notification or archive never disturbs the engine.
type Reporter struct {
	audit    domain.AuditStore
	notifier *notify.Notifier
	archiver domain.Archiver
	logger   *slog.Logger

	mu            sync.Mutex
	lastRiskState string
	lastArchived  string // UTC day of the last archive run, "2006-01-02"

	now func() time.Time
}

// New creates a reporter. notifier and archiver may be nil when those
// channels are not configured.
func New(audit domain.AuditStore, notifier *notify.Notifier, archiver domain.Archiver, logger *slog.Logger) *Reporter {
	return &Reporter{
		audit:    audit,
		notifier: notifier,
		archiver: archiver,
		logger:   logger.With("component", "reporter"),
		now:      time.Now,
	}
}

// Report handles one engine snapshot.
func (r *Reporter) Report(ctx context.Context, snap domain.Snapshot) {
	r.logger.Info("engine snapshot",
		"capital", snap.Capital,
		"roi", snap.ROI,
		"win_rate", snap.WinRate,
		"wins", snap.Wins,
		"losses", snap.Losses,
		"pending_exposure", snap.PendingExposure,
		"pending_count", snap.PendingCount,
		"risk_state", snap.RiskState)

	if r.audit != nil {
		detail := map[string]any{
			"capital":          snap.Capital,
			"starting_capital": snap.StartingCapital,
			"roi":              snap.ROI,
			"win_rate":         snap.WinRate,
			"wins":             snap.Wins,
			"losses":           snap.Losses,
			"win_streak":       snap.WinStreak,
			"loss_streak":      snap.LossStreak,
			"best_trade":       snap.BestTrade,
			"worst_trade":      snap.WorstTrade,
			"pending_exposure": snap.PendingExposure,
			"pending_count":    snap.PendingCount,
			"risk_state":       snap.RiskState,
		}
		if err := r.audit.Log(ctx, "engine_snapshot", detail); err != nil {
			r.logger.Warn("snapshot audit failed", "error", err)
		}
	}

	r.notifyRiskChange(ctx, snap)
	r.archiveDaily(ctx)
}

// notifyRiskChange sends an alert when the governor's state moves, and a
// routine snapshot message otherwise.
func (r *Reporter) notifyRiskChange(ctx context.Context, snap domain.Snapshot) {
	if r.notifier == nil {
		return
	}

	r.mu.Lock()
	changed := snap.RiskState != r.lastRiskState && r.lastRiskState != ""
	r.lastRiskState = snap.RiskState
	r.mu.Unlock()

	if changed {
		title := fmt.Sprintf("Risk state: %s", snap.RiskState)
		msg := fmt.Sprintf("Capital $%.2f (ROI %+.1f%%), %d pending ($%.2f exposed), streaks W%d/L%d",
			snap.Capital, snap.ROI*100, snap.PendingCount, snap.PendingExposure,
			snap.WinStreak, snap.LossStreak)
		if err := r.notifier.NotifyAll(ctx, title, msg); err != nil {
			r.logger.Warn("risk state notification failed", "error", err)
		}
		return
	}

	msg := fmt.Sprintf("Capital $%.2f | ROI %+.1f%% | WR %.0f%% (%dW/%dL) | pending %d/$%.2f",
		snap.Capital, snap.ROI*100, snap.WinRate*100, snap.Wins, snap.Losses,
		snap.PendingCount, snap.PendingExposure)
	if err := r.notifier.Notify(ctx, EventSnapshot, "Engine snapshot", msg); err != nil {
		r.logger.Warn("snapshot notification failed", "error", err)
	}
}

// archiveDaily runs the resolved-history archive at most once per UTC day.
func (r *Reporter) archiveDaily(ctx context.Context) {
	if r.archiver == nil {
		return
	}

	today := r.now().UTC().Format("2006-01-02")

	r.mu.Lock()
	if r.lastArchived == today {
		r.mu.Unlock()
		return
	}
	r.lastArchived = today
	r.mu.Unlock()

	midnight, err := time.Parse("2006-01-02", today)
	if err != nil {
		return
	}

	n, err := r.archiver.ArchiveResolved(ctx, midnight)
	if err != nil {
		r.logger.Warn("daily archive failed", "error", err)
		// Retry on the next report tick.
		r.mu.Lock()
		r.lastArchived = ""
		r.mu.Unlock()
		return
	}
	if n > 0 {
		r.logger.Info("archived resolved positions", "count", n, "before", today)
	}
}
