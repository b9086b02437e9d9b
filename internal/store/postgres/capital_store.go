package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/whalecopybot/internal/domain"
)

// CapitalStore implements domain.CapitalStore using PostgreSQL. The pool is
// a single row; every save overwrites it.
type CapitalStore struct {
	pool *pgxpool.Pool
}

// NewCapitalStore creates a new CapitalStore backed by the given pool.
func NewCapitalStore(pool *pgxpool.Pool) *CapitalStore {
	return &CapitalStore{pool: pool}
}

// Save persists the capital state.
func (s *CapitalStore) Save(ctx context.Context, state domain.CapitalState) error {
	const query = `
		INSERT INTO capital_state (id, starting, current, peak, win_streak, loss_streak, best_trade, worst_trade, wins, losses, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (id) DO UPDATE SET
			starting    = EXCLUDED.starting,
			current     = EXCLUDED.current,
			peak        = EXCLUDED.peak,
			win_streak  = EXCLUDED.win_streak,
			loss_streak = EXCLUDED.loss_streak,
			best_trade  = EXCLUDED.best_trade,
			worst_trade = EXCLUDED.worst_trade,
			wins        = EXCLUDED.wins,
			losses      = EXCLUDED.losses,
			updated_at  = NOW()`

	_, err := s.pool.Exec(ctx, query,
		state.Starting, state.Current, state.Peak,
		state.WinStreak, state.LossStreak,
		state.BestTrade, state.WorstTrade,
		state.Wins, state.Losses,
	)
	if err != nil {
		return fmt.Errorf("postgres: save capital state: %w", err)
	}
	return nil
}

// Load returns the persisted capital state, or ErrNotFound when the engine
// has never run.
func (s *CapitalStore) Load(ctx context.Context) (domain.CapitalState, error) {
	var state domain.CapitalState
	err := s.pool.QueryRow(ctx,
		`SELECT starting, current, peak, win_streak, loss_streak, best_trade, worst_trade, wins, losses
		 FROM capital_state WHERE id = 1`,
	).Scan(
		&state.Starting, &state.Current, &state.Peak,
		&state.WinStreak, &state.LossStreak,
		&state.BestTrade, &state.WorstTrade,
		&state.Wins, &state.Losses,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CapitalState{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.CapitalState{}, fmt.Errorf("postgres: load capital state: %w", err)
	}
	return state, nil
}

// Compile-time interface check.
var _ domain.CapitalStore = (*CapitalStore)(nil)
