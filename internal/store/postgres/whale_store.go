package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/whalecopybot/internal/domain"
)

// WhaleStatsStore implements domain.WhaleStatsStore using PostgreSQL.
type WhaleStatsStore struct {
	pool *pgxpool.Pool
}

// NewWhaleStatsStore creates a new WhaleStatsStore backed by the given pool.
func NewWhaleStatsStore(pool *pgxpool.Pool) *WhaleStatsStore {
	return &WhaleStatsStore{pool: pool}
}

// Upsert writes the running aggregate for one (address, timeframe) pair.
func (s *WhaleStatsStore) Upsert(ctx context.Context, stats domain.WhaleIncrementalStats) error {
	const query = `
		INSERT INTO whale_stats (address, timeframe, trades, wins, losses, net_pnl, volume, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (address, timeframe) DO UPDATE SET
			trades     = EXCLUDED.trades,
			wins       = EXCLUDED.wins,
			losses     = EXCLUDED.losses,
			net_pnl    = EXCLUDED.net_pnl,
			volume     = EXCLUDED.volume,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		stats.Address, string(stats.Timeframe),
		stats.Trades, stats.Wins, stats.Losses, stats.NetPnL, stats.Volume,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert whale stats %s/%s: %w", stats.Address, stats.Timeframe, err)
	}
	return nil
}

// List returns every whale aggregate.
func (s *WhaleStatsStore) List(ctx context.Context) ([]domain.WhaleIncrementalStats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT address, timeframe, trades, wins, losses, net_pnl, volume FROM whale_stats`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list whale stats: %w", err)
	}
	defer rows.Close()

	var out []domain.WhaleIncrementalStats
	for rows.Next() {
		var st domain.WhaleIncrementalStats
		var timeframe string
		if err := rows.Scan(&st.Address, &timeframe, &st.Trades, &st.Wins, &st.Losses, &st.NetPnL, &st.Volume); err != nil {
			return nil, fmt.Errorf("postgres: scan whale stats: %w", err)
		}
		st.Timeframe = domain.Timeframe(timeframe)
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list whale stats rows: %w", err)
	}
	return out, nil
}

// TierStore implements domain.TierStore using PostgreSQL.
type TierStore struct {
	pool *pgxpool.Pool
}

// NewTierStore creates a new TierStore backed by the given pool.
func NewTierStore(pool *pgxpool.Pool) *TierStore {
	return &TierStore{pool: pool}
}

// UpsertWhale overwrites the roster row for a whale with a fresh snapshot.
func (s *TierStore) UpsertWhale(ctx context.Context, w domain.WhaleTierProfile) error {
	const query = `
		INSERT INTO tier_whales (address, timeframe, trade_count, wins, losses, volume, profit, win_rate, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (address) DO UPDATE SET
			timeframe   = EXCLUDED.timeframe,
			trade_count = EXCLUDED.trade_count,
			wins        = EXCLUDED.wins,
			losses      = EXCLUDED.losses,
			volume      = EXCLUDED.volume,
			profit      = EXCLUDED.profit,
			win_rate    = EXCLUDED.win_rate,
			updated_at  = NOW()`

	_, err := s.pool.Exec(ctx, query,
		w.Address, string(w.Timeframe),
		w.TradeCount, w.Wins, w.Losses, w.Volume, w.Profit, w.WinRate,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert tier whale %s: %w", w.Address, err)
	}
	return nil
}

// ListWhales returns the full tier roster.
func (s *TierStore) ListWhales(ctx context.Context) ([]domain.WhaleTierProfile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT address, timeframe, trade_count, wins, losses, volume, profit, win_rate FROM tier_whales`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tier whales: %w", err)
	}
	defer rows.Close()

	var out []domain.WhaleTierProfile
	for rows.Next() {
		var w domain.WhaleTierProfile
		var timeframe string
		if err := rows.Scan(&w.Address, &timeframe, &w.TradeCount, &w.Wins, &w.Losses, &w.Volume, &w.Profit, &w.WinRate); err != nil {
			return nil, fmt.Errorf("postgres: scan tier whale: %w", err)
		}
		w.Timeframe = domain.Timeframe(timeframe)
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list tier whales rows: %w", err)
	}
	return out, nil
}

// Compile-time interface checks.
var (
	_ domain.WhaleStatsStore = (*WhaleStatsStore)(nil)
	_ domain.TierStore       = (*TierStore)(nil)
	_ domain.PositionStore   = (*PositionStore)(nil)
	_ domain.AuditStore      = (*AuditStore)(nil)
)
