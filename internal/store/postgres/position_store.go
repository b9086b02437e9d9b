package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/whalecopybot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, order_id, whale, market_id, token_id,
	timeframe, tier, side, size, quantity, entry_price, confidence,
	whale_rate, mode, opened_at, expected_resolution,
	status, outcome, market_outcome, pnl, resolution_source, resolved_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var timeframe, tierTF, side, mode, status string
	var outcome, marketOutcome, source *string

	err := row.Scan(
		&p.ID, &p.OrderID, &p.Whale, &p.MarketID, &p.TokenID,
		&timeframe, &tierTF, &side, &p.Size, &p.Quantity, &p.EntryPrice, &p.Confidence,
		&p.WhaleRate, &mode, &p.OpenedAt, &p.ExpectedResolution,
		&status, &outcome, &marketOutcome, &p.PnL, &source, &p.ResolvedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Timeframe = domain.Timeframe(timeframe)
	p.Tier = domain.Timeframe(tierTF)
	p.Side = domain.Side(side)
	p.Mode = domain.ExecutionMode(mode)
	p.Status = domain.PositionStatus(status)
	if outcome != nil {
		p.Outcome = domain.Outcome(*outcome)
	}
	if marketOutcome != nil {
		p.MarketOutcome = domain.MarketOutcome(*marketOutcome)
	}
	if source != nil {
		p.ResolutionSource = domain.ResolutionSource(*source)
	}
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Upsert writes a position, replacing any existing row with the same id.
func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, order_id, whale, market_id, token_id,
			timeframe, tier, side, size, quantity, entry_price, confidence,
			whale_rate, mode, opened_at, expected_resolution,
			status, outcome, market_outcome, pnl, resolution_source, resolved_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16,
			$17, NULLIF($18, ''), NULLIF($19, ''), $20, NULLIF($21, ''), $22,
			NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			order_id            = EXCLUDED.order_id,
			size                = EXCLUDED.size,
			quantity            = EXCLUDED.quantity,
			entry_price         = EXCLUDED.entry_price,
			expected_resolution = EXCLUDED.expected_resolution,
			updated_at          = NOW()`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.OrderID, p.Whale, p.MarketID, p.TokenID,
		string(p.Timeframe), string(p.Tier), string(p.Side), p.Size, p.Quantity, p.EntryPrice, p.Confidence,
		p.WhaleRate, string(p.Mode), p.OpenedAt, p.ExpectedResolution,
		string(p.Status), string(p.Outcome), string(p.MarketOutcome), p.PnL, string(p.ResolutionSource), p.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", p.ID, err)
	}
	return nil
}

// GetByID retrieves a single position.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListPending returns pending positions whose expected resolution is at or
// before the given time.
func (s *PositionStore) ListPending(ctx context.Context, due time.Time) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'PENDING' AND expected_resolution <= $1
		 ORDER BY expected_resolution`, due)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan pending positions: %w", err)
	}
	return positions, nil
}

// MarkResolved transitions a position to RESOLVED with its terminal fields.
// The status guard in the WHERE clause makes the transition happen at most
// once; a second call returns ErrAlreadyResolved.
func (s *PositionStore) MarkResolved(ctx context.Context, id string, upd domain.ResolvedUpdate) error {
	const query = `
		UPDATE positions SET
			status            = 'RESOLVED',
			outcome           = $2,
			market_outcome    = NULLIF($3, ''),
			pnl               = $4,
			resolution_source = $5,
			resolved_at       = $6,
			updated_at        = NOW()
		WHERE id = $1 AND status = 'PENDING'`

	tag, err := s.pool.Exec(ctx, query,
		id, string(upd.Outcome), string(upd.MarketOutcome), upd.PnL, string(upd.Source), upd.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark position %s resolved: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var status string
		err := s.pool.QueryRow(ctx, `SELECT status FROM positions WHERE id = $1`, id).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("postgres: check position %s: %w", id, err)
		}
		return domain.ErrAlreadyResolved
	}
	return nil
}

// ListResolved returns resolved positions, newest first, with pagination and
// optional time filtering on the resolution timestamp.
func (s *PositionStore) ListResolved(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE status = 'RESOLVED'`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND resolved_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND resolved_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY resolved_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolved positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan resolved positions: %w", err)
	}
	return positions, nil
}

// PendingExposure sums the committed size of all pending positions.
func (s *PositionStore) PendingExposure(ctx context.Context) (float64, error) {
	var total float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(size), 0) FROM positions WHERE status = 'PENDING'`,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("postgres: pending exposure: %w", err)
	}
	return total, nil
}
