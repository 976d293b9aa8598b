package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

var _ domain.PositionStore = (*PositionStore)(nil)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, challenge_id, market_id, direction,
	size_amount, shares, entry_price, current_price, status,
	pnl, fees_paid, opened_at, closed_at, updated_at`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var (
		p         domain.Position
		direction string
		status    string
	)
	err := row.Scan(
		&p.ID, &p.ChallengeID, &p.MarketID, &direction,
		&p.SizeAmount, &p.Shares, &p.EntryPrice, &p.CurrentPrice, &status,
		&p.PnL, &p.FeesPaid, &p.OpenedAt, &p.ClosedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Direction = domain.Direction(direction)
	p.Status = domain.PositionStatus(status)
	return p, nil
}

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// GetOpen returns the open positions of a challenge ordered by open time.
func (s *PositionStore) GetOpen(ctx context.Context, challengeID string) ([]domain.Position, error) {
	return openPositions(ctx, s.pool, challengeID)
}

// ListByChallenge returns all positions of a challenge ordered by open time.
func (s *PositionStore) ListByChallenge(ctx context.Context, challengeID string, opts domain.ListOpts) ([]domain.Position, error) {
	query, args := withListOpts(
		`SELECT `+positionSelectCols+` FROM positions WHERE challenge_id = $1`,
		[]any{challengeID}, "opened_at", "opened_at, id", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions of %s: %w", challengeID, err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return positions, nil
}

func openPositions(ctx context.Context, q querier, challengeID string) ([]domain.Position, error) {
	rows, err := q.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE challenge_id = $1 AND status = 'OPEN'
		 ORDER BY opened_at, id`, challengeID)
	if err != nil {
		return nil, fmt.Errorf("postgres: get open positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

func insertPosition(ctx context.Context, q querier, p domain.Position) error {
	const query = `
		INSERT INTO positions (` + positionSelectCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := q.Exec(ctx, query,
		p.ID, p.ChallengeID, p.MarketID, string(p.Direction),
		p.SizeAmount, p.Shares, p.EntryPrice, p.CurrentPrice, string(p.Status),
		p.PnL, p.FeesPaid, p.OpenedAt, p.ClosedAt, updatedAt(p.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: open position on %s: %w", p.MarketID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: insert position %s: %w", p.ID, err)
	}
	return nil
}

func updatePosition(ctx context.Context, q querier, p domain.Position) error {
	const query = `
		UPDATE positions SET
			size_amount   = $2,
			shares        = $3,
			entry_price   = $4,
			current_price = $5,
			status        = $6,
			pnl           = $7,
			fees_paid     = $8,
			closed_at     = $9,
			updated_at    = $10
		WHERE id = $1`

	tag, err := q.Exec(ctx, query,
		p.ID, p.SizeAmount, p.Shares, p.EntryPrice, p.CurrentPrice,
		string(p.Status), p.PnL, p.FeesPaid, p.ClosedAt, updatedAt(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: position %s: %w", p.ID, domain.ErrNotFound)
	}
	return nil
}
