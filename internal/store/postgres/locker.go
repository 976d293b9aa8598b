package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

var _ domain.ChallengeLocker = (*Locker)(nil)

// Locker serializes mutations of a challenge with SELECT ... FOR UPDATE on
// its row. All writes of one WithChallengeLock call share a transaction.
type Locker struct {
	pool *pgxpool.Pool
}

// NewLocker creates a Locker backed by the given connection pool.
func NewLocker(pool *pgxpool.Pool) *Locker {
	return &Locker{pool: pool}
}

// WithChallengeLock runs fn inside a transaction holding the challenge's row
// lock. The transaction commits only when fn returns nil.
func (l *Locker) WithChallengeLock(ctx context.Context, challengeID string, fn func(ctx context.Context, tx domain.ChallengeTx) error) error {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin challenge tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`SELECT `+challengeSelectCols+` FROM challenges WHERE id = $1 FOR UPDATE`, challengeID)
	c, err := scanChallengeRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("postgres: lock challenge %s: %w", challengeID, domain.ErrNotFound)
		}
		return fmt.Errorf("postgres: lock challenge %s: %w", challengeID, err)
	}

	if err := fn(ctx, &lockedTx{tx: tx, challenge: c}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit challenge %s: %w", challengeID, err)
	}
	return nil
}

// lockedTx implements domain.ChallengeTx over a pgx transaction.
type lockedTx struct {
	tx        pgx.Tx
	challenge domain.Challenge
}

func (t *lockedTx) Challenge() domain.Challenge { return t.challenge }

func (t *lockedTx) OpenPositions(ctx context.Context) ([]domain.Position, error) {
	return openPositions(ctx, t.tx, t.challenge.ID)
}

func (t *lockedTx) TradeByIdempotencyKey(ctx context.Context, key string) (domain.Trade, error) {
	return tradeByKey(ctx, t.tx, t.challenge.ID, key)
}

func (t *lockedTx) UpdateChallenge(ctx context.Context, c domain.Challenge) error {
	if c.ID != t.challenge.ID {
		return fmt.Errorf("postgres: update challenge %s outside lock of %s", c.ID, t.challenge.ID)
	}
	if err := updateChallenge(ctx, t.tx, c); err != nil {
		return err
	}
	t.challenge = c
	return nil
}

func (t *lockedTx) CreatePosition(ctx context.Context, p domain.Position) error {
	return insertPosition(ctx, t.tx, p)
}

func (t *lockedTx) UpdatePosition(ctx context.Context, p domain.Position) error {
	return updatePosition(ctx, t.tx, p)
}

func (t *lockedTx) InsertTrade(ctx context.Context, tr domain.Trade) error {
	return insertTrade(ctx, t.tx, tr)
}
