package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

var _ domain.ChallengeStore = (*ChallengeStore)(nil)

// ChallengeStore implements domain.ChallengeStore using PostgreSQL.
type ChallengeStore struct {
	pool *pgxpool.Pool
}

// NewChallengeStore creates a new ChallengeStore backed by the given connection pool.
func NewChallengeStore(pool *pgxpool.Pool) *ChallengeStore {
	return &ChallengeStore{pool: pool}
}

const challengeSelectCols = `id, owner, tier, phase, status,
	starting_balance, current_balance, start_of_day_balance, high_water_mark,
	rules, started_at, ends_at, pending_failure_at, phase_started_at,
	last_daily_reset_at, failure_reason, completed_at, archived_at, updated_at`

func scanChallengeRow(row pgx.Row) (domain.Challenge, error) {
	var (
		c      domain.Challenge
		phase  string
		status string
		rules  []byte
	)
	err := row.Scan(
		&c.ID, &c.Owner, &c.Tier, &phase, &status,
		&c.StartingBalance, &c.CurrentBalance, &c.StartOfDayBalance, &c.HighWaterMark,
		&rules, &c.StartedAt, &c.EndsAt, &c.PendingFailureAt, &c.PhaseStartedAt,
		&c.LastDailyResetAt, &c.FailureReason, &c.CompletedAt, &c.ArchivedAt, &c.UpdatedAt,
	)
	if err != nil {
		return domain.Challenge{}, err
	}
	c.Phase = domain.ChallengePhase(phase)
	c.Status = domain.ChallengeStatus(status)
	if err := json.Unmarshal(rules, &c.Rules); err != nil {
		return domain.Challenge{}, fmt.Errorf("decode rules: %w", err)
	}
	return c, nil
}

func scanChallengeRows(rows pgx.Rows) ([]domain.Challenge, error) {
	var out []domain.Challenge
	for rows.Next() {
		c, err := scanChallengeRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Create inserts a new challenge.
func (s *ChallengeStore) Create(ctx context.Context, c domain.Challenge) error {
	rules, err := json.Marshal(c.Rules)
	if err != nil {
		return fmt.Errorf("postgres: marshal rules: %w", err)
	}
	const query = `
		INSERT INTO challenges (` + challengeSelectCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	_, err = s.pool.Exec(ctx, query,
		c.ID, c.Owner, c.Tier, string(c.Phase), string(c.Status),
		c.StartingBalance, c.CurrentBalance, c.StartOfDayBalance, c.HighWaterMark,
		rules, c.StartedAt, c.EndsAt, c.PendingFailureAt, c.PhaseStartedAt,
		c.LastDailyResetAt, c.FailureReason, c.CompletedAt, c.ArchivedAt, updatedAt(c.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create challenge %s: %w", c.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create challenge %s: %w", c.ID, err)
	}
	return nil
}

// GetByID retrieves a single challenge by its ID.
func (s *ChallengeStore) GetByID(ctx context.Context, id string) (domain.Challenge, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+challengeSelectCols+` FROM challenges WHERE id = $1`, id)

	c, err := scanChallengeRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Challenge{}, fmt.Errorf("postgres: challenge %s: %w", id, domain.ErrNotFound)
		}
		return domain.Challenge{}, fmt.Errorf("postgres: get challenge %s: %w", id, err)
	}
	return c, nil
}

// ListActive returns every active challenge.
func (s *ChallengeStore) ListActive(ctx context.Context) ([]domain.Challenge, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+challengeSelectCols+` FROM challenges
		 WHERE status = 'active' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active challenges: %w", err)
	}
	defer rows.Close()

	out, err := scanChallengeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan active challenges: %w", err)
	}
	return out, nil
}

// ListByOwner returns an owner's challenges, newest first.
func (s *ChallengeStore) ListByOwner(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Challenge, error) {
	query, args := withListOpts(
		`SELECT `+challengeSelectCols+` FROM challenges WHERE owner = $1`,
		[]any{owner}, "started_at", "started_at DESC", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list challenges of %s: %w", owner, err)
	}
	defer rows.Close()

	out, err := scanChallengeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan owner challenges: %w", err)
	}
	return out, nil
}

// ListUnarchived returns terminal challenges whose ledger has not been archived.
func (s *ChallengeStore) ListUnarchived(ctx context.Context, limit int) ([]domain.Challenge, error) {
	query := `SELECT ` + challengeSelectCols + ` FROM challenges
		WHERE status <> 'active' AND archived_at IS NULL ORDER BY id`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unarchived challenges: %w", err)
	}
	defer rows.Close()

	out, err := scanChallengeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan unarchived challenges: %w", err)
	}
	return out, nil
}

// MarkArchived records the archive time of a challenge.
func (s *ChallengeStore) MarkArchived(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE challenges SET archived_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("postgres: mark challenge %s archived: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: challenge %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// updateChallenge writes the mutable columns of c through q.
func updateChallenge(ctx context.Context, q querier, c domain.Challenge) error {
	const query = `
		UPDATE challenges SET
			phase                = $2,
			status               = $3,
			current_balance      = $4,
			start_of_day_balance = $5,
			high_water_mark      = $6,
			ends_at              = $7,
			pending_failure_at   = $8,
			phase_started_at     = $9,
			last_daily_reset_at  = $10,
			failure_reason       = $11,
			completed_at         = $12,
			updated_at           = $13
		WHERE id = $1`

	tag, err := q.Exec(ctx, query,
		c.ID, string(c.Phase), string(c.Status),
		c.CurrentBalance, c.StartOfDayBalance, c.HighWaterMark,
		c.EndsAt, c.PendingFailureAt, c.PhaseStartedAt,
		c.LastDailyResetAt, c.FailureReason, c.CompletedAt, updatedAt(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("postgres: update challenge %s: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: challenge %s: %w", c.ID, domain.ErrNotFound)
	}
	return nil
}

// querier is the subset of pgxpool.Pool and pgx.Tx the stores need.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func updatedAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

// withListOpts appends time filtering, ordering and pagination to a query
// whose existing placeholders are args.
func withListOpts(query string, args []any, timeCol, orderBy string, opts domain.ListOpts) (string, []any) {
	argIdx := len(args) + 1
	if opts.Since != nil {
		query += fmt.Sprintf(" AND %s >= $%d", timeCol, argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND %s <= $%d", timeCol, argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY " + orderBy

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}
