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

// ChallengeStore persists challenge accounts. Reads are unlocked snapshots;
// mutations of an existing challenge go through ChallengeLocker.
type ChallengeStore interface {
	Create(ctx context.Context, c Challenge) error
	GetByID(ctx context.Context, id string) (Challenge, error)
	ListActive(ctx context.Context) ([]Challenge, error)
	ListByOwner(ctx context.Context, owner string, opts ListOpts) ([]Challenge, error)
	ListUnarchived(ctx context.Context, limit int) ([]Challenge, error)
	MarkArchived(ctx context.Context, id string, at time.Time) error
}

// PositionStore reads positions outside the challenge lock.
type PositionStore interface {
	GetOpen(ctx context.Context, challengeID string) ([]Position, error)
	ListByChallenge(ctx context.Context, challengeID string, opts ListOpts) ([]Position, error)
}

// TradeStore reads the trade ledger outside the challenge lock.
type TradeStore interface {
	GetByIdempotencyKey(ctx context.Context, challengeID, key string) (Trade, error)
	ListByChallenge(ctx context.Context, challengeID string, opts ListOpts) ([]Trade, error)
}

// ChallengeTx is a unit of work holding the exclusive lock on one challenge.
// Writes become visible only if the enclosing function returns nil.
type ChallengeTx interface {
	Challenge() Challenge
	OpenPositions(ctx context.Context) ([]Position, error)
	TradeByIdempotencyKey(ctx context.Context, key string) (Trade, error)
	UpdateChallenge(ctx context.Context, c Challenge) error
	CreatePosition(ctx context.Context, p Position) error
	UpdatePosition(ctx context.Context, p Position) error
	InsertTrade(ctx context.Context, t Trade) error
}

// ChallengeLocker serializes every mutation of a single challenge. Different
// challenges never contend.
type ChallengeLocker interface {
	WithChallengeLock(ctx context.Context, challengeID string, fn func(ctx context.Context, tx ChallengeTx) error) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
