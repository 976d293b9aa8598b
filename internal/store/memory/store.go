// Package memory is an in-process implementation of the store interfaces
// with the same per-challenge locking contract as the PostgreSQL store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

var (
	_ domain.ChallengeStore  = (*Store)(nil)
	_ domain.PositionStore   = (*Store)(nil)
	_ domain.ChallengeLocker = (*Store)(nil)
	_ domain.AuditStore      = (*Store)(nil)
)

// Store keeps all state in maps guarded by mu. Each challenge additionally has
// its own mutex that serializes WithChallengeLock calls.
type Store struct {
	mu         sync.RWMutex
	challenges map[string]domain.Challenge
	positions  map[string]domain.Position
	trades     []domain.Trade
	audit      []domain.AuditEntry

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		challenges: make(map[string]domain.Challenge),
		positions:  make(map[string]domain.Position),
		locks:      make(map[string]*sync.Mutex),
	}
}

func (s *Store) challengeLock(id string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Create inserts a new challenge.
func (s *Store) Create(_ context.Context, c domain.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.challenges[c.ID]; ok {
		return fmt.Errorf("memory: create challenge %s: %w", c.ID, domain.ErrAlreadyExists)
	}
	s.challenges[c.ID] = c
	return nil
}

// GetByID returns a challenge snapshot.
func (s *Store) GetByID(_ context.Context, id string) (domain.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.challenges[id]
	if !ok {
		return domain.Challenge{}, fmt.Errorf("memory: challenge %s: %w", id, domain.ErrNotFound)
	}
	return c, nil
}

// ListActive returns every active challenge.
func (s *Store) ListActive(_ context.Context) ([]domain.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Challenge
	for _, c := range s.challenges {
		if c.Status == domain.ChallengeActive {
			out = append(out, c)
		}
	}
	sortChallenges(out)
	return out, nil
}

// ListByOwner returns an owner's challenges, newest first.
func (s *Store) ListByOwner(_ context.Context, owner string, opts domain.ListOpts) ([]domain.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Challenge
	for _, c := range s.challenges {
		if c.Owner == owner {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return page(out, opts), nil
}

// ListUnarchived returns terminal challenges not yet archived.
func (s *Store) ListUnarchived(_ context.Context, limit int) ([]domain.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Challenge
	for _, c := range s.challenges {
		if c.Status.Terminal() && c.ArchivedAt == nil {
			out = append(out, c)
		}
	}
	sortChallenges(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkArchived records the archive time of a challenge.
func (s *Store) MarkArchived(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[id]
	if !ok {
		return fmt.Errorf("memory: challenge %s: %w", id, domain.ErrNotFound)
	}
	c.ArchivedAt = &at
	s.challenges[id] = c
	return nil
}

// GetOpen returns the open positions of a challenge ordered by open time.
func (s *Store) GetOpen(_ context.Context, challengeID string) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.openPositions(challengeID), nil
}

func (s *Store) openPositions(challengeID string) []domain.Position {
	var out []domain.Position
	for _, p := range s.positions {
		if p.ChallengeID == challengeID && p.Status == domain.PositionOpen {
			out = append(out, p)
		}
	}
	sortPositions(out)
	return out
}

// ListByChallenge returns all positions of a challenge.
func (s *Store) ListByChallenge(_ context.Context, challengeID string, opts domain.ListOpts) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Position
	for _, p := range s.positions {
		if p.ChallengeID == challengeID {
			out = append(out, p)
		}
	}
	sortPositions(out)
	return page(out, opts), nil
}

// GetByIdempotencyKey finds a trade by its client key.
func (s *Store) GetByIdempotencyKey(_ context.Context, challengeID, key string) (domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tradeByKey(challengeID, key)
}

func (s *Store) tradeByKey(challengeID, key string) (domain.Trade, error) {
	if key != "" {
		for _, t := range s.trades {
			if t.ChallengeID == challengeID && t.IdempotencyKey == key {
				return t, nil
			}
		}
	}
	return domain.Trade{}, fmt.Errorf("memory: trade key %q: %w", key, domain.ErrNotFound)
}

// Trades returns the ledger of a challenge in execution order.
func (s *Store) Trades(challengeID string) []domain.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Trade
	for _, t := range s.trades {
		if t.ChallengeID == challengeID {
			out = append(out, t)
		}
	}
	return out
}

// TradeLedger is the domain.TradeStore view of a Store.
type TradeLedger struct{ s *Store }

var _ domain.TradeStore = TradeLedger{}

// Ledger returns the TradeStore view of s.
func (s *Store) Ledger() TradeLedger { return TradeLedger{s: s} }

// GetByIdempotencyKey finds a trade by its client key.
func (l TradeLedger) GetByIdempotencyKey(ctx context.Context, challengeID, key string) (domain.Trade, error) {
	return l.s.GetByIdempotencyKey(ctx, challengeID, key)
}

// Ledger returns the trades of a challenge in execution order.
func (l TradeLedger) Ledger(_ context.Context, challengeID string) ([]domain.Trade, error) {
	return l.s.Trades(challengeID), nil
}

// ListByChallenge returns the trades of a challenge, newest first.
func (l TradeLedger) ListByChallenge(_ context.Context, challengeID string, opts domain.ListOpts) ([]domain.Trade, error) {
	trades := l.s.Trades(challengeID)
	for i, j := 0, len(trades)-1; i < j; i, j = i+1, j-1 {
		trades[i], trades[j] = trades[j], trades[i]
	}
	return page(trades, opts), nil
}

// Log appends an audit entry.
func (s *Store) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, domain.AuditEntry{
		ID:        int64(len(s.audit) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// List returns audit entries, newest first.
func (s *Store) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.AuditEntry, 0, len(s.audit))
	for i := len(s.audit) - 1; i >= 0; i-- {
		out = append(out, s.audit[i])
	}
	return page(out, opts), nil
}

// WithChallengeLock runs fn holding the challenge's mutex. Writes are staged
// and applied only when fn returns nil.
func (s *Store) WithChallengeLock(ctx context.Context, challengeID string, fn func(ctx context.Context, tx domain.ChallengeTx) error) error {
	l := s.challengeLock(challengeID)
	l.Lock()
	defer l.Unlock()

	s.mu.RLock()
	c, ok := s.challenges[challengeID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("memory: lock challenge %s: %w", challengeID, domain.ErrNotFound)
	}

	tx := &memTx{store: s, challenge: c, positions: make(map[string]domain.Position)}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.dirty {
		s.challenges[challengeID] = tx.challenge
	}
	for id, p := range tx.positions {
		s.positions[id] = p
	}
	s.trades = append(s.trades, tx.trades...)
	return nil
}

type memTx struct {
	store     *Store
	challenge domain.Challenge
	dirty     bool
	positions map[string]domain.Position
	trades    []domain.Trade
}

func (t *memTx) Challenge() domain.Challenge { return t.challenge }

func (t *memTx) OpenPositions(_ context.Context) ([]domain.Position, error) {
	t.store.mu.RLock()
	base := t.store.openPositions(t.challenge.ID)
	t.store.mu.RUnlock()

	merged := make(map[string]domain.Position, len(base)+len(t.positions))
	for _, p := range base {
		merged[p.ID] = p
	}
	for id, p := range t.positions {
		merged[id] = p
	}
	var out []domain.Position
	for _, p := range merged {
		if p.Status == domain.PositionOpen {
			out = append(out, p)
		}
	}
	sortPositions(out)
	return out, nil
}

func (t *memTx) TradeByIdempotencyKey(_ context.Context, key string) (domain.Trade, error) {
	for _, tr := range t.trades {
		if key != "" && tr.IdempotencyKey == key {
			return tr, nil
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return t.store.tradeByKey(t.challenge.ID, key)
}

func (t *memTx) UpdateChallenge(_ context.Context, c domain.Challenge) error {
	if c.ID != t.challenge.ID {
		return fmt.Errorf("memory: update challenge %s outside lock of %s", c.ID, t.challenge.ID)
	}
	t.challenge = c
	t.dirty = true
	return nil
}

func (t *memTx) CreatePosition(ctx context.Context, p domain.Position) error {
	open, _ := t.OpenPositions(ctx)
	for _, o := range open {
		if o.MarketID == p.MarketID {
			return fmt.Errorf("memory: open position on %s: %w", p.MarketID, domain.ErrAlreadyExists)
		}
	}
	t.positions[p.ID] = p
	return nil
}

func (t *memTx) UpdatePosition(_ context.Context, p domain.Position) error {
	t.positions[p.ID] = p
	return nil
}

func (t *memTx) InsertTrade(ctx context.Context, tr domain.Trade) error {
	if tr.IdempotencyKey != "" {
		if _, err := t.TradeByIdempotencyKey(ctx, tr.IdempotencyKey); err == nil {
			return fmt.Errorf("memory: trade key %q: %w", tr.IdempotencyKey, domain.ErrAlreadyExists)
		}
	}
	t.trades = append(t.trades, tr)
	return nil
}

func sortChallenges(cs []domain.Challenge) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].ID < cs[j].ID })
}

func sortPositions(ps []domain.Position) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].OpenedAt.Equal(ps[j].OpenedAt) {
			return ps[i].ID < ps[j].ID
		}
		return ps[i].OpenedAt.Before(ps[j].OpenedAt)
	})
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}
