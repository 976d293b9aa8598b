package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

// Settler closes positions on markets that have resolved.
type Settler interface {
	SettleResolved(ctx context.Context, challengeID string) (int, error)
}

// SweeperConfig wires the periodic sweep.
type SweeperConfig struct {
	Challenges domain.ChallengeStore
	Evaluator  *Evaluator
	Settler    Settler               // optional
	Archiver   domain.LedgerArchiver // optional
	Locks      domain.LockManager    // optional, elects the replica running the daily reset
	Interval   time.Duration
	// Concurrency bounds how many challenges are evaluated at once.
	Concurrency  int
	ArchiveBatch int
	Logger       *slog.Logger
	Now          func() time.Time
}

// Sweeper periodically evaluates every active challenge, rolls challenges
// into a new trading day at the UTC boundary and archives finished ones.
type Sweeper struct {
	cfg    SweeperConfig
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	lastReset string // UTC date of the last completed daily reset
}

// NewSweeper creates a Sweeper.
func NewSweeper(cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.ArchiveBatch <= 0 {
		cfg.ArchiveBatch = 50
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Sweeper{
		cfg:    cfg,
		logger: cfg.Logger.With(slog.String("component", "sweeper")),
		now:    now,
	}
}

// Run sweeps on every tick until ctx is cancelled. Call in a goroutine.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "sweeper started", slog.Duration("interval", s.cfg.Interval))
	defer s.logger.Info("sweeper stopped")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		if err := s.Sweep(ctx); err != nil {
			s.logger.ErrorContext(ctx, "sweep failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep runs one pass: settle and evaluate active challenges, the daily reset
// when a new UTC day has started, then archiving.
func (s *Sweeper) Sweep(ctx context.Context) error {
	active, err := s.cfg.Challenges.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("sweeper: list active: %w", err)
	}

	s.forEach(ctx, active, func(ctx context.Context, c domain.Challenge) error {
		if s.cfg.Settler != nil {
			if _, err := s.cfg.Settler.SettleResolved(ctx, c.ID); err != nil {
				return fmt.Errorf("settle: %w", err)
			}
		}
		_, err := s.cfg.Evaluator.Evaluate(ctx, c.ID)
		return err
	})

	if err := s.dailyReset(ctx); err != nil {
		return err
	}
	return s.archive(ctx)
}

func (s *Sweeper) forEach(ctx context.Context, challenges []domain.Challenge, fn func(ctx context.Context, c domain.Challenge) error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, c := range challenges {
		g.Go(func() error {
			if err := fn(gctx, c); err != nil {
				s.logger.ErrorContext(gctx, "challenge sweep failed",
					slog.String("challenge_id", c.ID),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Sweeper) dailyReset(ctx context.Context) error {
	day := s.now().UTC().Format(time.DateOnly)

	s.mu.Lock()
	done := s.lastReset == day
	s.mu.Unlock()
	if done {
		return nil
	}

	if s.cfg.Locks != nil {
		unlock, err := s.cfg.Locks.Acquire(ctx, "daily-reset:"+day, 30*time.Minute)
		if errors.Is(err, domain.ErrLockHeld) {
			s.logger.DebugContext(ctx, "daily reset running elsewhere", slog.String("day", day))
			return nil
		}
		if err != nil {
			return fmt.Errorf("sweeper: daily reset lock: %w", err)
		}
		defer unlock()
	}

	active, err := s.cfg.Challenges.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("sweeper: list active for reset: %w", err)
	}
	s.forEach(ctx, active, func(ctx context.Context, c domain.Challenge) error {
		_, err := s.cfg.Evaluator.DailyReset(ctx, c.ID)
		return err
	})

	s.mu.Lock()
	s.lastReset = day
	s.mu.Unlock()
	s.logger.InfoContext(ctx, "daily reset complete", slog.String("day", day), slog.Int("challenges", len(active)))
	return nil
}

func (s *Sweeper) archive(ctx context.Context) error {
	if s.cfg.Archiver == nil {
		return nil
	}
	done, err := s.cfg.Challenges.ListUnarchived(ctx, s.cfg.ArchiveBatch)
	if err != nil {
		return fmt.Errorf("sweeper: list unarchived: %w", err)
	}
	for _, c := range done {
		path, err := s.cfg.Archiver.ArchiveChallenge(ctx, c.ID)
		if err != nil {
			s.logger.ErrorContext(ctx, "archive challenge failed",
				slog.String("challenge_id", c.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := s.cfg.Challenges.MarkArchived(ctx, c.ID, s.now()); err != nil {
			return fmt.Errorf("sweeper: mark archived %s: %w", c.ID, err)
		}
		s.logger.InfoContext(ctx, "challenge archived", slog.String("challenge_id", c.ID), slog.String("path", path))
	}
	return nil
}
