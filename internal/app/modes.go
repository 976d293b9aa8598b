package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/propdesk/internal/arbitrage"
	s3blob "github.com/alanyoungcy/propdesk/internal/blob/s3"
	"github.com/alanyoungcy/propdesk/internal/domain"
	"github.com/alanyoungcy/propdesk/internal/evaluator"
	"github.com/alanyoungcy/propdesk/internal/executor"
	"github.com/alanyoungcy/propdesk/internal/risk"
	"github.com/alanyoungcy/propdesk/internal/server"
	"github.com/alanyoungcy/propdesk/internal/server/handler"
	"github.com/alanyoungcy/propdesk/internal/service"
)

// dedupCleanupInterval is how often expired idempotency entries are dropped.
const dedupCleanupInterval = time.Minute

// engine holds the rule and execution components shared by every mode.
type engine struct {
	evaluator  *evaluator.Evaluator
	risk       *risk.Engine
	detector   *arbitrage.Detector
	executor   *executor.Executor
	challenges *service.ChallengeService
}

func (a *App) buildEngine(deps *Dependencies) *engine {
	evalCfg := evaluator.Config{
		Challenges:  deps.Challenges,
		Positions:   deps.Positions,
		Locker:      deps.Locker,
		Markets:     deps.Markets,
		Audit:       deps.Audit,
		Bus:         deps.Bus,
		Logger:      a.logger,
		GracePeriod: a.cfg.Engine.PendingFailureGrace.Duration,
	}
	if deps.Notifier.Enabled() {
		evalCfg.Notifier = deps.Notifier
	}
	eval := evaluator.New(evalCfg)

	riskEngine := risk.NewEngine(deps.Challenges, deps.Positions, deps.Markets, a.logger)
	detector := arbitrage.NewDetector(arbitrage.DetectorConfig{
		Positions: deps.Positions,
		Resolvers: deps.EventResolvers,
		Default:   domain.PlatformPolymarket,
		Logger:    a.logger,
	})

	exec := executor.NewExecutor(executor.Config{
		Challenges:     deps.Challenges,
		Trades:         deps.Trades,
		Locker:         deps.Locker,
		Markets:        deps.Markets,
		Oracle:         deps.Markets,
		Risk:           riskEngine,
		Arbitrage:      detector,
		Evaluator:      eval,
		Bus:            deps.Bus,
		Logger:         a.logger,
		MaxSlippage:    domain.DecimalFromFloat(a.cfg.Engine.MaxSlippage),
		FeeRate:        domain.DecimalFromFloat(a.cfg.Engine.FeeRate),
		ResolvedHigh:   domain.DecimalFromFloat(a.cfg.Engine.ResolvedHigh),
		ResolvedLow:    domain.DecimalFromFloat(a.cfg.Engine.ResolvedLow),
		IdempotencyTTL: a.cfg.Engine.IdempotencyTTL.Duration,
	})

	tiers := make([]service.Tier, 0, len(a.cfg.Tiers))
	for _, t := range a.cfg.Tiers {
		tiers = append(tiers, service.Tier{
			Name:            t.Name,
			StartingBalance: domain.DecimalFromFloat(t.StartingBalance),
			Rules:           t.Rules(),
		})
	}
	challenges := service.NewChallengeService(service.ChallengeServiceConfig{
		Challenges: deps.Challenges,
		Positions:  deps.Positions,
		Trades:     deps.Trades,
		Locker:     deps.Locker,
		Markets:    deps.Markets,
		Audit:      deps.Audit,
		Tiers:      tiers,
		Logger:     a.logger,
	})

	return &engine{
		evaluator:  eval,
		risk:       riskEngine,
		detector:   detector,
		executor:   exec,
		challenges: challenges,
	}
}

// ServerMode serves the HTTP API and runs the sweeper without archiving.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	eng := a.buildEngine(deps)

	a.startHTTPServer(ctx, g, deps, eng)
	a.startDedupCleanup(ctx, g, eng.executor)
	a.startSweeper(ctx, g, deps, eng, false)

	return g.Wait()
}

// SweeperMode runs only the periodic evaluator, daily reset and archiver.
// Use it for a dedicated replica beside stateless API servers.
func (a *App) SweeperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sweeper mode")

	g, ctx := errgroup.WithContext(ctx)
	eng := a.buildEngine(deps)
	a.startSweeper(ctx, g, deps, eng, true)

	return g.Wait()
}

// FullMode is ServerMode with ledger archiving enabled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	eng := a.buildEngine(deps)

	a.startHTTPServer(ctx, g, deps, eng)
	a.startDedupCleanup(ctx, g, eng.executor)
	a.startSweeper(ctx, g, deps, eng, true)

	return g.Wait()
}

// startHTTPServer adds the API server to g and shuts it down gracefully when
// ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, eng *engine) {
	challengeH := handler.NewChallengeHandler(eng.challenges, eng.evaluator, a.logger)
	if deps.BlobReader != nil {
		challengeH = challengeH.WithLedgers(deps.BlobReader, s3blob.LedgerPath)
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, server.Handlers{
		Health:     handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Challenges: challengeH,
		Trades:     handler.NewTradeHandler(eng.executor, eng.risk, eng.detector, a.logger),
		Markets:    handler.NewMarketHandler(deps.Markets, a.logger),
	}, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening", slog.Int("port", a.cfg.Server.Port))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.logger.InfoContext(ctx, "HTTP server shutting down")
		return srv.Shutdown(shutCtx)
	})
}

// startSweeper adds the periodic evaluation loop to g. Archiving is attached
// only when withArchive is set and an archiver is wired.
func (a *App) startSweeper(ctx context.Context, g *errgroup.Group, deps *Dependencies, eng *engine, withArchive bool) {
	cfg := evaluator.SweeperConfig{
		Challenges:   deps.Challenges,
		Evaluator:    eng.evaluator,
		Locks:        deps.Locks,
		Interval:     a.cfg.Engine.SweepInterval.Duration,
		Concurrency:  a.cfg.Engine.SweepConcurrency,
		ArchiveBatch: a.cfg.Engine.ArchiveBatch,
		Logger:       a.logger,
	}
	if a.cfg.Engine.SettleResolved {
		cfg.Settler = service.NewResolutionSettler(deps.Positions, deps.Locker, deps.Markets, deps.Bus, a.logger)
	}
	if withArchive {
		if deps.Archiver != nil {
			cfg.Archiver = deps.Archiver
		} else {
			a.logger.WarnContext(ctx, "s3 disabled, finished challenges will not be archived")
		}
	}

	sweeper := evaluator.NewSweeper(cfg)
	g.Go(func() error {
		return sweeper.Run(ctx)
	})
}

// startDedupCleanup periodically drops expired idempotency entries.
func (a *App) startDedupCleanup(ctx context.Context, g *errgroup.Group, exec *executor.Executor) {
	g.Go(func() error {
		ticker := time.NewTicker(dedupCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				exec.Dedup().Cleanup()
			}
		}
	})
}
