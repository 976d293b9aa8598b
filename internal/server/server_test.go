package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/propdesk/internal/arbitrage"
	"github.com/alanyoungcy/propdesk/internal/domain"
	"github.com/alanyoungcy/propdesk/internal/evaluator"
	"github.com/alanyoungcy/propdesk/internal/executor"
	"github.com/alanyoungcy/propdesk/internal/platform/fake"
	"github.com/alanyoungcy/propdesk/internal/risk"
	"github.com/alanyoungcy/propdesk/internal/server/handler"
	"github.com/alanyoungcy/propdesk/internal/service"
	"github.com/alanyoungcy/propdesk/internal/store/memory"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) { return false, nil }

func newTestHandler(t *testing.T, cfg Config, limiter domain.RateLimiter) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	market := fake.NewMarket()
	market.SetMarket(domain.MarketInfo{ID: "m1", Question: "Will it rain?", Volume: dec("5000000"), Categories: []string{"weather"}})
	market.SetBook("m1", [][2]string{{"0.68", "10000"}}, [][2]string{{"0.70", "10000"}})

	eval := evaluator.New(evaluator.Config{
		Challenges: store,
		Positions:  store,
		Locker:     store,
		Markets:    market,
		Logger:     logger,
	})
	riskEngine := risk.NewEngine(store, store, market, logger)
	detector := arbitrage.NewDetector(arbitrage.DetectorConfig{
		Positions: store,
		Resolvers: map[domain.Platform]arbitrage.EventResolver{domain.PlatformPolymarket: market},
		Logger:    logger,
	})
	exec := executor.NewExecutor(executor.Config{
		Challenges:  store,
		Trades:      store.Ledger(),
		Locker:      store,
		Markets:     market,
		Oracle:      market,
		Risk:        riskEngine,
		Arbitrage:   detector,
		Evaluator:   eval,
		Logger:      logger,
		MaxSlippage: dec("0.05"),
	})
	challenges := service.NewChallengeService(service.ChallengeServiceConfig{
		Challenges: store,
		Positions:  store,
		Trades:     store.Ledger(),
		Locker:     store,
		Markets:    market,
		Audit:      store,
		Logger:     logger,
		Tiers: []service.Tier{{
			Name:            "10K",
			StartingBalance: dec("10000"),
			Rules: domain.RulesConfig{
				MaxTotalDrawdownPercent:     dec("0.10"),
				MaxDailyDrawdownPercent:     dec("0.05"),
				ProfitTargetPercent:         dec("0.10"),
				MaxPositionSizePercent:      dec("0.05"),
				MaxCategoryExposurePercent:  dec("0.10"),
				MinMarketVolume:             dec("100000"),
				LowVolumeThreshold:          dec("1000000"),
				LowVolumeMaxPositionPercent: dec("0.025"),
				DurationDays:                30,
			},
		}},
	})

	return NewHandler(cfg, Handlers{
		Health:     handler.NewHealthHandler(nil, logger),
		Challenges: handler.NewChallengeHandler(challenges, eval, logger),
		Trades:     handler.NewTradeHandler(exec, riskEngine, detector, logger),
		Markets:    handler.NewMarketHandler(market, logger),
	}, limiter, logger)
}

type call struct {
	method, path, user, key, body string
}

func do(t *testing.T, h http.Handler, c call) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(c.method, c.path, bytes.NewBufferString(c.body))
	if c.user != "" {
		req.Header.Set(handler.UserHeader, c.user)
	}
	if c.key != "" {
		req.Header.Set(handler.IdempotencyHeader, c.key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func createChallenge(t *testing.T, h http.Handler, owner string) string {
	t.Helper()
	rec, body := do(t, h, call{method: http.MethodPost, path: "/api/challenges", body: `{"owner":"` + owner + `","tier":"10k"}`})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return body["id"].(string)
}

func TestChallengeAndTradeFlow(t *testing.T) {
	h := newTestHandler(t, Config{}, nil)
	id := createChallenge(t, h, "alice")

	rec, body := do(t, h, call{method: http.MethodGet, path: "/api/challenges/" + id})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "active", body["status"])
	assert.Equal(t, "10000", body["current_balance"])

	trade := `{"market_id":"m1","side":"buy","direction":"yes","amount":"100"}`
	rec, body = do(t, h, call{method: http.MethodPost, path: "/api/challenges/" + id + "/trades", user: "alice", key: "k1", body: trade})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, false, body["replayed"])
	first := body["trade"].(map[string]any)["id"]

	rec, body = do(t, h, call{method: http.MethodPost, path: "/api/challenges/" + id + "/trades", user: "alice", key: "k1", body: trade})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["replayed"])
	assert.Equal(t, first, body["trade"].(map[string]any)["id"])

	rec, body = do(t, h, call{method: http.MethodGet, path: "/api/challenges/" + id + "/positions"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["positions"], 1)

	rec, body = do(t, h, call{method: http.MethodGet, path: "/api/challenges/" + id + "/portfolio"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "9900", body["balance"])

	rec, _ = do(t, h, call{method: http.MethodPost, path: "/api/challenges/" + id + "/evaluate"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	h := newTestHandler(t, Config{}, nil)
	id := createChallenge(t, h, "alice")
	trades := "/api/challenges/" + id + "/trades"

	tests := []struct {
		name   string
		call   call
		status int
		code   string
	}{
		{
			name:   "bad side",
			call:   call{method: http.MethodPost, path: trades, user: "alice", body: `{"market_id":"m1","side":"hold","amount":"10"}`},
			status: http.StatusBadRequest,
		},
		{
			name:   "unknown field",
			call:   call{method: http.MethodPost, path: trades, user: "alice", body: `{"market":"m1"}`},
			status: http.StatusBadRequest,
		},
		{
			name:   "not the owner",
			call:   call{method: http.MethodPost, path: trades, user: "mallory", body: `{"market_id":"m1","side":"BUY","amount":"10"}`},
			status: http.StatusForbidden,
		},
		{
			name:   "position too large",
			call:   call{method: http.MethodPost, path: trades, user: "alice", body: `{"market_id":"m1","side":"BUY","amount":"5000"}`},
			status: http.StatusUnprocessableEntity,
			code:   "RISK_REJECTED",
		},
		{
			name:   "sell without position",
			call:   call{method: http.MethodPost, path: trades, user: "alice", body: `{"market_id":"m1","side":"SELL","shares":"10"}`},
			status: http.StatusUnprocessableEntity,
			code:   "POSITION_NOT_FOUND",
		},
		{
			name:   "missing challenge",
			call:   call{method: http.MethodGet, path: "/api/challenges/nope"},
			status: http.StatusNotFound,
		},
		{
			name:   "unknown tier",
			call:   call{method: http.MethodPost, path: "/api/challenges", body: `{"owner":"bob","tier":"1M"}`},
			status: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := do(t, h, tt.call)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.code != "" {
				assert.Equal(t, tt.code, body["code"])
				assert.NotEmpty(t, body["reason"])
			}
		})
	}
}

func TestValidateAndArbitrageDryRuns(t *testing.T) {
	h := newTestHandler(t, Config{}, nil)
	id := createChallenge(t, h, "alice")

	rec, body := do(t, h, call{method: http.MethodPost, path: "/api/challenges/" + id + "/validate", body: `{"market_id":"m1","amount":"100"}`})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["allowed"])

	rec, body = do(t, h, call{method: http.MethodPost, path: "/api/challenges/" + id + "/trades", user: "alice",
		body: `{"market_id":"m1","side":"BUY","direction":"YES","amount":"100"}`})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec, body = do(t, h, call{method: http.MethodPost, path: "/api/challenges/" + id + "/arbitrage-check", body: `{"market_id":"m1","direction":"NO"}`})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["is_arbitrage"])
}

func TestCancelRequiresOwner(t *testing.T) {
	h := newTestHandler(t, Config{}, nil)
	id := createChallenge(t, h, "alice")

	rec, _ := do(t, h, call{method: http.MethodPost, path: "/api/challenges/" + id + "/cancel"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, call{method: http.MethodPost, path: "/api/challenges/" + id + "/cancel", user: "bob"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body := do(t, h, call{method: http.MethodPost, path: "/api/challenges/" + id + "/cancel", user: "alice"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", body["status"])

	rec, body = do(t, h, call{method: http.MethodPost, path: "/api/challenges/" + id + "/trades", user: "alice",
		body: `{"market_id":"m1","side":"BUY","amount":"10"}`})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "CHALLENGE_NOT_ACTIVE", body["code"])
}

func TestAuthAndRateLimit(t *testing.T) {
	h := newTestHandler(t, Config{APIKey: "secret"}, nil)

	rec, _ := do(t, h, call{method: http.MethodGet, path: "/api/health"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, h, call{method: http.MethodGet, path: "/api/tiers"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/tiers", nil)
	req.Header.Set("Authorization", "Bearer secret")
	out := httptest.NewRecorder()
	h.ServeHTTP(out, req)
	assert.Equal(t, http.StatusOK, out.Code)

	limited := newTestHandler(t, Config{RateLimit: 1, RateLimitWindow: time.Minute}, denyLimiter{})
	rec, _ = do(t, limited, call{method: http.MethodGet, path: "/api/tiers"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}
