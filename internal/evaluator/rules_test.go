package evaluator

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var t0 = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

func challenge() domain.Challenge {
	ends := t0.Add(30 * 24 * time.Hour)
	return domain.Challenge{
		ID:                "c1",
		Owner:             "u1",
		Phase:             domain.PhaseChallenge,
		Status:            domain.ChallengeActive,
		StartingBalance:   dec("10000"),
		CurrentBalance:    dec("10000"),
		StartOfDayBalance: dec("10000"),
		HighWaterMark:     dec("10000"),
		Rules: domain.RulesConfig{
			MaxTotalDrawdownPercent: dec("0.10"),
			MaxDailyDrawdownPercent: dec("0.05"),
			ProfitTargetPercent:     dec("0.10"),
		}.WithThresholds(dec("10000")),
		StartedAt:      t0.Add(-time.Hour),
		EndsAt:         &ends,
		PhaseStartedAt: t0.Add(-time.Hour),
	}
}

func TestDecideMaxDrawdownFails(t *testing.T) {
	c := challenge()
	c.StartOfDayBalance = dec("9000")
	next, res := Decide(c, dec("8900"), t0, 24*time.Hour)

	assert.Equal(t, domain.ChallengeFailed, next.Status)
	assert.Equal(t, ReasonMaxDrawdown, res.Reason)
	assert.True(t, res.Transitioned)
	require.NotNil(t, next.CompletedAt)
}

func TestDecideMaxDrawdownHasPriorityOverDailyLoss(t *testing.T) {
	next, res := Decide(challenge(), dec("8900"), t0, 24*time.Hour)
	assert.Equal(t, domain.ChallengeFailed, next.Status)
	assert.Equal(t, ReasonMaxDrawdown, res.Reason)
	assert.Nil(t, next.PendingFailureAt)
}

func TestDecideTimeLimit(t *testing.T) {
	c := challenge()
	past := t0.Add(-time.Minute)
	c.EndsAt = &past
	next, res := Decide(c, dec("10500"), t0, 24*time.Hour)
	assert.Equal(t, domain.ChallengeFailed, next.Status)
	assert.Equal(t, ReasonTimeLimit, res.Reason)
	assert.True(t, next.HighWaterMark.Equal(dec("10500")))
}

func TestDecideSoftPassToFunded(t *testing.T) {
	c := challenge()
	c.CurrentBalance = dec("11100")
	next, res := Decide(c, dec("11100"), t0, 24*time.Hour)

	assert.Equal(t, domain.ChallengeActive, next.Status)
	assert.Equal(t, domain.PhaseFunded, next.Phase)
	assert.True(t, next.CurrentBalance.Equal(dec("10000")))
	assert.True(t, next.HighWaterMark.Equal(dec("10000")))
	assert.True(t, next.StartOfDayBalance.Equal(dec("10000")))
	assert.Nil(t, next.EndsAt)
	assert.Equal(t, t0, next.PhaseStartedAt)
	assert.Equal(t, ReasonFunded, res.Reason)
	assert.True(t, res.Transitioned)
}

func TestDecideVerificationAlsoSoftPasses(t *testing.T) {
	c := challenge()
	c.Phase = domain.PhaseVerification
	next, _ := Decide(c, dec("11000"), t0, 24*time.Hour)
	assert.Equal(t, domain.PhaseFunded, next.Phase)
	assert.Equal(t, domain.ChallengeActive, next.Status)
}

func TestDecideFundedProfitTargetPasses(t *testing.T) {
	c := challenge()
	c.Phase = domain.PhaseFunded
	c.EndsAt = nil
	next, res := Decide(c, dec("11000"), t0, 24*time.Hour)
	assert.Equal(t, domain.ChallengePassed, next.Status)
	assert.Equal(t, ReasonPassed, res.Reason)
	assert.True(t, next.Status.Terminal())
}

func TestDecidePendingFailureLifecycle(t *testing.T) {
	c := challenge()

	// 600 below start of day with a 500 limit: pending, not failed.
	next, res := Decide(c, dec("9400"), t0, 24*time.Hour)
	assert.Equal(t, domain.ChallengeActive, next.Status)
	require.NotNil(t, next.PendingFailureAt)
	assert.Equal(t, t0, *next.PendingFailureAt)
	assert.Equal(t, ReasonDailyLossPending, res.Reason)
	assert.False(t, res.Transitioned)

	// Re-evaluating keeps the original marker.
	again, _ := Decide(next, dec("9400"), t0.Add(time.Hour), 24*time.Hour)
	require.NotNil(t, again.PendingFailureAt)
	assert.Equal(t, t0, *again.PendingFailureAt)

	// Recovery clears it.
	recovered, res := Decide(again, dec("9600"), t0.Add(2*time.Hour), 24*time.Hour)
	assert.Nil(t, recovered.PendingFailureAt)
	assert.Equal(t, domain.ChallengeActive, recovered.Status)
	assert.Empty(t, res.Reason)
}

func TestDecidePendingFailureExpires(t *testing.T) {
	c := challenge()
	pending := t0.Add(-25 * time.Hour)
	c.PendingFailureAt = &pending
	next, res := Decide(c, dec("9400"), t0, 24*time.Hour)
	assert.Equal(t, domain.ChallengeFailed, next.Status)
	assert.Equal(t, ReasonDailyLoss, res.Reason)
}

func TestDecideRaisesHighWaterMark(t *testing.T) {
	next, res := Decide(challenge(), dec("10400"), t0, 24*time.Hour)
	assert.True(t, next.HighWaterMark.Equal(dec("10400")))
	assert.True(t, res.HighWaterMark.Equal(dec("10400")))

	lower, _ := Decide(next, dec("10200"), t0, 24*time.Hour)
	assert.True(t, lower.HighWaterMark.Equal(dec("10400")))
}

func TestDecideIdempotent(t *testing.T) {
	inputs := []string{"8900", "9400", "10400", "10000"}
	for _, eq := range inputs {
		t.Run(eq, func(t *testing.T) {
			first, r1 := Decide(challenge(), dec(eq), t0, 24*time.Hour)
			second, r2 := Decide(first, dec(eq), t0, 24*time.Hour)
			assert.Equal(t, first, second)
			assert.Equal(t, r1.Status, r2.Status)
			assert.Equal(t, r1.Phase, r2.Phase)
			assert.Equal(t, r1.PendingFailureAt, r2.PendingFailureAt)
		})
	}
}

func TestDecideTerminalUnchanged(t *testing.T) {
	c := challenge()
	c.Status = domain.ChallengeFailed
	c.FailureReason = ReasonMaxDrawdown
	next, res := Decide(c, dec("20000"), t0, 24*time.Hour)
	assert.Equal(t, c, next)
	assert.False(t, res.Transitioned)
	assert.Equal(t, ReasonMaxDrawdown, res.Reason)
}

func TestDailyRoll(t *testing.T) {
	t.Run("re-marks start of day", func(t *testing.T) {
		next, res := DailyRoll(challenge(), dec("10250"), t0)
		assert.True(t, next.StartOfDayBalance.Equal(dec("10250")))
		require.NotNil(t, next.LastDailyResetAt)
		assert.Equal(t, domain.ChallengeActive, res.Status)
	})

	t.Run("once per day", func(t *testing.T) {
		first, _ := DailyRoll(challenge(), dec("10250"), t0)
		second, _ := DailyRoll(first, dec("9000"), t0.Add(time.Hour))
		assert.True(t, second.StartOfDayBalance.Equal(dec("10250")))

		third, _ := DailyRoll(second, dec("10100"), t0.Add(24*time.Hour))
		assert.True(t, third.StartOfDayBalance.Equal(dec("10100")))
	})

	t.Run("pending breach fails at boundary", func(t *testing.T) {
		c := challenge()
		pending := t0.Add(-2 * time.Hour)
		c.PendingFailureAt = &pending
		next, res := DailyRoll(c, dec("9400"), t0)
		assert.Equal(t, domain.ChallengeFailed, next.Status)
		assert.Equal(t, ReasonDailyLoss, res.Reason)
	})

	t.Run("recovered pending clears", func(t *testing.T) {
		c := challenge()
		pending := t0.Add(-2 * time.Hour)
		c.PendingFailureAt = &pending
		next, _ := DailyRoll(c, dec("9700"), t0)
		assert.Equal(t, domain.ChallengeActive, next.Status)
		assert.Nil(t, next.PendingFailureAt)
		assert.True(t, next.StartOfDayBalance.Equal(dec("9700")))
	})
}

func TestSameUTCDay(t *testing.T) {
	assert.True(t, SameUTCDay(t0, t0.Add(8*time.Hour)))
	assert.False(t, SameUTCDay(t0, t0.Add(9*time.Hour)))
}
