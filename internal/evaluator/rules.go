package evaluator

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

func resultOf(c domain.Challenge, equity decimal.Decimal) Result {
	return Result{
		ChallengeID:      c.ID,
		Status:           c.Status,
		Phase:            c.Phase,
		Reason:           c.FailureReason,
		Equity:           equity,
		HighWaterMark:    c.HighWaterMark,
		PendingFailureAt: c.PendingFailureAt,
	}
}

func fail(c domain.Challenge, equity decimal.Decimal, now time.Time, reason string) (domain.Challenge, Result) {
	if equity.GreaterThan(c.HighWaterMark) {
		c.HighWaterMark = equity
	}
	c.Status = domain.ChallengeFailed
	c.FailureReason = reason
	c.PendingFailureAt = nil
	c.CompletedAt = &now
	res := resultOf(c, equity)
	res.Transitioned = true
	return c, res
}

func dailyLossBreached(c domain.Challenge, equity decimal.Decimal) bool {
	limit := c.Rules.MaxDailyLoss
	return limit.IsPositive() && c.StartOfDayBalance.Sub(equity).GreaterThanOrEqual(limit)
}

// Decide applies the challenge rules to c at the given equity and returns the
// next state. Checks run in priority order: time limit, max drawdown, daily
// loss, profit target, then the high-water mark. Terminal challenges are
// returned unchanged.
func Decide(c domain.Challenge, equity decimal.Decimal, now time.Time, grace time.Duration) (domain.Challenge, Result) {
	if c.Status.Terminal() {
		return c, resultOf(c, equity)
	}

	if c.EndsAt != nil && now.After(*c.EndsAt) {
		return fail(c, equity, now, ReasonTimeLimit)
	}

	if limit := c.Rules.MaxDrawdown; limit.IsPositive() && c.HighWaterMark.Sub(equity).GreaterThanOrEqual(limit) {
		return fail(c, equity, now, ReasonMaxDrawdown)
	}

	if dailyLossBreached(c, equity) {
		if c.PendingFailureAt == nil {
			c.PendingFailureAt = &now
		} else if now.Sub(*c.PendingFailureAt) >= grace {
			return fail(c, equity, now, ReasonDailyLoss)
		}
		res := resultOf(c, equity)
		res.Reason = ReasonDailyLossPending
		return c, res
	}

	if target := c.Rules.ProfitTarget; target.IsPositive() && equity.Sub(c.StartingBalance).GreaterThanOrEqual(target) {
		if c.Phase == domain.PhaseChallenge || c.Phase == domain.PhaseVerification {
			c.Phase = domain.PhaseFunded
			c.CurrentBalance = c.StartingBalance
			c.HighWaterMark = c.StartingBalance
			c.StartOfDayBalance = c.StartingBalance
			c.EndsAt = nil
			c.PendingFailureAt = nil
			c.PhaseStartedAt = now
			res := resultOf(c, equity)
			res.Reason = ReasonFunded
			res.Transitioned = true
			return c, res
		}
		if equity.GreaterThan(c.HighWaterMark) {
			c.HighWaterMark = equity
		}
		c.Status = domain.ChallengePassed
		c.FailureReason = ""
		c.PendingFailureAt = nil
		c.CompletedAt = &now
		res := resultOf(c, equity)
		res.Reason = ReasonPassed
		res.Transitioned = true
		return c, res
	}

	if equity.GreaterThan(c.HighWaterMark) {
		c.HighWaterMark = equity
	}
	c.PendingFailureAt = nil
	return c, resultOf(c, equity)
}

// DailyRoll applies the day boundary to c. It is a no-op when c was already
// rolled on now's UTC date.
func DailyRoll(c domain.Challenge, equity decimal.Decimal, now time.Time) (domain.Challenge, Result) {
	if c.Status.Terminal() {
		return c, resultOf(c, equity)
	}
	if c.LastDailyResetAt != nil && SameUTCDay(*c.LastDailyResetAt, now) {
		return c, resultOf(c, equity)
	}

	if c.PendingFailureAt != nil && dailyLossBreached(c, equity) {
		return fail(c, equity, now, ReasonDailyLoss)
	}

	c.StartOfDayBalance = equity
	c.PendingFailureAt = nil
	c.LastDailyResetAt = &now
	if equity.GreaterThan(c.HighWaterMark) {
		c.HighWaterMark = equity
	}
	return c, resultOf(c, equity)
}

// SameUTCDay reports whether a and b fall on the same UTC calendar date.
func SameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
