package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChallengePhase is the stage of the evaluation path a challenge is in.
type ChallengePhase string

const (
	PhaseChallenge    ChallengePhase = "challenge"
	PhaseVerification ChallengePhase = "verification"
	PhaseFunded       ChallengePhase = "funded"
)

// ChallengeStatus is the lifecycle state of a challenge.
type ChallengeStatus string

const (
	ChallengeActive    ChallengeStatus = "active"
	ChallengePassed    ChallengeStatus = "passed"
	ChallengeFailed    ChallengeStatus = "failed"
	ChallengeCancelled ChallengeStatus = "cancelled"
)

// Terminal reports whether no further trading or evaluation can change the status.
func (s ChallengeStatus) Terminal() bool {
	return s == ChallengePassed || s == ChallengeFailed || s == ChallengeCancelled
}

// RulesConfig holds the immutable risk parameters a challenge was created with.
// Percentages are fractions (0.10 = 10%). The absolute thresholds are derived
// from the starting balance at creation time.
type RulesConfig struct {
	MaxTotalDrawdownPercent     decimal.Decimal `json:"max_total_drawdown_percent"`
	MaxDailyDrawdownPercent     decimal.Decimal `json:"max_daily_drawdown_percent"`
	ProfitTargetPercent         decimal.Decimal `json:"profit_target_percent"`
	MaxPositionSizePercent      decimal.Decimal `json:"max_position_size_percent"`
	MaxCategoryExposurePercent  decimal.Decimal `json:"max_category_exposure_percent"`
	MinMarketVolume             decimal.Decimal `json:"min_market_volume"`
	LowVolumeThreshold          decimal.Decimal `json:"low_volume_threshold"`
	LowVolumeMaxPositionPercent decimal.Decimal `json:"low_volume_max_position_percent"`
	MaxVolumeImpactPercent      decimal.Decimal `json:"max_volume_impact_percent"`
	MaxOpenPositions            int             `json:"max_open_positions"`
	DurationDays                int             `json:"duration_days"`

	ProfitTarget decimal.Decimal `json:"profit_target"`
	MaxDrawdown  decimal.Decimal `json:"max_drawdown"`
	MaxDailyLoss decimal.Decimal `json:"max_daily_loss"`
}

// WithThresholds returns a copy of r with the absolute dollar thresholds
// computed from startingBalance.
func (r RulesConfig) WithThresholds(startingBalance decimal.Decimal) RulesConfig {
	r.ProfitTarget = startingBalance.Mul(r.ProfitTargetPercent)
	r.MaxDrawdown = startingBalance.Mul(r.MaxTotalDrawdownPercent)
	r.MaxDailyLoss = startingBalance.Mul(r.MaxDailyDrawdownPercent)
	return r
}

// Challenge is a simulated evaluation account.
type Challenge struct {
	ID                string
	Owner             string
	Tier              string
	Phase             ChallengePhase
	Status            ChallengeStatus
	StartingBalance   decimal.Decimal
	CurrentBalance    decimal.Decimal
	StartOfDayBalance decimal.Decimal
	HighWaterMark     decimal.Decimal
	Rules             RulesConfig
	StartedAt         time.Time
	EndsAt            *time.Time
	PendingFailureAt  *time.Time
	PhaseStartedAt    time.Time
	LastDailyResetAt  *time.Time
	FailureReason     string
	CompletedAt       *time.Time
	ArchivedAt        *time.Time
	UpdatedAt         time.Time
}

// Active reports whether the challenge accepts trades.
func (c Challenge) Active() bool { return c.Status == ChallengeActive }
