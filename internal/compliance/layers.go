package compliance

import (
	"fmt"
	"time"

	"github.com/apexguard/guardian/internal/domain"
)

// Proposal is the candidate directive handed to the monitor.
type Proposal struct {
	Instrument  string
	SizeDollars float64
}

// Layer is one independently pluggable compliance pass. Layers only add
// violations; the monitor owns merging and short-circuiting.
type Layer interface {
	Name() string
	Evaluate(p Proposal, acct domain.AccountState, limits Limits, now time.Time) domain.ComplianceResult
}

// HardLimitLayer checks account state directly against the hard limits.
// Any breach is CRITICAL and denies the trade.
type HardLimitLayer struct{}

func (HardLimitLayer) Name() string { return "hard_limits" }

func (HardLimitLayer) Evaluate(p Proposal, acct domain.AccountState, limits Limits, _ time.Time) domain.ComplianceResult {
	result := domain.ComplianceResult{AllowTrade: true}

	if acct.DailyPnL <= -limits.DailyLossLimit {
		result.Violations = append(result.Violations, domain.Violation{
			Rule:     "daily_loss",
			Severity: domain.SeverityCritical,
			Message:  fmt.Sprintf("daily P&L $%.2f breaches limit $%.2f", acct.DailyPnL, -limits.DailyLossLimit),
		})
	}

	if dd := acct.Drawdown(); dd >= limits.MaxDrawdownPct {
		result.Violations = append(result.Violations, domain.Violation{
			Rule:     "max_drawdown",
			Severity: domain.SeverityCritical,
			Message:  fmt.Sprintf("drawdown %.2f%% breaches limit %.2f%%", dd*100, limits.MaxDrawdownPct*100),
		})
	}

	if trailingFloor := acct.PeakEquity * (1.0 - limits.TrailingStopPct); acct.PeakEquity > 0 && acct.Equity <= trailingFloor {
		result.Violations = append(result.Violations, domain.Violation{
			Rule:     "trailing_stop",
			Severity: domain.SeverityCritical,
			Message:  fmt.Sprintf("equity $%.2f at or below trailing floor $%.2f", acct.Equity, trailingFloor),
		})
	}

	if cap := limits.PerTradeCap(acct.Equity); p.SizeDollars > cap {
		result.Violations = append(result.Violations, domain.Violation{
			Rule:     "position_size",
			Severity: domain.SeverityCritical,
			Message:  fmt.Sprintf("proposed size $%.2f exceeds per-trade cap $%.2f", p.SizeDollars, cap),
		})
	}

	if len(result.Violations) > 0 {
		result.AllowTrade = false
	}
	return result
}

// SoftWarningLayer raises non-blocking warnings when account state crosses
// the configured fraction (default 80%) of any hard limit.
type SoftWarningLayer struct{}

func (SoftWarningLayer) Name() string { return "soft_warnings" }

func (SoftWarningLayer) Evaluate(p Proposal, acct domain.AccountState, limits Limits, _ time.Time) domain.ComplianceResult {
	result := domain.ComplianceResult{AllowTrade: true}
	frac := limits.SoftThreshold
	if frac <= 0 {
		frac = DefaultLimits().SoftThreshold
	}

	if acct.DailyPnL <= -limits.DailyLossLimit*frac {
		result.Violations = append(result.Violations, domain.Violation{
			Rule:     "daily_loss_soft",
			Severity: domain.SeverityWarning,
			Message:  fmt.Sprintf("daily P&L $%.2f within %.0f%% of daily loss limit", acct.DailyPnL, frac*100),
		})
	}

	if dd := acct.Drawdown(); dd >= limits.MaxDrawdownPct*frac {
		result.Violations = append(result.Violations, domain.Violation{
			Rule:     "max_drawdown_soft",
			Severity: domain.SeverityWarning,
			Message:  fmt.Sprintf("drawdown %.2f%% within %.0f%% of drawdown limit", dd*100, frac*100),
		})
	}

	if cap := limits.PerTradeCap(acct.Equity); p.SizeDollars > cap*frac {
		result.Violations = append(result.Violations, domain.Violation{
			Rule:     "position_size_soft",
			Severity: domain.SeverityWarning,
			Message:  fmt.Sprintf("proposed size $%.2f within %.0f%% of per-trade cap", p.SizeDollars, frac*100),
		})
	}
	return result
}

// PredictiveLayer extrapolates the intraday loss rate to end of session.
// Forecast breaches are WARNING only: a predictive layer must never deny a
// trade on a projection alone.
type PredictiveLayer struct {
	SessionStartHour int
	SessionEndHour   int
}

// NewPredictiveLayer creates the layer with the configured session window.
func NewPredictiveLayer(startHour, endHour int) PredictiveLayer {
	if endHour <= startHour {
		startHour, endHour = 9, 17
	}
	return PredictiveLayer{SessionStartHour: startHour, SessionEndHour: endHour}
}

func (PredictiveLayer) Name() string { return "predictive" }

func (l PredictiveLayer) Evaluate(_ Proposal, acct domain.AccountState, limits Limits, now time.Time) domain.ComplianceResult {
	result := domain.ComplianceResult{AllowTrade: true}
	if acct.DailyPnL >= 0 {
		return result
	}

	sessionStart := time.Date(now.Year(), now.Month(), now.Day(), l.SessionStartHour, 0, 0, 0, now.Location())
	sessionEnd := time.Date(now.Year(), now.Month(), now.Day(), l.SessionEndHour, 0, 0, 0, now.Location())
	if !now.After(sessionStart) || !now.Before(sessionEnd) {
		return result
	}

	elapsed := now.Sub(sessionStart).Hours()
	total := sessionEnd.Sub(sessionStart).Hours()
	projected := acct.DailyPnL * (total / elapsed)

	if projected <= -limits.DailyLossLimit {
		result.Violations = append(result.Violations, domain.Violation{
			Rule:     "projected_daily_loss",
			Severity: domain.SeverityWarning,
			Message: fmt.Sprintf("loss rate projects $%.2f by session end, breaching daily limit $%.2f",
				projected, -limits.DailyLossLimit),
		})
	}
	return result
}
