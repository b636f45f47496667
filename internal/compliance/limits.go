package compliance

import (
	"errors"
	"fmt"
)

// Limits are the hard account-protection rules supplied at startup. Immutable
// during a session except through an explicit administrative update.
type Limits struct {
	DailyLossLimit     float64 `yaml:"daily_loss_limit" json:"daily_loss_limit"`           // dollars
	MaxDrawdownPct     float64 `yaml:"max_drawdown_pct" json:"max_drawdown_pct"`           // fraction of peak equity
	TrailingStopPct    float64 `yaml:"trailing_stop_pct" json:"trailing_stop_pct"`         // fraction below peak equity
	MaxPositionRiskPct float64 `yaml:"max_position_risk_pct" json:"max_position_risk_pct"` // fraction of equity per trade
	SoftThreshold      float64 `yaml:"soft_threshold" json:"soft_threshold"`               // warning band as fraction of each hard limit
}

// DefaultLimits returns the documented defaults: $2500 daily loss, 8% max
// drawdown, 5% trailing stop, 25% per-trade risk cap, warnings at 80%.
func DefaultLimits() Limits {
	return Limits{
		DailyLossLimit:     2500.0,
		MaxDrawdownPct:     0.08,
		TrailingStopPct:    0.05,
		MaxPositionRiskPct: 0.25,
		SoftThreshold:      0.8,
	}
}

// PerTradeCap converts the position-risk fraction to dollars at current equity.
func (l Limits) PerTradeCap(equity float64) float64 {
	return equity * l.MaxPositionRiskPct
}

// ErrInvalidLimits rejects a malformed administrative limits update.
var ErrInvalidLimits = errors.New("invalid limits")

// Validate checks an administrative update before it is applied.
func (l Limits) Validate() error {
	if l.DailyLossLimit <= 0 {
		return fmt.Errorf("%w: daily loss limit must be positive", ErrInvalidLimits)
	}
	if l.MaxDrawdownPct <= 0 || l.MaxDrawdownPct >= 1 {
		return fmt.Errorf("%w: max drawdown must be in (0,1)", ErrInvalidLimits)
	}
	if l.TrailingStopPct <= 0 || l.TrailingStopPct >= 1 {
		return fmt.Errorf("%w: trailing stop must be in (0,1)", ErrInvalidLimits)
	}
	if l.MaxPositionRiskPct <= 0 || l.MaxPositionRiskPct > 1 {
		return fmt.Errorf("%w: position risk cap must be in (0,1]", ErrInvalidLimits)
	}
	if l.SoftThreshold <= 0 || l.SoftThreshold >= 1 {
		return fmt.Errorf("%w: soft threshold must be in (0,1)", ErrInvalidLimits)
	}
	return nil
}
