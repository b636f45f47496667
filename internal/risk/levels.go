// Package risk derives volatility-based stop/target levels and the
// reward:risk ratio fed into sizing.
package risk

import (
	"errors"
	"fmt"

	"github.com/apexguard/guardian/internal/domain"
)

// ErrInvalidATR is returned for a non-positive volatility measure. Callers
// must reject the reading: a zero-distance stop must never size a trade.
var ErrInvalidATR = errors.New("atr must be positive")

// SessionMultipliers adjust stop/target distances for intraday volatility
// asymmetry between sessions.
type SessionMultipliers struct {
	Stop   float64 `yaml:"stop"`
	Target float64 `yaml:"target"`
}

// Config holds the level-derivation parameters.
type Config struct {
	StopATRMultiplier   float64            `yaml:"stop_atr_multiplier"`   // base stop distance in ATRs
	TargetATRMultiplier float64            `yaml:"target_atr_multiplier"` // base target distance in ATRs
	Morning             SessionMultipliers `yaml:"morning"`
	Afternoon           SessionMultipliers `yaml:"afternoon"`
	TrendStopScale      float64            `yaml:"trend_stop_scale"`   // stop widens with trend strength
	TrendTargetScale    float64            `yaml:"trend_target_scale"` // target tightens with trend strength
}

// DefaultConfig returns the documented defaults: stop 1.5×ATR, target 2.0×ATR,
// morning 1.0/1.2, afternoon 1.2/0.9, trend scaling +0.3/-0.2.
func DefaultConfig() Config {
	return Config{
		StopATRMultiplier:   1.5,
		TargetATRMultiplier: 2.0,
		Morning:             SessionMultipliers{Stop: 1.0, Target: 1.2},
		Afternoon:           SessionMultipliers{Stop: 1.2, Target: 0.9},
		TrendStopScale:      0.3,
		TrendTargetScale:    0.2,
	}
}

// NeutralSessionConfig returns the defaults with session adjustment disabled,
// for venues where the AM/PM volatility asymmetry does not apply.
func NeutralSessionConfig() Config {
	cfg := DefaultConfig()
	cfg.Morning = SessionMultipliers{Stop: 1.0, Target: 1.0}
	cfg.Afternoon = SessionMultipliers{Stop: 1.0, Target: 1.0}
	return cfg
}

// Calculator derives stop/target distances from ATR and contextual multipliers.
type Calculator struct {
	cfg Config
}

// NewCalculator creates a calculator with the given configuration.
func NewCalculator(cfg Config) *Calculator {
	if cfg.StopATRMultiplier <= 0 || cfg.TargetATRMultiplier <= 0 {
		cfg = DefaultConfig()
	}
	return &Calculator{cfg: cfg}
}

// DeriveLevels computes the stop/target distances and reward:risk ratio.
// trendStrength must be in [0,1]; values outside are clamped.
func (c *Calculator) DeriveLevels(atr float64, session domain.Session, trendStrength float64) (domain.RiskLevels, error) {
	if atr <= 0 {
		return domain.RiskLevels{}, fmt.Errorf("%w: %.4f", ErrInvalidATR, atr)
	}

	if trendStrength < 0 {
		trendStrength = 0
	}
	if trendStrength > 1 {
		trendStrength = 1
	}

	sess := c.cfg.Morning
	if session == domain.SessionPM {
		sess = c.cfg.Afternoon
	}

	stop := atr * c.cfg.StopATRMultiplier * sess.Stop * (1.0 + c.cfg.TrendStopScale*trendStrength)
	target := atr * c.cfg.TargetATRMultiplier * sess.Target * (1.0 - c.cfg.TrendTargetScale*trendStrength)

	return domain.RiskLevels{
		StopDistance:    stop,
		TargetDistance:  target,
		RewardRiskRatio: target / stop,
	}, nil
}

// Prices converts distances to absolute stop/target prices for a direction.
// Flat directions get the long-side levels, purely for display.
func Prices(entry float64, direction domain.Direction, levels domain.RiskLevels) (stopPrice, targetPrice float64) {
	if direction == domain.DirectionShort {
		return entry + levels.StopDistance, entry - levels.TargetDistance
	}
	return entry - levels.StopDistance, entry + levels.TargetDistance
}
