// Package sizing implements Kelly-criterion position sizing with a
// conservative safety factor.
package sizing

import (
	"github.com/rs/zerolog/log"

	"github.com/apexguard/guardian/internal/domain"
)

// WinRateSource supplies the blended win-rate estimate for an instrument.
type WinRateSource interface {
	WinRate(instrument string) float64
}

// Config holds the sizing parameters.
type Config struct {
	SafetyMultiplier   float64 `yaml:"safety_multiplier"`     // fraction of full Kelly (0.5 = half-Kelly)
	MaxPositionRiskPct float64 `yaml:"max_position_risk_pct"` // hard cap on capital fraction
	MinimumEdge        float64 `yaml:"minimum_edge"`          // below this the engine signals no-edge
}

// DefaultConfig returns the documented defaults: half-Kelly, 25% cap,
// 1% minimum edge.
func DefaultConfig() Config {
	return Config{
		SafetyMultiplier:   0.5,
		MaxPositionRiskPct: 0.25,
		MinimumEdge:        0.01,
	}
}

// Engine computes capital fractions from ledger statistics and a supplied
// reward:risk ratio.
type Engine struct {
	cfg    Config
	source WinRateSource
}

// NewEngine creates a sizing engine backed by the given win-rate source.
func NewEngine(cfg Config, source WinRateSource) *Engine {
	if cfg.SafetyMultiplier <= 0 {
		cfg.SafetyMultiplier = DefaultConfig().SafetyMultiplier
	}
	if cfg.MaxPositionRiskPct <= 0 {
		cfg.MaxPositionRiskPct = DefaultConfig().MaxPositionRiskPct
	}
	return &Engine{cfg: cfg, source: source}
}

// Size computes the recommendation for one instrument. boost is an additive
// adjustment to the win-rate estimate (cadence heuristic); equity converts the
// capped fraction to dollars. A non-positive reward:risk is an input error:
// the recommendation is zero with InvalidInput set, never negative or NaN.
func (e *Engine) Size(instrument string, rewardRisk, boost, equity float64) domain.PositionSizeRecommendation {
	if rewardRisk <= 0 {
		log.Warn().Str("instrument", instrument).Float64("reward_risk", rewardRisk).
			Msg("sizing rejected invalid reward:risk")
		return domain.PositionSizeRecommendation{InvalidInput: true}
	}

	p := e.source.WinRate(instrument) + boost
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	q := 1.0 - p

	full := (rewardRisk*p - q) / rewardRisk
	half := full * e.cfg.SafetyMultiplier

	capped := half
	if capped < 0 {
		capped = 0
	}
	if capped > e.cfg.MaxPositionRiskPct {
		capped = e.cfg.MaxPositionRiskPct
	}

	rec := domain.PositionSizeRecommendation{
		KellyFraction:     full,
		HalfKellyFraction: half,
		CappedFraction:    capped,
		DollarSize:        equity * capped,
		WinRate:           p,
		NoEdge:            capped <= e.cfg.MinimumEdge,
	}
	if rec.NoEdge {
		rec.DollarSize = 0
	}
	return rec
}

// ShouldTrade reports whether a recommendation clears the minimum-edge policy.
// Below the edge the engine signals no-edge rather than emitting a noise trade.
func (e *Engine) ShouldTrade(rec domain.PositionSizeRecommendation) bool {
	return !rec.InvalidInput && !rec.NoEdge && rec.CappedFraction > e.cfg.MinimumEdge
}
