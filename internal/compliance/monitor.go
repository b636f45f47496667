// Package compliance enforces hard account limits, soft warnings, and
// predictive alerts over candidate trade directives.
package compliance

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/apexguard/guardian/internal/domain"
)

// Monitor runs the ordered compliance layers and owns the emergency path.
// Layer precedence is deterministic: evaluation stops the moment a layer
// produces a CRITICAL violation, so CRITICAL always outranks WARNING and INFO.
type Monitor struct {
	mu     sync.RWMutex
	limits Limits
	layers []Layer
}

// NewMonitor creates a monitor with the standard layer ordering:
// hard limits, soft warnings, predictive.
func NewMonitor(limits Limits, predictive PredictiveLayer) *Monitor {
	return &Monitor{
		limits: limits,
		layers: []Layer{HardLimitLayer{}, SoftWarningLayer{}, predictive},
	}
}

// Check evaluates a proposal against the current account state. When a
// CRITICAL violation fires while a position is open, the returned
// EmergencyStop instructs downstream consumers to flatten.
func (m *Monitor) Check(p Proposal, acct domain.AccountState, now time.Time) (domain.ComplianceResult, *domain.EmergencyStop) {
	m.mu.RLock()
	limits := m.limits
	layers := m.layers
	m.mu.RUnlock()

	merged := domain.ComplianceResult{AllowTrade: true}
	for _, layer := range layers {
		partial := layer.Evaluate(p, acct, limits, now)
		merged = merged.Merge(partial)
		if partial.HasCritical() {
			// Deny immediately; later layers never see a doomed proposal.
			break
		}
	}

	var stop *domain.EmergencyStop
	if merged.HasCritical() {
		log.Warn().Str("instrument", p.Instrument).Int("violations", len(merged.Violations)).
			Msg("compliance denied directive")
		if acct.OpenPositionRisk > 0 {
			first := firstCritical(merged.Violations)
			stop = &domain.EmergencyStop{
				Instrument: p.Instrument,
				Rule:       first.Rule,
				Message:    first.Message,
				Timestamp:  now,
			}
			log.Error().Str("instrument", p.Instrument).Str("rule", first.Rule).
				Msg("emergency stop emitted with open position")
		}
	}
	return merged, stop
}

func firstCritical(violations []domain.Violation) domain.Violation {
	for _, v := range violations {
		if v.Severity == domain.SeverityCritical {
			return v
		}
	}
	return domain.Violation{}
}

// Limits returns the active limits.
func (m *Monitor) Limits() Limits {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.limits
}

// SetLimits applies an administrative limits update.
func (m *Monitor) SetLimits(limits Limits) {
	m.mu.Lock()
	m.limits = limits
	m.mu.Unlock()
	log.Info().Float64("daily_loss_limit", limits.DailyLossLimit).
		Float64("max_drawdown_pct", limits.MaxDrawdownPct).
		Msg("compliance limits updated")
}
