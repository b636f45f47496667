// Package ledger maintains the bounded rolling history of trade outcomes
// that feeds position sizing.
package ledger

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/apexguard/guardian/internal/domain"
)

// Config holds the rolling-window parameters.
type Config struct {
	WindowSize       int     `yaml:"window_size"`        // max retained outcomes per instrument
	BaselineWinRate  float64 `yaml:"baseline_win_rate"`  // prior blended in at low sample sizes
	FullWeightSample int     `yaml:"full_weight_sample"` // sample size at which actual rate gets full weight
}

// DefaultConfig returns the documented defaults: 100-trade window blended
// against a 0.5 baseline.
func DefaultConfig() Config {
	return Config{
		WindowSize:       100,
		BaselineWinRate:  0.5,
		FullWeightSample: 100,
	}
}

type instrumentHistory struct {
	outcomes []domain.TradeOutcome
	seen     map[string]struct{}
	wins     int
}

// Ledger is an append-only, bounded outcome history partitioned by instrument.
// Duplicate outcomes (same instrument+timestamp) are no-ops.
type Ledger struct {
	mu      sync.RWMutex
	cfg     Config
	history map[string]*instrumentHistory
}

// New creates a ledger with the given configuration.
func New(cfg Config) *Ledger {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultConfig().WindowSize
	}
	if cfg.FullWeightSample <= 0 {
		cfg.FullWeightSample = DefaultConfig().FullWeightSample
	}
	return &Ledger{
		cfg:     cfg,
		history: make(map[string]*instrumentHistory),
	}
}

// Record appends an outcome, evicting the oldest entry beyond the window.
// Returns true if the outcome was applied, false if it was a duplicate.
func (l *Ledger) Record(outcome domain.TradeOutcome) bool {
	if err := outcome.Validate(); err != nil {
		log.Warn().Err(err).Str("instrument", outcome.Instrument).Msg("ledger rejected outcome")
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	h := l.history[outcome.Instrument]
	if h == nil {
		h = &instrumentHistory{seen: make(map[string]struct{})}
		l.history[outcome.Instrument] = h
	}

	key := outcome.Key()
	if _, dup := h.seen[key]; dup {
		log.Debug().Str("instrument", outcome.Instrument).Str("key", key).Msg("duplicate outcome ignored")
		return false
	}

	h.outcomes = append(h.outcomes, outcome)
	h.seen[key] = struct{}{}
	if outcome.Result == domain.ResultWin {
		h.wins++
	}

	if len(h.outcomes) > l.cfg.WindowSize {
		evicted := h.outcomes[0]
		h.outcomes = h.outcomes[1:]
		delete(h.seen, evicted.Key())
		if evicted.Result == domain.ResultWin {
			h.wins--
		}
	}
	return true
}

// WinRate returns the confidence-weighted blend of the observed win rate and
// the baseline: rate = actual*w + baseline*(1-w), w = min(n/fullWeight, 1).
// With zero samples the baseline is returned unchanged.
func (l *Ledger) WinRate(instrument string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	h := l.history[instrument]
	if h == nil || len(h.outcomes) == 0 {
		return l.cfg.BaselineWinRate
	}

	n := len(h.outcomes)
	actual := float64(h.wins) / float64(n)
	w := float64(n) / float64(l.cfg.FullWeightSample)
	if w > 1.0 {
		w = 1.0
	}
	return actual*w + l.cfg.BaselineWinRate*(1.0-w)
}

// SampleSize returns the number of retained outcomes for an instrument.
func (l *Ledger) SampleSize(instrument string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if h := l.history[instrument]; h != nil {
		return len(h.outcomes)
	}
	return 0
}

// Reset discards the retained window for an instrument. Used when a worker
// is rebuilt from a snapshot and replays its saved outcomes.
func (l *Ledger) Reset(instrument string) {
	l.mu.Lock()
	delete(l.history, instrument)
	l.mu.Unlock()
}

// Outcomes returns a copy of the retained window for an instrument,
// oldest first.
func (l *Ledger) Outcomes(instrument string) []domain.TradeOutcome {
	l.mu.RLock()
	defer l.mu.RUnlock()
	h := l.history[instrument]
	if h == nil {
		return nil
	}
	out := make([]domain.TradeOutcome, len(h.outcomes))
	copy(out, h.outcomes)
	return out
}
