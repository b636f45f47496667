// Package cadence tracks consecutive signal failures per trading session and
// derives the contrarian probability boost fed into sizing.
package cadence

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/apexguard/guardian/internal/domain"
)

// State is the per-(instrument, session) cadence state.
type State string

const (
	StateNeutral         State = "NEUTRAL"
	StateBuilding        State = "BUILDING"
	StateHighProbability State = "HIGH_PROBABILITY"
)

// Config holds session thresholds and the boost schedule.
type Config struct {
	AMThreshold   int     `yaml:"am_threshold"`   // consecutive losses for HIGH_PROBABILITY in AM
	PMThreshold   int     `yaml:"pm_threshold"`   // consecutive losses for HIGH_PROBABILITY in PM
	BuildingBoost float64 `yaml:"building_boost"` // additive win-rate adjustment in BUILDING
	HighProbBoost float64 `yaml:"high_prob_boost"`
	BoostEnabled  bool    `yaml:"boost_enabled"` // the mean-reversion heuristic is opt-out
	HistoryLimit  int     `yaml:"history_limit"` // retained transitions per instrument
}

// DefaultConfig returns the documented defaults: AM=2, PM=3, boosts
// +0.05/+0.15, heuristic enabled, 256 retained transitions.
func DefaultConfig() Config {
	return Config{
		AMThreshold:   2,
		PMThreshold:   3,
		BuildingBoost: 0.05,
		HighProbBoost: 0.15,
		BoostEnabled:  true,
		HistoryLimit:  256,
	}
}

// Snapshot is the externally visible cadence state.
type Snapshot struct {
	Instrument          string         `json:"instrument"`
	Session             domain.Session `json:"session"`
	State               State          `json:"state"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	LastTransition      time.Time      `json:"last_transition"`
}

// Transition is one audit-trail entry.
type Transition struct {
	Instrument string         `json:"instrument"`
	Session    domain.Session `json:"session"`
	From       State          `json:"from"`
	To         State          `json:"to"`
	Failures   int            `json:"failures"`
	At         time.Time      `json:"at"`
}

type slot struct {
	state     State
	failures  int
	lastMoved time.Time
}

// Tracker is the failure-cadence state machine. State is partitioned by
// (instrument, session); a win always resets to NEUTRAL.
type Tracker struct {
	mu      sync.Mutex
	cfg     Config
	slots   map[string]map[domain.Session]*slot
	history []Transition
}

// New creates a tracker with the given configuration.
func New(cfg Config) *Tracker {
	if cfg.AMThreshold <= 0 {
		cfg.AMThreshold = DefaultConfig().AMThreshold
	}
	if cfg.PMThreshold <= 0 {
		cfg.PMThreshold = DefaultConfig().PMThreshold
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultConfig().HistoryLimit
	}
	return &Tracker{
		cfg:   cfg,
		slots: make(map[string]map[domain.Session]*slot),
	}
}

func (t *Tracker) slotFor(instrument string, session domain.Session) *slot {
	bySession := t.slots[instrument]
	if bySession == nil {
		bySession = make(map[domain.Session]*slot)
		t.slots[instrument] = bySession
	}
	s := bySession[session]
	if s == nil {
		s = &slot{state: StateNeutral}
		bySession[session] = s
	}
	return s
}

func (t *Tracker) threshold(session domain.Session) int {
	if session == domain.SessionAM {
		return t.cfg.AMThreshold
	}
	return t.cfg.PMThreshold
}

// RecordOutcome applies a win/loss to the state machine and returns the
// resulting snapshot. Losses count toward the session threshold; a win resets
// failures to zero and the state to NEUTRAL.
func (t *Tracker) RecordOutcome(instrument string, session domain.Session, result domain.Result, at time.Time) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.slotFor(instrument, session)
	from := s.state

	switch result {
	case domain.ResultWin:
		s.failures = 0
		s.state = StateNeutral
	case domain.ResultLoss:
		s.failures++
		if s.failures >= t.threshold(session) {
			s.state = StateHighProbability
		} else {
			s.state = StateBuilding
		}
	default:
		return t.snapshotLocked(instrument, session, s)
	}

	if s.state != from {
		s.lastMoved = at
		t.appendTransitionLocked(Transition{
			Instrument: instrument,
			Session:    session,
			From:       from,
			To:         s.state,
			Failures:   s.failures,
			At:         at,
		})
		log.Debug().Str("instrument", instrument).Str("session", string(session)).
			Str("from", string(from)).Str("to", string(s.state)).
			Int("failures", s.failures).Msg("cadence transition")
	}
	return t.snapshotLocked(instrument, session, s)
}

func (t *Tracker) appendTransitionLocked(tr Transition) {
	t.history = append(t.history, tr)
	if len(t.history) > t.cfg.HistoryLimit {
		t.history = t.history[len(t.history)-t.cfg.HistoryLimit:]
	}
}

func (t *Tracker) snapshotLocked(instrument string, session domain.Session, s *slot) Snapshot {
	return Snapshot{
		Instrument:          instrument,
		Session:             session,
		State:               s.state,
		ConsecutiveFailures: s.failures,
		LastTransition:      s.lastMoved,
	}
}

// Current returns the snapshot without mutating state.
func (t *Tracker) Current(instrument string, session domain.Session) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked(instrument, session, t.slotFor(instrument, session))
}

// ProbabilityBoost returns the additive win-rate adjustment for the current
// state. Returns zero when the heuristic is disabled.
func (t *Tracker) ProbabilityBoost(instrument string, session domain.Session) float64 {
	if !t.cfg.BoostEnabled {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.slotFor(instrument, session).state {
	case StateBuilding:
		return t.cfg.BuildingBoost
	case StateHighProbability:
		return t.cfg.HighProbBoost
	default:
		return 0
	}
}

// History returns a copy of the retained transition audit trail.
func (t *Tracker) History() []Transition {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Transition, len(t.history))
	copy(out, t.history)
	return out
}

// Reset reinitializes one instrument's cadence state, dropping its slots.
// Used by the worker restart path.
func (t *Tracker) Reset(instrument string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.slots, instrument)
}
