// Package account holds the live account state fed in by the execution venue.
// Readers always observe a consistent snapshot via atomic pointer swap; there
// is no field-by-field locking.
package account

import (
	"sync/atomic"

	"github.com/apexguard/guardian/internal/domain"
)

// Store publishes versioned AccountState snapshots. Updates arrive from
// execution feedback concurrently with signal processing.
type Store struct {
	current atomic.Pointer[versioned]
}

type versioned struct {
	state   domain.AccountState
	version uint64
}

// NewStore creates a store seeded with the given initial state. Peak equity
// is initialized to equity when unset.
func NewStore(initial domain.AccountState) *Store {
	if initial.PeakEquity < initial.Equity {
		initial.PeakEquity = initial.Equity
	}
	s := &Store{}
	s.current.Store(&versioned{state: initial, version: 1})
	return s
}

// Snapshot returns the current consistent state and its version.
func (s *Store) Snapshot() (domain.AccountState, uint64) {
	v := s.current.Load()
	return v.state, v.version
}

// Update replaces the state wholesale. Peak equity is ratcheted: it never
// decreases across updates.
func (s *Store) Update(state domain.AccountState) {
	for {
		old := s.current.Load()
		if state.PeakEquity < old.state.PeakEquity {
			state.PeakEquity = old.state.PeakEquity
		}
		if state.PeakEquity < state.Equity {
			state.PeakEquity = state.Equity
		}
		next := &versioned{state: state, version: old.version + 1}
		if s.current.CompareAndSwap(old, next) {
			return
		}
	}
}

// ApplyPnL folds a realized P&L delta into equity and daily P&L.
func (s *Store) ApplyPnL(delta float64) {
	for {
		old := s.current.Load()
		state := old.state
		state.Equity += delta
		state.DailyPnL += delta
		if state.Equity > state.PeakEquity {
			state.PeakEquity = state.Equity
		}
		next := &versioned{state: state, version: old.version + 1}
		if s.current.CompareAndSwap(old, next) {
			return
		}
	}
}

// ResetDaily zeroes the daily P&L at the session boundary.
func (s *Store) ResetDaily() {
	for {
		old := s.current.Load()
		state := old.state
		state.DailyPnL = 0
		next := &versioned{state: state, version: old.version + 1}
		if s.current.CompareAndSwap(old, next) {
			return
		}
	}
}
