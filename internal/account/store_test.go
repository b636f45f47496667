package account

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/apexguard/guardian/internal/domain"
)

func TestStore_SnapshotConsistency(t *testing.T) {
	s := NewStore(domain.AccountState{Equity: 50000})

	state, version := s.Snapshot()
	assert.Equal(t, 50000.0, state.Equity)
	assert.Equal(t, 50000.0, state.PeakEquity)
	assert.Equal(t, uint64(1), version)
}

func TestStore_PeakEquityRatchets(t *testing.T) {
	s := NewStore(domain.AccountState{Equity: 50000})

	s.Update(domain.AccountState{Equity: 52000})
	state, _ := s.Snapshot()
	assert.Equal(t, 52000.0, state.PeakEquity)

	// A drop in equity never lowers the peak.
	s.Update(domain.AccountState{Equity: 48000})
	state, _ = s.Snapshot()
	assert.Equal(t, 52000.0, state.PeakEquity)
	assert.InDelta(t, 1.0-48000.0/52000.0, state.Drawdown(), 1e-9)
}

func TestStore_ApplyPnL(t *testing.T) {
	s := NewStore(domain.AccountState{Equity: 50000})

	s.ApplyPnL(-1200)
	s.ApplyPnL(300)
	state, version := s.Snapshot()
	assert.InDelta(t, 49100.0, state.Equity, 1e-9)
	assert.InDelta(t, -900.0, state.DailyPnL, 1e-9)
	assert.Equal(t, uint64(3), version)
}

func TestStore_ResetDaily(t *testing.T) {
	s := NewStore(domain.AccountState{Equity: 50000})
	s.ApplyPnL(-500)
	s.ResetDaily()

	state, _ := s.Snapshot()
	assert.Zero(t, state.DailyPnL)
	assert.InDelta(t, 49500.0, state.Equity, 1e-9)
}

func TestStore_ConcurrentUpdates(t *testing.T) {
	s := NewStore(domain.AccountState{Equity: 100000})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				s.ApplyPnL(1)
			}
		}()
	}
	wg.Wait()

	state, version := s.Snapshot()
	assert.InDelta(t, 108000.0, state.Equity, 1e-9)
	assert.Equal(t, uint64(8001), version)
}
