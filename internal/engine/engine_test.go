package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexguard/guardian/internal/account"
	"github.com/apexguard/guardian/internal/cadence"
	"github.com/apexguard/guardian/internal/compliance"
	"github.com/apexguard/guardian/internal/domain"
	"github.com/apexguard/guardian/internal/ledger"
	"github.com/apexguard/guardian/internal/risk"
	"github.com/apexguard/guardian/internal/sizing"
	"github.com/apexguard/guardian/internal/snapshot"
)

type capturePublisher struct {
	mu         sync.Mutex
	directives []domain.TradeDirective
	stops      []domain.EmergencyStop
	risks      []domain.RiskState
	order      []string
}

func (p *capturePublisher) PublishDirective(d domain.TradeDirective) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.directives = append(p.directives, d)
	p.order = append(p.order, "directive")
}

func (p *capturePublisher) PublishEmergencyStop(e domain.EmergencyStop) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops = append(p.stops, e)
	p.order = append(p.order, "emergency")
}

func (p *capturePublisher) PublishRiskState(s domain.RiskState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.risks = append(p.risks, s)
}

func (p *capturePublisher) directiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.directives)
}

func (p *capturePublisher) lastDirective() domain.TradeDirective {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.directives[len(p.directives)-1]
}

type harness struct {
	engine    *Engine
	publisher *capturePublisher
	ledger    *ledger.Ledger
	accounts  *account.Store
	snapshots snapshot.Store
}

func newHarness(t *testing.T, acct domain.AccountState, snaps snapshot.Store) *harness {
	t.Helper()

	led := ledger.New(ledger.DefaultConfig())
	tracker := cadence.New(cadence.DefaultConfig())
	accounts := account.NewStore(acct)
	pub := &capturePublisher{}
	if snaps == nil {
		snaps = snapshot.NewMemoryStore()
	}

	cfg := DefaultConfig()
	cfg.RiskStateInterval = 0 // keep the snapshot loop out of unit tests

	e := New(cfg, Deps{
		Ledger:    led,
		Tracker:   tracker,
		Sizer:     sizing.NewEngine(sizing.DefaultConfig(), led),
		Levels:    risk.NewCalculator(risk.NeutralSessionConfig()),
		Monitor:   compliance.NewMonitor(compliance.DefaultLimits(), compliance.NewPredictiveLayer(9, 17)),
		Accounts:  accounts,
		Snapshots: snaps,
		Publisher: pub,
	})
	e.Start(context.Background())
	t.Cleanup(e.Stop)

	return &harness{engine: e, publisher: pub, ledger: led, accounts: accounts, snapshots: snaps}
}

// seedWinRate records n synthetic outcomes with the given number of wins so
// the blended rate equals wins/n at full weight.
func seedWinRate(led *ledger.Ledger, instrument string, n, wins int) {
	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		result := domain.ResultLoss
		if i < wins {
			result = domain.ResultWin
		}
		led.Record(domain.TradeOutcome{
			Instrument: instrument,
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
			Result:     result,
			RealizedRR: 1.0,
		})
	}
}

func waitDirectives(t *testing.T, pub *capturePublisher, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pub.directiveCount() >= n {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("expected %d directives, got %d", n, pub.directiveCount())
}

func reading(instrument string) domain.SignalReading {
	return domain.SignalReading{
		Instrument: instrument,
		Timestamp:  time.Date(2025, 6, 2, 10, 30, 0, 0, time.UTC),
		Strength:   50,
		Tier:       domain.TierL4,
		TrendState: domain.TrendBullish,
		ATR:        10.0,
		EntryPrice: 15000.0,
	}
}

func TestEngine_ApprovedDirectiveArithmetic(t *testing.T) {
	h := newHarness(t, domain.AccountState{Equity: 50000, PeakEquity: 50000}, nil)
	seedWinRate(h.ledger, "NQ", 100, 60)

	require.True(t, h.engine.Submit(reading("NQ")))
	waitDirectives(t, h.publisher, 1)

	d := h.publisher.lastDirective()
	assert.True(t, d.Allow)
	assert.Equal(t, domain.DirectionLong, d.Direction)
	assert.NotEmpty(t, d.ID)

	// atr=10, trend strength 0.5: stop 17.25, target 18.0, b=1.0435.
	// p=0.6 full Kelly 0.2167, half 0.1083, size 50000*0.1083.
	assert.InDelta(t, 1.0435, d.RewardRiskRatio, 1e-3)
	assert.InDelta(t, 5416.67, d.SizeDollars, 0.5)
	assert.InDelta(t, 15000-17.25, d.StopPrice, 1e-9)
	assert.InDelta(t, 15000+18.0, d.TargetPrice, 1e-9)
	assert.Empty(t, d.DenialReason)
	assert.True(t, d.Compliance.AllowTrade)
}

func TestEngine_NeutralTrendDenied(t *testing.T) {
	h := newHarness(t, domain.AccountState{Equity: 50000}, nil)
	seedWinRate(h.ledger, "NQ", 100, 60)

	r := reading("NQ")
	r.TrendState = domain.TrendNeutral
	require.True(t, h.engine.Submit(r))
	waitDirectives(t, h.publisher, 1)

	d := h.publisher.lastDirective()
	assert.False(t, d.Allow)
	assert.Equal(t, domain.DenialTrendFilter, d.DenialReason)
	assert.Equal(t, domain.DirectionFlat, d.Direction)
	// Denied directives still carry the computed levels for display.
	assert.Greater(t, d.RewardRiskRatio, 0.0)
}

func TestEngine_InvalidReadingDenied(t *testing.T) {
	h := newHarness(t, domain.AccountState{Equity: 50000}, nil)

	r := reading("NQ")
	r.Tier = domain.TierL1 // below the L2 minimum
	require.True(t, h.engine.Submit(r))
	waitDirectives(t, h.publisher, 1)

	d := h.publisher.lastDirective()
	assert.False(t, d.Allow)
	assert.Equal(t, domain.DenialInvalidInput, d.DenialReason)
	assert.Zero(t, d.SizeDollars)
}

func TestEngine_NoEdgeDenied(t *testing.T) {
	h := newHarness(t, domain.AccountState{Equity: 50000}, nil)
	seedWinRate(h.ledger, "NQ", 100, 40) // p=0.4 at b≈1.04 has negative edge

	require.True(t, h.engine.Submit(reading("NQ")))
	waitDirectives(t, h.publisher, 1)

	d := h.publisher.lastDirective()
	assert.False(t, d.Allow)
	assert.Equal(t, domain.DenialNoEdge, d.DenialReason)
	assert.Zero(t, d.SizeDollars)
}

func TestEngine_CautiousBandReducesSize(t *testing.T) {
	h := newHarness(t, domain.AccountState{Equity: 50000, PeakEquity: 50000}, nil)
	seedWinRate(h.ledger, "NQ", 100, 60)

	r := reading("NQ")
	r.Tier = domain.TierL2 // confidence 0.55: above floor, below full band
	require.True(t, h.engine.Submit(r))
	waitDirectives(t, h.publisher, 1)

	d := h.publisher.lastDirective()
	assert.True(t, d.Allow)
	assert.True(t, d.Cautious)
	assert.InDelta(t, 5416.67*0.5, d.SizeDollars, 0.5)
}

func TestEngine_LowConfidenceDenied(t *testing.T) {
	h := newHarness(t, domain.AccountState{Equity: 50000, PeakEquity: 50000}, nil)
	seedWinRate(h.ledger, "NQ", 100, 60)

	r := reading("NQ")
	r.Tier = domain.TierL2
	r.Strength = 20 // confidence 0.43, below the 0.5 floor
	require.True(t, h.engine.Submit(r))
	waitDirectives(t, h.publisher, 1)

	d := h.publisher.lastDirective()
	assert.False(t, d.Allow)
	assert.Equal(t, domain.DenialLowConfidence, d.DenialReason)
}

func TestEngine_OutcomeHintFoldsIntoLedger(t *testing.T) {
	h := newHarness(t, domain.AccountState{Equity: 50000}, nil)

	r := reading("NQ")
	r.OutcomeHint = &domain.OutcomeHint{Result: domain.ResultLoss, RealizedRR: -1.0}
	require.True(t, h.engine.Submit(r))
	waitDirectives(t, h.publisher, 1)

	assert.Equal(t, 1, h.ledger.SampleSize("NQ"))

	// Same timestamp again: the duplicate is a no-op.
	require.True(t, h.engine.Submit(r))
	waitDirectives(t, h.publisher, 2)
	assert.Equal(t, 1, h.ledger.SampleSize("NQ"))
}

func TestEngine_ComplianceDenialWithoutOpenPosition(t *testing.T) {
	h := newHarness(t, domain.AccountState{Equity: 47400, PeakEquity: 50000, DailyPnL: -2600}, nil)
	seedWinRate(h.ledger, "NQ", 100, 60)

	require.True(t, h.engine.Submit(reading("NQ")))
	waitDirectives(t, h.publisher, 1)

	d := h.publisher.lastDirective()
	assert.False(t, d.Allow)
	assert.Equal(t, domain.DenialComplianceDenied, d.DenialReason)
	assert.False(t, d.Compliance.AllowTrade)

	h.publisher.mu.Lock()
	stops := len(h.publisher.stops)
	h.publisher.mu.Unlock()
	assert.Zero(t, stops, "no emergency stop without an open position")
}

func TestEngine_EmergencyStopPausesAndClears(t *testing.T) {
	h := newHarness(t, domain.AccountState{
		Equity: 47000, PeakEquity: 50000, DailyPnL: -2600, OpenPositionRisk: 500,
	}, nil)
	seedWinRate(h.ledger, "NQ", 100, 60)

	require.True(t, h.engine.Submit(reading("NQ")))
	waitDirectives(t, h.publisher, 1)

	h.publisher.mu.Lock()
	require.Len(t, h.publisher.stops, 1)
	assert.Equal(t, "daily_loss", h.publisher.stops[0].Rule)
	assert.Equal(t, []string{"emergency", "directive"}, h.publisher.order,
		"emergency stop is published before the directive it eclipses")
	h.publisher.mu.Unlock()

	// The pause survives into the snapshot store.
	state, err := h.snapshots.Load(context.Background(), "NQ")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.True(t, state.Paused)
	assert.Equal(t, "daily_loss", state.PausedRule)

	// Subsequent readings are denied while paused.
	require.True(t, h.engine.Submit(reading("NQ")))
	waitDirectives(t, h.publisher, 2)
	assert.Equal(t, domain.DenialEmergencyStop, h.publisher.lastDirective().DenialReason)

	// Manual clear plus a recovered account lets trading resume.
	h.accounts.Update(domain.AccountState{Equity: 50000, PeakEquity: 50000})
	require.True(t, h.engine.ClearEmergency("NQ"))
	require.True(t, h.engine.Submit(reading("NQ")))
	waitDirectives(t, h.publisher, 3)
	assert.True(t, h.publisher.lastDirective().Allow)
}

func TestEngine_ClearEmergencyUnknownInstrument(t *testing.T) {
	h := newHarness(t, domain.AccountState{Equity: 50000}, nil)
	assert.False(t, h.engine.ClearEmergency("ES"))
}

func TestEngine_RestoresWorkerFromSnapshot(t *testing.T) {
	snaps := snapshot.NewMemoryStore()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	outcomes := []domain.TradeOutcome{
		{Instrument: "NQ", Timestamp: base, Result: domain.ResultLoss, RealizedRR: -1},
		{Instrument: "NQ", Timestamp: base.Add(time.Minute), Result: domain.ResultWin, RealizedRR: 1.5},
	}
	require.NoError(t, snaps.Save(context.Background(), snapshot.WorkerState{
		Instrument: "NQ",
		Outcomes:   outcomes,
		Paused:     true,
		PausedRule: "max_drawdown",
	}))

	h := newHarness(t, domain.AccountState{Equity: 50000, PeakEquity: 50000}, snaps)

	require.True(t, h.engine.Submit(reading("NQ")))
	waitDirectives(t, h.publisher, 1)

	d := h.publisher.lastDirective()
	assert.Equal(t, domain.DenialEmergencyStop, d.DenialReason)
	assert.Equal(t, 2, h.ledger.SampleSize("NQ"), "outcome window replayed from snapshot")
}

func TestEngine_RiskStateReflectsCounters(t *testing.T) {
	h := newHarness(t, domain.AccountState{Equity: 48000, PeakEquity: 50000, DailyPnL: -500}, nil)
	seedWinRate(h.ledger, "NQ", 100, 60)

	require.True(t, h.engine.Submit(reading("NQ")))
	neutral := reading("NQ")
	neutral.TrendState = domain.TrendNeutral
	require.True(t, h.engine.Submit(neutral))
	waitDirectives(t, h.publisher, 2)

	state := h.engine.RiskState()
	assert.Equal(t, int64(1), state.Directives)
	assert.Equal(t, int64(1), state.Denials)
	assert.InDelta(t, 0.04, state.Drawdown, 1e-9)
	assert.True(t, state.TradingEnabled)
	assert.False(t, state.EmergencyActive)
}

func TestEngine_InstrumentsAreIndependent(t *testing.T) {
	h := newHarness(t, domain.AccountState{Equity: 50000, PeakEquity: 50000}, nil)
	seedWinRate(h.ledger, "NQ", 100, 60)
	seedWinRate(h.ledger, "ES", 100, 60)

	es := reading("ES")
	es.ATR = 5.0
	es.EntryPrice = 5000.0
	require.True(t, h.engine.Submit(reading("NQ")))
	require.True(t, h.engine.Submit(es))
	waitDirectives(t, h.publisher, 2)

	h.publisher.mu.Lock()
	defer h.publisher.mu.Unlock()
	seen := map[string]bool{}
	for _, d := range h.publisher.directives {
		seen[d.Instrument] = true
		assert.True(t, d.Allow)
	}
	assert.True(t, seen["NQ"] && seen["ES"])
}

func TestEngine_SubmitBeforeStartIsRefused(t *testing.T) {
	led := ledger.New(ledger.DefaultConfig())
	e := New(DefaultConfig(), Deps{
		Ledger:    led,
		Tracker:   cadence.New(cadence.DefaultConfig()),
		Sizer:     sizing.NewEngine(sizing.DefaultConfig(), led),
		Levels:    risk.NewCalculator(risk.NeutralSessionConfig()),
		Monitor:   compliance.NewMonitor(compliance.DefaultLimits(), compliance.NewPredictiveLayer(9, 17)),
		Accounts:  account.NewStore(domain.AccountState{Equity: 50000, PeakEquity: 50000}),
		Publisher: &capturePublisher{},
	})

	assert.False(t, e.Submit(reading("NQ")))

	e.Start(context.Background())
	t.Cleanup(e.Stop)
	assert.True(t, e.Submit(reading("NQ")))
}
