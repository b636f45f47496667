package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validReading() SignalReading {
	return SignalReading{
		Instrument: "NQ",
		Timestamp:  time.Date(2025, 6, 2, 9, 45, 0, 0, time.UTC),
		Strength:   72,
		Tier:       TierL3,
		TrendState: TrendBullish,
		ATR:        12.5,
		EntryPrice: 18250.0,
	}
}

func TestSignalReading_Validate_OK(t *testing.T) {
	require.NoError(t, validReading().Validate(TierL2))
}

func TestSignalReading_Validate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*SignalReading)
		want   error
	}{
		{"empty instrument", func(r *SignalReading) { r.Instrument = "" }, ErrEmptyInstrument},
		{"zero timestamp", func(r *SignalReading) { r.Timestamp = time.Time{} }, ErrZeroTimestamp},
		{"strength too high", func(r *SignalReading) { r.Strength = 101 }, ErrStrengthRange},
		{"strength negative", func(r *SignalReading) { r.Strength = -1 }, ErrStrengthRange},
		{"tier zero", func(r *SignalReading) { r.Tier = 0 }, ErrTierRange},
		{"tier below minimum", func(r *SignalReading) { r.Tier = TierL1 }, ErrTierBelowMin},
		{"bad trend", func(r *SignalReading) { r.TrendState = "sideways" }, ErrTrendState},
		{"zero atr", func(r *SignalReading) { r.ATR = 0 }, ErrInvalidATR},
		{"negative atr", func(r *SignalReading) { r.ATR = -3 }, ErrInvalidATR},
		{"zero price", func(r *SignalReading) { r.EntryPrice = 0 }, ErrInvalidPrice},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := validReading()
			tc.mutate(&r)
			err := r.Validate(TierL2)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestAccountState_Drawdown(t *testing.T) {
	a := AccountState{Equity: 47000, PeakEquity: 50000}
	assert.InDelta(t, 0.06, a.Drawdown(), 1e-9)

	// Above peak clamps to zero, never negative.
	a = AccountState{Equity: 51000, PeakEquity: 50000}
	assert.Zero(t, a.Drawdown())

	// Degenerate peak never divides by zero.
	a = AccountState{Equity: 100, PeakEquity: 0}
	assert.Zero(t, a.Drawdown())
}

func TestSessionAt(t *testing.T) {
	split := 12
	am := time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)
	pm := time.Date(2025, 6, 2, 14, 10, 0, 0, time.UTC)
	assert.Equal(t, SessionAM, SessionAt(am, split))
	assert.Equal(t, SessionPM, SessionAt(pm, split))
	assert.Equal(t, SessionPM, SessionAt(time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC), split))
}

func TestComplianceResult_Merge(t *testing.T) {
	hard := ComplianceResult{AllowTrade: false, Violations: []Violation{
		{Rule: "daily_loss", Severity: SeverityCritical, Message: "limit breached"},
	}}
	soft := ComplianceResult{AllowTrade: true, Violations: []Violation{
		{Rule: "daily_loss_soft", Severity: SeverityWarning, Message: "approaching limit"},
	}}

	merged := soft.Merge(hard)
	assert.False(t, merged.AllowTrade)
	assert.Len(t, merged.Violations, 2)
	assert.True(t, merged.HasCritical())
}

func TestDirectionFor(t *testing.T) {
	assert.Equal(t, DirectionLong, DirectionFor(TrendBullish))
	assert.Equal(t, DirectionShort, DirectionFor(TrendBearish))
	assert.Equal(t, DirectionFlat, DirectionFor(TrendNeutral))
}

func TestTradeOutcome_Key_StableAcrossZones(t *testing.T) {
	ts := time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)
	est := ts.In(time.FixedZone("EST", -5*3600))
	a := TradeOutcome{Instrument: "ES", Timestamp: ts, Result: ResultWin}
	b := TradeOutcome{Instrument: "ES", Timestamp: est, Result: ResultWin}
	assert.Equal(t, a.Key(), b.Key())
}

func TestParseTier(t *testing.T) {
	for _, s := range []string{"L1", "L2", "L3", "L4"} {
		tier, ok := ParseTier(s)
		require.True(t, ok)
		assert.Equal(t, s, tier.String())
	}
	_, ok := ParseTier("L5")
	assert.False(t, ok)
}
