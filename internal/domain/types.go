package domain

import (
	"time"
)

// Tier is the confirmation tier attached to a signal reading (L1 weakest, L4 strongest).
type Tier int

const (
	TierL1 Tier = iota + 1
	TierL2
	TierL3
	TierL4
)

func (t Tier) String() string {
	switch t {
	case TierL1:
		return "L1"
	case TierL2:
		return "L2"
	case TierL3:
		return "L3"
	case TierL4:
		return "L4"
	default:
		return "unknown"
	}
}

// ParseTier converts the wire representation ("L1".."L4") back to a Tier.
func ParseTier(s string) (Tier, bool) {
	switch s {
	case "L1":
		return TierL1, true
	case "L2":
		return TierL2, true
	case "L3":
		return TierL3, true
	case "L4":
		return TierL4, true
	default:
		return 0, false
	}
}

// TrendState is the trend-filter state reported alongside a signal.
type TrendState string

const (
	TrendBullish TrendState = "bullish"
	TrendBearish TrendState = "bearish"
	TrendNeutral TrendState = "neutral"
)

// Direction is the trade direction derived from the trend filter.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionFlat  Direction = "flat"
)

// DirectionFor maps a trend-filter state to a trade direction.
func DirectionFor(trend TrendState) Direction {
	switch trend {
	case TrendBullish:
		return DirectionLong
	case TrendBearish:
		return DirectionShort
	default:
		return DirectionFlat
	}
}

// Result is the terminal outcome of a completed trade.
type Result string

const (
	ResultWin  Result = "win"
	ResultLoss Result = "loss"
)

// Session splits the trading day for cadence thresholds and volatility adjustments.
type Session string

const (
	SessionAM Session = "AM"
	SessionPM Session = "PM"
)

// SessionAt classifies a timestamp using the configured split hour (local clock).
func SessionAt(ts time.Time, splitHour int) Session {
	if ts.Hour() < splitHour {
		return SessionAM
	}
	return SessionPM
}

// OutcomeHint reports the result of the prior signal, piggybacked on a reading.
type OutcomeHint struct {
	Result     Result  `json:"result"`
	RealizedRR float64 `json:"realized_rr"`
}

// SignalReading is the immutable input produced by the external capture subsystem.
type SignalReading struct {
	Instrument  string       `json:"instrument"`
	Timestamp   time.Time    `json:"timestamp"`
	Strength    int          `json:"strength"` // 0-100 power score
	Tier        Tier         `json:"tier"`
	TrendState  TrendState   `json:"trend_state"`
	ATR         float64      `json:"atr"`
	EntryPrice  float64      `json:"entry_price"`
	OutcomeHint *OutcomeHint `json:"outcome_hint,omitempty"`
}

// TradeOutcome is an append-only record of a completed trade, keyed by
// instrument+timestamp for idempotent delivery.
type TradeOutcome struct {
	Instrument string    `json:"instrument"`
	Timestamp  time.Time `json:"timestamp"`
	Result     Result    `json:"result"`
	RealizedRR float64   `json:"realized_rr"`
}

// Key uniquely identifies an outcome for duplicate suppression.
func (o TradeOutcome) Key() string {
	return o.Instrument + "|" + o.Timestamp.UTC().Format(time.RFC3339Nano)
}

// AccountState is the live account view fed in by the execution venue.
// The core recomputes derived fields (drawdown) itself.
type AccountState struct {
	Equity           float64 `json:"equity"`
	PeakEquity       float64 `json:"peak_equity"`
	DailyPnL         float64 `json:"daily_pnl"`
	OpenPositionRisk float64 `json:"open_position_risk"`
}

// Drawdown returns the current drawdown fraction from peak equity.
func (a AccountState) Drawdown() float64 {
	if a.PeakEquity <= 0 {
		return 0
	}
	dd := 1.0 - a.Equity/a.PeakEquity
	if dd < 0 {
		return 0
	}
	return dd
}

// Severity orders compliance violations: CRITICAL > WARNING > INFO.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Violation is a single compliance rule finding.
type Violation struct {
	Rule     string   `json:"rule"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// ComplianceResult is the merged verdict of all compliance layers.
type ComplianceResult struct {
	AllowTrade bool        `json:"allow_trade"`
	Violations []Violation `json:"violations,omitempty"`
}

// HasCritical reports whether any CRITICAL violation is present.
func (c ComplianceResult) HasCritical() bool {
	for _, v := range c.Violations {
		if v.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// Merge combines a partial layer result into this one. AllowTrade stays false
// once any contributor denies.
func (c ComplianceResult) Merge(other ComplianceResult) ComplianceResult {
	merged := ComplianceResult{
		AllowTrade: c.AllowTrade && other.AllowTrade,
		Violations: append(append([]Violation{}, c.Violations...), other.Violations...),
	}
	return merged
}

// RiskLevels is the stop/target derivation from the volatility calculator.
type RiskLevels struct {
	StopDistance    float64 `json:"stop_distance"`
	TargetDistance  float64 `json:"target_distance"`
	RewardRiskRatio float64 `json:"reward_risk_ratio"`
}

// PositionSizeRecommendation is the sizing engine output.
type PositionSizeRecommendation struct {
	KellyFraction     float64 `json:"kelly_fraction"`
	HalfKellyFraction float64 `json:"half_kelly_fraction"`
	CappedFraction    float64 `json:"capped_fraction"`
	DollarSize        float64 `json:"dollar_size"`
	WinRate           float64 `json:"win_rate"`
	NoEdge            bool    `json:"no_edge"`
	InvalidInput      bool    `json:"invalid_input"`
}

// DenialReason explains why a directive is non-actionable.
type DenialReason string

const (
	DenialNone             DenialReason = ""
	DenialInvalidInput     DenialReason = "InvalidInput"
	DenialEmergencyStop    DenialReason = "EmergencyStop"
	DenialComplianceDenied DenialReason = "ComplianceDenied"
	DenialNoEdge           DenialReason = "NoEdge"
	DenialTrendFilter      DenialReason = "TrendFilter"
	DenialLowConfidence    DenialReason = "LowConfidence"
)

// TradeDirective is the terminal, immutable artifact for one signal. Denied
// directives still carry the computed size and levels for downstream display.
type TradeDirective struct {
	ID              string                     `json:"id"`
	Instrument      string                     `json:"instrument"`
	Allow           bool                       `json:"allow"`
	Direction       Direction                  `json:"direction"`
	SizeDollars     float64                    `json:"size_dollars"`
	StopPrice       float64                    `json:"stop_price"`
	TargetPrice     float64                    `json:"target_price"`
	RewardRiskRatio float64                    `json:"reward_risk_ratio"`
	CadenceBoost    float64                    `json:"cadence_boost"`
	Confidence      float64                    `json:"confidence"`
	ConfidenceHint  float64                    `json:"confidence_hint,omitempty"`
	Cautious        bool                       `json:"cautious,omitempty"`
	Reasoning       []string                   `json:"reasoning,omitempty"`
	DenialReason    DenialReason               `json:"denial_reason,omitempty"`
	Compliance      ComplianceResult           `json:"compliance"`
	Sizing          PositionSizeRecommendation `json:"sizing"`
	GeneratedAt     time.Time                  `json:"generated_at"`
}

// EmergencyStop instructs downstream consumers to flatten. It is delivered
// ahead of any subsequent directive for the same instrument.
type EmergencyStop struct {
	Instrument string    `json:"instrument"`
	Rule       string    `json:"rule"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// RiskState is the periodic account-protection snapshot published downstream.
type RiskState struct {
	Timestamp        time.Time `json:"timestamp"`
	Equity           float64   `json:"equity"`
	PeakEquity       float64   `json:"peak_equity"`
	DailyPnL         float64   `json:"daily_pnl"`
	Drawdown         float64   `json:"drawdown"`
	OpenPositionRisk float64   `json:"open_position_risk"`
	TradingEnabled   bool      `json:"trading_enabled"`
	EmergencyActive  bool      `json:"emergency_active"`
	Directives       int64     `json:"directives"`
	Denials          int64     `json:"denials"`
}
