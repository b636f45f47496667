package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/apexguard/guardian/internal/cadence"
	"github.com/apexguard/guardian/internal/compliance"
	"github.com/apexguard/guardian/internal/domain"
	"github.com/apexguard/guardian/internal/risk"
)

// process runs the full pipeline for one reading: validate, fold in the
// outcome hint, derive levels, size, score confidence, then clear compliance.
// Exactly one directive is emitted per accepted reading.
func (e *Engine) process(w *worker, reading domain.SignalReading) {
	started := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.DecisionDuration.Observe(time.Since(started).Seconds())
		}
	}()

	d := domain.TradeDirective{
		ID:          uuid.New().String(),
		Instrument:  reading.Instrument,
		GeneratedAt: time.Now().UTC(),
		Compliance:  domain.ComplianceResult{AllowTrade: true},
	}

	if err := reading.Validate(e.cfg.MinTier); err != nil {
		if e.metrics != nil {
			e.metrics.SignalsRejected.Inc()
		}
		log.Warn().Err(err).Str("instrument", reading.Instrument).Msg("signal reading rejected")
		d.DenialReason = domain.DenialInvalidInput
		d.Reasoning = append(d.Reasoning, "reading rejected: "+err.Error())
		e.emit(d)
		return
	}

	session := domain.SessionAt(reading.Timestamp, e.cfg.SessionSplitHour)

	// Outcome hints settle the prior signal before this one is decided, so
	// the win rate and cadence state the new decision sees are current.
	if reading.OutcomeHint != nil {
		outcome := domain.TradeOutcome{
			Instrument: reading.Instrument,
			Timestamp:  reading.Timestamp,
			Result:     reading.OutcomeHint.Result,
			RealizedRR: reading.OutcomeHint.RealizedRR,
		}
		if e.ledger.Record(outcome) {
			e.tracker.RecordOutcome(outcome.Instrument, session, outcome.Result, outcome.Timestamp)
			e.persistOutcome(outcome)
			e.saveSnapshot(w)
		}
	}

	if paused, rule := w.pauseState(); paused {
		d.DenialReason = domain.DenialEmergencyStop
		d.Reasoning = append(d.Reasoning, "instrument paused by emergency stop: "+rule)
		e.emit(d)
		return
	}

	trendStrength := float64(reading.Strength) / 100.0
	levels, err := e.levels.DeriveLevels(reading.ATR, session, trendStrength)
	if err != nil {
		d.DenialReason = domain.DenialInvalidInput
		d.Reasoning = append(d.Reasoning, "level derivation failed: "+err.Error())
		e.emit(d)
		return
	}
	d.RewardRiskRatio = levels.RewardRiskRatio

	d.Direction = domain.DirectionFor(reading.TrendState)
	d.StopPrice, d.TargetPrice = risk.Prices(reading.EntryPrice, d.Direction, levels)

	boost := e.tracker.ProbabilityBoost(reading.Instrument, session)
	d.CadenceBoost = boost
	if boost > 0 {
		d.Reasoning = append(d.Reasoning, fmt.Sprintf("cadence boost +%.2f (%s session)", boost, session))
	}

	acct, _ := e.accounts.Snapshot()
	rec := e.sizer.Size(reading.Instrument, levels.RewardRiskRatio, boost, acct.Equity)
	d.Sizing = rec
	d.SizeDollars = rec.DollarSize
	d.Reasoning = append(d.Reasoning, fmt.Sprintf("win rate %.3f, capped fraction %.4f", rec.WinRate, rec.CappedFraction))

	cadState := e.tracker.Current(reading.Instrument, session).State
	d.Confidence = e.confidence(reading, cadState)

	switch {
	case rec.InvalidInput:
		d.DenialReason = domain.DenialInvalidInput
		d.Reasoning = append(d.Reasoning, "sizing rejected inputs")
	case d.Direction == domain.DirectionFlat:
		d.DenialReason = domain.DenialTrendFilter
		d.Reasoning = append(d.Reasoning, "trend filter neutral, no tradable direction")
	case !e.sizer.ShouldTrade(rec):
		d.DenialReason = domain.DenialNoEdge
		d.Reasoning = append(d.Reasoning, "edge below minimum threshold")
	case d.Confidence < e.cfg.CautiousConfidence:
		d.DenialReason = domain.DenialLowConfidence
		d.Reasoning = append(d.Reasoning, fmt.Sprintf("confidence %.2f below floor %.2f", d.Confidence, e.cfg.CautiousConfidence))
	case d.Confidence < e.cfg.FullConfidence:
		d.Cautious = true
		d.SizeDollars = rec.DollarSize * e.cfg.CautiousSizeFactor
		d.Reasoning = append(d.Reasoning, fmt.Sprintf("confidence %.2f in cautious band, size reduced", d.Confidence))
	}

	// Compliance always runs, even on an already denied proposal: a breached
	// hard limit with an open position must still trigger the emergency stop.
	proposalSize := d.SizeDollars
	if d.DenialReason != domain.DenialNone {
		proposalSize = 0
	}
	result, stop := e.monitor.Check(compliance.Proposal{
		Instrument:  reading.Instrument,
		SizeDollars: proposalSize,
	}, acct, reading.Timestamp)
	d.Compliance = result

	if stop != nil {
		w.pause(stop.Rule)
		e.saveSnapshot(w)
		if e.metrics != nil {
			e.metrics.EmergencyStops.Inc()
		}
		// The stop must reach consumers before the directive it eclipses.
		e.publisher.PublishEmergencyStop(*stop)
	}

	if !result.AllowTrade && d.DenialReason == domain.DenialNone {
		d.DenialReason = domain.DenialComplianceDenied
		d.Reasoning = append(d.Reasoning, "compliance denied proposal")
	}

	d.Allow = d.DenialReason == domain.DenialNone
	if d.Allow && e.annotator != nil {
		e.annotator.Annotate(e.ctx, &d)
	}
	e.emit(d)
}

// confidence scores a reading from signal strength, confirmation tier, trend
// alignment, and cadence state. The score is bounded to [0,1].
func (e *Engine) confidence(reading domain.SignalReading, cadState cadence.State) float64 {
	score := 0.4*float64(reading.Strength)/100.0 + 0.3*float64(reading.Tier)/4.0
	if reading.TrendState != domain.TrendNeutral {
		score += 0.2
	}
	switch cadState {
	case cadence.StateBuilding:
		score += 0.05
	case cadence.StateHighProbability:
		score += 0.1
	}
	if score > 1 {
		score = 1
	}
	return score
}

func (e *Engine) emit(d domain.TradeDirective) {
	d.Allow = d.DenialReason == domain.DenialNone
	if d.Allow {
		e.directives.Add(1)
		if e.metrics != nil {
			e.metrics.DirectivesTotal.WithLabelValues("allow").Inc()
		}
	} else {
		e.denials.Add(1)
		if e.metrics != nil {
			e.metrics.DirectivesTotal.WithLabelValues("denied").Inc()
			e.metrics.DenialsTotal.WithLabelValues(string(d.DenialReason)).Inc()
		}
	}

	e.persistDirective(d)
	e.publisher.PublishDirective(d)

	log.Info().Str("directive_id", d.ID).Str("instrument", d.Instrument).
		Bool("allow", d.Allow).Str("denial", string(d.DenialReason)).
		Float64("size", d.SizeDollars).Msg("directive emitted")
}
