package domain

import (
	"errors"
	"fmt"
)

// Validation errors surfaced at the ingestion boundary. Readings failing
// validation never reach the decision pipeline.
var (
	ErrEmptyInstrument = errors.New("empty instrument")
	ErrZeroTimestamp   = errors.New("zero timestamp")
	ErrStrengthRange   = errors.New("strength out of range")
	ErrTierRange       = errors.New("tier out of range")
	ErrTierBelowMin    = errors.New("tier below configured minimum")
	ErrTrendState      = errors.New("unknown trend state")
	ErrInvalidATR      = errors.New("atr must be positive")
	ErrInvalidPrice    = errors.New("entry price must be positive")
)

// Validate rejects malformed or out-of-range readings. A zero-or-negative ATR
// is an input error: a zero-distance stop must never size a trade.
func (r SignalReading) Validate(minTier Tier) error {
	if r.Instrument == "" {
		return ErrEmptyInstrument
	}
	if r.Timestamp.IsZero() {
		return ErrZeroTimestamp
	}
	if r.Strength < 0 || r.Strength > 100 {
		return fmt.Errorf("%w: %d", ErrStrengthRange, r.Strength)
	}
	if r.Tier < TierL1 || r.Tier > TierL4 {
		return fmt.Errorf("%w: %d", ErrTierRange, int(r.Tier))
	}
	if r.Tier < minTier {
		return fmt.Errorf("%w: %s < %s", ErrTierBelowMin, r.Tier, minTier)
	}
	switch r.TrendState {
	case TrendBullish, TrendBearish, TrendNeutral:
	default:
		return fmt.Errorf("%w: %q", ErrTrendState, r.TrendState)
	}
	if r.ATR <= 0 {
		return fmt.Errorf("%w: %.4f", ErrInvalidATR, r.ATR)
	}
	if r.EntryPrice <= 0 {
		return fmt.Errorf("%w: %.4f", ErrInvalidPrice, r.EntryPrice)
	}
	if r.OutcomeHint != nil {
		switch r.OutcomeHint.Result {
		case ResultWin, ResultLoss:
		default:
			return fmt.Errorf("invalid outcome hint result: %q", r.OutcomeHint.Result)
		}
	}
	return nil
}

// Validate checks an outcome record before it is applied to the ledger.
func (o TradeOutcome) Validate() error {
	if o.Instrument == "" {
		return ErrEmptyInstrument
	}
	if o.Timestamp.IsZero() {
		return ErrZeroTimestamp
	}
	switch o.Result {
	case ResultWin, ResultLoss:
	default:
		return fmt.Errorf("invalid outcome result: %q", o.Result)
	}
	return nil
}
