// Package persistence defines the storage contracts for emitted directives
// and recorded trade outcomes.
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/apexguard/guardian/internal/domain"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("not found")

// TimeRange bounds a history query, inclusive on both ends.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// DirectiveRepo stores the immutable directive audit trail.
type DirectiveRepo interface {
	Insert(ctx context.Context, d domain.TradeDirective) error
	GetByID(ctx context.Context, id string) (*domain.TradeDirective, error)
	ListByInstrument(ctx context.Context, instrument string, tr TimeRange, limit int) ([]domain.TradeDirective, error)
	CountByVerdict(ctx context.Context, tr TimeRange) (allowed, denied int64, err error)
}

// OutcomeRepo stores completed trade outcomes. Insert is idempotent on
// (instrument, timestamp): replaying a duplicate is a no-op, not an error.
type OutcomeRepo interface {
	Insert(ctx context.Context, o domain.TradeOutcome) error
	ListByInstrument(ctx context.Context, instrument string, tr TimeRange, limit int) ([]domain.TradeOutcome, error)
}

// Recorder bundles both repos behind the engine's persistence hook.
type Recorder struct {
	Directives DirectiveRepo
	Outcomes   OutcomeRepo
}

// SaveDirective forwards to the directive repository.
func (r Recorder) SaveDirective(ctx context.Context, d domain.TradeDirective) error {
	return r.Directives.Insert(ctx, d)
}

// SaveOutcome forwards to the outcome repository.
func (r Recorder) SaveOutcome(ctx context.Context, o domain.TradeOutcome) error {
	return r.Outcomes.Insert(ctx, o)
}
