package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/apexguard/guardian/internal/domain"
	"github.com/apexguard/guardian/internal/persistence"
)

// outcomesRepo implements OutcomeRepo for PostgreSQL.
type outcomesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewOutcomesRepo creates a PostgreSQL outcome repository.
func NewOutcomesRepo(db *sqlx.DB, timeout time.Duration) persistence.OutcomeRepo {
	return &outcomesRepo{db: db, timeout: timeout}
}

// Insert records one outcome. The (instrument, ts) unique constraint makes
// replayed deliveries a no-op.
func (r *outcomesRepo) Insert(ctx context.Context, o domain.TradeOutcome) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO outcomes (instrument, ts, result, realized_rr)
		VALUES ($1, $2, $3, $4)`

	_, err := r.db.ExecContext(ctx, query, o.Instrument, o.Timestamp, string(o.Result), o.RealizedRR)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil
		}
		return fmt.Errorf("insert outcome %s: %w", o.Key(), err)
	}
	return nil
}

// ListByInstrument returns outcomes oldest first within the range, ready for
// ledger replay.
func (r *outcomesRepo) ListByInstrument(ctx context.Context, instrument string, tr persistence.TimeRange, limit int) ([]domain.TradeOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT instrument, ts, result, realized_rr
		FROM outcomes
		WHERE instrument = $1 AND ts >= $2 AND ts <= $3
		ORDER BY ts ASC
		LIMIT $4`

	rows, err := r.db.QueryxContext(ctx, query, instrument, tr.From, tr.To, limit)
	if err != nil {
		return nil, fmt.Errorf("list outcomes for %s: %w", instrument, err)
	}
	defer rows.Close()

	var out []domain.TradeOutcome
	for rows.Next() {
		var (
			o      domain.TradeOutcome
			result string
		)
		if err := rows.Scan(&o.Instrument, &o.Timestamp, &result, &o.RealizedRR); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Result = domain.Result(result)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return out, nil
}
