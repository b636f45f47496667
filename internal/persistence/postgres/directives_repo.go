package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/apexguard/guardian/internal/domain"
	"github.com/apexguard/guardian/internal/persistence"
)

// directivesRepo implements DirectiveRepo for PostgreSQL.
type directivesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewDirectivesRepo creates a PostgreSQL directive repository.
func NewDirectivesRepo(db *sqlx.DB, timeout time.Duration) persistence.DirectiveRepo {
	return &directivesRepo{db: db, timeout: timeout}
}

// details carries the nested directive fields stored as JSONB.
type directiveDetails struct {
	Reasoning  []string                          `json:"reasoning,omitempty"`
	Compliance domain.ComplianceResult           `json:"compliance"`
	Sizing     domain.PositionSizeRecommendation `json:"sizing"`
}

// Insert appends one directive to the audit trail.
func (r *directivesRepo) Insert(ctx context.Context, d domain.TradeDirective) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	detailsJSON, err := json.Marshal(directiveDetails{
		Reasoning:  d.Reasoning,
		Compliance: d.Compliance,
		Sizing:     d.Sizing,
	})
	if err != nil {
		return fmt.Errorf("marshal directive details: %w", err)
	}

	query := `
		INSERT INTO directives (id, instrument, allow, direction, size_dollars,
			stop_price, target_price, reward_risk, cadence_boost, confidence,
			cautious, denial_reason, details, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err = r.db.ExecContext(ctx, query,
		d.ID, d.Instrument, d.Allow, string(d.Direction), d.SizeDollars,
		d.StopPrice, d.TargetPrice, d.RewardRiskRatio, d.CadenceBoost, d.Confidence,
		d.Cautious, string(d.DenialReason), detailsJSON, d.GeneratedAt)
	if err != nil {
		return fmt.Errorf("insert directive %s: %w", d.ID, err)
	}
	return nil
}

// GetByID fetches one directive; persistence.ErrNotFound when absent.
func (r *directivesRepo) GetByID(ctx context.Context, id string) (*domain.TradeDirective, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, instrument, allow, direction, size_dollars, stop_price,
			target_price, reward_risk, cadence_boost, confidence, cautious,
			denial_reason, details, generated_at
		FROM directives
		WHERE id = $1`

	d, err := scanDirective(r.db.QueryRowxContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get directive %s: %w", id, err)
	}
	return d, nil
}

// ListByInstrument returns directives newest first within the range.
func (r *directivesRepo) ListByInstrument(ctx context.Context, instrument string, tr persistence.TimeRange, limit int) ([]domain.TradeDirective, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, instrument, allow, direction, size_dollars, stop_price,
			target_price, reward_risk, cadence_boost, confidence, cautious,
			denial_reason, details, generated_at
		FROM directives
		WHERE instrument = $1 AND generated_at >= $2 AND generated_at <= $3
		ORDER BY generated_at DESC
		LIMIT $4`

	rows, err := r.db.QueryxContext(ctx, query, instrument, tr.From, tr.To, limit)
	if err != nil {
		return nil, fmt.Errorf("list directives for %s: %w", instrument, err)
	}
	defer rows.Close()

	var out []domain.TradeDirective
	for rows.Next() {
		d, err := scanDirective(rows)
		if err != nil {
			return nil, fmt.Errorf("scan directive: %w", err)
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate directives: %w", err)
	}
	return out, nil
}

// CountByVerdict returns allowed/denied totals for the range.
func (r *directivesRepo) CountByVerdict(ctx context.Context, tr persistence.TimeRange) (int64, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT COUNT(*) FILTER (WHERE allow), COUNT(*) FILTER (WHERE NOT allow)
		FROM directives
		WHERE generated_at >= $1 AND generated_at <= $2`

	var allowed, denied int64
	if err := r.db.QueryRowxContext(ctx, query, tr.From, tr.To).Scan(&allowed, &denied); err != nil {
		return 0, 0, fmt.Errorf("count directives: %w", err)
	}
	return allowed, denied, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDirective(row rowScanner) (*domain.TradeDirective, error) {
	var (
		d           domain.TradeDirective
		direction   string
		denial      string
		detailsJSON []byte
	)
	err := row.Scan(
		&d.ID, &d.Instrument, &d.Allow, &direction, &d.SizeDollars,
		&d.StopPrice, &d.TargetPrice, &d.RewardRiskRatio, &d.CadenceBoost,
		&d.Confidence, &d.Cautious, &denial, &detailsJSON, &d.GeneratedAt)
	if err != nil {
		return nil, err
	}
	d.Direction = domain.Direction(direction)
	d.DenialReason = domain.DenialReason(denial)

	if len(detailsJSON) > 0 {
		var details directiveDetails
		if err := json.Unmarshal(detailsJSON, &details); err != nil {
			return nil, fmt.Errorf("unmarshal directive details: %w", err)
		}
		d.Reasoning = details.Reasoning
		d.Compliance = details.Compliance
		d.Sizing = details.Sizing
	}
	return &d, nil
}
