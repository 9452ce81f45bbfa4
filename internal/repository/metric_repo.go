package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dontwaste/surplus_api/internal/models"
)

// MetricRepository records and aggregates food-waste impact counters.
type MetricRepository struct {
	db *sqlx.DB
}

// NewMetricRepository creates a new MetricRepository.
func NewMetricRepository(db *sqlx.DB) *MetricRepository {
	return &MetricRepository{db: db}
}

// Record inserts one metric row.
func (r *MetricRepository) Record(ctx context.Context, m *models.Metric) error {
	if m.RecordedOn.IsZero() {
		m.RecordedOn = time.Now().UTC().Truncate(24 * time.Hour)
	}
	q := `INSERT INTO surplus_metrics (
			enterprise_id, surplus_listing_id, metric_type,
			quantity_kg, value_saved, estimated_emissions_saved_kg,
			recorded_on, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`
	return r.db.QueryRowxContext(ctx, q,
		m.EnterpriseID, m.ListingID, m.Type,
		m.QuantityKg, m.ValueSaved, m.EmissionsSavedKg,
		m.RecordedOn, m.Metadata,
	).Scan(&m.ID, &m.CreatedAt)
}

const summaryColumns = `
	COUNT(*) FILTER (WHERE metric_type = 'listing_created') AS total_listings,
	COUNT(*) FILTER (WHERE metric_type IN ('reservation_completed', 'offer_accepted')) AS successful_transactions,
	COUNT(*) FILTER (WHERE metric_type = 'listing_expired') AS expired_listings,
	COALESCE(SUM(quantity_kg) FILTER (WHERE metric_type IN ('reservation_completed', 'offer_accepted')), 0) AS kg_saved,
	COALESCE(SUM(value_saved) FILTER (WHERE metric_type IN ('reservation_completed', 'offer_accepted')), 0) AS value_saved,
	COALESCE(SUM(estimated_emissions_saved_kg), 0) AS emissions_saved_kg`

// SummaryForEnterprise aggregates one seller's counters over a date range.
func (r *MetricRepository) SummaryForEnterprise(ctx context.Context, enterpriseID int64, from, to time.Time) (*models.MetricSummary, error) {
	var s models.MetricSummary
	q := `SELECT` + summaryColumns + `
		FROM surplus_metrics
		WHERE enterprise_id = $1 AND recorded_on BETWEEN $2 AND $3`
	if err := r.db.GetContext(ctx, &s, q, enterpriseID, from, to); err != nil {
		return nil, err
	}
	return &s, nil
}

// GlobalSummary aggregates the whole marketplace over a date range.
func (r *MetricRepository) GlobalSummary(ctx context.Context, from, to time.Time) (*models.MetricSummary, error) {
	var s models.MetricSummary
	q := `SELECT` + summaryColumns + `
		FROM surplus_metrics
		WHERE recorded_on BETWEEN $1 AND $2`
	if err := r.db.GetContext(ctx, &s, q, from, to); err != nil {
		return nil, err
	}
	return &s, nil
}
