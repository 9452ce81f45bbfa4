package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dontwaste/surplus_api/internal/models"
	"github.com/dontwaste/surplus_api/internal/utils"
)

// WatchRepository handles data access for buyer watches.
type WatchRepository struct {
	db *sqlx.DB
}

// NewWatchRepository creates a new WatchRepository.
func NewWatchRepository(db *sqlx.DB) *WatchRepository {
	return &WatchRepository{db: db}
}

// GetByID returns a single watch.
func (r *WatchRepository) GetByID(ctx context.Context, id int64) (*models.Watch, error) {
	var w models.Watch
	err := r.db.GetContext(ctx, &w, `SELECT * FROM buyer_watches WHERE id = $1 LIMIT 1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, utils.NotFoundError("WATCH_NOT_FOUND", "Watch not found")
		}
		return nil, err
	}
	return &w, nil
}

// Create inserts a new watch.
func (r *WatchRepository) Create(ctx context.Context, w *models.Watch) error {
	q := `INSERT INTO buyer_watches (
			buyer_id, buyer_enterprise_id, latitude, longitude, radius_km,
			query_text, taxon_ids, max_price, min_quantity, expires_within_hours,
			active, email_notifications)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at`
	return r.db.QueryRowxContext(ctx, q,
		w.BuyerID, w.BuyerEnterpriseID, w.Latitude, w.Longitude, w.RadiusKm,
		w.QueryText, w.TaxonIDs, w.MaxPrice, w.MinQuantity, w.ExpiresWithinHours,
		w.Active, w.EmailNotifications,
	).Scan(&w.ID, &w.CreatedAt, &w.UpdatedAt)
}

// Update persists the watch criteria and flags.
func (r *WatchRepository) Update(ctx context.Context, w *models.Watch) error {
	q := `UPDATE buyer_watches SET
			latitude = $1, longitude = $2, radius_km = $3,
			query_text = $4, taxon_ids = $5, max_price = $6, min_quantity = $7,
			expires_within_hours = $8, active = $9, email_notifications = $10,
			updated_at = NOW()
		WHERE id = $11
		RETURNING updated_at`
	return r.db.QueryRowxContext(ctx, q,
		w.Latitude, w.Longitude, w.RadiusKm,
		w.QueryText, w.TaxonIDs, w.MaxPrice, w.MinQuantity,
		w.ExpiresWithinHours, w.Active, w.EmailNotifications,
		w.ID,
	).Scan(&w.UpdatedAt)
}

// Delete removes a watch.
func (r *WatchRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM buyer_watches WHERE id = $1`, id)
	return err
}

// ListByBuyer returns the buyer's watches, newest first.
func (r *WatchRepository) ListByBuyer(ctx context.Context, buyerID int64) ([]models.Watch, error) {
	var watches []models.Watch
	q := `SELECT * FROM buyer_watches WHERE buyer_id = $1 ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &watches, q, buyerID); err != nil {
		return nil, err
	}
	return watches, nil
}

// GetActive returns every active watch, for matching against a new listing.
func (r *WatchRepository) GetActive(ctx context.Context) ([]models.Watch, error) {
	var watches []models.Watch
	if err := r.db.SelectContext(ctx, &watches, `SELECT * FROM buyer_watches WHERE active = TRUE`); err != nil {
		return nil, err
	}
	return watches, nil
}

// MarkNotified stamps the last notification time used by the cooldown check.
func (r *WatchRepository) MarkNotified(ctx context.Context, watchID int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE buyer_watches SET last_notified_at = $1, updated_at = NOW() WHERE id = $2`, at, watchID)
	return err
}
