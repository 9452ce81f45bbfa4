package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/dontwaste/surplus_api/internal/models"
	"github.com/dontwaste/surplus_api/internal/utils"
)

// ReservationRepository handles read access and plain status updates for
// reservations. Anything that moves listing quantity goes through
// ListingRepository.WithListingLock instead.
type ReservationRepository struct {
	db *sqlx.DB
}

// NewReservationRepository creates a new ReservationRepository.
func NewReservationRepository(db *sqlx.DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

// GetByID returns a single reservation.
func (r *ReservationRepository) GetByID(ctx context.Context, id int64) (*models.Reservation, error) {
	var res models.Reservation
	err := r.db.GetContext(ctx, &res, `SELECT * FROM surplus_reservations WHERE id = $1 LIMIT 1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, utils.NotFoundError("RESERVATION_NOT_FOUND", "Reservation not found")
		}
		return nil, err
	}
	return &res, nil
}

// GetByReference returns a reservation by its public reference.
func (r *ReservationRepository) GetByReference(ctx context.Context, reference string) (*models.Reservation, error) {
	var res models.Reservation
	err := r.db.GetContext(ctx, &res, `SELECT * FROM surplus_reservations WHERE reference = $1 LIMIT 1`, reference)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, utils.NotFoundError("RESERVATION_NOT_FOUND", "Reservation not found")
		}
		return nil, err
	}
	return &res, nil
}

// ListByBuyer returns the buyer's reservations, newest first.
func (r *ReservationRepository) ListByBuyer(ctx context.Context, buyerID int64, limit, offset int) ([]models.Reservation, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM surplus_reservations WHERE buyer_id = $1`, buyerID); err != nil {
		return nil, 0, err
	}

	var reservations []models.Reservation
	q := `SELECT * FROM surplus_reservations
		WHERE buyer_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	if err := r.db.SelectContext(ctx, &reservations, q, buyerID, limit, offset); err != nil {
		return nil, 0, err
	}
	return reservations, total, nil
}

// GetExpiredHolds returns active reservations whose hold deadline has passed.
func (r *ReservationRepository) GetExpiredHolds(ctx context.Context) ([]models.Reservation, error) {
	var reservations []models.Reservation
	q := `SELECT * FROM surplus_reservations
		WHERE status = 'active' AND reserved_until < NOW()
		ORDER BY reserved_until ASC`
	if err := r.db.SelectContext(ctx, &reservations, q); err != nil {
		return nil, err
	}
	return reservations, nil
}

// HasActive reports whether the buyer already holds an active reservation on
// the listing. The reservation path re-checks this under the row lock.
func (r *ReservationRepository) HasActive(ctx context.Context, listingID, buyerID int64) (bool, error) {
	var exists bool
	q := `SELECT EXISTS (
			SELECT 1 FROM surplus_reservations
			WHERE surplus_listing_id = $1 AND buyer_id = $2 AND status = 'active')`
	err := r.db.GetContext(ctx, &exists, q, listingID, buyerID)
	return exists, err
}
