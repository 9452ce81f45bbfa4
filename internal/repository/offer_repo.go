package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/dontwaste/surplus_api/internal/models"
	"github.com/dontwaste/surplus_api/internal/utils"
)

// OfferRepository handles data access for negotiation offers.
type OfferRepository struct {
	db *sqlx.DB
}

// NewOfferRepository creates a new OfferRepository.
func NewOfferRepository(db *sqlx.DB) *OfferRepository {
	return &OfferRepository{db: db}
}

// GetByID returns a single offer.
func (r *OfferRepository) GetByID(ctx context.Context, id int64) (*models.Offer, error) {
	var o models.Offer
	err := r.db.GetContext(ctx, &o, `SELECT * FROM surplus_offers WHERE id = $1 LIMIT 1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, utils.NotFoundError("OFFER_NOT_FOUND", "Offer not found")
		}
		return nil, err
	}
	return &o, nil
}

// Create inserts a new pending offer.
func (r *OfferRepository) Create(ctx context.Context, o *models.Offer) error {
	q := `INSERT INTO surplus_offers (
			surplus_listing_id, buyer_id, buyer_enterprise_id,
			offered_quantity, offered_price_per_unit, offered_total,
			message, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`
	return r.db.QueryRowxContext(ctx, q,
		o.ListingID, o.BuyerID, o.BuyerEnterpriseID,
		o.OfferedQuantity, o.OfferedPricePerUnit, o.OfferedTotal,
		o.Message, o.Status, o.ExpiresAt,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
}

// Update persists the offer's decision fields.
func (r *OfferRepository) Update(ctx context.Context, o *models.Offer) error {
	q := `UPDATE surplus_offers SET
			status = $1, seller_response = $2, responded_at = $3,
			surplus_reservation_id = $4, updated_at = NOW()
		WHERE id = $5
		RETURNING updated_at`
	return r.db.QueryRowxContext(ctx, q,
		o.Status, o.SellerResponse, o.RespondedAt, o.ReservationID, o.ID,
	).Scan(&o.UpdatedAt)
}

// ListByBuyer returns the buyer's offers, newest first.
func (r *OfferRepository) ListByBuyer(ctx context.Context, buyerID int64, limit, offset int) ([]models.Offer, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM surplus_offers WHERE buyer_id = $1`, buyerID); err != nil {
		return nil, 0, err
	}

	var offers []models.Offer
	q := `SELECT * FROM surplus_offers
		WHERE buyer_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	if err := r.db.SelectContext(ctx, &offers, q, buyerID, limit, offset); err != nil {
		return nil, 0, err
	}
	return offers, total, nil
}

// ListByListing returns a listing's offers for the seller view, newest first.
func (r *OfferRepository) ListByListing(ctx context.Context, listingID int64) ([]models.Offer, error) {
	var offers []models.Offer
	q := `SELECT * FROM surplus_offers WHERE surplus_listing_id = $1 ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &offers, q, listingID); err != nil {
		return nil, err
	}
	return offers, nil
}

// HasPending reports whether the buyer already has an open offer on the listing.
func (r *OfferRepository) HasPending(ctx context.Context, listingID, buyerID int64) (bool, error) {
	var exists bool
	q := `SELECT EXISTS (
			SELECT 1 FROM surplus_offers
			WHERE surplus_listing_id = $1 AND buyer_id = $2 AND status = 'pending')`
	err := r.db.GetContext(ctx, &exists, q, listingID, buyerID)
	return exists, err
}

// GetExpiredOffers returns pending offers whose response deadline has passed.
func (r *OfferRepository) GetExpiredOffers(ctx context.Context) ([]models.Offer, error) {
	var offers []models.Offer
	q := `SELECT * FROM surplus_offers
		WHERE status = 'pending' AND expires_at < NOW()
		ORDER BY expires_at ASC`
	if err := r.db.SelectContext(ctx, &offers, q); err != nil {
		return nil, err
	}
	return offers, nil
}
