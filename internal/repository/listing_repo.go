package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/dontwaste/surplus_api/internal/models"
	"github.com/dontwaste/surplus_api/internal/utils"
)

// listingColumns hydrates the denormalized search fields alongside the listing
// row: product name/sku/taxonomy, seller name, and the pickup coordinates with
// the enterprise address as fallback.
const listingColumns = `
	l.*,
	v.product_name AS product_name,
	v.sku AS product_sku,
	v.taxon_ids AS taxon_ids,
	e.name AS seller_name,
	COALESCE(a.latitude, e.latitude) AS pickup_latitude,
	COALESCE(a.longitude, e.longitude) AS pickup_longitude`

const listingJoins = `
	FROM surplus_listings l
	JOIN product_variants v ON v.id = l.variant_id
	JOIN enterprises e ON e.id = l.enterprise_id
	LEFT JOIN addresses a ON a.id = l.pickup_address_id`

// ListingRepository handles data access for surplus listings, including the
// row-scoped lock every quantity mutation runs under.
type ListingRepository struct {
	db *sqlx.DB
}

// NewListingRepository creates a new ListingRepository.
func NewListingRepository(db *sqlx.DB) *ListingRepository {
	return &ListingRepository{db: db}
}

// GetByID returns a single listing with its denormalized search fields.
func (r *ListingRepository) GetByID(ctx context.Context, id int64) (*models.Listing, error) {
	q := `SELECT` + listingColumns + listingJoins + ` WHERE l.id = $1 LIMIT 1`

	var l models.Listing
	if err := r.db.GetContext(ctx, &l, q, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, utils.NotFoundError("LISTING_NOT_FOUND", "Listing not found")
		}
		return nil, err
	}
	return &l, nil
}

// GetAvailable returns the searchable pool: active, unexpired listings with
// quantity remaining, soonest expiry first.
func (r *ListingRepository) GetAvailable(ctx context.Context) ([]models.Listing, error) {
	q := `SELECT` + listingColumns + listingJoins + `
		WHERE l.status = 'active'
		AND l.expires_at > NOW()
		AND l.quantity_available > 0
		ORDER BY l.expires_at ASC`

	var listings []models.Listing
	if err := r.db.SelectContext(ctx, &listings, q); err != nil {
		return nil, err
	}
	return listings, nil
}

// GetExpired returns listings past their expiry that still need the expiry
// transition applied.
func (r *ListingRepository) GetExpired(ctx context.Context) ([]models.Listing, error) {
	q := `SELECT` + listingColumns + listingJoins + `
		WHERE l.expires_at <= NOW()
		AND l.status NOT IN ('expired', 'cancelled', 'sold_out')
		ORDER BY l.expires_at ASC`

	var listings []models.Listing
	if err := r.db.SelectContext(ctx, &listings, q); err != nil {
		return nil, err
	}
	return listings, nil
}

// ListByEnterprise returns all listings owned by a seller enterprise.
func (r *ListingRepository) ListByEnterprise(ctx context.Context, enterpriseID int64) ([]models.Listing, error) {
	q := `SELECT` + listingColumns + listingJoins + `
		WHERE l.enterprise_id = $1
		ORDER BY l.created_at DESC`

	var listings []models.Listing
	if err := r.db.SelectContext(ctx, &listings, q); err != nil {
		return nil, err
	}
	return listings, nil
}

// Create inserts a new listing and fills generated fields.
func (r *ListingRepository) Create(ctx context.Context, l *models.Listing) error {
	q := `INSERT INTO surplus_listings (
			enterprise_id, variant_id, pickup_address_id, created_by_id,
			title, description, quality_notes,
			quantity_available, quantity_original, unit, min_order_quantity,
			base_price, currency, pricing_strategy, markdown_min_price,
			markdown_steps, bulk_price_tiers,
			expires_at, pickup_start_at, pickup_end_at, published_at,
			status, visibility, allowed_buyer_enterprise_ids, allowed_buyer_tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
		RETURNING id, created_at, updated_at`

	return r.db.QueryRowxContext(ctx, q,
		l.EnterpriseID, l.VariantID, l.PickupAddressID, l.CreatedByID,
		l.Title, l.Description, l.QualityNotes,
		l.QuantityAvailable, l.QuantityOriginal, l.Unit, l.MinOrderQuantity,
		l.BasePrice, l.Currency, l.PricingStrategy, l.MarkdownMinPrice,
		l.MarkdownSteps, l.BulkPriceTiers,
		l.ExpiresAt, l.PickupStartAt, l.PickupEndAt, l.PublishedAt,
		l.Status, l.Visibility, l.AllowedBuyerEnterpriseIDs, l.AllowedBuyerTags,
	).Scan(&l.ID, &l.CreatedAt, &l.UpdatedAt)
}

// Update persists the mutable listing fields.
func (r *ListingRepository) Update(ctx context.Context, l *models.Listing) error {
	q := `UPDATE surplus_listings SET
			title = $1, description = $2, quality_notes = $3,
			quantity_available = $4, unit = $5, min_order_quantity = $6,
			base_price = $7, currency = $8, pricing_strategy = $9,
			markdown_min_price = $10, markdown_steps = $11, bulk_price_tiers = $12,
			expires_at = $13, pickup_start_at = $14, pickup_end_at = $15,
			published_at = $16, status = $17, visibility = $18,
			allowed_buyer_enterprise_ids = $19, allowed_buyer_tags = $20,
			updated_at = NOW()
		WHERE id = $21
		RETURNING updated_at`

	return r.db.QueryRowxContext(ctx, q,
		l.Title, l.Description, l.QualityNotes,
		l.QuantityAvailable, l.Unit, l.MinOrderQuantity,
		l.BasePrice, l.Currency, l.PricingStrategy,
		l.MarkdownMinPrice, l.MarkdownSteps, l.BulkPriceTiers,
		l.ExpiresAt, l.PickupStartAt, l.PickupEndAt,
		l.PublishedAt, l.Status, l.Visibility,
		l.AllowedBuyerEnterpriseIDs, l.AllowedBuyerTags,
		l.ID,
	).Scan(&l.UpdatedAt)
}

// Delete removes a listing. Reservations and offers cascade in the schema.
func (r *ListingRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM surplus_listings WHERE id = $1`, id)
	return err
}

// ListingTx is the unit of work available while a listing row lock is held.
// Implementations guarantee every mutation commits or rolls back atomically
// with the lock release.
type ListingTx interface {
	// Listing returns the locked row, re-read after lock acquisition.
	Listing() *models.Listing
	// UpdateListing persists quantity, status and published_at of the locked row.
	UpdateListing(l *models.Listing) error
	CreateReservation(res *models.Reservation) error
	UpdateReservation(res *models.Reservation) error
	UpdateOffer(o *models.Offer) error
	// HasActiveReservation reports whether the buyer already holds this listing.
	HasActiveReservation(buyerID int64) (bool, error)
	// HasOtherActiveReservations reports whether holds besides the given one remain.
	HasOtherActiveReservations(excludeReservationID int64) (bool, error)
	ActiveReservations() ([]models.Reservation, error)
	PendingOffers() ([]models.Offer, error)
}

// WithListingLock runs fn inside a transaction holding SELECT ... FOR UPDATE
// on the listing row. Concurrent callers against the same listing serialize
// here; callers against different listings do not block each other.
func (r *ListingRepository) WithListingLock(ctx context.Context, listingID int64, fn func(tx ListingTx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin listing transaction: %w", err)
	}

	var l models.Listing
	if err := tx.GetContext(ctx, &l, `SELECT * FROM surplus_listings WHERE id = $1 FOR UPDATE`, listingID); err != nil {
		_ = tx.Rollback()
		if err == sql.ErrNoRows {
			return utils.NotFoundError("LISTING_NOT_FOUND", "Listing not found")
		}
		return err
	}

	if err := fn(&listingTx{ctx: ctx, tx: tx, listing: &l}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit listing transaction: %w", err)
	}
	return nil
}

type listingTx struct {
	ctx     context.Context
	tx      *sqlx.Tx
	listing *models.Listing
}

func (t *listingTx) Listing() *models.Listing {
	return t.listing
}

func (t *listingTx) UpdateListing(l *models.Listing) error {
	q := `UPDATE surplus_listings SET
			quantity_available = $1, status = $2, published_at = $3, updated_at = NOW()
		WHERE id = $4
		RETURNING updated_at`
	return t.tx.QueryRowxContext(t.ctx, q, l.QuantityAvailable, l.Status, l.PublishedAt, l.ID).Scan(&l.UpdatedAt)
}

func (t *listingTx) CreateReservation(res *models.Reservation) error {
	q := `INSERT INTO surplus_reservations (
			reference, surplus_listing_id, buyer_id, buyer_enterprise_id,
			quantity, price_at_reservation, reserved_until, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`
	return t.tx.QueryRowxContext(t.ctx, q,
		res.Reference, res.ListingID, res.BuyerID, res.BuyerEnterpriseID,
		res.Quantity, res.PriceAtReservation, res.ReservedUntil, res.Status, res.Notes,
	).Scan(&res.ID, &res.CreatedAt, &res.UpdatedAt)
}

func (t *listingTx) UpdateReservation(res *models.Reservation) error {
	q := `UPDATE surplus_reservations SET status = $1, updated_at = NOW() WHERE id = $2 RETURNING updated_at`
	return t.tx.QueryRowxContext(t.ctx, q, res.Status, res.ID).Scan(&res.UpdatedAt)
}

func (t *listingTx) UpdateOffer(o *models.Offer) error {
	q := `UPDATE surplus_offers SET
			status = $1, seller_response = $2, responded_at = $3,
			surplus_reservation_id = $4, updated_at = NOW()
		WHERE id = $5
		RETURNING updated_at`
	return t.tx.QueryRowxContext(t.ctx, q, o.Status, o.SellerResponse, o.RespondedAt, o.ReservationID, o.ID).Scan(&o.UpdatedAt)
}

func (t *listingTx) HasActiveReservation(buyerID int64) (bool, error) {
	var exists bool
	q := `SELECT EXISTS (
			SELECT 1 FROM surplus_reservations
			WHERE surplus_listing_id = $1 AND buyer_id = $2 AND status = 'active')`
	err := t.tx.GetContext(t.ctx, &exists, q, t.listing.ID, buyerID)
	return exists, err
}

func (t *listingTx) HasOtherActiveReservations(excludeReservationID int64) (bool, error) {
	var exists bool
	q := `SELECT EXISTS (
			SELECT 1 FROM surplus_reservations
			WHERE surplus_listing_id = $1 AND status = 'active' AND id != $2)`
	err := t.tx.GetContext(t.ctx, &exists, q, t.listing.ID, excludeReservationID)
	return exists, err
}

func (t *listingTx) ActiveReservations() ([]models.Reservation, error) {
	var reservations []models.Reservation
	q := `SELECT * FROM surplus_reservations WHERE surplus_listing_id = $1 AND status = 'active'`
	err := t.tx.SelectContext(t.ctx, &reservations, q, t.listing.ID)
	return reservations, err
}

func (t *listingTx) PendingOffers() ([]models.Offer, error) {
	var offers []models.Offer
	q := `SELECT * FROM surplus_offers WHERE surplus_listing_id = $1 AND status = 'pending'`
	err := t.tx.SelectContext(t.ctx, &offers, q, t.listing.ID)
	return offers, err
}
