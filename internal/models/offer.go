package models

import (
	"math"
	"time"
)

type OfferStatus string

const (
	OfferPending   OfferStatus = "pending"
	OfferAccepted  OfferStatus = "accepted"
	OfferRejected  OfferStatus = "rejected"
	OfferCancelled OfferStatus = "cancelled"
	OfferExpired   OfferStatus = "expired"
)

// DefaultOfferExpiryHours is how long an unanswered offer stays open.
const DefaultOfferExpiryHours = 24

// Offer is a buyer-proposed quantity and unit price for a listing, awaiting a
// seller decision. Acceptance links the reservation it produced.
type Offer struct {
	ID                  int64       `db:"id" json:"id"`
	ListingID           int64       `db:"surplus_listing_id" json:"listingId"`
	BuyerID             int64       `db:"buyer_id" json:"-"`
	BuyerEnterpriseID   *int64      `db:"buyer_enterprise_id" json:"buyerEnterpriseId,omitempty"`
	ReservationID       *int64      `db:"surplus_reservation_id" json:"reservationId,omitempty"`
	OfferedQuantity     float64     `db:"offered_quantity" json:"offeredQuantity"`
	OfferedPricePerUnit float64     `db:"offered_price_per_unit" json:"offeredPricePerUnit"`
	OfferedTotal        float64     `db:"offered_total" json:"offeredTotal"`
	Message             *string     `db:"message" json:"message,omitempty"`
	SellerResponse      *string     `db:"seller_response" json:"sellerResponse,omitempty"`
	Status              OfferStatus `db:"status" json:"status"`
	RespondedAt         *time.Time  `db:"responded_at" json:"respondedAt,omitempty"`
	ExpiresAt           time.Time   `db:"expires_at" json:"expiresAt"`
	CreatedAt           time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time   `db:"updated_at" json:"-"`
}

// Expired reports whether the offer deadline has passed.
func (o *Offer) Expired(now time.Time) bool {
	return o.ExpiresAt.Before(now)
}

// DiscountPercentage is how far below the listing base price the offer sits,
// rounded to one decimal.
func (o *Offer) DiscountPercentage(basePrice float64) float64 {
	if basePrice == 0 {
		return 0
	}
	pct := (basePrice - o.OfferedPricePerUnit) / basePrice * 100
	return math.Round(pct*10) / 10
}
