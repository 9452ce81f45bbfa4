package models

import "time"

type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationExpired   ReservationStatus = "expired"
	ReservationCancelled ReservationStatus = "cancelled"
	ReservationConverted ReservationStatus = "converted"
)

// Reservation is a time-boxed claim on a quantity of a listing. The price is
// snapshotted at creation and never changes afterwards.
type Reservation struct {
	ID                 int64             `db:"id" json:"id"`
	Reference          string            `db:"reference" json:"reference"`
	ListingID          int64             `db:"surplus_listing_id" json:"listingId"`
	BuyerID            int64             `db:"buyer_id" json:"-"`
	BuyerEnterpriseID  *int64            `db:"buyer_enterprise_id" json:"buyerEnterpriseId,omitempty"`
	Quantity           float64           `db:"quantity" json:"quantity"`
	PriceAtReservation float64           `db:"price_at_reservation" json:"priceAtReservation"`
	ReservedUntil      time.Time         `db:"reserved_until" json:"reservedUntil"`
	Status             ReservationStatus `db:"status" json:"status"`
	Notes              *string           `db:"notes" json:"notes,omitempty"`
	CreatedAt          time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time         `db:"updated_at" json:"-"`
}

// Expired reports whether the hold deadline has passed.
func (r *Reservation) Expired(now time.Time) bool {
	return r.ReservedUntil.Before(now)
}

// TotalPrice is quantity times the snapshotted unit price.
func (r *Reservation) TotalPrice() float64 {
	return r.Quantity * r.PriceAtReservation
}
