package models

import (
	"time"

	"github.com/lib/pq"
)

// NotifyCooldown rate-limits repeat notifications per watch.
const NotifyCooldown = time.Hour

// Watch is a buyer's standing search subscription. Absent criteria are
// skipped when matching; present ones must all hold.
type Watch struct {
	ID                int64  `db:"id" json:"id"`
	BuyerID           int64  `db:"buyer_id" json:"-"`
	BuyerEnterpriseID *int64 `db:"buyer_enterprise_id" json:"buyerEnterpriseId,omitempty"`

	Latitude  *float64 `db:"latitude" json:"latitude,omitempty"`
	Longitude *float64 `db:"longitude" json:"longitude,omitempty"`
	RadiusKm  *float64 `db:"radius_km" json:"radiusKm,omitempty"`

	QueryText         string        `db:"query_text" json:"queryText,omitempty"`
	TaxonIDs          pq.Int64Array `db:"taxon_ids" json:"taxonIds,omitempty"`
	MaxPrice          *float64      `db:"max_price" json:"maxPrice,omitempty"`
	MinQuantity       *float64      `db:"min_quantity" json:"minQuantity,omitempty"`
	ExpiresWithinHours *int         `db:"expires_within_hours" json:"expiresWithinHours,omitempty"`

	Active             bool       `db:"active" json:"active"`
	EmailNotifications bool       `db:"email_notifications" json:"emailNotifications"`
	LastNotifiedAt     *time.Time `db:"last_notified_at" json:"lastNotifiedAt,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"-"`
}

// HasLocationFilter reports whether the geo criterion is fully configured.
func (w *Watch) HasLocationFilter() bool {
	return w.Latitude != nil && w.Longitude != nil && w.RadiusKm != nil
}

// RecentlyNotified reports whether the watch fired within the cooldown window.
func (w *Watch) RecentlyNotified(now time.Time) bool {
	return w.LastNotifiedAt != nil && now.Sub(*w.LastNotifiedAt) < NotifyCooldown
}
