package models

import "time"

type MetricType string

const (
	MetricListingCreated       MetricType = "listing_created"
	MetricReservationCompleted MetricType = "reservation_completed"
	MetricOfferAccepted        MetricType = "offer_accepted"
	MetricListingExpired       MetricType = "listing_expired"
)

// DefaultEmissionsFactor is kg CO2e avoided per kg of surplus sold instead of
// wasted. Products may override it through metric metadata.
const DefaultEmissionsFactor = 2.5

// Metric is one counter row recorded when a listing is created, a reservation
// completes, an offer is accepted, or a listing expires with leftover stock.
type Metric struct {
	ID                 int64      `db:"id" json:"id"`
	EnterpriseID       int64      `db:"enterprise_id" json:"enterpriseId"`
	ListingID          *int64     `db:"surplus_listing_id" json:"listingId,omitempty"`
	Type               MetricType `db:"metric_type" json:"metricType"`
	QuantityKg         *float64   `db:"quantity_kg" json:"quantityKg,omitempty"`
	ValueSaved         *float64   `db:"value_saved" json:"valueSaved,omitempty"`
	EmissionsSavedKg   *float64   `db:"estimated_emissions_saved_kg" json:"emissionsSavedKg,omitempty"`
	RecordedOn         time.Time  `db:"recorded_on" json:"recordedOn"`
	Metadata           Metadata   `db:"metadata" json:"metadata,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"createdAt"`
}

// successful reports whether the metric type counts toward saved totals.
func (t MetricType) successful() bool {
	return t == MetricReservationCompleted || t == MetricOfferAccepted
}

// ApplyEmissions fills the emissions estimate for successful metric types.
func (m *Metric) ApplyEmissions() {
	if m.QuantityKg == nil || !m.Type.successful() {
		return
	}
	factor := DefaultEmissionsFactor
	if m.Metadata != nil {
		if f, ok := m.Metadata["emissions_factor"].(float64); ok && f > 0 {
			factor = f
		}
	}
	saved := *m.QuantityKg * factor
	m.EmissionsSavedKg = &saved
}

// MetricSummary aggregates counters for reporting.
type MetricSummary struct {
	TotalListings          int     `db:"total_listings" json:"totalListings"`
	SuccessfulTransactions int     `db:"successful_transactions" json:"successfulTransactions"`
	ExpiredListings        int     `db:"expired_listings" json:"expiredListings"`
	KgSaved                float64 `db:"kg_saved" json:"kgSaved"`
	ValueSaved             float64 `db:"value_saved" json:"valueSaved"`
	EmissionsSavedKg       float64 `db:"emissions_saved_kg" json:"emissionsSavedKg"`
}
