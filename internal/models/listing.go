package models

import (
	"time"

	"github.com/lib/pq"
)

type ListingStatus string
type Visibility string
type PricingStrategy string

const (
	ListingDraft     ListingStatus = "draft"
	ListingActive    ListingStatus = "active"
	ListingReserved  ListingStatus = "reserved"
	ListingSoldOut   ListingStatus = "sold_out"
	ListingExpired   ListingStatus = "expired"
	ListingCancelled ListingStatus = "cancelled"
)

const (
	VisibilityPublic     Visibility = "public"
	VisibilityInviteOnly Visibility = "invite_only"
)

const (
	PricingFixed          PricingStrategy = "fixed"
	PricingMarkdownLinear PricingStrategy = "markdown_linear"
	PricingMarkdownSteps  PricingStrategy = "markdown_steps"
)

// DefaultHoldMinutes is how long a reservation holds quantity before the
// expiry sweep releases it.
const DefaultHoldMinutes = 30

// listingTransitions is the allowed transition table. active<->reserved flips
// both ways as quantity is taken and released, and a hold release can reopen a
// sold_out listing. expired and cancelled have no outgoing edges.
var listingTransitions = map[ListingStatus][]ListingStatus{
	ListingDraft:     {ListingActive, ListingCancelled, ListingExpired},
	ListingActive:    {ListingReserved, ListingSoldOut, ListingExpired, ListingCancelled},
	ListingReserved:  {ListingActive, ListingSoldOut, ListingExpired, ListingCancelled},
	ListingSoldOut:   {ListingActive, ListingReserved, ListingExpired, ListingCancelled},
	ListingExpired:   {},
	ListingCancelled: {},
}

// CanTransition reports whether moving from s to next is allowed.
func (s ListingStatus) CanTransition(next ListingStatus) bool {
	for _, allowed := range listingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the listing is closed for good.
func (s ListingStatus) Terminal() bool {
	return s == ListingExpired || s == ListingCancelled
}

// Listing is a sellable batch of a product variant from one seller enterprise.
type Listing struct {
	ID              int64  `db:"id" json:"id"`
	EnterpriseID    int64  `db:"enterprise_id" json:"enterpriseId"`
	VariantID       int64  `db:"variant_id" json:"variantId"`
	PickupAddressID *int64 `db:"pickup_address_id" json:"pickupAddressId,omitempty"`
	CreatedByID     *int64 `db:"created_by_id" json:"-"`

	Title        string `db:"title" json:"title"`
	Description  string `db:"description" json:"description,omitempty"`
	QualityNotes string `db:"quality_notes" json:"qualityNotes,omitempty"`

	QuantityAvailable float64 `db:"quantity_available" json:"quantityAvailable"`
	QuantityOriginal  float64 `db:"quantity_original" json:"quantityOriginal"`
	Unit              string  `db:"unit" json:"unit"`
	MinOrderQuantity  float64 `db:"min_order_quantity" json:"minOrderQuantity"`

	BasePrice        float64         `db:"base_price" json:"basePrice"`
	Currency         string          `db:"currency" json:"currency"`
	PricingStrategy  PricingStrategy `db:"pricing_strategy" json:"pricingStrategy"`
	MarkdownMinPrice *float64        `db:"markdown_min_price" json:"markdownMinPrice,omitempty"`
	MarkdownSteps    MarkdownSteps   `db:"markdown_steps" json:"markdownSteps,omitempty"`
	BulkPriceTiers   BulkPriceTiers  `db:"bulk_price_tiers" json:"bulkPriceTiers,omitempty"`

	ExpiresAt     time.Time  `db:"expires_at" json:"expiresAt"`
	PickupStartAt time.Time  `db:"pickup_start_at" json:"pickupStartAt"`
	PickupEndAt   time.Time  `db:"pickup_end_at" json:"pickupEndAt"`
	PublishedAt   *time.Time `db:"published_at" json:"publishedAt,omitempty"`

	Status     ListingStatus `db:"status" json:"status"`
	Visibility Visibility    `db:"visibility" json:"visibility"`

	AllowedBuyerEnterpriseIDs pq.Int64Array  `db:"allowed_buyer_enterprise_ids" json:"allowedBuyerEnterpriseIds,omitempty"`
	AllowedBuyerTags          pq.StringArray `db:"allowed_buyer_tags" json:"allowedBuyerTags,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"-"`

	// Denormalized search fields populated by repository joins.
	ProductName     string        `db:"product_name" json:"productName,omitempty"`
	ProductSKU      string        `db:"product_sku" json:"productSku,omitempty"`
	TaxonIDs        pq.Int64Array `db:"taxon_ids" json:"taxonIds,omitempty"`
	SellerName      string        `db:"seller_name" json:"sellerName,omitempty"`
	PickupLatitude  *float64      `db:"pickup_latitude" json:"pickupLatitude,omitempty"`
	PickupLongitude *float64      `db:"pickup_longitude" json:"pickupLongitude,omitempty"`

	// Computed by the search pipeline when a geo filter is present.
	DistanceKm *float64 `db:"-" json:"distanceKm,omitempty"`

	// Computed markdown price at read time; never persisted.
	CurrentPrice float64 `db:"-" json:"currentPrice"`
}

// Expired reports whether the listing is past its expiry instant.
func (l *Listing) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// TimeLeftHours returns hours until expiry, never negative.
func (l *Listing) TimeLeftHours(now time.Time) float64 {
	if l.Expired(now) {
		return 0
	}
	return l.ExpiresAt.Sub(now).Hours()
}

// PickupCoordinates returns the resolvable pickup point, or (nil, nil) when
// neither the pickup address nor the seller's default address carries one.
func (l *Listing) PickupCoordinates() (lat, lng *float64) {
	return l.PickupLatitude, l.PickupLongitude
}

// CanReserve reports whether quantity could currently be reserved. It is a
// read-side convenience; the reservation path re-checks under the row lock.
func (l *Listing) CanReserve(quantity float64, now time.Time) bool {
	return (l.Status == ListingActive || l.Status == ListingReserved) &&
		!l.Expired(now) &&
		quantity <= l.QuantityAvailable &&
		quantity >= l.MinOrderQuantity
}

// VisibleTo reports whether the listing may be surfaced to the given buyer
// enterprise. Public listings are visible to everyone; invite-only listings
// require the buyer enterprise to be on the allow-list.
func (l *Listing) VisibleTo(buyerEnterpriseID *int64) bool {
	if l.Visibility == VisibilityPublic {
		return true
	}
	if buyerEnterpriseID == nil {
		return false
	}
	for _, id := range l.AllowedBuyerEnterpriseIDs {
		if id == *buyerEnterpriseID {
			return true
		}
	}
	return false
}

// ApplyQuantityStatus recomputes status from remaining quantity after a
// reservation commits: depleted listings become sold_out, partially taken
// active listings become reserved.
func (l *Listing) ApplyQuantityStatus() {
	if l.QuantityAvailable <= 0 {
		l.Status = ListingSoldOut
	} else if l.QuantityAvailable < l.QuantityOriginal && l.Status == ListingActive {
		l.Status = ListingReserved
	}
}
