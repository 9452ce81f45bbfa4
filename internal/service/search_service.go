package service

import (
	"context"
	"sort"
	"time"

	"github.com/dontwaste/surplus_api/internal/models"
	"github.com/dontwaste/surplus_api/internal/pricing"
	"github.com/dontwaste/surplus_api/internal/utils"
)

// Sort keys accepted by the search endpoint. Every key sorts ascending by
// default; the direction flag reverses it.
const (
	SortExpiresAt = "expires_at"
	SortPrice     = "price"
	SortCreatedAt = "created_at"
	SortDistance  = "distance"
	SortBestValue = "best_value"
)

const (
	DirectionAsc  = "asc"
	DirectionDesc = "desc"
)

// SearchCriteria is the full filter and ordering surface for listing search.
// Nil or zero criteria are skipped.
type SearchCriteria struct {
	Query    string
	TaxonIDs []int64

	Latitude  *float64
	Longitude *float64
	RadiusKm  *float64

	MinPrice           *float64
	MaxPrice           *float64
	MinQuantity        *float64
	MaxQuantity        *float64
	ExpiresWithinHours *int

	// PickupOn keeps only listings whose pickup window touches that calendar day.
	PickupOn *time.Time
	// EnterpriseID narrows results to one seller.
	EnterpriseID *int64

	Sort      string
	Direction string
	Page      int
	PerPage   int

	// BuyerEnterpriseID gates invite-only listings; nil sees public only.
	BuyerEnterpriseID *int64
}

// AvailableListingStore feeds the search pipeline.
type AvailableListingStore interface {
	GetAvailable(ctx context.Context) ([]models.Listing, error)
}

// SearchService filters, prices, ranks and paginates the available listing
// pool in memory. The pool is pre-filtered to active unexpired listings by the
// store; everything criteria-dependent happens here so watch matching can
// apply the identical predicates.
type SearchService struct {
	store AvailableListingStore
	now   func() time.Time
}

// NewSearchService creates a new SearchService.
func NewSearchService(store AvailableListingStore) *SearchService {
	return &SearchService{store: store, now: time.Now}
}

// Search runs the pipeline and returns one page plus the total match count.
func (s *SearchService) Search(ctx context.Context, c SearchCriteria) ([]models.Listing, int, error) {
	if err := s.validate(&c); err != nil {
		return nil, 0, err
	}

	pool, err := s.store.GetAvailable(ctx)
	if err != nil {
		return nil, 0, err
	}

	now := s.now()
	hasGeo := c.Latitude != nil && c.Longitude != nil

	matched := make([]models.Listing, 0, len(pool))
	for i := range pool {
		l := pool[i]
		if !l.VisibleTo(c.BuyerEnterpriseID) {
			continue
		}
		if c.EnterpriseID != nil && l.EnterpriseID != *c.EnterpriseID {
			continue
		}
		if c.PickupOn != nil && !pickupWindowCovers(&l, *c.PickupOn) {
			continue
		}
		if !matchesText(&l, c.Query) {
			continue
		}
		if !matchesTaxons(&l, c.TaxonIDs) {
			continue
		}

		// The price range bounds the seller's asking price, not the live
		// markdown; the computed price still goes out in the response.
		if c.MinPrice != nil && l.BasePrice < *c.MinPrice {
			continue
		}
		if c.MaxPrice != nil && l.BasePrice > *c.MaxPrice {
			continue
		}
		if c.MinQuantity != nil && l.QuantityAvailable < *c.MinQuantity {
			continue
		}
		if c.MaxQuantity != nil && l.QuantityAvailable > *c.MaxQuantity {
			continue
		}
		if c.ExpiresWithinHours != nil && l.TimeLeftHours(now) > float64(*c.ExpiresWithinHours) {
			continue
		}

		if hasGeo {
			d, ok := listingDistanceKm(&l, *c.Latitude, *c.Longitude)
			if !ok {
				// No resolvable pickup point: a radius filter or a distance
				// ordering excludes the listing outright.
				if c.RadiusKm != nil || c.Sort == SortDistance {
					continue
				}
			} else {
				if c.RadiusKm != nil && d > *c.RadiusKm {
					continue
				}
				l.DistanceKm = &d
			}
		}

		l.CurrentPrice = pricing.Price(&l, now)
		matched = append(matched, l)
	}

	s.sortListings(matched, c.Sort, c.Direction, hasGeo, now)

	total := len(matched)
	start := (c.Page - 1) * c.PerPage
	if start >= total {
		return []models.Listing{}, total, nil
	}
	end := start + c.PerPage
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *SearchService) validate(c *SearchCriteria) error {
	if (c.Latitude == nil) != (c.Longitude == nil) {
		return utils.ValidationError("INVALID_COORDINATES", "Latitude and longitude must be provided together")
	}
	if c.RadiusKm != nil && c.Latitude == nil {
		return utils.ValidationError("INVALID_RADIUS", "A radius filter requires latitude and longitude")
	}
	if c.MinPrice != nil && c.MaxPrice != nil && *c.MinPrice > *c.MaxPrice {
		return utils.ValidationError("INVALID_PRICE_RANGE", "Minimum price cannot exceed maximum price")
	}
	if c.MinQuantity != nil && c.MaxQuantity != nil && *c.MinQuantity > *c.MaxQuantity {
		return utils.ValidationError("INVALID_QUANTITY_RANGE", "Minimum quantity cannot exceed maximum quantity")
	}
	switch c.Sort {
	case "", SortExpiresAt, SortPrice, SortCreatedAt, SortDistance, SortBestValue:
	default:
		return utils.ValidationError("INVALID_SORT", "Unknown sort order")
	}
	switch c.Direction {
	case "", DirectionAsc, DirectionDesc:
	default:
		return utils.ValidationError("INVALID_DIRECTION", "Direction must be asc or desc")
	}
	if c.Page < 1 {
		c.Page = 1
	}
	if c.PerPage < 1 || c.PerPage > 100 {
		c.PerPage = 20
	}
	return nil
}

func (s *SearchService) sortListings(listings []models.Listing, order, direction string, hasGeo bool, now time.Time) {
	// Soonest expiry first unless asked otherwise.
	less := func(i, j int) bool { return listings[i].ExpiresAt.Before(listings[j].ExpiresAt) }

	switch order {
	case SortPrice:
		less = func(i, j int) bool { return listings[i].BasePrice < listings[j].BasePrice }
	case SortCreatedAt:
		less = func(i, j int) bool { return listings[i].CreatedAt.Before(listings[j].CreatedAt) }
	case SortDistance:
		// Without a reference point there is nothing to measure; the default
		// expiry ordering applies. With one, every survivor of the filter
		// stage carries a distance.
		if hasGeo {
			less = func(i, j int) bool { return *listings[i].DistanceKm < *listings[j].DistanceKm }
		}
	case SortBestValue:
		less = func(i, j int) bool {
			return bestValueScore(&listings[i], now) < bestValueScore(&listings[j], now)
		}
	}

	if direction == DirectionDesc {
		asc := less
		less = func(i, j int) bool { return asc(j, i) }
	}

	sort.SliceStable(listings, less)
}

// pickupWindowCovers reports whether the listing's pickup window overlaps the
// calendar day of the given instant, in the instant's location.
func pickupWindowCovers(l *models.Listing, day time.Time) bool {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)
	return l.PickupStartAt.Before(dayEnd) && l.PickupEndAt.After(dayStart)
}

// bestValueScore ranks cheap-per-unit stock that is close to expiry first:
// unit price scaled up by the days of shelf life left. Lower is better.
func bestValueScore(l *models.Listing, now time.Time) float64 {
	if l.QuantityAvailable <= 0 {
		return l.BasePrice
	}
	daysLeft := l.TimeLeftHours(now) / 24
	return (l.BasePrice / l.QuantityAvailable) * (1 + daysLeft)
}
