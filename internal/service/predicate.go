package service

import (
	"math"
	"strings"
	"time"

	"github.com/dontwaste/surplus_api/internal/models"
	"github.com/dontwaste/surplus_api/internal/pricing"
)

// earthRadiusKm is the mean Earth radius used by the haversine distance.
const earthRadiusKm = 6371.0

// haversineKm returns the great-circle distance between two points in km.
func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	rLat1 := lat1 * math.Pi / 180
	rLat2 := lat2 * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// listingDistanceKm resolves the listing's pickup point and returns the
// distance from (lat, lng), or false when the listing has no coordinates.
func listingDistanceKm(l *models.Listing, lat, lng float64) (float64, bool) {
	plat, plng := l.PickupCoordinates()
	if plat == nil || plng == nil {
		return 0, false
	}
	return haversineKm(lat, lng, *plat, *plng), true
}

// matchesText reports whether the query appears, case-insensitively, as a
// substring of one of the listing's searchable text fields. Fields are checked
// individually so a query can never match across a field boundary.
func matchesText(l *models.Listing, query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	for _, field := range []string{l.Title, l.Description, l.ProductName, l.ProductSKU, l.SellerName} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

// matchesTaxons reports whether the listing's taxonomy intersects the wanted
// set. An empty wanted set matches everything.
func matchesTaxons(l *models.Listing, taxonIDs []int64) bool {
	if len(taxonIDs) == 0 {
		return true
	}
	for _, want := range taxonIDs {
		for _, have := range l.TaxonIDs {
			if want == have {
				return true
			}
		}
	}
	return false
}

// matchesWatch evaluates a watch's criteria against a listing. Every criterion
// present on the watch must hold; absent criteria are skipped. The individual
// checks are the same predicates the search pipeline applies, so a watch fires
// exactly when its saved search would have surfaced the listing.
func matchesWatch(w *models.Watch, l *models.Listing, now time.Time) bool {
	if !w.Active {
		return false
	}
	if l.Status != models.ListingActive || l.Expired(now) || l.QuantityAvailable <= 0 {
		return false
	}
	if !l.VisibleTo(w.BuyerEnterpriseID) {
		return false
	}
	if w.HasLocationFilter() {
		d, ok := listingDistanceKm(l, *w.Latitude, *w.Longitude)
		if !ok || d > *w.RadiusKm {
			return false
		}
	}
	if !matchesText(l, w.QueryText) {
		return false
	}
	if !matchesTaxons(l, w.TaxonIDs) {
		return false
	}
	if w.MaxPrice != nil && pricing.Price(l, now) > *w.MaxPrice {
		return false
	}
	if w.MinQuantity != nil && l.QuantityAvailable < *w.MinQuantity {
		return false
	}
	if w.ExpiresWithinHours != nil && l.TimeLeftHours(now) > float64(*w.ExpiresWithinHours) {
		return false
	}
	return true
}
