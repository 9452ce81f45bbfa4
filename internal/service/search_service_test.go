package service

import (
	"context"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dontwaste/surplus_api/internal/models"
)

func fptr(v float64) *float64 { return &v }
func iptr(v int) *int         { return &v }
func i64ptr(v int64) *int64   { return &v }
func sptr(v string) *string   { return &v }

// Pickup points used by the geo tests, roughly 1 km and 280 km apart.
var (
	berlinLat = 52.5200
	berlinLng = 13.4050
	hamburg   = [2]float64{53.5511, 9.9937}
)

func searchFixture() *memStore {
	store := newMemStore()

	bread := testListing(1, 20)
	bread.Title = "Sourdough loaves"
	bread.Description = "Day-old artisan bread"
	bread.ProductName = "Bread"
	bread.TaxonIDs = pq.Int64Array{10, 11}
	bread.BasePrice = 2
	bread.ExpiresAt = time.Now().Add(6 * time.Hour)
	bread.PickupLatitude = &berlinLat
	bread.PickupLongitude = &berlinLng
	bread.CreatedAt = time.Now().Add(-3 * time.Hour)
	store.addListing(bread)

	veg := testListing(2, 80)
	veg.Title = "Mixed vegetables crate"
	veg.ProductName = "Vegetables"
	veg.TaxonIDs = pq.Int64Array{20}
	veg.BasePrice = 15
	veg.ExpiresAt = time.Now().Add(30 * time.Hour)
	hLat, hLng := hamburg[0], hamburg[1]
	veg.PickupLatitude = &hLat
	veg.PickupLongitude = &hLng
	veg.CreatedAt = time.Now().Add(-2 * time.Hour)
	store.addListing(veg)

	dairy := testListing(3, 40)
	dairy.Title = "Yoghurt pallets"
	dairy.ProductName = "Dairy"
	dairy.SellerName = "Molkerei Nord"
	dairy.TaxonIDs = pq.Int64Array{30}
	dairy.BasePrice = 8
	dairy.ExpiresAt = time.Now().Add(12 * time.Hour)
	dairy.CreatedAt = time.Now().Add(-1 * time.Hour)
	store.addListing(dairy)

	return store
}

func TestSearch_TextMatchesAcrossFields(t *testing.T) {
	svc := NewSearchService(searchFixture())
	ctx := context.Background()

	out, total, err := svc.Search(ctx, SearchCriteria{Query: "sourdough"})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, int64(1), out[0].ID)

	// Seller name and product name are searchable too.
	out, _, err = svc.Search(ctx, SearchCriteria{Query: "molkerei"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int64(3), out[0].ID)

	// The query is one substring, so a multi-word phrase must appear
	// verbatim in a single field.
	out, _, err = svc.Search(ctx, SearchCriteria{Query: "artisan bread"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int64(1), out[0].ID)

	_, total, err = svc.Search(ctx, SearchCriteria{Query: "sourdough vegetables"})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestSearch_TextNeverMatchesReorderedWords(t *testing.T) {
	store := newMemStore()
	l := testListing(1, 20)
	l.Title = "Apples, fresh and green"
	store.addListing(l)

	svc := NewSearchService(store)
	_, total, err := svc.Search(context.Background(), SearchCriteria{Query: "green apples"})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestSearch_TaxonFilter(t *testing.T) {
	svc := NewSearchService(searchFixture())

	out, total, err := svc.Search(context.Background(), SearchCriteria{TaxonIDs: []int64{11, 30}})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	ids := []int64{out[0].ID, out[1].ID}
	assert.ElementsMatch(t, []int64{1, 3}, ids)
}

func TestSearch_PriceRangeBoundsBasePrice(t *testing.T) {
	store := searchFixture()

	// A markdown listing close to its floor: base 15, current price near 5.
	marked := store.listing(2)
	marked.PricingStrategy = models.PricingMarkdownLinear
	marked.MarkdownMinPrice = fptr(5)
	published := time.Now().Add(-59 * time.Hour)
	marked.PublishedAt = &published
	marked.ExpiresAt = time.Now().Add(time.Hour)
	store.addListing(&marked)

	svc := NewSearchService(store)

	// The range applies to the asking price, so the marked-down listing
	// stays out even though its live price fits.
	out, total, err := svc.Search(context.Background(), SearchCriteria{
		MinPrice: fptr(5),
		MaxPrice: fptr(10),
	})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, int64(3), out[0].ID)
	assert.InDelta(t, 8, out[0].CurrentPrice, 0.01)

	out, total, err = svc.Search(context.Background(), SearchCriteria{MinPrice: fptr(12)})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, int64(2), out[0].ID)
	assert.Less(t, out[0].CurrentPrice, 6.0, "response still carries the live price")
}

func TestSearch_QuantityAndExpiryFilters(t *testing.T) {
	svc := NewSearchService(searchFixture())
	ctx := context.Background()

	out, total, err := svc.Search(ctx, SearchCriteria{MinQuantity: fptr(50)})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, int64(2), out[0].ID)

	out, total, err = svc.Search(ctx, SearchCriteria{MaxQuantity: fptr(30)})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, int64(1), out[0].ID)

	_, total, err = svc.Search(ctx, SearchCriteria{MinQuantity: fptr(30), MaxQuantity: fptr(60)})
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	_, total, err = svc.Search(ctx, SearchCriteria{ExpiresWithinHours: iptr(24)})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestSearch_SellerAndPickupDateFilters(t *testing.T) {
	store := searchFixture()
	other := store.listing(2)
	other.EnterpriseID = 9
	store.addListing(&other)

	svc := NewSearchService(store)
	ctx := context.Background()

	out, total, err := svc.Search(ctx, SearchCriteria{EnterpriseID: i64ptr(9)})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, int64(2), out[0].ID)

	// All fixture pickup windows start today; a day far in the future matches
	// only the listing whose window reaches it.
	soon := store.listing(1)
	soon.PickupEndAt = time.Now().Add(2 * time.Hour)
	store.addListing(&soon)

	nextWeek := time.Now().AddDate(0, 0, 7)
	long := store.listing(3)
	long.PickupEndAt = nextWeek.Add(24 * time.Hour)
	store.addListing(&long)

	_, total, err = svc.Search(ctx, SearchCriteria{PickupOn: &nextWeek})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestSearch_GeoRadius(t *testing.T) {
	svc := NewSearchService(searchFixture())

	out, total, err := svc.Search(context.Background(), SearchCriteria{
		Latitude:  fptr(berlinLat),
		Longitude: fptr(berlinLng),
		RadiusKm:  fptr(50),
	})
	require.NoError(t, err)
	// Hamburg is out of range; the listing without coordinates is dropped
	// because a radius filter needs a resolvable pickup point.
	require.Equal(t, 1, total)
	assert.Equal(t, int64(1), out[0].ID)
	require.NotNil(t, out[0].DistanceKm)
	assert.Less(t, *out[0].DistanceKm, 1.0)
}

func TestSearch_SortOrders(t *testing.T) {
	svc := NewSearchService(searchFixture())
	ctx := context.Background()

	ids := func(ls []models.Listing) []int64 {
		out := make([]int64, len(ls))
		for i, l := range ls {
			out[i] = l.ID
		}
		return out
	}

	out, _, err := svc.Search(ctx, SearchCriteria{})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 2}, ids(out), "default is soonest expiry first")

	out, _, err = svc.Search(ctx, SearchCriteria{Sort: SortExpiresAt, Direction: DirectionDesc})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3, 1}, ids(out))

	out, _, err = svc.Search(ctx, SearchCriteria{Sort: SortPrice})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 2}, ids(out))

	out, _, err = svc.Search(ctx, SearchCriteria{Sort: SortPrice, Direction: DirectionDesc})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3, 1}, ids(out))

	out, _, err = svc.Search(ctx, SearchCriteria{Sort: SortCreatedAt})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids(out), "oldest first ascending")

	out, _, err = svc.Search(ctx, SearchCriteria{Sort: SortCreatedAt, Direction: DirectionDesc})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2, 1}, ids(out))

	// Distance without coordinates degrades to the default expiry order.
	out, _, err = svc.Search(ctx, SearchCriteria{Sort: SortDistance})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 2}, ids(out))
}

func TestSearch_DistanceSortExcludesUnlocatableListings(t *testing.T) {
	svc := NewSearchService(searchFixture())

	// The dairy listing carries no pickup point, so a distance ordering
	// drops it even without a radius filter.
	out, total, err := svc.Search(context.Background(), SearchCriteria{
		Sort:      SortDistance,
		Latitude:  fptr(berlinLat),
		Longitude: fptr(berlinLng),
	})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	assert.Equal(t, int64(1), out[0].ID)
	assert.Equal(t, int64(2), out[1].ID)

	out, _, err = svc.Search(context.Background(), SearchCriteria{
		Sort:      SortDistance,
		Direction: DirectionDesc,
		Latitude:  fptr(berlinLat),
		Longitude: fptr(berlinLng),
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, int64(2), out[0].ID, "direction flag reverses the distance order")
}

func TestSearch_BestValueRanksCheapExpiringStockFirst(t *testing.T) {
	svc := NewSearchService(searchFixture())

	out, _, err := svc.Search(context.Background(), SearchCriteria{Sort: SortBestValue})
	require.NoError(t, err)
	require.Len(t, out, 3)
	// Bread: 2/20 * ~1.25, dairy: 8/40 * ~1.5, veg: 15/80 * ~2.25.
	assert.Equal(t, []int64{1, 3, 2}, []int64{out[0].ID, out[1].ID, out[2].ID})
}

func TestSearch_Pagination(t *testing.T) {
	svc := NewSearchService(searchFixture())
	ctx := context.Background()

	out, total, err := svc.Search(ctx, SearchCriteria{Page: 1, PerPage: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, out, 2)

	out, total, err = svc.Search(ctx, SearchCriteria{Page: 2, PerPage: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, out, 1)

	out, total, err = svc.Search(ctx, SearchCriteria{Page: 5, PerPage: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Empty(t, out)
}

func TestSearch_InviteOnlyVisibility(t *testing.T) {
	store := searchFixture()
	private := store.listing(3)
	private.Visibility = models.VisibilityInviteOnly
	private.AllowedBuyerEnterpriseIDs = pq.Int64Array{42}
	store.addListing(&private)

	svc := NewSearchService(store)
	ctx := context.Background()

	_, total, err := svc.Search(ctx, SearchCriteria{})
	require.NoError(t, err)
	assert.Equal(t, 2, total, "anonymous buyers never see invite-only listings")

	_, total, err = svc.Search(ctx, SearchCriteria{BuyerEnterpriseID: i64ptr(7)})
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	_, total, err = svc.Search(ctx, SearchCriteria{BuyerEnterpriseID: i64ptr(42)})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestSearch_ValidatesCriteria(t *testing.T) {
	svc := NewSearchService(newMemStore())
	ctx := context.Background()

	_, _, err := svc.Search(ctx, SearchCriteria{Latitude: fptr(52)})
	require.EqualError(t, err, "Latitude and longitude must be provided together")

	_, _, err = svc.Search(ctx, SearchCriteria{RadiusKm: fptr(10)})
	require.EqualError(t, err, "A radius filter requires latitude and longitude")

	_, _, err = svc.Search(ctx, SearchCriteria{MinPrice: fptr(10), MaxPrice: fptr(5)})
	require.EqualError(t, err, "Minimum price cannot exceed maximum price")

	_, _, err = svc.Search(ctx, SearchCriteria{MinQuantity: fptr(50), MaxQuantity: fptr(10)})
	require.EqualError(t, err, "Minimum quantity cannot exceed maximum quantity")

	_, _, err = svc.Search(ctx, SearchCriteria{Sort: "cheapest"})
	require.EqualError(t, err, "Unknown sort order")

	_, _, err = svc.Search(ctx, SearchCriteria{Sort: SortPrice, Direction: "down"})
	require.EqualError(t, err, "Direction must be asc or desc")
}
