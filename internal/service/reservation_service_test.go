package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dontwaste/surplus_api/internal/models"
)

func testListing(id int64, quantity float64) *models.Listing {
	now := time.Now()
	return &models.Listing{
		ID:                id,
		EnterpriseID:      1,
		VariantID:         1,
		Title:             "Day-old sourdough",
		QuantityAvailable: quantity,
		QuantityOriginal:  quantity,
		Unit:              "kg",
		BasePrice:         10,
		Currency:          "EUR",
		PricingStrategy:   models.PricingFixed,
		ExpiresAt:         now.Add(48 * time.Hour),
		PickupStartAt:     now,
		PickupEndAt:       now.Add(48 * time.Hour),
		Status:            models.ListingActive,
		Visibility:        models.VisibilityPublic,
		CreatedAt:         now,
	}
}

func newTestReservationService(store *memStore) *ReservationService {
	metrics := NewMetricService(memMetrics{store})
	return NewReservationService(store, store, memReservations{store}, metrics, &recordingMailer{}, 30)
}

func TestReserve_DecrementsQuantityAndSnapshotsPrice(t *testing.T) {
	store := newMemStore()
	l := testListing(1, 100)
	l.MinOrderQuantity = 10
	store.addListing(l)
	svc := newTestReservationService(store)

	res, err := svc.Reserve(context.Background(), 1, 7, nil, 60, nil)
	require.NoError(t, err)

	assert.NotEmpty(t, res.Reference)
	assert.Equal(t, models.ReservationActive, res.Status)
	assert.Equal(t, 60.0, res.Quantity)
	assert.Equal(t, 10.0, res.PriceAtReservation)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), res.ReservedUntil, 5*time.Second)

	got := store.listing(1)
	assert.Equal(t, 40.0, got.QuantityAvailable)
	assert.Equal(t, models.ListingReserved, got.Status)
}

func TestReserve_BulkTiersDoNotDiscountHoldPrice(t *testing.T) {
	store := newMemStore()
	l := testListing(1, 200)
	l.BulkPriceTiers = models.BulkPriceTiers{{MinQuantity: 50, DiscountPercent: 10}}
	store.addListing(l)
	svc := newTestReservationService(store)

	res, err := svc.Reserve(context.Background(), 1, 7, nil, 100, nil)
	require.NoError(t, err)
	assert.Equal(t, 10.0, res.PriceAtReservation,
		"the hold carries the unit strategy price; tiers only shape quotes")
}

func TestReserve_SnapshotsMarkdownPrice(t *testing.T) {
	store := newMemStore()
	l := testListing(1, 100)
	l.PricingStrategy = models.PricingMarkdownLinear
	min := 5.0
	l.MarkdownMinPrice = &min
	published := time.Now().Add(-12 * time.Hour)
	l.PublishedAt = &published
	l.ExpiresAt = time.Now().Add(12 * time.Hour)
	store.addListing(l)
	svc := newTestReservationService(store)

	res, err := svc.Reserve(context.Background(), 1, 7, nil, 10, nil)
	require.NoError(t, err)
	assert.InDelta(t, 7.5, res.PriceAtReservation, 0.01)
}

func TestReserve_ValidationOrder(t *testing.T) {
	store := newMemStore()
	l := testListing(1, 100)
	l.MinOrderQuantity = 10
	store.addListing(l)
	svc := newTestReservationService(store)
	ctx := context.Background()

	_, err := svc.Reserve(ctx, 1, 7, nil, 0, nil)
	require.EqualError(t, err, "Quantity must be greater than zero")

	_, err = svc.Reserve(ctx, 1, 7, nil, 5, nil)
	require.EqualError(t, err, "Minimum order quantity is 10 kg")

	_, err = svc.Reserve(ctx, 1, 7, nil, 150, nil)
	require.EqualError(t, err, "Only 100 kg available")
}

func TestReserve_UnavailableStates(t *testing.T) {
	store := newMemStore()
	draft := testListing(1, 100)
	draft.Status = models.ListingDraft
	store.addListing(draft)

	expired := testListing(2, 100)
	expired.ExpiresAt = time.Now().Add(-time.Hour)
	store.addListing(expired)

	svc := newTestReservationService(store)
	ctx := context.Background()

	_, err := svc.Reserve(ctx, 1, 7, nil, 10, nil)
	require.EqualError(t, err, "Listing is not available for reservation")

	_, err = svc.Reserve(ctx, 2, 7, nil, 10, nil)
	require.EqualError(t, err, "Listing has expired")

	_, err = svc.Reserve(ctx, 99, 7, nil, 10, nil)
	require.EqualError(t, err, "Listing not found")
}

func TestReserve_OneActiveHoldPerBuyer(t *testing.T) {
	store := newMemStore()
	store.addListing(testListing(1, 100))
	svc := newTestReservationService(store)
	ctx := context.Background()

	_, err := svc.Reserve(ctx, 1, 7, nil, 10, nil)
	require.NoError(t, err)

	_, err = svc.Reserve(ctx, 1, 7, nil, 10, nil)
	require.EqualError(t, err, "You already have an active reservation for this listing")

	// A different buyer is fine.
	_, err = svc.Reserve(ctx, 1, 8, nil, 10, nil)
	require.NoError(t, err)
}

func TestReserve_DepletionMarksSoldOut(t *testing.T) {
	store := newMemStore()
	store.addListing(testListing(1, 50))
	svc := newTestReservationService(store)

	_, err := svc.Reserve(context.Background(), 1, 7, nil, 50, nil)
	require.NoError(t, err)

	got := store.listing(1)
	assert.Equal(t, 0.0, got.QuantityAvailable)
	assert.Equal(t, models.ListingSoldOut, got.Status)
}

func TestReserve_ConcurrentNeverOversells(t *testing.T) {
	store := newMemStore()
	store.addListing(testListing(1, 100))
	svc := newTestReservationService(store)

	const buyers = 25
	var wg sync.WaitGroup
	errs := make([]error, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Reserve(context.Background(), 1, int64(100+i), nil, 10, nil)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, 10, succeeded, "exactly the available quantity may be taken")

	got := store.listing(1)
	assert.Equal(t, 0.0, got.QuantityAvailable)
	assert.Equal(t, models.ListingSoldOut, got.Status)
}

func TestRelease_RestoresQuantityAndReopensListing(t *testing.T) {
	store := newMemStore()
	l := testListing(1, 100)
	l.MinOrderQuantity = 10
	store.addListing(l)
	svc := newTestReservationService(store)
	ctx := context.Background()

	res, err := svc.Reserve(ctx, 1, 7, nil, 60, nil)
	require.NoError(t, err)
	require.Equal(t, models.ListingReserved, store.listing(1).Status)

	released, err := svc.Release(ctx, res.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationCancelled, released.Status)

	got := store.listing(1)
	assert.Equal(t, 100.0, got.QuantityAvailable)
	assert.Equal(t, models.ListingActive, got.Status)
}

func TestRelease_ReopensSoldOutListing(t *testing.T) {
	store := newMemStore()
	store.addListing(testListing(1, 50))
	svc := newTestReservationService(store)
	ctx := context.Background()

	res, err := svc.Reserve(ctx, 1, 7, nil, 50, nil)
	require.NoError(t, err)
	require.Equal(t, models.ListingSoldOut, store.listing(1).Status)

	_, err = svc.Release(ctx, res.ID, 7)
	require.NoError(t, err)

	got := store.listing(1)
	assert.Equal(t, 50.0, got.QuantityAvailable)
	assert.Equal(t, models.ListingActive, got.Status)
}

func TestRelease_KeepsReservedWhileOtherHoldsRemain(t *testing.T) {
	store := newMemStore()
	store.addListing(testListing(1, 100))
	svc := newTestReservationService(store)
	ctx := context.Background()

	res1, err := svc.Reserve(ctx, 1, 7, nil, 30, nil)
	require.NoError(t, err)
	_, err = svc.Reserve(ctx, 1, 8, nil, 30, nil)
	require.NoError(t, err)

	_, err = svc.Release(ctx, res1.ID, 7)
	require.NoError(t, err)

	got := store.listing(1)
	assert.Equal(t, 70.0, got.QuantityAvailable)
	assert.Equal(t, models.ListingReserved, got.Status)
}

func TestRelease_OnlyOwnReservation(t *testing.T) {
	store := newMemStore()
	store.addListing(testListing(1, 100))
	svc := newTestReservationService(store)
	ctx := context.Background()

	res, err := svc.Reserve(ctx, 1, 7, nil, 10, nil)
	require.NoError(t, err)

	_, err = svc.Release(ctx, res.ID, 99)
	require.EqualError(t, err, "Reservation not found")

	_, err = svc.Release(ctx, res.ID, 7)
	require.NoError(t, err)

	// Releasing twice fails: the hold is no longer active.
	_, err = svc.Release(ctx, res.ID, 7)
	require.EqualError(t, err, "Reservation is not active")
}

func TestReleaseExpiredHolds_SweepsOnlyStaleHolds(t *testing.T) {
	store := newMemStore()
	store.addListing(testListing(1, 100))
	svc := newTestReservationService(store)
	ctx := context.Background()

	stale, err := svc.Reserve(ctx, 1, 7, nil, 20, nil)
	require.NoError(t, err)
	fresh, err := svc.Reserve(ctx, 1, 8, nil, 30, nil)
	require.NoError(t, err)

	// Age the first hold past its deadline.
	aged := store.reservation(stale.ID)
	aged.ReservedUntil = time.Now().Add(-time.Minute)
	store.addReservation(&aged)

	released, err := svc.ReleaseExpiredHolds(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	assert.Equal(t, models.ReservationExpired, store.reservation(stale.ID).Status)
	assert.Equal(t, models.ReservationActive, store.reservation(fresh.ID).Status)

	got := store.listing(1)
	assert.Equal(t, 70.0, got.QuantityAvailable)
	assert.Equal(t, models.ListingReserved, got.Status)
}

func TestConvertToOrder_RecordsImpactMetric(t *testing.T) {
	store := newMemStore()
	store.addListing(testListing(1, 100))
	svc := newTestReservationService(store)
	ctx := context.Background()

	res, err := svc.Reserve(ctx, 1, 7, nil, 40, nil)
	require.NoError(t, err)

	converted, err := svc.ConvertToOrder(ctx, res.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationConverted, converted.Status)

	// Quantity stays gone from the listing.
	assert.Equal(t, 60.0, store.listing(1).QuantityAvailable)

	require.Len(t, store.metrics, 1)
	m := store.metrics[0]
	assert.Equal(t, models.MetricReservationCompleted, m.Type)
	assert.Equal(t, 40.0, *m.QuantityKg)
	assert.Equal(t, 400.0, *m.ValueSaved)
	assert.InDelta(t, 100.0, *m.EmissionsSavedKg, 0.01)

	// A converted hold cannot convert twice or be released.
	_, err = svc.ConvertToOrder(ctx, res.ID, 7)
	require.EqualError(t, err, "Reservation is not active")
	_, err = svc.Release(ctx, res.ID, 7)
	require.EqualError(t, err, "Reservation is not active")
}

func TestConvertToOrder_RejectsExpiredHold(t *testing.T) {
	store := newMemStore()
	store.addListing(testListing(1, 100))
	svc := newTestReservationService(store)
	ctx := context.Background()

	res, err := svc.Reserve(ctx, 1, 7, nil, 10, nil)
	require.NoError(t, err)

	aged := store.reservation(res.ID)
	aged.ReservedUntil = time.Now().Add(-time.Minute)
	store.addReservation(&aged)

	_, err = svc.ConvertToOrder(ctx, res.ID, 7)
	require.EqualError(t, err, "Reservation hold has expired")
}
