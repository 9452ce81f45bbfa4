package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dontwaste/surplus_api/internal/models"
)

func newTestOfferService(store *memStore) (*OfferService, *recordingMailer) {
	mailer := &recordingMailer{}
	metrics := NewMetricService(memMetrics{store})
	reservations := NewReservationService(store, store, memReservations{store}, metrics, mailer, 30)
	offers := NewOfferService(memOffers{store}, store, store, reservations, metrics, mailer, 24)
	return offers, mailer
}

func TestOfferCreate_PendingWithCappedExpiry(t *testing.T) {
	store := newMemStore()
	l := testListing(1, 100)
	l.MinOrderQuantity = 5
	l.ExpiresAt = time.Now().Add(6 * time.Hour)
	store.addListing(l)
	svc, _ := newTestOfferService(store)

	offer, err := svc.Create(context.Background(), 1, 7, i64ptr(5), 10, 6.5, sptr("Can collect tonight"))
	require.NoError(t, err)

	assert.Equal(t, models.OfferPending, offer.Status)
	assert.Equal(t, 10.0, offer.OfferedQuantity)
	assert.Equal(t, 65.0, offer.OfferedTotal)
	assert.WithinDuration(t, l.ExpiresAt, offer.ExpiresAt, time.Second,
		"offer deadline is capped at the listing expiry")
}

func TestOfferCreate_Validations(t *testing.T) {
	store := newMemStore()
	store.addListing(testListing(1, 100))
	draft := testListing(2, 100)
	draft.Status = models.ListingDraft
	store.addListing(draft)
	svc, _ := newTestOfferService(store)
	ctx := context.Background()

	_, err := svc.Create(ctx, 2, 7, nil, 10, 5, nil)
	require.EqualError(t, err, "Listing is not available for offers")

	_, err = svc.Create(ctx, 1, 7, nil, 0, 5, nil)
	require.EqualError(t, err, "Quantity must be greater than zero")

	_, err = svc.Create(ctx, 1, 7, nil, 150, 5, nil)
	require.EqualError(t, err, "Only 100 kg available")

	short := testListing(3, 100)
	short.MinOrderQuantity = 20
	store.addListing(short)
	_, err = svc.Create(ctx, 3, 7, nil, 10, 5, nil)
	require.EqualError(t, err, "Minimum order quantity is 20 kg")

	_, err = svc.Create(ctx, 1, 7, nil, 10, 0, nil)
	require.EqualError(t, err, "Offered price must be greater than zero")

	_, err = svc.Create(ctx, 1, 7, nil, 10, 5, nil)
	require.NoError(t, err)
	_, err = svc.Create(ctx, 1, 7, nil, 20, 6, nil)
	require.EqualError(t, err, "You already have a pending offer for this listing")
}

func TestOfferAccept_ReservesAtAgreedPrice(t *testing.T) {
	store := newMemStore()
	store.addListing(testListing(1, 100))
	svc, _ := newTestOfferService(store)
	ctx := context.Background()

	offer, err := svc.Create(ctx, 1, 7, i64ptr(5), 30, 6.5, nil)
	require.NoError(t, err)

	accepted, err := svc.Accept(ctx, offer.ID, 1, sptr("Deal"))
	require.NoError(t, err)

	assert.Equal(t, models.OfferAccepted, accepted.Status)
	require.NotNil(t, accepted.ReservationID)
	require.NotNil(t, accepted.RespondedAt)

	res := store.reservation(*accepted.ReservationID)
	assert.Equal(t, models.ReservationActive, res.Status)
	assert.Equal(t, 30.0, res.Quantity)
	assert.Equal(t, 6.5, res.PriceAtReservation, "reserved at the negotiated price, not the listing price")

	got := store.listing(1)
	assert.Equal(t, 70.0, got.QuantityAvailable)
	assert.Equal(t, models.ListingReserved, got.Status)

	require.Len(t, store.metrics, 1)
	assert.Equal(t, models.MetricOfferAccepted, store.metrics[0].Type)
}

func TestOfferAccept_StockGoneLeavesOfferPending(t *testing.T) {
	store := newMemStore()
	store.addListing(testListing(1, 100))
	svc, _ := newTestOfferService(store)
	ctx := context.Background()

	offer, err := svc.Create(ctx, 1, 7, nil, 80, 6, nil)
	require.NoError(t, err)

	// Another buyer takes most of the stock before the seller responds.
	_, err = svc.reservations.Reserve(ctx, 1, 8, nil, 50, nil)
	require.NoError(t, err)

	_, err = svc.Accept(ctx, offer.ID, 1, nil)
	require.EqualError(t, err, "Only 50 kg available")

	assert.Equal(t, models.OfferPending, store.offer(offer.ID).Status)
	assert.Equal(t, 50.0, store.listing(1).QuantityAvailable)
	assert.Empty(t, store.metrics)
}

func TestOfferAccept_SellerOwnershipAndState(t *testing.T) {
	store := newMemStore()
	store.addListing(testListing(1, 100))
	svc, _ := newTestOfferService(store)
	ctx := context.Background()

	offer, err := svc.Create(ctx, 1, 7, nil, 10, 5, nil)
	require.NoError(t, err)

	_, err = svc.Accept(ctx, offer.ID, 99, nil)
	require.EqualError(t, err, "Offer not found")

	_, err = svc.Reject(ctx, offer.ID, 1, sptr("Too low"))
	require.NoError(t, err)

	_, err = svc.Accept(ctx, offer.ID, 1, nil)
	require.EqualError(t, err, "Offer has already been decided")
}

func TestOfferReject_NoStockMoves(t *testing.T) {
	store := newMemStore()
	store.addListing(testListing(1, 100))
	svc, _ := newTestOfferService(store)
	ctx := context.Background()

	offer, err := svc.Create(ctx, 1, 7, nil, 10, 5, nil)
	require.NoError(t, err)

	rejected, err := svc.Reject(ctx, offer.ID, 1, sptr("Too low"))
	require.NoError(t, err)

	assert.Equal(t, models.OfferRejected, rejected.Status)
	assert.Equal(t, "Too low", *rejected.SellerResponse)
	assert.Nil(t, rejected.ReservationID)
	assert.Equal(t, 100.0, store.listing(1).QuantityAvailable)
}

func TestOfferCancel_BuyerOwnedPendingOnly(t *testing.T) {
	store := newMemStore()
	store.addListing(testListing(1, 100))
	svc, _ := newTestOfferService(store)
	ctx := context.Background()

	offer, err := svc.Create(ctx, 1, 7, nil, 10, 5, nil)
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, offer.ID, 99)
	require.EqualError(t, err, "Offer not found")

	cancelled, err := svc.Cancel(ctx, offer.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, models.OfferCancelled, cancelled.Status)

	_, err = svc.Cancel(ctx, offer.ID, 7)
	require.EqualError(t, err, "Offer has already been decided")
}

func TestExpireOffers_SweepsStalePending(t *testing.T) {
	store := newMemStore()
	store.addListing(testListing(1, 100))
	svc, _ := newTestOfferService(store)
	ctx := context.Background()

	stale, err := svc.Create(ctx, 1, 7, nil, 10, 5, nil)
	require.NoError(t, err)
	fresh, err := svc.Create(ctx, 1, 8, nil, 10, 5, nil)
	require.NoError(t, err)

	aged := store.offer(stale.ID)
	aged.ExpiresAt = time.Now().Add(-time.Minute)
	store.addOffer(&aged)

	count, err := svc.ExpireOffers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, models.OfferExpired, store.offer(stale.ID).Status)
	assert.Equal(t, models.OfferPending, store.offer(fresh.ID).Status)

	// An expired offer can no longer be accepted.
	_, err = svc.Accept(ctx, stale.ID, 1, nil)
	require.EqualError(t, err, "Offer has already been decided")
}

func TestOfferListByListing_SellerOnly(t *testing.T) {
	store := newMemStore()
	store.addListing(testListing(1, 100))
	svc, _ := newTestOfferService(store)
	ctx := context.Background()

	_, err := svc.Create(ctx, 1, 7, nil, 10, 5, nil)
	require.NoError(t, err)
	_, err = svc.Create(ctx, 1, 8, nil, 20, 6, nil)
	require.NoError(t, err)

	offers, err := svc.ListByListing(ctx, 1, 1)
	require.NoError(t, err)
	assert.Len(t, offers, 2)

	_, err = svc.ListByListing(ctx, 1, 99)
	require.EqualError(t, err, "Listing not found")
}
