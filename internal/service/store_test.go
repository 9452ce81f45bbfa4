package service

import (
	"context"
	"sync"
	"time"

	"github.com/dontwaste/surplus_api/internal/models"
	"github.com/dontwaste/surplus_api/internal/repository"
	"github.com/dontwaste/surplus_api/internal/utils"
)

// memStore is an in-memory store backing the service tests. WithListingLock
// takes a real per-listing mutex, so the concurrency tests exercise the same
// serialization the row lock provides in production.
type memStore struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex

	listings     map[int64]*models.Listing
	reservations map[int64]*models.Reservation
	offers       map[int64]*models.Offer
	watches      map[int64]*models.Watch
	metrics      []models.Metric

	nextReservationID int64
	nextOfferID       int64
	nextWatchID       int64
}

func newMemStore() *memStore {
	return &memStore{
		locks:        make(map[int64]*sync.Mutex),
		listings:     make(map[int64]*models.Listing),
		reservations: make(map[int64]*models.Reservation),
		offers:       make(map[int64]*models.Offer),
		watches:      make(map[int64]*models.Watch),
	}
}

func (s *memStore) addListing(l *models.Listing) *models.Listing {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *l
	s.listings[cp.ID] = &cp
	return &cp
}

func (s *memStore) addReservation(r *models.Reservation) *models.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextReservationID++
	cp := *r
	if cp.ID == 0 {
		cp.ID = s.nextReservationID
	}
	s.reservations[cp.ID] = &cp
	return &cp
}

func (s *memStore) addOffer(o *models.Offer) *models.Offer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextOfferID++
	cp := *o
	if cp.ID == 0 {
		cp.ID = s.nextOfferID
	}
	s.offers[cp.ID] = &cp
	return &cp
}

func (s *memStore) listing(id int64) models.Listing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.listings[id]
}

func (s *memStore) reservation(id int64) models.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.reservations[id]
}

func (s *memStore) offer(id int64) models.Offer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.offers[id]
}

// ListingReader / ListingStore

func (s *memStore) GetByID(ctx context.Context, id int64) (*models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok {
		return nil, utils.NotFoundError("LISTING_NOT_FOUND", "Listing not found")
	}
	cp := *l
	return &cp, nil
}

func (s *memStore) Create(ctx context.Context, l *models.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == 0 {
		l.ID = int64(len(s.listings) + 1)
	}
	l.CreatedAt = time.Now()
	cp := *l
	s.listings[l.ID] = &cp
	return nil
}

func (s *memStore) Update(ctx context.Context, l *models.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *l
	s.listings[l.ID] = &cp
	return nil
}

func (s *memStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listings, id)
	return nil
}

func (s *memStore) GetExpired(ctx context.Context) ([]models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var out []models.Listing
	for _, l := range s.listings {
		if l.Expired(now) && !l.Status.Terminal() && l.Status != models.ListingSoldOut {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (s *memStore) ListByEnterprise(ctx context.Context, enterpriseID int64) ([]models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Listing
	for _, l := range s.listings {
		if l.EnterpriseID == enterpriseID {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (s *memStore) GetAvailable(ctx context.Context) ([]models.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var out []models.Listing
	for _, l := range s.listings {
		if l.Status == models.ListingActive && !l.Expired(now) && l.QuantityAvailable > 0 {
			out = append(out, *l)
		}
	}
	return out, nil
}

// ListingLocker

func (s *memStore) WithListingLock(ctx context.Context, listingID int64, fn func(tx repository.ListingTx) error) error {
	s.mu.Lock()
	lock, ok := s.locks[listingID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[listingID] = lock
	}
	_, exists := s.listings[listingID]
	s.mu.Unlock()
	if !exists {
		return utils.NotFoundError("LISTING_NOT_FOUND", "Listing not found")
	}

	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	cp := *s.listings[listingID]
	s.mu.Unlock()

	return fn(&memTx{store: s, listing: &cp})
}

type memTx struct {
	store   *memStore
	listing *models.Listing
}

func (t *memTx) Listing() *models.Listing { return t.listing }

func (t *memTx) UpdateListing(l *models.Listing) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	cp := *l
	t.store.listings[l.ID] = &cp
	return nil
}

func (t *memTx) CreateReservation(res *models.Reservation) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.nextReservationID++
	res.ID = t.store.nextReservationID
	res.CreatedAt = time.Now()
	cp := *res
	t.store.reservations[res.ID] = &cp
	return nil
}

func (t *memTx) UpdateReservation(res *models.Reservation) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	cp := *res
	t.store.reservations[res.ID] = &cp
	return nil
}

func (t *memTx) UpdateOffer(o *models.Offer) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	cp := *o
	t.store.offers[o.ID] = &cp
	return nil
}

func (t *memTx) HasActiveReservation(buyerID int64) (bool, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, r := range t.store.reservations {
		if r.ListingID == t.listing.ID && r.BuyerID == buyerID && r.Status == models.ReservationActive {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) HasOtherActiveReservations(excludeReservationID int64) (bool, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, r := range t.store.reservations {
		if r.ListingID == t.listing.ID && r.Status == models.ReservationActive && r.ID != excludeReservationID {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) ActiveReservations() ([]models.Reservation, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	var out []models.Reservation
	for _, r := range t.store.reservations {
		if r.ListingID == t.listing.ID && r.Status == models.ReservationActive {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (t *memTx) PendingOffers() ([]models.Offer, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	var out []models.Offer
	for _, o := range t.store.offers {
		if o.ListingID == t.listing.ID && o.Status == models.OfferPending {
			out = append(out, *o)
		}
	}
	return out, nil
}

// ReservationStore

type memReservations struct{ *memStore }

func (s memReservations) GetByID(ctx context.Context, id int64) (*models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return nil, utils.NotFoundError("RESERVATION_NOT_FOUND", "Reservation not found")
	}
	cp := *r
	return &cp, nil
}

func (s memReservations) ListByBuyer(ctx context.Context, buyerID int64, limit, offset int) ([]models.Reservation, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Reservation
	for _, r := range s.reservations {
		if r.BuyerID == buyerID {
			out = append(out, *r)
		}
	}
	return out, len(out), nil
}

func (s memReservations) GetExpiredHolds(ctx context.Context) ([]models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var out []models.Reservation
	for _, r := range s.reservations {
		if r.Status == models.ReservationActive && r.Expired(now) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s memReservations) HasActive(ctx context.Context, listingID, buyerID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reservations {
		if r.ListingID == listingID && r.BuyerID == buyerID && r.Status == models.ReservationActive {
			return true, nil
		}
	}
	return false, nil
}

// OfferStore

type memOffers struct{ *memStore }

func (s memOffers) GetByID(ctx context.Context, id int64) (*models.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[id]
	if !ok {
		return nil, utils.NotFoundError("OFFER_NOT_FOUND", "Offer not found")
	}
	cp := *o
	return &cp, nil
}

func (s memOffers) Create(ctx context.Context, o *models.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextOfferID++
	o.ID = s.nextOfferID
	o.CreatedAt = time.Now()
	cp := *o
	s.offers[o.ID] = &cp
	return nil
}

func (s memOffers) Update(ctx context.Context, o *models.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.offers[o.ID] = &cp
	return nil
}

func (s memOffers) ListByBuyer(ctx context.Context, buyerID int64, limit, offset int) ([]models.Offer, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Offer
	for _, o := range s.offers {
		if o.BuyerID == buyerID {
			out = append(out, *o)
		}
	}
	return out, len(out), nil
}

func (s memOffers) ListByListing(ctx context.Context, listingID int64) ([]models.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Offer
	for _, o := range s.offers {
		if o.ListingID == listingID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s memOffers) HasPending(ctx context.Context, listingID, buyerID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.offers {
		if o.ListingID == listingID && o.BuyerID == buyerID && o.Status == models.OfferPending {
			return true, nil
		}
	}
	return false, nil
}

func (s memOffers) GetExpiredOffers(ctx context.Context) ([]models.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var out []models.Offer
	for _, o := range s.offers {
		if o.Status == models.OfferPending && o.Expired(now) {
			out = append(out, *o)
		}
	}
	return out, nil
}

// WatchStore

type memWatches struct{ *memStore }

func (s memWatches) GetByID(ctx context.Context, id int64) (*models.Watch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.watches[id]
	if !ok {
		return nil, utils.NotFoundError("WATCH_NOT_FOUND", "Watch not found")
	}
	cp := *w
	return &cp, nil
}

func (s memWatches) Create(ctx context.Context, w *models.Watch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextWatchID++
	w.ID = s.nextWatchID
	w.CreatedAt = time.Now()
	cp := *w
	s.watches[w.ID] = &cp
	return nil
}

func (s memWatches) Update(ctx context.Context, w *models.Watch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *w
	s.watches[w.ID] = &cp
	return nil
}

func (s memWatches) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.watches, id)
	return nil
}

func (s memWatches) ListByBuyer(ctx context.Context, buyerID int64) ([]models.Watch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Watch
	for _, w := range s.watches {
		if w.BuyerID == buyerID {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (s memWatches) GetActive(ctx context.Context) ([]models.Watch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Watch
	for _, w := range s.watches {
		if w.Active {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (s memWatches) MarkNotified(ctx context.Context, watchID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.watches[watchID]; ok {
		w.LastNotifiedAt = &at
	}
	return nil
}

// MetricStore

type memMetrics struct{ *memStore }

func (s memMetrics) Record(ctx context.Context, m *models.Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, *m)
	return nil
}

func (s memMetrics) SummaryForEnterprise(ctx context.Context, enterpriseID int64, from, to time.Time) (*models.MetricSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := &models.MetricSummary{}
	for _, m := range s.metrics {
		if m.EnterpriseID != enterpriseID {
			continue
		}
		tally(sum, &m)
	}
	return sum, nil
}

func (s memMetrics) GlobalSummary(ctx context.Context, from, to time.Time) (*models.MetricSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := &models.MetricSummary{}
	for _, m := range s.metrics {
		tally(sum, &m)
	}
	return sum, nil
}

func tally(sum *models.MetricSummary, m *models.Metric) {
	switch m.Type {
	case models.MetricListingCreated:
		sum.TotalListings++
	case models.MetricListingExpired:
		sum.ExpiredListings++
	case models.MetricReservationCompleted, models.MetricOfferAccepted:
		sum.SuccessfulTransactions++
		if m.QuantityKg != nil {
			sum.KgSaved += *m.QuantityKg
		}
		if m.ValueSaved != nil {
			sum.ValueSaved += *m.ValueSaved
		}
	}
	if m.EmissionsSavedKg != nil {
		sum.EmissionsSavedKg += *m.EmissionsSavedKg
	}
}

// recordingMailer captures notifications for assertions.
type recordingMailer struct {
	mu           sync.Mutex
	watchMatched []int64
	reservations []string
	offers       []int64
}

func (m *recordingMailer) WatchMatched(ctx context.Context, watch *models.Watch, listing *models.Listing) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchMatched = append(m.watchMatched, watch.ID)
}

func (m *recordingMailer) ReservationConfirmed(ctx context.Context, res *models.Reservation, listing *models.Listing) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reservations = append(m.reservations, res.Reference)
}

func (m *recordingMailer) OfferDecided(ctx context.Context, offer *models.Offer, listing *models.Listing) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offers = append(m.offers, offer.ID)
}

func (m *recordingMailer) OfferReceived(ctx context.Context, offer *models.Offer, listing *models.Listing) {
}

func (m *recordingMailer) ListingExpired(ctx context.Context, listing *models.Listing) {}

func (m *recordingMailer) matchedWatches() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.watchMatched...)
}

// openThrottle always allows; used where throttling is not under test.
type openThrottle struct{}

func (openThrottle) Allow(ctx context.Context, watchID int64) (bool, error) { return true, nil }

// closedThrottle always denies.
type closedThrottle struct{}

func (closedThrottle) Allow(ctx context.Context, watchID int64) (bool, error) { return false, nil }
