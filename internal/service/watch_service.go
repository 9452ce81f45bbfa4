package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dontwaste/surplus_api/internal/models"
	"github.com/dontwaste/surplus_api/internal/utils"
)

// WatchStore is the persistence surface WatchService needs.
type WatchStore interface {
	GetByID(ctx context.Context, id int64) (*models.Watch, error)
	Create(ctx context.Context, w *models.Watch) error
	Update(ctx context.Context, w *models.Watch) error
	Delete(ctx context.Context, id int64) error
	ListByBuyer(ctx context.Context, buyerID int64) ([]models.Watch, error)
	GetActive(ctx context.Context) ([]models.Watch, error)
	MarkNotified(ctx context.Context, watchID int64, at time.Time) error
}

// NotifyLimiter claims a notification slot per watch. Implementations may fail
// open; the database cooldown check remains the backstop.
type NotifyLimiter interface {
	Allow(ctx context.Context, watchID int64) (bool, error)
}

// WatchService manages buyer watches and fans a freshly published listing out
// to every watch whose saved criteria match it.
type WatchService struct {
	store    WatchStore
	throttle NotifyLimiter
	mailer   Mailer
	now      func() time.Time
}

// NewWatchService creates a new WatchService.
func NewWatchService(store WatchStore, throttle NotifyLimiter, mailer Mailer) *WatchService {
	return &WatchService{store: store, throttle: throttle, mailer: mailer, now: time.Now}
}

// Create saves a new watch after validating its criteria.
func (s *WatchService) Create(ctx context.Context, w *models.Watch) (*models.Watch, error) {
	if err := s.validate(w); err != nil {
		return nil, err
	}
	w.Active = true
	if err := s.store.Create(ctx, w); err != nil {
		return nil, err
	}

	log.Info().Int64("watch_id", w.ID).Int64("buyer_id", w.BuyerID).Msg("Watch created")
	return w, nil
}

// Update replaces the criteria of the buyer's own watch.
func (s *WatchService) Update(ctx context.Context, watchID, buyerID int64, updated *models.Watch) (*models.Watch, error) {
	w, err := s.ownedWatch(ctx, watchID, buyerID)
	if err != nil {
		return nil, err
	}
	if err := s.validate(updated); err != nil {
		return nil, err
	}

	w.Latitude = updated.Latitude
	w.Longitude = updated.Longitude
	w.RadiusKm = updated.RadiusKm
	w.QueryText = updated.QueryText
	w.TaxonIDs = updated.TaxonIDs
	w.MaxPrice = updated.MaxPrice
	w.MinQuantity = updated.MinQuantity
	w.ExpiresWithinHours = updated.ExpiresWithinHours
	w.Active = updated.Active
	w.EmailNotifications = updated.EmailNotifications

	if err := s.store.Update(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// Delete removes the buyer's own watch.
func (s *WatchService) Delete(ctx context.Context, watchID, buyerID int64) error {
	w, err := s.ownedWatch(ctx, watchID, buyerID)
	if err != nil {
		return err
	}
	return s.store.Delete(ctx, w.ID)
}

// ListByBuyer returns the buyer's watches.
func (s *WatchService) ListByBuyer(ctx context.Context, buyerID int64) ([]models.Watch, error) {
	return s.store.ListByBuyer(ctx, buyerID)
}

func (s *WatchService) validate(w *models.Watch) error {
	geoFields := 0
	if w.Latitude != nil {
		geoFields++
	}
	if w.Longitude != nil {
		geoFields++
	}
	if geoFields == 1 {
		return utils.ValidationError("INVALID_COORDINATES", "Latitude and longitude must be provided together")
	}
	if w.RadiusKm != nil {
		if geoFields == 0 {
			return utils.ValidationError("INVALID_RADIUS", "A radius requires latitude and longitude")
		}
		if *w.RadiusKm <= 0 {
			return utils.ValidationError("INVALID_RADIUS", "Radius must be greater than zero")
		}
	}
	if w.MaxPrice != nil && *w.MaxPrice <= 0 {
		return utils.ValidationError("INVALID_MAX_PRICE", "Maximum price must be greater than zero")
	}
	if w.MinQuantity != nil && *w.MinQuantity <= 0 {
		return utils.ValidationError("INVALID_MIN_QUANTITY", "Minimum quantity must be greater than zero")
	}
	if w.ExpiresWithinHours != nil && *w.ExpiresWithinHours <= 0 {
		return utils.ValidationError("INVALID_EXPIRY_WINDOW", "Expiry window must be greater than zero")
	}
	return nil
}

func (s *WatchService) ownedWatch(ctx context.Context, watchID, buyerID int64) (*models.Watch, error) {
	w, err := s.store.GetByID(ctx, watchID)
	if err != nil {
		return nil, err
	}
	if w.BuyerID != buyerID {
		return nil, utils.NotFoundError("WATCH_NOT_FOUND", "Watch not found")
	}
	return w, nil
}

// Matches reports whether the listing satisfies the watch's criteria right now.
func (s *WatchService) Matches(w *models.Watch, l *models.Listing) bool {
	return matchesWatch(w, l, s.now())
}

// NotifyWatchers fans a newly published listing out to matching watches. The
// listing creator never hears about their own listing, and each watch fires at
// most once per cooldown window. It returns the number of notifications sent.
func (s *WatchService) NotifyWatchers(ctx context.Context, listing *models.Listing) (int, error) {
	watches, err := s.store.GetActive(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	notified := 0
	for i := range watches {
		w := watches[i]
		if listing.CreatedByID != nil && w.BuyerID == *listing.CreatedByID {
			continue
		}
		if !w.EmailNotifications {
			continue
		}
		if w.RecentlyNotified(now) {
			continue
		}
		if !matchesWatch(&w, listing, now) {
			continue
		}

		allowed, err := s.throttle.Allow(ctx, w.ID)
		if err != nil {
			// Fail open: the cooldown column already filtered repeats.
			log.Warn().Err(err).Int64("watch_id", w.ID).Msg("Notify throttle check failed")
		} else if !allowed {
			continue
		}

		s.mailer.WatchMatched(ctx, &w, listing)
		if err := s.store.MarkNotified(ctx, w.ID, now); err != nil {
			log.Error().Err(err).Int64("watch_id", w.ID).Msg("Failed to stamp watch notification")
		}
		notified++
	}

	if notified > 0 {
		log.Info().
			Int64("listing_id", listing.ID).
			Int("count", notified).
			Msg("Watchers notified of new listing")
	}
	return notified, nil
}
