package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dontwaste/surplus_api/internal/models"
	"github.com/dontwaste/surplus_api/internal/pricing"
	"github.com/dontwaste/surplus_api/internal/repository"
	"github.com/dontwaste/surplus_api/internal/utils"
)

// ListingStore is the persistence surface ListingService needs.
type ListingStore interface {
	GetByID(ctx context.Context, id int64) (*models.Listing, error)
	Create(ctx context.Context, l *models.Listing) error
	Update(ctx context.Context, l *models.Listing) error
	Delete(ctx context.Context, id int64) error
	GetExpired(ctx context.Context) ([]models.Listing, error)
	ListByEnterprise(ctx context.Context, enterpriseID int64) ([]models.Listing, error)
}

// ListingService implements the listing lifecycle: draft, publish, cancel and
// the expiry sweep, plus seller-side edits.
type ListingService struct {
	store   ListingStore
	locker  ListingLocker
	metrics *MetricService
	watches *WatchService
	mailer  Mailer
	now     func() time.Time
}

// NewListingService creates a new ListingService.
func NewListingService(store ListingStore, locker ListingLocker, metrics *MetricService, watches *WatchService, mailer Mailer) *ListingService {
	return &ListingService{
		store:   store,
		locker:  locker,
		metrics: metrics,
		watches: watches,
		mailer:  mailer,
		now:     time.Now,
	}
}

// Create saves a new listing in draft. Quantity offered becomes the immutable
// original against which partial depletion is measured.
func (s *ListingService) Create(ctx context.Context, l *models.Listing) (*models.Listing, error) {
	if l.Currency == "" {
		l.Currency = "EUR"
	}
	if l.PricingStrategy == "" {
		l.PricingStrategy = models.PricingFixed
	}
	if l.Visibility == "" {
		l.Visibility = models.VisibilityPublic
	}
	if l.Unit == "" {
		l.Unit = "kg"
	}
	l.Status = models.ListingDraft
	l.QuantityOriginal = l.QuantityAvailable
	l.PublishedAt = nil

	if err := s.validate(l); err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, l); err != nil {
		return nil, err
	}

	s.metrics.RecordListingCreated(ctx, l)

	log.Info().
		Int64("listing_id", l.ID).
		Int64("enterprise_id", l.EnterpriseID).
		Str("title", l.Title).
		Msg("Listing created")
	return l, nil
}

func (s *ListingService) validate(l *models.Listing) error {
	if l.Title == "" {
		return utils.ValidationError("TITLE_REQUIRED", "Title is required")
	}
	if l.QuantityAvailable <= 0 {
		return utils.ValidationError("INVALID_QUANTITY", "Quantity must be greater than zero")
	}
	if l.MinOrderQuantity < 0 || l.MinOrderQuantity > l.QuantityAvailable {
		return utils.ValidationError("INVALID_MIN_ORDER", "Minimum order cannot exceed the quantity offered")
	}
	if l.BasePrice <= 0 {
		return utils.ValidationError("INVALID_PRICE", "Base price must be greater than zero")
	}
	if l.MarkdownMinPrice != nil && (*l.MarkdownMinPrice < 0 || *l.MarkdownMinPrice > l.BasePrice) {
		return utils.ValidationError("INVALID_MIN_PRICE", "Markdown floor must be between zero and the base price")
	}
	switch l.PricingStrategy {
	case models.PricingFixed, models.PricingMarkdownLinear, models.PricingMarkdownSteps:
	default:
		return utils.ValidationError("INVALID_PRICING_STRATEGY", "Unknown pricing strategy")
	}
	switch l.Visibility {
	case models.VisibilityPublic, models.VisibilityInviteOnly:
	default:
		return utils.ValidationError("INVALID_VISIBILITY", "Unknown visibility")
	}
	if l.Visibility == models.VisibilityInviteOnly && len(l.AllowedBuyerEnterpriseIDs) == 0 && len(l.AllowedBuyerTags) == 0 {
		return utils.ValidationError("EMPTY_ALLOW_LIST", "Invite-only listings need an allow-list")
	}
	if !l.ExpiresAt.After(s.now()) {
		return utils.ValidationError("INVALID_EXPIRY", "Expiry must be in the future")
	}
	if l.PickupEndAt.Before(l.PickupStartAt) {
		return utils.ValidationError("INVALID_PICKUP_WINDOW", "Pickup window cannot end before it starts")
	}
	return nil
}

// Get returns a listing with its current price, applying visibility gating
// for the requesting buyer enterprise.
func (s *ListingService) Get(ctx context.Context, listingID int64, buyerEnterpriseID *int64) (*models.Listing, error) {
	l, err := s.store.GetByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if !l.VisibleTo(buyerEnterpriseID) {
		return nil, utils.NotFoundError("LISTING_NOT_FOUND", "Listing not found")
	}
	l.CurrentPrice = pricing.Price(l, s.now())
	return l, nil
}

// Quote prices a specific quantity right now, bulk tiers included.
func (s *ListingService) Quote(ctx context.Context, listingID int64, buyerEnterpriseID *int64, quantity float64) (unit, total float64, err error) {
	if quantity <= 0 {
		return 0, 0, utils.ValidationError("INVALID_QUANTITY", "Quantity must be greater than zero")
	}
	l, err := s.Get(ctx, listingID, buyerEnterpriseID)
	if err != nil {
		return 0, 0, err
	}
	unit = pricing.PriceForQuantity(l, quantity, s.now())
	return unit, unit * quantity, nil
}

// ListByEnterprise returns all of a seller's listings, drafts included.
func (s *ListingService) ListByEnterprise(ctx context.Context, enterpriseID int64) ([]models.Listing, error) {
	listings, err := s.store.ListByEnterprise(ctx, enterpriseID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for i := range listings {
		listings[i].CurrentPrice = pricing.Price(&listings[i], now)
	}
	return listings, nil
}

// Update edits the seller's own listing. Drafts are fully editable; once
// published only the presentation and pricing fields may change, never the
// quantities a buyer might already be holding.
func (s *ListingService) Update(ctx context.Context, listingID, sellerEnterpriseID int64, updated *models.Listing) (*models.Listing, error) {
	l, err := s.ownedListing(ctx, listingID, sellerEnterpriseID)
	if err != nil {
		return nil, err
	}

	switch l.Status {
	case models.ListingDraft:
		l.Title = updated.Title
		l.Description = updated.Description
		l.QualityNotes = updated.QualityNotes
		l.QuantityAvailable = updated.QuantityAvailable
		l.QuantityOriginal = updated.QuantityAvailable
		l.Unit = updated.Unit
		l.MinOrderQuantity = updated.MinOrderQuantity
		l.BasePrice = updated.BasePrice
		l.Currency = updated.Currency
		l.PricingStrategy = updated.PricingStrategy
		l.MarkdownMinPrice = updated.MarkdownMinPrice
		l.MarkdownSteps = updated.MarkdownSteps
		l.BulkPriceTiers = updated.BulkPriceTiers
		l.ExpiresAt = updated.ExpiresAt
		l.PickupStartAt = updated.PickupStartAt
		l.PickupEndAt = updated.PickupEndAt
		l.Visibility = updated.Visibility
		l.AllowedBuyerEnterpriseIDs = updated.AllowedBuyerEnterpriseIDs
		l.AllowedBuyerTags = updated.AllowedBuyerTags
	case models.ListingActive, models.ListingReserved:
		l.Title = updated.Title
		l.Description = updated.Description
		l.QualityNotes = updated.QualityNotes
		l.BasePrice = updated.BasePrice
		l.PricingStrategy = updated.PricingStrategy
		l.MarkdownMinPrice = updated.MarkdownMinPrice
		l.MarkdownSteps = updated.MarkdownSteps
		l.BulkPriceTiers = updated.BulkPriceTiers
	default:
		return nil, utils.ConflictError("LISTING_NOT_EDITABLE", "Listing can no longer be edited")
	}

	if err := s.validate(l); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// Delete removes a draft outright. Anything that was ever visible to buyers
// goes through Cancel instead, keeping its history.
func (s *ListingService) Delete(ctx context.Context, listingID, sellerEnterpriseID int64) error {
	l, err := s.ownedListing(ctx, listingID, sellerEnterpriseID)
	if err != nil {
		return err
	}
	if l.Status != models.ListingDraft {
		return utils.ConflictError("LISTING_NOT_DRAFT", "Only draft listings can be deleted")
	}
	if err := s.store.Delete(ctx, l.ID); err != nil {
		return err
	}

	log.Info().Int64("listing_id", l.ID).Msg("Draft listing deleted")
	return nil
}

// Publish moves a draft into the active pool and fans it out to matching
// watches in the background.
func (s *ListingService) Publish(ctx context.Context, listingID, sellerEnterpriseID int64) (*models.Listing, error) {
	l, err := s.ownedListing(ctx, listingID, sellerEnterpriseID)
	if err != nil {
		return nil, err
	}
	if !l.Status.CanTransition(models.ListingActive) {
		return nil, utils.ConflictError("INVALID_TRANSITION", "Only draft listings can be published")
	}

	now := s.now()
	if l.Expired(now) {
		return nil, utils.ConflictError("LISTING_EXPIRED", "Listing has expired")
	}

	l.Status = models.ListingActive
	l.PublishedAt = &now
	if err := s.store.Update(ctx, l); err != nil {
		return nil, err
	}

	log.Info().Int64("listing_id", l.ID).Msg("Listing published")

	published := *l
	go func() {
		if _, err := s.watches.NotifyWatchers(context.WithoutCancel(ctx), &published); err != nil {
			log.Error().Err(err).Int64("listing_id", published.ID).Msg("Watcher fan-out failed")
		}
	}()
	return l, nil
}

// Cancel withdraws a listing. Active holds are cancelled and their quantity
// returned to the listing before it goes terminal, so the record shows what
// was never sold.
func (s *ListingService) Cancel(ctx context.Context, listingID, sellerEnterpriseID int64) (*models.Listing, error) {
	if _, err := s.ownedListing(ctx, listingID, sellerEnterpriseID); err != nil {
		return nil, err
	}

	var cancelled *models.Listing
	err := s.locker.WithListingLock(ctx, listingID, func(tx repository.ListingTx) error {
		locked := tx.Listing()
		if locked.Status.Terminal() {
			return utils.ConflictError("INVALID_TRANSITION", "Listing is already closed")
		}

		holds, err := tx.ActiveReservations()
		if err != nil {
			return err
		}
		for i := range holds {
			holds[i].Status = models.ReservationCancelled
			if err := tx.UpdateReservation(&holds[i]); err != nil {
				return err
			}
			locked.QuantityAvailable += holds[i].Quantity
		}

		offers, err := tx.PendingOffers()
		if err != nil {
			return err
		}
		for i := range offers {
			offers[i].Status = models.OfferCancelled
			if err := tx.UpdateOffer(&offers[i]); err != nil {
				return err
			}
		}

		locked.Status = models.ListingCancelled
		if err := tx.UpdateListing(locked); err != nil {
			return err
		}
		cancelled = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Int64("listing_id", listingID).Msg("Listing cancelled")
	return cancelled, nil
}

// ExpireListings sweeps listings past their expiry. Holds on an expired
// listing are flagged expired without restoring quantity, so the waste metric
// reflects what was actually left unsold. It returns how many listings were
// expired.
func (s *ListingService) ExpireListings(ctx context.Context) (int, error) {
	stale, err := s.store.GetExpired(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for i := range stale {
		if err := s.markExpired(ctx, &stale[i]); err != nil {
			log.Error().Err(err).Int64("listing_id", stale[i].ID).Msg("Failed to expire listing")
			continue
		}
		count++
	}

	if count > 0 {
		log.Info().Int("count", count).Msg("Expired listings")
	}
	return count, nil
}

func (s *ListingService) markExpired(ctx context.Context, l *models.Listing) error {
	var expired *models.Listing
	err := s.locker.WithListingLock(ctx, l.ID, func(tx repository.ListingTx) error {
		locked := tx.Listing()
		if locked.Status.Terminal() {
			// Already closed by a concurrent sweep or a cancel.
			return nil
		}

		holds, err := tx.ActiveReservations()
		if err != nil {
			return err
		}
		for i := range holds {
			holds[i].Status = models.ReservationExpired
			if err := tx.UpdateReservation(&holds[i]); err != nil {
				return err
			}
		}

		offers, err := tx.PendingOffers()
		if err != nil {
			return err
		}
		for i := range offers {
			offers[i].Status = models.OfferExpired
			if err := tx.UpdateOffer(&offers[i]); err != nil {
				return err
			}
		}

		locked.Status = models.ListingExpired
		if err := tx.UpdateListing(locked); err != nil {
			return err
		}
		expired = locked
		return nil
	})
	if err != nil {
		return err
	}
	if expired != nil {
		s.metrics.RecordListingExpired(ctx, expired)
		go s.mailer.ListingExpired(context.WithoutCancel(ctx), expired)
	}
	return nil
}

func (s *ListingService) ownedListing(ctx context.Context, listingID, sellerEnterpriseID int64) (*models.Listing, error) {
	l, err := s.store.GetByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if l.EnterpriseID != sellerEnterpriseID {
		return nil, utils.NotFoundError("LISTING_NOT_FOUND", "Listing not found")
	}
	return l, nil
}
