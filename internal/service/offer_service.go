package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dontwaste/surplus_api/internal/models"
	"github.com/dontwaste/surplus_api/internal/repository"
	"github.com/dontwaste/surplus_api/internal/utils"
)

// OfferStore is the persistence surface OfferService needs.
type OfferStore interface {
	GetByID(ctx context.Context, id int64) (*models.Offer, error)
	Create(ctx context.Context, o *models.Offer) error
	Update(ctx context.Context, o *models.Offer) error
	ListByBuyer(ctx context.Context, buyerID int64, limit, offset int) ([]models.Offer, int, error)
	ListByListing(ctx context.Context, listingID int64) ([]models.Offer, error)
	HasPending(ctx context.Context, listingID, buyerID int64) (bool, error)
	GetExpiredOffers(ctx context.Context) ([]models.Offer, error)
}

// OfferService implements price negotiation: buyers propose a quantity and
// unit price, sellers accept or reject. Acceptance reserves the quantity at
// the agreed price in the same transaction that decides the offer, so a
// failed reservation leaves the offer pending.
type OfferService struct {
	offers           OfferStore
	listings         ListingReader
	locker           ListingLocker
	reservations     *ReservationService
	metrics          *MetricService
	mailer           Mailer
	offerExpiryHours int
	now              func() time.Time
}

// NewOfferService creates a new OfferService.
func NewOfferService(
	offers OfferStore,
	listings ListingReader,
	locker ListingLocker,
	reservations *ReservationService,
	metrics *MetricService,
	mailer Mailer,
	offerExpiryHours int,
) *OfferService {
	if offerExpiryHours <= 0 {
		offerExpiryHours = models.DefaultOfferExpiryHours
	}
	return &OfferService{
		offers:           offers,
		listings:         listings,
		locker:           locker,
		reservations:     reservations,
		metrics:          metrics,
		mailer:           mailer,
		offerExpiryHours: offerExpiryHours,
		now:              time.Now,
	}
}

// Create places a pending offer on a listing. The offered quantity is held to
// the same bounds a direct reservation would be.
func (s *OfferService) Create(ctx context.Context, listingID, buyerID int64, buyerEnterpriseID *int64, quantity, pricePerUnit float64, message *string) (*models.Offer, error) {
	listing, err := s.listings.GetByID(ctx, listingID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if listing.Status != models.ListingActive && listing.Status != models.ListingReserved {
		return nil, utils.ConflictError("LISTING_UNAVAILABLE", "Listing is not available for offers")
	}
	if listing.Expired(now) {
		return nil, utils.ConflictError("LISTING_EXPIRED", "Listing has expired")
	}
	if quantity <= 0 {
		return nil, utils.ValidationError("INVALID_QUANTITY", "Quantity must be greater than zero")
	}
	if quantity < listing.MinOrderQuantity {
		return nil, utils.ValidationError("BELOW_MIN_ORDER",
			fmt.Sprintf("Minimum order quantity is %g %s", listing.MinOrderQuantity, listing.Unit))
	}
	if quantity > listing.QuantityAvailable {
		return nil, utils.ConflictError("INSUFFICIENT_QUANTITY",
			fmt.Sprintf("Only %g %s available", listing.QuantityAvailable, listing.Unit))
	}
	if pricePerUnit <= 0 {
		return nil, utils.ValidationError("INVALID_PRICE", "Offered price must be greater than zero")
	}

	pending, err := s.offers.HasPending(ctx, listingID, buyerID)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, utils.ConflictError("DUPLICATE_OFFER", "You already have a pending offer for this listing")
	}

	// An offer never outlives its listing.
	expiresAt := now.Add(time.Duration(s.offerExpiryHours) * time.Hour)
	if listing.ExpiresAt.Before(expiresAt) {
		expiresAt = listing.ExpiresAt
	}

	offer := &models.Offer{
		ListingID:           listingID,
		BuyerID:             buyerID,
		BuyerEnterpriseID:   buyerEnterpriseID,
		OfferedQuantity:     quantity,
		OfferedPricePerUnit: pricePerUnit,
		OfferedTotal:        math.Round(quantity*pricePerUnit*100) / 100,
		Message:             message,
		Status:              models.OfferPending,
		ExpiresAt:           expiresAt,
	}
	if err := s.offers.Create(ctx, offer); err != nil {
		return nil, err
	}

	go s.mailer.OfferReceived(context.WithoutCancel(ctx), offer, listing)

	log.Info().
		Int64("offer_id", offer.ID).
		Int64("listing_id", listingID).
		Int64("buyer_id", buyerID).
		Float64("price_per_unit", pricePerUnit).
		Msg("Offer created")
	return offer, nil
}

// Accept decides the offer in the seller's favor. The quantity is reserved for
// the buyer at the agreed price under the listing lock; if the stock is gone
// the whole acceptance rolls back and the offer stays pending.
func (s *OfferService) Accept(ctx context.Context, offerID, sellerEnterpriseID int64, response *string) (*models.Offer, error) {
	offer, listing, err := s.sellerOffer(ctx, offerID, sellerEnterpriseID)
	if err != nil {
		return nil, err
	}
	if err := s.requirePending(offer); err != nil {
		return nil, err
	}

	err = s.locker.WithListingLock(ctx, offer.ListingID, func(tx repository.ListingTx) error {
		locked := tx.Listing()
		if err := s.reservations.validateReserve(locked, offer.OfferedQuantity); err != nil {
			return err
		}

		price := offer.OfferedPricePerUnit
		res, err := s.reservations.reserveLocked(tx, locked,
			offer.BuyerID, offer.BuyerEnterpriseID, offer.OfferedQuantity, &price, offer.Message)
		if err != nil {
			return err
		}

		now := s.now()
		offer.Status = models.OfferAccepted
		offer.SellerResponse = response
		offer.RespondedAt = &now
		offer.ReservationID = &res.ID
		return tx.UpdateOffer(offer)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordOfferAccepted(ctx, offer, listing)
	go s.mailer.OfferDecided(context.WithoutCancel(ctx), offer, listing)

	log.Info().
		Int64("offer_id", offer.ID).
		Int64("listing_id", offer.ListingID).
		Float64("price_per_unit", offer.OfferedPricePerUnit).
		Msg("Offer accepted")
	return offer, nil
}

// Reject decides the offer against the buyer. No stock moves.
func (s *OfferService) Reject(ctx context.Context, offerID, sellerEnterpriseID int64, response *string) (*models.Offer, error) {
	offer, listing, err := s.sellerOffer(ctx, offerID, sellerEnterpriseID)
	if err != nil {
		return nil, err
	}
	if err := s.requirePending(offer); err != nil {
		return nil, err
	}

	now := s.now()
	offer.Status = models.OfferRejected
	offer.SellerResponse = response
	offer.RespondedAt = &now
	if err := s.offers.Update(ctx, offer); err != nil {
		return nil, err
	}

	go s.mailer.OfferDecided(context.WithoutCancel(ctx), offer, listing)

	log.Info().
		Int64("offer_id", offer.ID).
		Int64("listing_id", offer.ListingID).
		Msg("Offer rejected")
	return offer, nil
}

// Cancel withdraws the buyer's own pending offer.
func (s *OfferService) Cancel(ctx context.Context, offerID, buyerID int64) (*models.Offer, error) {
	offer, err := s.offers.GetByID(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if offer.BuyerID != buyerID {
		return nil, utils.NotFoundError("OFFER_NOT_FOUND", "Offer not found")
	}
	if err := s.requirePending(offer); err != nil {
		return nil, err
	}

	offer.Status = models.OfferCancelled
	if err := s.offers.Update(ctx, offer); err != nil {
		return nil, err
	}

	log.Info().Int64("offer_id", offer.ID).Msg("Offer cancelled by buyer")
	return offer, nil
}

// ExpireOffers sweeps pending offers past their response deadline and returns
// how many were expired.
func (s *OfferService) ExpireOffers(ctx context.Context) (int, error) {
	stale, err := s.offers.GetExpiredOffers(ctx)
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range stale {
		offer := stale[i]
		offer.Status = models.OfferExpired
		if err := s.offers.Update(ctx, &offer); err != nil {
			log.Error().Err(err).Int64("offer_id", offer.ID).Msg("Failed to expire offer")
			continue
		}
		expired++
	}

	if expired > 0 {
		log.Info().Int("count", expired).Msg("Expired stale offers")
	}
	return expired, nil
}

// ListByBuyer returns the buyer's offers with pagination.
func (s *OfferService) ListByBuyer(ctx context.Context, buyerID int64, limit, offset int) ([]models.Offer, int, error) {
	return s.offers.ListByBuyer(ctx, buyerID, limit, offset)
}

// ListByListing returns a listing's offers for its seller.
func (s *OfferService) ListByListing(ctx context.Context, listingID, sellerEnterpriseID int64) ([]models.Offer, error) {
	listing, err := s.listings.GetByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.EnterpriseID != sellerEnterpriseID {
		return nil, utils.NotFoundError("LISTING_NOT_FOUND", "Listing not found")
	}
	return s.offers.ListByListing(ctx, listingID)
}

// sellerOffer loads an offer plus its listing and verifies the caller owns the
// listing.
func (s *OfferService) sellerOffer(ctx context.Context, offerID, sellerEnterpriseID int64) (*models.Offer, *models.Listing, error) {
	offer, err := s.offers.GetByID(ctx, offerID)
	if err != nil {
		return nil, nil, err
	}
	listing, err := s.listings.GetByID(ctx, offer.ListingID)
	if err != nil {
		return nil, nil, err
	}
	if listing.EnterpriseID != sellerEnterpriseID {
		return nil, nil, utils.NotFoundError("OFFER_NOT_FOUND", "Offer not found")
	}
	return offer, listing, nil
}

func (s *OfferService) requirePending(offer *models.Offer) error {
	if offer.Status != models.OfferPending {
		return utils.ConflictError("OFFER_NOT_PENDING", "Offer has already been decided")
	}
	if offer.Expired(s.now()) {
		return utils.ConflictError("OFFER_EXPIRED", "Offer has expired")
	}
	return nil
}
