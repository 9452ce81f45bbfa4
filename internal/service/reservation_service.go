package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dontwaste/surplus_api/internal/models"
	"github.com/dontwaste/surplus_api/internal/pricing"
	"github.com/dontwaste/surplus_api/internal/repository"
	"github.com/dontwaste/surplus_api/internal/utils"
)

// ListingLocker serializes quantity mutations per listing row.
type ListingLocker interface {
	WithListingLock(ctx context.Context, listingID int64, fn func(tx repository.ListingTx) error) error
}

// ListingReader is the read-only listing surface shared by services.
type ListingReader interface {
	GetByID(ctx context.Context, id int64) (*models.Listing, error)
}

// ReservationStore is the persistence surface ReservationService needs outside
// the listing lock.
type ReservationStore interface {
	GetByID(ctx context.Context, id int64) (*models.Reservation, error)
	ListByBuyer(ctx context.Context, buyerID int64, limit, offset int) ([]models.Reservation, int, error)
	GetExpiredHolds(ctx context.Context) ([]models.Reservation, error)
	HasActive(ctx context.Context, listingID, buyerID int64) (bool, error)
}

// ReservationService implements the quantity hold lifecycle: reserve under the
// listing row lock, release back, expire stale holds, convert to orders.
type ReservationService struct {
	locker       ListingLocker
	listings     ListingReader
	reservations ReservationStore
	metrics      *MetricService
	mailer       Mailer
	holdMinutes  int
	now          func() time.Time
}

// NewReservationService creates a new ReservationService.
func NewReservationService(
	locker ListingLocker,
	listings ListingReader,
	reservations ReservationStore,
	metrics *MetricService,
	mailer Mailer,
	holdMinutes int,
) *ReservationService {
	if holdMinutes <= 0 {
		holdMinutes = models.DefaultHoldMinutes
	}
	return &ReservationService{
		locker:       locker,
		listings:     listings,
		reservations: reservations,
		metrics:      metrics,
		mailer:       mailer,
		holdMinutes:  holdMinutes,
		now:          time.Now,
	}
}

// Reserve places a hold of quantity on the listing for the buyer. The price is
// computed and snapshotted under the same row lock that decrements quantity,
// so two concurrent reservations can never both take the last units.
func (s *ReservationService) Reserve(ctx context.Context, listingID, buyerID int64, buyerEnterpriseID *int64, quantity float64, notes *string) (*models.Reservation, error) {
	// Fail fast on checks that need no lock. Everything is re-validated under
	// the lock; this only spares the row lock from obviously doomed requests.
	if quantity <= 0 {
		return nil, utils.ValidationError("INVALID_QUANTITY", "Quantity must be greater than zero")
	}
	listing, err := s.listings.GetByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if err := s.validateReserve(listing, quantity); err != nil {
		return nil, err
	}

	var reservation *models.Reservation
	err = s.locker.WithListingLock(ctx, listingID, func(tx repository.ListingTx) error {
		locked := tx.Listing()
		if err := s.validateReserve(locked, quantity); err != nil {
			return err
		}
		held, err := tx.HasActiveReservation(buyerID)
		if err != nil {
			return err
		}
		if held {
			return utils.ConflictError("DUPLICATE_RESERVATION", "You already have an active reservation for this listing")
		}

		res, err := s.reserveLocked(tx, locked, buyerID, buyerEnterpriseID, quantity, nil, notes)
		if err != nil {
			return err
		}
		reservation = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("reference", reservation.Reference).
		Int64("listing_id", listingID).
		Int64("buyer_id", buyerID).
		Float64("quantity", quantity).
		Float64("price", reservation.PriceAtReservation).
		Msg("Reservation created")

	go s.mailer.ReservationConfirmed(context.WithoutCancel(ctx), reservation, listing)
	return reservation, nil
}

// validateReserve applies the availability checks in their fixed order.
func (s *ReservationService) validateReserve(l *models.Listing, quantity float64) error {
	if l.Status != models.ListingActive && l.Status != models.ListingReserved {
		return utils.ConflictError("LISTING_UNAVAILABLE", "Listing is not available for reservation")
	}
	if l.Expired(s.now()) {
		return utils.ConflictError("LISTING_EXPIRED", "Listing has expired")
	}
	if quantity <= 0 {
		return utils.ValidationError("INVALID_QUANTITY", "Quantity must be greater than zero")
	}
	if quantity < l.MinOrderQuantity {
		return utils.ValidationError("BELOW_MIN_ORDER",
			fmt.Sprintf("Minimum order quantity is %g %s", l.MinOrderQuantity, l.Unit))
	}
	if quantity > l.QuantityAvailable {
		return utils.ConflictError("INSUFFICIENT_QUANTITY",
			fmt.Sprintf("Only %g %s available", l.QuantityAvailable, l.Unit))
	}
	return nil
}

// reserveLocked performs the quantity decrement and reservation insert against
// an already-locked listing. The offer acceptance path shares it, passing the
// agreed price to override the calculated one.
func (s *ReservationService) reserveLocked(tx repository.ListingTx, l *models.Listing, buyerID int64, buyerEnterpriseID *int64, quantity float64, priceOverride *float64, notes *string) (*models.Reservation, error) {
	now := s.now()

	// The hold snapshots the unit strategy price; bulk tiers only shape
	// quotes, never the committed reservation price.
	price := pricing.Price(l, now)
	if priceOverride != nil {
		price = *priceOverride
	}

	res := &models.Reservation{
		Reference:          uuid.New().String(),
		ListingID:          l.ID,
		BuyerID:            buyerID,
		BuyerEnterpriseID:  buyerEnterpriseID,
		Quantity:           quantity,
		PriceAtReservation: price,
		ReservedUntil:      now.Add(time.Duration(s.holdMinutes) * time.Minute),
		Status:             models.ReservationActive,
		Notes:              notes,
	}

	l.QuantityAvailable -= quantity
	l.ApplyQuantityStatus()

	if err := tx.UpdateListing(l); err != nil {
		return nil, err
	}
	if err := tx.CreateReservation(res); err != nil {
		return nil, err
	}
	return res, nil
}

// Release cancels the buyer's active hold and returns its quantity to the
// listing. A depleted listing reopens when the restore leaves stock.
func (s *ReservationService) Release(ctx context.Context, reservationID, buyerID int64) (*models.Reservation, error) {
	res, err := s.reservations.GetByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if res.BuyerID != buyerID {
		return nil, utils.NotFoundError("RESERVATION_NOT_FOUND", "Reservation not found")
	}
	if err := s.releaseHold(ctx, res, models.ReservationCancelled); err != nil {
		return nil, err
	}

	log.Info().
		Str("reference", res.Reference).
		Int64("listing_id", res.ListingID).
		Msg("Reservation released")
	return res, nil
}

// releaseHold flips an active hold to finalStatus and restores its quantity,
// all under the listing lock.
func (s *ReservationService) releaseHold(ctx context.Context, res *models.Reservation, finalStatus models.ReservationStatus) error {
	return s.locker.WithListingLock(ctx, res.ListingID, func(tx repository.ListingTx) error {
		// Re-check under the lock: the hold may have converted or been
		// released since it was read.
		active, err := tx.ActiveReservations()
		if err != nil {
			return err
		}
		current := false
		for i := range active {
			if active[i].ID == res.ID {
				current = true
				break
			}
		}
		if !current {
			return utils.ConflictError("RESERVATION_NOT_ACTIVE", "Reservation is not active")
		}

		res.Status = finalStatus
		if err := tx.UpdateReservation(res); err != nil {
			return err
		}

		l := tx.Listing()
		l.QuantityAvailable += res.Quantity

		// Recompute listing status from the remaining holds. Expired and
		// cancelled listings keep their terminal state.
		if l.Status == models.ListingReserved || l.Status == models.ListingSoldOut {
			others, err := tx.HasOtherActiveReservations(res.ID)
			if err != nil {
				return err
			}
			if others {
				l.Status = models.ListingReserved
			} else {
				l.Status = models.ListingActive
			}
		}
		return tx.UpdateListing(l)
	})
}

// ReleaseExpiredHolds sweeps active reservations past their deadline. Each
// hold releases in its own transaction, so one failure never blocks the rest.
// It returns the number of holds released.
func (s *ReservationService) ReleaseExpiredHolds(ctx context.Context) (int, error) {
	expired, err := s.reservations.GetExpiredHolds(ctx)
	if err != nil {
		return 0, err
	}

	released := 0
	for i := range expired {
		res := expired[i]
		if err := s.releaseHold(ctx, &res, models.ReservationExpired); err != nil {
			if utils.IsConflict(err) {
				// Converted or released since the sweep query ran.
				continue
			}
			log.Error().
				Err(err).
				Str("reference", res.Reference).
				Msg("Failed to release expired reservation")
			continue
		}
		released++
	}

	if released > 0 {
		log.Info().Int("count", released).Msg("Released expired reservations")
	}
	return released, nil
}

// ConvertToOrder marks an active hold as converted: the quantity is now sold
// and never returns to the listing. The flip happens under the listing lock so
// it serializes with cancellations and the expiry sweep, which would otherwise
// restore the quantity out from under it.
func (s *ReservationService) ConvertToOrder(ctx context.Context, reservationID, buyerID int64) (*models.Reservation, error) {
	res, err := s.reservations.GetByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if res.BuyerID != buyerID {
		return nil, utils.NotFoundError("RESERVATION_NOT_FOUND", "Reservation not found")
	}

	err = s.locker.WithListingLock(ctx, res.ListingID, func(tx repository.ListingTx) error {
		active, err := tx.ActiveReservations()
		if err != nil {
			return err
		}
		current := false
		for i := range active {
			if active[i].ID == res.ID {
				current = true
				break
			}
		}
		if !current {
			return utils.ConflictError("RESERVATION_NOT_ACTIVE", "Reservation is not active")
		}
		if res.Expired(s.now()) {
			return utils.ConflictError("RESERVATION_EXPIRED", "Reservation hold has expired")
		}

		res.Status = models.ReservationConverted
		return tx.UpdateReservation(res)
	})
	if err != nil {
		return nil, err
	}

	if listing, lerr := s.listings.GetByID(ctx, res.ListingID); lerr == nil {
		s.metrics.RecordReservationCompleted(ctx, res, listing)
	}

	log.Info().
		Str("reference", res.Reference).
		Int64("listing_id", res.ListingID).
		Msg("Reservation converted to order")
	return res, nil
}

// GetByID returns the reservation if it belongs to the buyer.
func (s *ReservationService) GetByID(ctx context.Context, reservationID, buyerID int64) (*models.Reservation, error) {
	res, err := s.reservations.GetByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if res.BuyerID != buyerID {
		return nil, utils.NotFoundError("RESERVATION_NOT_FOUND", "Reservation not found")
	}
	return res, nil
}

// ListByBuyer returns the buyer's reservations with pagination.
func (s *ReservationService) ListByBuyer(ctx context.Context, buyerID int64, limit, offset int) ([]models.Reservation, int, error) {
	return s.reservations.ListByBuyer(ctx, buyerID, limit, offset)
}
