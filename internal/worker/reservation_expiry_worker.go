package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dontwaste/surplus_api/internal/service"
)

// ReservationExpiryWorker releases holds past their deadline so the quantity
// flows back into the listing pool.
type ReservationExpiryWorker struct {
	reservations *service.ReservationService
	interval     time.Duration
}

// NewReservationExpiryWorker constructs a ReservationExpiryWorker.
func NewReservationExpiryWorker(reservations *service.ReservationService, interval time.Duration) *ReservationExpiryWorker {
	return &ReservationExpiryWorker{reservations: reservations, interval: interval}
}

// Start begins the periodic sweep until context is canceled.
func (w *ReservationExpiryWorker) Start(ctx context.Context) {
	log.Info().Dur("interval", w.interval).Msg("Starting reservation expiry worker")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.reservations.ReleaseExpiredHolds(ctx); err != nil {
				log.Error().Err(err).Msg("Reservation expiry sweep failed")
			}
		case <-ctx.Done():
			log.Info().Msg("Reservation expiry worker stopped")
			return
		}
	}
}
