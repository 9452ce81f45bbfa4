package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dontwaste/surplus_api/internal/service"
)

// OfferExpiryWorker expires pending offers whose response deadline has passed.
type OfferExpiryWorker struct {
	offers   *service.OfferService
	interval time.Duration
}

// NewOfferExpiryWorker constructs an OfferExpiryWorker.
func NewOfferExpiryWorker(offers *service.OfferService, interval time.Duration) *OfferExpiryWorker {
	return &OfferExpiryWorker{offers: offers, interval: interval}
}

// Start begins the periodic sweep until context is canceled.
func (w *OfferExpiryWorker) Start(ctx context.Context) {
	log.Info().Dur("interval", w.interval).Msg("Starting offer expiry worker")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.offers.ExpireOffers(ctx); err != nil {
				log.Error().Err(err).Msg("Offer expiry sweep failed")
			}
		case <-ctx.Done():
			log.Info().Msg("Offer expiry worker stopped")
			return
		}
	}
}
