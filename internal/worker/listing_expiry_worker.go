package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dontwaste/surplus_api/internal/service"
)

// ListingExpiryWorker closes listings past their expiry and records the
// leftover quantity as waste.
type ListingExpiryWorker struct {
	listings *service.ListingService
	interval time.Duration
}

// NewListingExpiryWorker constructs a ListingExpiryWorker.
func NewListingExpiryWorker(listings *service.ListingService, interval time.Duration) *ListingExpiryWorker {
	return &ListingExpiryWorker{listings: listings, interval: interval}
}

// Start begins the periodic sweep until context is canceled.
func (w *ListingExpiryWorker) Start(ctx context.Context) {
	log.Info().Dur("interval", w.interval).Msg("Starting listing expiry worker")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.listings.ExpireListings(ctx); err != nil {
				log.Error().Err(err).Msg("Listing expiry sweep failed")
			}
		case <-ctx.Done():
			log.Info().Msg("Listing expiry worker stopped")
			return
		}
	}
}
