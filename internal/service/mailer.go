package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dontwaste/surplus_api/internal/config"
	"github.com/dontwaste/surplus_api/internal/models"
	"github.com/dontwaste/surplus_api/internal/utils"
)

// Mailer delivers buyer and seller notifications. Deliveries are
// fire-and-forget: failures are logged, never propagated to the caller.
type Mailer interface {
	WatchMatched(ctx context.Context, watch *models.Watch, listing *models.Listing)
	ReservationConfirmed(ctx context.Context, res *models.Reservation, listing *models.Listing)
	OfferReceived(ctx context.Context, offer *models.Offer, listing *models.Listing)
	OfferDecided(ctx context.Context, offer *models.Offer, listing *models.Listing)
	ListingExpired(ctx context.Context, listing *models.Listing)
}

// WebhookMailer posts notification events to an external mail gateway as
// signed JSON webhooks.
type WebhookMailer struct {
	url    string
	secret string
	client *http.Client
}

// NewWebhookMailer creates a mailer posting to the configured gateway. When no
// URL is configured it returns a log-only mailer instead, so callers never
// need to branch.
func NewWebhookMailer(cfg config.MailerConfig) Mailer {
	if cfg.WebhookURL == "" {
		return &LogMailer{}
	}
	return &WebhookMailer{
		url:    cfg.WebhookURL,
		secret: cfg.WebhookSecret,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type mailerEvent struct {
	Event      string      `json:"event"`
	OccurredAt time.Time   `json:"occurredAt"`
	Payload    interface{} `json:"payload"`
}

func (m *WebhookMailer) WatchMatched(ctx context.Context, watch *models.Watch, listing *models.Listing) {
	m.post(ctx, "watch.matched", map[string]interface{}{
		"watchId":   watch.ID,
		"buyerId":   watch.BuyerID,
		"listingId": listing.ID,
		"title":     listing.Title,
		"expiresAt": listing.ExpiresAt,
	})
}

func (m *WebhookMailer) ReservationConfirmed(ctx context.Context, res *models.Reservation, listing *models.Listing) {
	m.post(ctx, "reservation.confirmed", map[string]interface{}{
		"reference":     res.Reference,
		"buyerId":       res.BuyerID,
		"listingId":     listing.ID,
		"quantity":      res.Quantity,
		"pricePerUnit":  res.PriceAtReservation,
		"reservedUntil": res.ReservedUntil,
	})
}

func (m *WebhookMailer) OfferReceived(ctx context.Context, offer *models.Offer, listing *models.Listing) {
	m.post(ctx, "offer.created", map[string]interface{}{
		"offerId":      offer.ID,
		"listingId":    listing.ID,
		"enterpriseId": listing.EnterpriseID,
		"quantity":     offer.OfferedQuantity,
		"pricePerUnit": offer.OfferedPricePerUnit,
		"total":        offer.OfferedTotal,
	})
}

func (m *WebhookMailer) OfferDecided(ctx context.Context, offer *models.Offer, listing *models.Listing) {
	m.post(ctx, "offer.decided", map[string]interface{}{
		"offerId":   offer.ID,
		"buyerId":   offer.BuyerID,
		"listingId": listing.ID,
		"status":    offer.Status,
		"response":  offer.SellerResponse,
	})
}

func (m *WebhookMailer) ListingExpired(ctx context.Context, listing *models.Listing) {
	m.post(ctx, "listing.expired", map[string]interface{}{
		"listingId":    listing.ID,
		"enterpriseId": listing.EnterpriseID,
		"title":        listing.Title,
		"quantityLeft": listing.QuantityAvailable,
	})
}

func (m *WebhookMailer) post(ctx context.Context, event string, payload interface{}) {
	body, err := json.Marshal(mailerEvent{Event: event, OccurredAt: time.Now(), Payload: payload})
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("Failed to marshal mailer event")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("Failed to build mailer request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if m.secret != "" {
		req.Header.Set("X-Signature", utils.GenerateSignature(body, m.secret))
	}

	resp, err := m.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("event", event).Msg("Mailer webhook delivery failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.Warn().
			Str("event", event).
			Int("status", resp.StatusCode).
			Msg(fmt.Sprintf("Mailer webhook returned %d", resp.StatusCode))
	}
}

// LogMailer writes notification events to the log only. It is the default when
// no webhook gateway is configured, and handy in tests.
type LogMailer struct{}

func (m *LogMailer) WatchMatched(ctx context.Context, watch *models.Watch, listing *models.Listing) {
	log.Info().
		Int64("watch_id", watch.ID).
		Int64("listing_id", listing.ID).
		Msg("Watch matched new listing")
}

func (m *LogMailer) ReservationConfirmed(ctx context.Context, res *models.Reservation, listing *models.Listing) {
	log.Info().
		Str("reference", res.Reference).
		Int64("listing_id", listing.ID).
		Float64("quantity", res.Quantity).
		Msg("Reservation confirmed")
}

func (m *LogMailer) OfferReceived(ctx context.Context, offer *models.Offer, listing *models.Listing) {
	log.Info().
		Int64("offer_id", offer.ID).
		Int64("listing_id", listing.ID).
		Float64("price_per_unit", offer.OfferedPricePerUnit).
		Msg("Offer received")
}

func (m *LogMailer) OfferDecided(ctx context.Context, offer *models.Offer, listing *models.Listing) {
	log.Info().
		Int64("offer_id", offer.ID).
		Int64("listing_id", listing.ID).
		Str("status", string(offer.Status)).
		Msg("Offer decided")
}

func (m *LogMailer) ListingExpired(ctx context.Context, listing *models.Listing) {
	log.Info().
		Int64("listing_id", listing.ID).
		Float64("quantity_left", listing.QuantityAvailable).
		Msg("Listing expired")
}
