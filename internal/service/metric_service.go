package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dontwaste/surplus_api/internal/models"
)

// MetricStore is the persistence surface MetricService needs.
type MetricStore interface {
	Record(ctx context.Context, m *models.Metric) error
	SummaryForEnterprise(ctx context.Context, enterpriseID int64, from, to time.Time) (*models.MetricSummary, error)
	GlobalSummary(ctx context.Context, from, to time.Time) (*models.MetricSummary, error)
}

// SummaryCache shortcuts repeated summary reads. Nil disables caching.
type SummaryCache interface {
	Get(ctx context.Context, key string) (*models.MetricSummary, bool)
	Set(ctx context.Context, key string, sum *models.MetricSummary)
}

// MetricService records food-waste impact counters. Recording is best-effort:
// a failed metric write is logged and never blocks the business operation that
// produced it.
type MetricService struct {
	store MetricStore
	cache SummaryCache
}

// NewMetricService creates a new MetricService.
func NewMetricService(store MetricStore) *MetricService {
	return &MetricService{store: store}
}

// WithSummaryCache enables summary caching and returns the service.
func (s *MetricService) WithSummaryCache(cache SummaryCache) *MetricService {
	s.cache = cache
	return s
}

// RecordListingCreated counts a new listing entering the marketplace.
func (s *MetricService) RecordListingCreated(ctx context.Context, l *models.Listing) {
	qty := l.QuantityOriginal
	s.record(ctx, &models.Metric{
		EnterpriseID: l.EnterpriseID,
		ListingID:    &l.ID,
		Type:         models.MetricListingCreated,
		QuantityKg:   &qty,
		Metadata:     models.Metadata{"unit": l.Unit},
	})
}

// RecordReservationCompleted counts a converted reservation as food saved.
func (s *MetricService) RecordReservationCompleted(ctx context.Context, res *models.Reservation, l *models.Listing) {
	qty := res.Quantity
	value := res.TotalPrice()
	s.record(ctx, &models.Metric{
		EnterpriseID: l.EnterpriseID,
		ListingID:    &l.ID,
		Type:         models.MetricReservationCompleted,
		QuantityKg:   &qty,
		ValueSaved:   &value,
		Metadata:     models.Metadata{"unit": l.Unit, "reference": res.Reference},
	})
}

// RecordOfferAccepted counts an accepted offer as food saved at the agreed price.
func (s *MetricService) RecordOfferAccepted(ctx context.Context, offer *models.Offer, l *models.Listing) {
	qty := offer.OfferedQuantity
	value := offer.OfferedTotal
	s.record(ctx, &models.Metric{
		EnterpriseID: l.EnterpriseID,
		ListingID:    &l.ID,
		Type:         models.MetricOfferAccepted,
		QuantityKg:   &qty,
		ValueSaved:   &value,
		Metadata:     models.Metadata{"unit": l.Unit, "offer_id": offer.ID},
	})
}

// RecordListingExpired counts the quantity left unsold when a listing expires.
func (s *MetricService) RecordListingExpired(ctx context.Context, l *models.Listing) {
	qty := l.QuantityAvailable
	s.record(ctx, &models.Metric{
		EnterpriseID: l.EnterpriseID,
		ListingID:    &l.ID,
		Type:         models.MetricListingExpired,
		QuantityKg:   &qty,
		Metadata:     models.Metadata{"unit": l.Unit},
	})
}

func (s *MetricService) record(ctx context.Context, m *models.Metric) {
	m.ApplyEmissions()
	if err := s.store.Record(ctx, m); err != nil {
		log.Warn().
			Err(err).
			Str("metric_type", string(m.Type)).
			Int64("enterprise_id", m.EnterpriseID).
			Msg("Failed to record surplus metric")
	}
}

// Summary aggregates counters over a date range, scoped to one enterprise when
// enterpriseID is non-nil, marketplace-wide otherwise. Results are served from
// the summary cache when one is configured.
func (s *MetricService) Summary(ctx context.Context, enterpriseID *int64, from, to time.Time) (*models.MetricSummary, error) {
	key := summaryKey(enterpriseID, from, to)
	if s.cache != nil {
		if sum, ok := s.cache.Get(ctx, key); ok {
			return sum, nil
		}
	}

	var sum *models.MetricSummary
	var err error
	if enterpriseID != nil {
		sum, err = s.store.SummaryForEnterprise(ctx, *enterpriseID, from, to)
	} else {
		sum, err = s.store.GlobalSummary(ctx, from, to)
	}
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Set(ctx, key, sum)
	}
	return sum, nil
}

func summaryKey(enterpriseID *int64, from, to time.Time) string {
	scope := "global"
	if enterpriseID != nil {
		scope = fmt.Sprintf("ent:%d", *enterpriseID)
	}
	return fmt.Sprintf("%s:%s:%s", scope, from.Format("2006-01-02"), to.Format("2006-01-02"))
}
