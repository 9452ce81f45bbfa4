// Package pricing computes the live price of a listing. Everything here is a
// pure function of the listing's pricing configuration and the supplied clock
// reading, so callers on the search path can evaluate prices lock-free.
package pricing

import (
	"math"
	"sort"
	"time"

	"github.com/dontwaste/surplus_api/internal/models"
)

// DefaultMarkdownSteps applies when a markdown_steps listing carries no
// configured steps: 10% off inside 24h, 25% inside 8h, 40% inside 2h.
var DefaultMarkdownSteps = models.MarkdownSteps{
	{HoursRemaining: 24, DiscountPercent: 10},
	{HoursRemaining: 8, DiscountPercent: 25},
	{HoursRemaining: 2, DiscountPercent: 40},
}

// Price returns the current unit price of the listing at the given instant.
func Price(l *models.Listing, now time.Time) float64 {
	switch l.PricingStrategy {
	case models.PricingMarkdownLinear:
		return linearMarkdownPrice(l, now)
	case models.PricingMarkdownSteps:
		return stepMarkdownPrice(l, now)
	default:
		return l.BasePrice
	}
}

// PriceForQuantity layers the best matching bulk tier on top of the strategy
// price. Tier discounts multiply the already marked-down price rather than
// stacking with the markdown percentage.
func PriceForQuantity(l *models.Listing, quantity float64, now time.Time) float64 {
	base := Price(l, now)
	discount := bulkTierDiscount(l.BulkPriceTiers, quantity)
	if discount <= 0 {
		return base
	}
	return round2(base * (1 - discount/100))
}

func linearMarkdownPrice(l *models.Listing, now time.Time) float64 {
	if l.PublishedAt == nil {
		return l.BasePrice
	}

	base := l.BasePrice
	min := minPrice(l)

	total := l.ExpiresAt.Sub(*l.PublishedAt)
	elapsed := now.Sub(*l.PublishedAt)

	if elapsed <= 0 {
		return base
	}
	if elapsed >= total {
		return min
	}

	progress := float64(elapsed) / float64(total)
	current := base - (base-min)*progress

	// Rounding to cents may lift the interpolated price past either bound.
	price := math.Max(round2(current), min)
	return math.Min(price, base)
}

func stepMarkdownPrice(l *models.Listing, now time.Time) float64 {
	hoursLeft := l.TimeLeftHours(now)
	base := l.BasePrice
	min := minPrice(l)

	steps := l.MarkdownSteps
	if len(steps) == 0 {
		steps = DefaultMarkdownSteps
	}

	// Iterate descending by threshold and keep overwriting: the smallest
	// crossed threshold wins, matching how sellers configure step schedules.
	sorted := make(models.MarkdownSteps, len(steps))
	copy(sorted, steps)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].HoursRemaining > sorted[j].HoursRemaining
	})

	var discount float64
	for _, step := range sorted {
		if hoursLeft <= step.HoursRemaining {
			discount = step.DiscountPercent
		}
	}

	if discount == 0 {
		return base
	}

	discounted := base * (1 - discount/100)
	return math.Max(round2(discounted), min)
}

// bulkTierDiscount returns the discount of the highest tier whose minimum
// quantity the request reaches, or 0 when no tier matches.
func bulkTierDiscount(tiers models.BulkPriceTiers, quantity float64) float64 {
	if len(tiers) == 0 {
		return 0
	}

	sorted := make(models.BulkPriceTiers, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MinQuantity < sorted[j].MinQuantity
	})

	var discount float64
	for _, tier := range sorted {
		if quantity >= tier.MinQuantity {
			discount = tier.DiscountPercent
		}
	}
	return discount
}

func minPrice(l *models.Listing) float64 {
	if l.MarkdownMinPrice != nil {
		return *l.MarkdownMinPrice
	}
	return l.BasePrice * 0.5
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
