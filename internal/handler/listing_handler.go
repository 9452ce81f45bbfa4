package handler

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lib/pq"

	"github.com/dontwaste/surplus_api/internal/middleware"
	"github.com/dontwaste/surplus_api/internal/models"
	"github.com/dontwaste/surplus_api/internal/service"
	"github.com/dontwaste/surplus_api/internal/utils"
)

// ListingHandler exposes the listing lifecycle and search endpoints.
type ListingHandler struct {
	listings *service.ListingService
	search   *service.SearchService
	offers   *service.OfferService
}

// NewListingHandler creates a new ListingHandler.
func NewListingHandler(listings *service.ListingService, search *service.SearchService, offers *service.OfferService) *ListingHandler {
	return &ListingHandler{listings: listings, search: search, offers: offers}
}

type createListingRequest struct {
	VariantID       int64  `json:"variantId" binding:"required"`
	PickupAddressID *int64 `json:"pickupAddressId"`

	Title        string `json:"title" binding:"required"`
	Description  string `json:"description"`
	QualityNotes string `json:"qualityNotes"`

	Quantity         float64 `json:"quantity" binding:"required,gt=0"`
	Unit             string  `json:"unit"`
	MinOrderQuantity float64 `json:"minOrderQuantity"`

	BasePrice        float64                `json:"basePrice" binding:"required,gt=0"`
	Currency         string                 `json:"currency"`
	PricingStrategy  string                 `json:"pricingStrategy"`
	MarkdownMinPrice *float64               `json:"markdownMinPrice"`
	MarkdownSteps    []models.MarkdownStep  `json:"markdownSteps"`
	BulkPriceTiers   []models.BulkPriceTier `json:"bulkPriceTiers"`

	ExpiresAt     time.Time `json:"expiresAt" binding:"required"`
	PickupStartAt time.Time `json:"pickupStartAt" binding:"required"`
	PickupEndAt   time.Time `json:"pickupEndAt" binding:"required"`

	Visibility                string  `json:"visibility"`
	AllowedBuyerEnterpriseIDs []int64 `json:"allowedBuyerEnterpriseIds"`
	AllowedBuyerTags          []string `json:"allowedBuyerTags"`
}

func (r *createListingRequest) toModel(enterpriseID, userID int64) *models.Listing {
	return &models.Listing{
		EnterpriseID:              enterpriseID,
		VariantID:                 r.VariantID,
		PickupAddressID:           r.PickupAddressID,
		CreatedByID:               &userID,
		Title:                     r.Title,
		Description:               r.Description,
		QualityNotes:              r.QualityNotes,
		QuantityAvailable:         r.Quantity,
		Unit:                      r.Unit,
		MinOrderQuantity:          r.MinOrderQuantity,
		BasePrice:                 r.BasePrice,
		Currency:                  r.Currency,
		PricingStrategy:           models.PricingStrategy(r.PricingStrategy),
		MarkdownMinPrice:          r.MarkdownMinPrice,
		MarkdownSteps:             r.MarkdownSteps,
		BulkPriceTiers:            r.BulkPriceTiers,
		ExpiresAt:                 r.ExpiresAt,
		PickupStartAt:             r.PickupStartAt,
		PickupEndAt:               r.PickupEndAt,
		Visibility:                models.Visibility(r.Visibility),
		AllowedBuyerEnterpriseIDs: pq.Int64Array(r.AllowedBuyerEnterpriseIDs),
		AllowedBuyerTags:          pq.StringArray(r.AllowedBuyerTags),
	}
}

// CreateListing saves a new draft listing for the caller's enterprise.
func (h *ListingHandler) CreateListing(c *gin.Context) {
	enterpriseID, ok := requireEnterprise(c)
	if !ok {
		return
	}

	var req createListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, 400, "INVALID_REQUEST", "Invalid request body: "+err.Error())
		return
	}

	listing, err := h.listings.Create(c.Request.Context(), req.toModel(enterpriseID, middleware.UserID(c)))
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.Success(c, 201, "Listing created", listing)
}

// SearchListings filters, ranks and paginates the available pool.
func (h *ListingHandler) SearchListings(c *gin.Context) {
	criteria, err := parseSearchCriteria(c)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	criteria.BuyerEnterpriseID = middleware.EnterpriseID(c)

	listings, total, err := h.search.Search(c.Request.Context(), criteria)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.SuccessWithPagination(c, 200, "Listings retrieved", listings, criteria.Page, criteria.PerPage, total)
}

// GetListing returns one listing with its current price.
func (h *ListingHandler) GetListing(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	listing, err := h.listings.Get(c.Request.Context(), id, middleware.EnterpriseID(c))
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.Success(c, 200, "Listing retrieved", listing)
}

// QuoteListing prices a specific quantity right now.
func (h *ListingHandler) QuoteListing(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	quantity, err := strconv.ParseFloat(c.Query("quantity"), 64)
	if err != nil {
		utils.Error(c, 400, "INVALID_QUANTITY", "quantity query parameter is required")
		return
	}

	unit, total, err := h.listings.Quote(c.Request.Context(), id, middleware.EnterpriseID(c), quantity)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.Success(c, 200, "Quote calculated", gin.H{
		"listingId":    id,
		"quantity":     quantity,
		"pricePerUnit": unit,
		"totalPrice":   total,
	})
}

// UpdateListing edits the caller's own listing.
func (h *ListingHandler) UpdateListing(c *gin.Context) {
	enterpriseID, ok := requireEnterprise(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req createListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, 400, "INVALID_REQUEST", "Invalid request body: "+err.Error())
		return
	}

	listing, err := h.listings.Update(c.Request.Context(), id, enterpriseID, req.toModel(enterpriseID, middleware.UserID(c)))
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.Success(c, 200, "Listing updated", listing)
}

// PublishListing moves a draft into the active pool.
func (h *ListingHandler) PublishListing(c *gin.Context) {
	enterpriseID, ok := requireEnterprise(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	listing, err := h.listings.Publish(c.Request.Context(), id, enterpriseID)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.Success(c, 200, "Listing published", listing)
}

// CancelListing withdraws a listing and releases its holds.
func (h *ListingHandler) CancelListing(c *gin.Context) {
	enterpriseID, ok := requireEnterprise(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	listing, err := h.listings.Cancel(c.Request.Context(), id, enterpriseID)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.Success(c, 200, "Listing cancelled", listing)
}

// DeleteListing removes a draft that never went live.
func (h *ListingHandler) DeleteListing(c *gin.Context) {
	enterpriseID, ok := requireEnterprise(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.listings.Delete(c.Request.Context(), id, enterpriseID); err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.Success(c, 200, "Listing deleted", nil)
}

// MyListings returns all of the caller's listings, drafts included.
func (h *ListingHandler) MyListings(c *gin.Context) {
	enterpriseID, ok := requireEnterprise(c)
	if !ok {
		return
	}
	listings, err := h.listings.ListByEnterprise(c.Request.Context(), enterpriseID)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.Success(c, 200, "Listings retrieved", listings)
}

// ListingOffers returns the offers received on the caller's listing.
func (h *ListingHandler) ListingOffers(c *gin.Context) {
	enterpriseID, ok := requireEnterprise(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	offers, err := h.offers.ListByListing(c.Request.Context(), id, enterpriseID)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.Success(c, 200, "Offers retrieved", offers)
}

func parseSearchCriteria(c *gin.Context) (service.SearchCriteria, error) {
	criteria := service.SearchCriteria{
		Query:     c.Query("q"),
		Sort:      c.Query("sort"),
		Direction: c.Query("direction"),
	}

	if raw := c.Query("taxon_ids"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				return criteria, utils.ValidationError("INVALID_TAXON_IDS", "taxon_ids must be a comma-separated list of IDs")
			}
			criteria.TaxonIDs = append(criteria.TaxonIDs, id)
		}
	}

	var err error
	if criteria.Latitude, err = queryFloat(c, "lat"); err != nil {
		return criteria, err
	}
	if criteria.Longitude, err = queryFloat(c, "lng"); err != nil {
		return criteria, err
	}
	if criteria.RadiusKm, err = queryFloat(c, "radius_km"); err != nil {
		return criteria, err
	}
	if criteria.MinPrice, err = queryFloat(c, "min_price"); err != nil {
		return criteria, err
	}
	if criteria.MaxPrice, err = queryFloat(c, "max_price"); err != nil {
		return criteria, err
	}
	if criteria.MinQuantity, err = queryFloat(c, "min_quantity"); err != nil {
		return criteria, err
	}
	if criteria.MaxQuantity, err = queryFloat(c, "max_quantity"); err != nil {
		return criteria, err
	}

	if raw := c.Query("expires_within_hours"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours <= 0 {
			return criteria, utils.ValidationError("INVALID_EXPIRY_WINDOW", "expires_within_hours must be a positive integer")
		}
		criteria.ExpiresWithinHours = &hours
	}

	if raw := c.Query("pickup_date"); raw != "" {
		day, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return criteria, utils.ValidationError("INVALID_PICKUP_DATE", "pickup_date must be formatted YYYY-MM-DD")
		}
		criteria.PickupOn = &day
	}

	if raw := c.Query("enterprise_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return criteria, utils.ValidationError("INVALID_ENTERPRISE_ID", "enterprise_id must be a positive integer")
		}
		criteria.EnterpriseID = &id
	}

	criteria.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	criteria.PerPage, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	return criteria, nil
}

func queryFloat(c *gin.Context, name string) (*float64, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, utils.ValidationError("INVALID_"+strings.ToUpper(name), name+" must be a number")
	}
	return &v, nil
}

// pathID parses a numeric path parameter, writing the error response itself.
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		utils.Error(c, 400, "INVALID_ID", "Invalid "+name+" parameter")
		return 0, false
	}
	return id, true
}

// requireEnterprise resolves the caller's enterprise, rejecting users without
// one. Seller endpoints depend on it.
func requireEnterprise(c *gin.Context) (int64, bool) {
	if id := middleware.EnterpriseID(c); id != nil {
		return *id, true
	}
	utils.Error(c, 403, "NO_ENTERPRISE", "This operation requires an enterprise account")
	return 0, false
}
