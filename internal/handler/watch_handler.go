package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/lib/pq"

	"github.com/dontwaste/surplus_api/internal/middleware"
	"github.com/dontwaste/surplus_api/internal/models"
	"github.com/dontwaste/surplus_api/internal/service"
	"github.com/dontwaste/surplus_api/internal/utils"
)

// WatchHandler exposes the buyer watch (saved search) endpoints.
type WatchHandler struct {
	watches *service.WatchService
}

// NewWatchHandler creates a new WatchHandler.
func NewWatchHandler(watches *service.WatchService) *WatchHandler {
	return &WatchHandler{watches: watches}
}

type watchRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	RadiusKm  *float64 `json:"radiusKm"`

	QueryText          string   `json:"queryText"`
	TaxonIDs           []int64  `json:"taxonIds"`
	MaxPrice           *float64 `json:"maxPrice"`
	MinQuantity        *float64 `json:"minQuantity"`
	ExpiresWithinHours *int     `json:"expiresWithinHours"`

	Active             *bool `json:"active"`
	EmailNotifications *bool `json:"emailNotifications"`
}

func (r *watchRequest) toModel(buyerID int64, buyerEnterpriseID *int64) *models.Watch {
	w := &models.Watch{
		BuyerID:            buyerID,
		BuyerEnterpriseID:  buyerEnterpriseID,
		Latitude:           r.Latitude,
		Longitude:          r.Longitude,
		RadiusKm:           r.RadiusKm,
		QueryText:          r.QueryText,
		TaxonIDs:           pq.Int64Array(r.TaxonIDs),
		MaxPrice:           r.MaxPrice,
		MinQuantity:        r.MinQuantity,
		ExpiresWithinHours: r.ExpiresWithinHours,
		Active:             true,
		EmailNotifications: true,
	}
	if r.Active != nil {
		w.Active = *r.Active
	}
	if r.EmailNotifications != nil {
		w.EmailNotifications = *r.EmailNotifications
	}
	return w
}

// CreateWatch saves a new watch for the caller.
func (h *WatchHandler) CreateWatch(c *gin.Context) {
	var req watchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, 400, "INVALID_REQUEST", "Invalid request body: "+err.Error())
		return
	}

	watch, err := h.watches.Create(c.Request.Context(),
		req.toModel(middleware.UserID(c), middleware.EnterpriseID(c)))
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.Success(c, 201, "Watch created", watch)
}

// ListWatches returns the caller's watches.
func (h *WatchHandler) ListWatches(c *gin.Context) {
	watches, err := h.watches.ListByBuyer(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.Success(c, 200, "Watches retrieved", watches)
}

// UpdateWatch replaces the criteria of the caller's watch.
func (h *WatchHandler) UpdateWatch(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req watchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, 400, "INVALID_REQUEST", "Invalid request body: "+err.Error())
		return
	}

	userID := middleware.UserID(c)
	watch, err := h.watches.Update(c.Request.Context(), id, userID,
		req.toModel(userID, middleware.EnterpriseID(c)))
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.Success(c, 200, "Watch updated", watch)
}

// DeleteWatch removes the caller's watch.
func (h *WatchHandler) DeleteWatch(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.watches.Delete(c.Request.Context(), id, middleware.UserID(c)); err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.Success(c, 200, "Watch deleted", nil)
}
