package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dontwaste/surplus_api/internal/middleware"
	"github.com/dontwaste/surplus_api/internal/service"
	"github.com/dontwaste/surplus_api/internal/utils"
)

// OfferHandler exposes the price negotiation endpoints.
type OfferHandler struct {
	offers *service.OfferService
}

// NewOfferHandler creates a new OfferHandler.
func NewOfferHandler(offers *service.OfferService) *OfferHandler {
	return &OfferHandler{offers: offers}
}

type createOfferRequest struct {
	ListingID    int64   `json:"listingId" binding:"required"`
	Quantity     float64 `json:"quantity" binding:"required,gt=0"`
	PricePerUnit float64 `json:"pricePerUnit" binding:"required,gt=0"`
	Message      *string `json:"message"`
}

type decideOfferRequest struct {
	Response *string `json:"response"`
}

// CreateOffer places a pending offer on a listing.
func (h *OfferHandler) CreateOffer(c *gin.Context) {
	var req createOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, 400, "INVALID_REQUEST", "Invalid request body: "+err.Error())
		return
	}

	offer, err := h.offers.Create(c.Request.Context(),
		req.ListingID, middleware.UserID(c), middleware.EnterpriseID(c),
		req.Quantity, req.PricePerUnit, req.Message)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.Success(c, 201, "Offer created", offer)
}

// ListOffers returns the caller's own offers, newest first.
func (h *OfferHandler) ListOffers(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	offers, total, err := h.offers.ListByBuyer(c.Request.Context(), middleware.UserID(c), limit, (page-1)*limit)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.SuccessWithPagination(c, 200, "Offers retrieved", offers, page, limit, total)
}

// AcceptOffer decides an offer in the buyer's favor and reserves the stock.
func (h *OfferHandler) AcceptOffer(c *gin.Context) {
	enterpriseID, ok := requireEnterprise(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req decideOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		utils.Error(c, 400, "INVALID_REQUEST", "Invalid request body: "+err.Error())
		return
	}

	offer, err := h.offers.Accept(c.Request.Context(), id, enterpriseID, req.Response)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.Success(c, 200, "Offer accepted", offer)
}

// RejectOffer declines an offer. No stock moves.
func (h *OfferHandler) RejectOffer(c *gin.Context) {
	enterpriseID, ok := requireEnterprise(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req decideOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		utils.Error(c, 400, "INVALID_REQUEST", "Invalid request body: "+err.Error())
		return
	}

	offer, err := h.offers.Reject(c.Request.Context(), id, enterpriseID, req.Response)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.Success(c, 200, "Offer rejected", offer)
}

// CancelOffer withdraws the caller's own pending offer.
func (h *OfferHandler) CancelOffer(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	offer, err := h.offers.Cancel(c.Request.Context(), id, middleware.UserID(c))
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.Success(c, 200, "Offer cancelled", offer)
}
