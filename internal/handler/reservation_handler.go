package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dontwaste/surplus_api/internal/middleware"
	"github.com/dontwaste/surplus_api/internal/service"
	"github.com/dontwaste/surplus_api/internal/utils"
)

// ReservationHandler exposes the quantity hold endpoints.
type ReservationHandler struct {
	reservations *service.ReservationService
}

// NewReservationHandler creates a new ReservationHandler.
func NewReservationHandler(reservations *service.ReservationService) *ReservationHandler {
	return &ReservationHandler{reservations: reservations}
}

type reserveRequest struct {
	Quantity float64 `json:"quantity" binding:"required,gt=0"`
	Notes    *string `json:"notes"`
}

// ReserveListing places a hold on the listing for the caller.
func (h *ReservationHandler) ReserveListing(c *gin.Context) {
	listingID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req reserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, 400, "INVALID_REQUEST", "Invalid request body: "+err.Error())
		return
	}

	res, err := h.reservations.Reserve(c.Request.Context(),
		listingID, middleware.UserID(c), middleware.EnterpriseID(c), req.Quantity, req.Notes)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.Success(c, 201, "Reservation created", res)
}

// GetReservation returns one of the caller's reservations.
func (h *ReservationHandler) GetReservation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	res, err := h.reservations.GetByID(c.Request.Context(), id, middleware.UserID(c))
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.Success(c, 200, "Reservation retrieved", res)
}

// ListReservations returns the caller's reservations, newest first.
func (h *ReservationHandler) ListReservations(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	reservations, total, err := h.reservations.ListByBuyer(c.Request.Context(),
		middleware.UserID(c), limit, (page-1)*limit)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.SuccessWithPagination(c, 200, "Reservations retrieved", reservations, page, limit, total)
}

// ReleaseReservation cancels the caller's hold and returns its quantity.
func (h *ReservationHandler) ReleaseReservation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	res, err := h.reservations.Release(c.Request.Context(), id, middleware.UserID(c))
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.Success(c, 200, "Reservation released", res)
}

// ConvertReservation turns the caller's hold into a completed order.
func (h *ReservationHandler) ConvertReservation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	res, err := h.reservations.ConvertToOrder(c.Request.Context(), id, middleware.UserID(c))
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.Success(c, 200, "Reservation converted to order", res)
}
