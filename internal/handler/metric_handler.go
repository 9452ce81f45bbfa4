package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dontwaste/surplus_api/internal/middleware"
	"github.com/dontwaste/surplus_api/internal/service"
	"github.com/dontwaste/surplus_api/internal/utils"
)

// MetricHandler exposes the food-waste impact summary endpoint.
type MetricHandler struct {
	metrics *service.MetricService
}

// NewMetricHandler creates a new MetricHandler.
func NewMetricHandler(metrics *service.MetricService) *MetricHandler {
	return &MetricHandler{metrics: metrics}
}

// GetSummary aggregates impact counters over a date range. Sellers see their
// own enterprise; scope=global widens to the whole marketplace.
func (h *MetricHandler) GetSummary(c *gin.Context) {
	from, to, err := parseDateRange(c)
	if err != nil {
		utils.HandleError(c, err)
		return
	}

	enterpriseID := middleware.EnterpriseID(c)
	if c.Query("scope") == "global" {
		enterpriseID = nil
	} else if enterpriseID == nil {
		utils.Error(c, 403, "NO_ENTERPRISE", "This operation requires an enterprise account")
		return
	}

	summary, err := h.metrics.Summary(c.Request.Context(), enterpriseID, from, to)
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	utils.Success(c, 200, "Metrics summary retrieved", summary)
}

// parseDateRange reads from/to query dates, defaulting to the last 30 days.
func parseDateRange(c *gin.Context) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -30)
	to := now

	var err error
	if raw := c.Query("from"); raw != "" {
		if from, err = time.Parse("2006-01-02", raw); err != nil {
			return from, to, utils.ValidationError("INVALID_DATE", "from must be formatted YYYY-MM-DD")
		}
	}
	if raw := c.Query("to"); raw != "" {
		if to, err = time.Parse("2006-01-02", raw); err != nil {
			return from, to, utils.ValidationError("INVALID_DATE", "to must be formatted YYYY-MM-DD")
		}
	}
	if to.Before(from) {
		return from, to, utils.ValidationError("INVALID_DATE_RANGE", "from must not be after to")
	}
	return from, to, nil
}
