package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-commerce-api/internal/models"
	"github.com/noah-isme/lms-commerce-api/internal/service"
	appErrors "github.com/noah-isme/lms-commerce-api/pkg/errors"
	"github.com/noah-isme/lms-commerce-api/pkg/response"
)

// AnalyticsHandler wires HTTP endpoints to the admin dashboards and exports.
type AnalyticsHandler struct {
	analytics *service.AnalyticsService
	exports   *service.ExportService
}

// NewAnalyticsHandler creates a new handler.
func NewAnalyticsHandler(analytics *service.AnalyticsService, exports *service.ExportService) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics, exports: exports}
}

// revenueFilter parses the half-open [from, to) range. A missing range
// defaults to the last 30 days.
func revenueFilter(c *gin.Context) (models.RevenueFilter, error) {
	now := time.Now().UTC()
	filter := models.RevenueFilter{From: now.AddDate(0, 0, -30), To: now}

	if raw := c.Query("from"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, appErrors.Clone(appErrors.ErrValidation, "from must be RFC3339")
		}
		filter.From = ts
	}
	if raw := c.Query("to"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, appErrors.Clone(appErrors.ErrValidation, "to must be RFC3339")
		}
		filter.To = ts
	}
	return filter, nil
}

// Revenue godoc
// @Summary Revenue dashboard
// @Description Totals, daily series, top courses and subscription revenue for a half-open range.
// @Tags Analytics
// @Produce json
// @Param from query string false "Range start (RFC3339), defaults to 30 days ago"
// @Param to query string false "Range end (RFC3339), defaults to now"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /analytics/revenue [get]
func (h *AnalyticsHandler) Revenue(c *gin.Context) {
	filter, err := revenueFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	summary, err := h.analytics.Revenue(c.Request.Context(), filter, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil, map[string]interface{}{"cache_hit": summary.CacheHit})
}

// Overview godoc
// @Summary Admin landing counts
// @Description Sections the caller lacks permission for stay zero.
// @Tags Analytics
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /analytics/overview [get]
func (h *AnalyticsHandler) Overview(c *gin.Context) {
	counts, err := h.analytics.Overview(c.Request.Context(), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, counts, nil)
}

// System godoc
// @Summary Process metrics snapshot
// @Tags Analytics
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /analytics/system [get]
func (h *AnalyticsHandler) System(c *gin.Context) {
	snapshot, err := h.analytics.System(claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, snapshot, nil)
}

// ExportRevenue godoc
// @Summary Download the revenue report
// @Tags Analytics
// @Produce text/csv
// @Produce application/pdf
// @Param from query string false "Range start (RFC3339)"
// @Param to query string false "Range end (RFC3339)"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Router /analytics/revenue/export [get]
func (h *AnalyticsHandler) ExportRevenue(c *gin.Context) {
	filter, err := revenueFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	format := service.ExportFormat(c.DefaultQuery("format", "csv"))

	result, err := h.exports.RevenueReport(c.Request.Context(), filter, format, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", result.Filename))
	c.Data(http.StatusOK, result.ContentType, result.Payload)
}

// ExportTopCourses godoc
// @Summary Download the course ranking as CSV
// @Tags Analytics
// @Produce text/csv
// @Param from query string false "Range start (RFC3339)"
// @Param to query string false "Range end (RFC3339)"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Router /analytics/top-courses/export [get]
func (h *AnalyticsHandler) ExportTopCourses(c *gin.Context) {
	filter, err := revenueFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.exports.TopCoursesReport(c.Request.Context(), filter, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", result.Filename))
	c.Data(http.StatusOK, result.ContentType, result.Payload)
}
