package handler

import (
	"fmt"
	"net/http"
	"time"

	"backoffice/internal/service"
	"backoffice/pkg/pagination"
	"backoffice/pkg/response"

	"github.com/gin-gonic/gin"
)

type StatisticsHandler struct {
	statisticsService service.StatisticsService
}

func NewStatisticsHandler(statisticsService service.StatisticsService) *StatisticsHandler {
	return &StatisticsHandler{statisticsService: statisticsService}
}

func (h *StatisticsHandler) RegisterRoutes(router *gin.RouterGroup) {
	statsGroup := router.Group("/api/statistics")
	{
		statsGroup.GET("/sales", h.GetSalesReport)
		statsGroup.GET("/sales-daily", h.GetDailySales)
		statsGroup.GET("/sales-lines", h.GetSalesLines)
		statsGroup.GET("/cash-daily", h.GetDailyCash)
	}
}

// @Summary      Get sales report
// @Description  Gross and net sales, confirmed orders, average ticket, distinct products and top products bounded by time
// @Tags         statistics
// @Produce      json
// @Param        start_date query string false "Start date (RFC3339 or YYYY-MM-DD, default first day of month)"
// @Param        end_date   query string false "End date (RFC3339 or YYYY-MM-DD, default now)"
// @Success      200 {object} response.Response{data=model.SalesReport}
// @Failure      400 {object} response.Response "Invalid date format"
// @Failure      500 {object} response.Response
// @Router       /api/statistics/sales [get]
func (h *StatisticsHandler) GetSalesReport(c *gin.Context) {
	startDate, endDate, ok := reportRange(c)
	if !ok {
		return
	}

	report, err := h.statisticsService.GetSalesReport(c.Request.Context(), startDate, endDate)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, report))
}

// @Summary      Daily sales series
// @Tags         statistics
// @Produce      json
// @Param        start_date query string false "Start date (RFC3339 or YYYY-MM-DD)"
// @Param        end_date   query string false "End date (RFC3339 or YYYY-MM-DD)"
// @Success      200 {object} response.Response{data=[]model.DailySales}
// @Failure      400 {object} response.Response
// @Router       /api/statistics/sales-daily [get]
func (h *StatisticsHandler) GetDailySales(c *gin.Context) {
	startDate, endDate, ok := reportRange(c)
	if !ok {
		return
	}

	series, err := h.statisticsService.GetDailySales(c.Request.Context(), startDate, endDate)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, series))
}

// @Summary      Sold order lines
// @Tags         statistics
// @Produce      json
// @Param        start_date query string false "Start date (RFC3339 or YYYY-MM-DD)"
// @Param        end_date   query string false "End date (RFC3339 or YYYY-MM-DD)"
// @Param        page       query int    false "Page number (default 1)"
// @Param        limit      query int    false "Lines per page (default 20)"
// @Success      200 {object} response.Response{data=response.Page}
// @Failure      400 {object} response.Response
// @Router       /api/statistics/sales-lines [get]
func (h *StatisticsHandler) GetSalesLines(c *gin.Context) {
	startDate, endDate, ok := reportRange(c)
	if !ok {
		return
	}
	p := pagination.Parse(c)

	lines, total, err := h.statisticsService.GetSalesLines(c.Request.Context(), startDate, endDate, p.Page, p.Limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.SuccessWithPagination(http.StatusOK, lines, p.Page, p.Limit, total))
}

// @Summary      Daily cash summary
// @Tags         statistics
// @Produce      json
// @Param        start_date query string false "Start date (RFC3339 or YYYY-MM-DD)"
// @Param        end_date   query string false "End date (RFC3339 or YYYY-MM-DD)"
// @Success      200 {object} response.Response{data=[]model.DailyCash}
// @Failure      400 {object} response.Response
// @Router       /api/statistics/cash-daily [get]
func (h *StatisticsHandler) GetDailyCash(c *gin.Context) {
	startDate, endDate, ok := reportRange(c)
	if !ok {
		return
	}

	series, err := h.statisticsService.GetDailyCash(c.Request.Context(), startDate, endDate)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, series))
}

// reportRange reads start_date/end_date, defaulting to the current month so far.
// It writes the 400 response itself when a date is malformed.
func reportRange(c *gin.Context) (time.Time, time.Time, bool) {
	now := time.Now()
	startDate := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	endDate := now

	var err error
	if s := c.Query("start_date"); s != "" {
		if startDate, err = parseReportDate(s, false); err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
			return time.Time{}, time.Time{}, false
		}
	}
	if s := c.Query("end_date"); s != "" {
		if endDate, err = parseReportDate(s, true); err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
			return time.Time{}, time.Time{}, false
		}
	}
	return startDate, endDate, true
}

// parseReportDate accepts RFC3339 or a plain day; a plain end day covers the whole day.
func parseReportDate(s string, end bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected RFC3339 or YYYY-MM-DD", s)
	}
	if end {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
