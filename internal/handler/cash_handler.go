package handler

import (
	"net/http"

	"backoffice/internal/service"
	"backoffice/pkg/response"

	"github.com/gin-gonic/gin"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type CashHandler struct {
	cashService service.CashService
}

func NewCashHandler(cashService service.CashService) *CashHandler {
	return &CashHandler{cashService: cashService}
}

func (h *CashHandler) RegisterRoutes(router *gin.RouterGroup) {
	cash := router.Group("/api/cash")
	{
		cash.POST("/open", h.Open)
		cash.POST("/close", h.Close)
		cash.POST("/movements", h.CreateMovement)
		cash.GET("/movements", h.ListMovements)
		cash.GET("/current", h.Current)
		cash.GET("/report", h.Report)
		cash.GET("/report/export", h.Export)
	}
}

// Open starts today's cash session
// @Summary      Open cash session
// @Tags         cash
// @Accept       json
// @Produce      json
// @Param        payload  body      service.OpenCashRequest  true  "Opening amount"
// @Success      201      {object}  response.Response{data=service.CashReport}
// @Failure      400      {object}  response.Response
// @Failure      409      {object}  response.Response  "Already open"
// @Router       /api/cash/open [post]
func (h *CashHandler) Open(c *gin.Context) {
	var req service.OpenCashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	report, err := h.cashService.Open(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, report))
}

// Close ends today's cash session with the counted amount
// @Summary      Close cash session
// @Tags         cash
// @Accept       json
// @Produce      json
// @Param        payload  body      service.CloseCashRequest  true  "Counted amount"
// @Success      200      {object}  response.Response{data=service.CashReport}
// @Failure      400      {object}  response.Response
// @Failure      409      {object}  response.Response  "No open session"
// @Router       /api/cash/close [post]
func (h *CashHandler) Close(c *gin.Context) {
	var req service.CloseCashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	report, err := h.cashService.Close(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, report))
}

// @Summary      Register cash movement
// @Description  Appends an income, expense or sale. Without session_id today's session is used.
// @Tags         cash
// @Accept       json
// @Produce      json
// @Param        payload  body      service.CashMovementRequest  true  "Movement"
// @Success      201      {object}  response.Response{data=model.CashMovement}
// @Failure      400      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/cash/movements [post]
func (h *CashHandler) CreateMovement(c *gin.Context) {
	var req service.CashMovementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	movement, err := h.cashService.Movement(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, movement))
}

// @Summary      List cash movements
// @Tags         cash
// @Produce      json
// @Param        date  query     string  false  "Session day YYYY-MM-DD (default today)"
// @Success      200   {object}  response.Response{data=[]model.CashMovement}
// @Failure      404   {object}  response.Response
// @Router       /api/cash/movements [get]
func (h *CashHandler) ListMovements(c *gin.Context) {
	movements, err := h.cashService.Movements(c.Request.Context(), c.Query("date"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, movements))
}

// @Summary      Current cash session
// @Tags         cash
// @Produce      json
// @Success      200  {object}  response.Response{data=service.CashReport}
// @Failure      404  {object}  response.Response
// @Router       /api/cash/current [get]
func (h *CashHandler) Current(c *gin.Context) {
	report, err := h.cashService.Current(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, report))
}

// @Summary      Cash report
// @Tags         cash
// @Produce      json
// @Param        date  query     string  false  "Session day YYYY-MM-DD (default today)"
// @Success      200   {object}  response.Response{data=service.CashReport}
// @Failure      404   {object}  response.Response
// @Router       /api/cash/report [get]
func (h *CashHandler) Report(c *gin.Context) {
	report, err := h.cashService.Report(c.Request.Context(), c.Query("date"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, report))
}

// Export downloads the day's report as a spreadsheet
// @Summary      Export cash report
// @Tags         cash
// @Produce      application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param        date  query     string  false  "Session day YYYY-MM-DD (default today)"
// @Success      200   {file}    file
// @Failure      404   {object}  response.Response
// @Router       /api/cash/report/export [get]
func (h *CashHandler) Export(c *gin.Context) {
	date := c.Query("date")
	data, err := h.cashService.ExportReport(c.Request.Context(), date)
	if err != nil {
		respondError(c, err)
		return
	}
	if date == "" {
		date = h.cashService.Today()
	}
	c.Header("Content-Disposition", `attachment; filename="cash-`+date+`.xlsx"`)
	c.Data(http.StatusOK, xlsxContentType, data)
}
