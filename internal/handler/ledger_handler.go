package handler

import (
	"net/http"

	"backoffice/internal/service"
	"backoffice/pkg/pagination"
	"backoffice/pkg/response"

	"github.com/gin-gonic/gin"
)

type LedgerHandler struct {
	ledgerService service.LedgerService
}

func NewLedgerHandler(ledgerService service.LedgerService) *LedgerHandler {
	return &LedgerHandler{ledgerService: ledgerService}
}

func (h *LedgerHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/api")
	{
		api.GET("/ledger", h.List)
		api.GET("/ledger/reconcile", h.Reconcile)
		api.POST("/customers/:id/payments", h.RecordPayment)
		api.POST("/customers/:id/adjustments", h.Adjust)
	}
}

// List returns ledger entries, newest first, with the balance of the filtered set
// @Summary      List ledger entries
// @Tags         ledger
// @Produce      json
// @Param        customerId  query     string  false  "Customer ID"
// @Param        type        query     string  false  "order, payment, credit_note, adjustment"
// @Param        from        query     string  false  "From date (YYYY-MM-DD or RFC3339)"
// @Param        to          query     string  false  "To date (YYYY-MM-DD or RFC3339)"
// @Param        q           query     string  false  "Search in description"
// @Param        page        query     int     false  "Page number (default: 1)"
// @Param        pageSize    query     int     false  "Page size (default: 50, max: 500)"
// @Success      200         {object}  response.Response{data=service.LedgerListResponse}
// @Failure      400         {object}  response.Response
// @Router       /api/ledger [get]
func (h *LedgerHandler) List(c *gin.Context) {
	var q service.LedgerQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	p := pagination.Ledger.Parse(c)
	q.Page, q.PageSize = p.Page, p.Limit

	res, err := h.ledgerService.List(c.Request.Context(), q)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, res))
}

// Reconcile reports customer balances and stock counters that drifted
// @Summary      Reconcile balances
// @Tags         ledger
// @Produce      json
// @Success      200  {object}  response.Response{data=service.ReconcileReport}
// @Router       /api/ledger/reconcile [get]
func (h *LedgerHandler) Reconcile(c *gin.Context) {
	report, err := h.ledgerService.Reconcile(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, report))
}

// @Summary      Record customer payment
// @Tags         ledger
// @Accept       json
// @Produce      json
// @Param        id       path      string                  true  "Customer ID"
// @Param        payload  body      service.PaymentRequest  true  "Payment"
// @Success      201      {object}  response.Response{data=model.LedgerEntry}
// @Failure      400      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Router       /api/customers/{id}/payments [post]
func (h *LedgerHandler) RecordPayment(c *gin.Context) {
	var req service.PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	entry, err := h.ledgerService.RecordPayment(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, entry))
}

// @Summary      Adjust customer balance
// @Tags         ledger
// @Accept       json
// @Produce      json
// @Param        id       path      string                     true  "Customer ID"
// @Param        payload  body      service.AdjustmentRequest  true  "Signed adjustment"
// @Success      201      {object}  response.Response{data=model.LedgerEntry}
// @Failure      400      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Router       /api/customers/{id}/adjustments [post]
func (h *LedgerHandler) Adjust(c *gin.Context) {
	var req service.AdjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	entry, err := h.ledgerService.Adjust(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, entry))
}
