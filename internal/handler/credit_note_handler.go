package handler

import (
	"net/http"

	"backoffice/internal/service"
	"backoffice/pkg/response"

	"github.com/gin-gonic/gin"
)

type CreditNoteHandler struct {
	creditNoteService service.CreditNoteService
}

func NewCreditNoteHandler(creditNoteService service.CreditNoteService) *CreditNoteHandler {
	return &CreditNoteHandler{creditNoteService: creditNoteService}
}

func (h *CreditNoteHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/api")
	{
		api.POST("/credit-notes", h.CreateCreditNote)
		api.GET("/credit-notes/:id", h.GetCreditNote)
		api.GET("/orders/:id/credit-notes", h.ListByOrder)
	}
}

// CreateCreditNote returns goods of a settled order
// @Summary      Create credit note
// @Description  Each item targets an order_item_id or a product_id. Quantities are clamped to what is still returnable.
// @Tags         credit-notes
// @Accept       json
// @Produce      json
// @Param        payload  body      service.CreateCreditNoteRequest  true  "Credit note payload"
// @Success      201      {object}  response.Response{data=service.CreditNoteResponse}
// @Failure      400      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/credit-notes [post]
func (h *CreditNoteHandler) CreateCreditNote(c *gin.Context) {
	var req service.CreateCreditNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	note, err := h.creditNoteService.CreateCreditNote(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, note))
}

// @Summary      Get credit note
// @Tags         credit-notes
// @Produce      json
// @Param        id   path      string  true  "Credit note ID"
// @Success      200  {object}  response.Response{data=service.CreditNoteResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/credit-notes/{id} [get]
func (h *CreditNoteHandler) GetCreditNote(c *gin.Context) {
	note, err := h.creditNoteService.GetCreditNote(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, note))
}

// @Summary      List credit notes of an order
// @Tags         credit-notes
// @Produce      json
// @Param        id   path      string  true  "Order ID"
// @Success      200  {object}  response.Response{data=[]service.CreditNoteResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/orders/{id}/credit-notes [get]
func (h *CreditNoteHandler) ListByOrder(c *gin.Context) {
	notes, err := h.creditNoteService.ListByOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, notes))
}
