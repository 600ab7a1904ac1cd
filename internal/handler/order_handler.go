package handler

import (
	"net/http"

	"backoffice/internal/service"
	"backoffice/pkg/pagination"
	"backoffice/pkg/response"

	"github.com/gin-gonic/gin"
)

type OrderHandler struct {
	orderService service.OrderService
}

func NewOrderHandler(orderService service.OrderService) *OrderHandler {
	return &OrderHandler{orderService: orderService}
}

func (h *OrderHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/api")
	{
		api.GET("/orders", h.ListOrders)
		api.GET("/orders/:id", h.GetOrder)
		api.POST("/orders", h.CreateOrder)
		api.PUT("/orders/:id", h.UpdateOrder)
		api.POST("/orders/:id/confirm", h.ConfirmOrder)
		api.POST("/orders/:id/cancel", h.CancelOrder)
		api.DELETE("/orders/:id", h.RemoveOrder)
		api.POST("/checkout", h.Checkout)
	}
}

// ListOrders returns paginated orders
// @Summary      List orders
// @Tags         orders
// @Produce      json
// @Param        page              query     int     false  "Page number (default: 1)"
// @Param        limit             query     int     false  "Items per page (default: 20)"
// @Param        status            query     string  false  "Filter by status"
// @Param        customer_id       query     string  false  "Filter by customer"
// @Param        sort              query     string  false  "date_desc (default), date_asc, code_asc, code_desc"
// @Param        include_customer  query     bool    false  "Embed the customer"
// @Param        include_items     query     bool    false  "Embed the lines"
// @Success      200               {object}  response.Response{data=response.Page}
// @Failure      400               {object}  response.Response
// @Router       /api/orders [get]
func (h *OrderHandler) ListOrders(c *gin.Context) {
	var q service.OrderListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	p := pagination.Parse(c)
	q.Page, q.Limit = p.Page, p.Limit

	orders, total, err := h.orderService.GetOrders(c.Request.Context(), q)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.SuccessWithPagination(http.StatusOK, orders, p.Page, p.Limit, total))
}

// @Summary      Get order
// @Tags         orders
// @Produce      json
// @Param        id   path      string  true  "Order ID"
// @Success      200  {object}  response.Response{data=model.Order}
// @Failure      404  {object}  response.Response
// @Router       /api/orders/{id} [get]
func (h *OrderHandler) GetOrder(c *gin.Context) {
	order, err := h.orderService.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, order))
}

// CreateOrder reserves stock for a new pending order
// @Summary      Create order
// @Tags         orders
// @Accept       json
// @Produce      json
// @Param        payload  body      service.CreateOrderRequest  true  "Order payload"
// @Success      201      {object}  response.Response{data=model.Order}
// @Failure      400      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Failure      409      {object}  response.Response  "Insufficient stock"
// @Router       /api/orders [post]
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	order, err := h.orderService.CreateOrder(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, order))
}

// UpdateOrder edits a pending order; items, when present, replace the reserved lines
// @Summary      Update order
// @Tags         orders
// @Accept       json
// @Produce      json
// @Param        id       path      string                      true  "Order ID"
// @Param        payload  body      service.UpdateOrderRequest  true  "Update payload"
// @Success      200      {object}  response.Response{data=model.Order}
// @Failure      400      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/orders/{id} [put]
func (h *OrderHandler) UpdateOrder(c *gin.Context) {
	var req service.UpdateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	order, err := h.orderService.UpdateOrder(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, order))
}

// ConfirmOrder consumes the reservations and posts the sale
// @Summary      Confirm order
// @Tags         orders
// @Produce      json
// @Param        id   path      string  true  "Order ID"
// @Success      200  {object}  response.Response{data=model.Order}
// @Failure      404  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /api/orders/{id}/confirm [post]
func (h *OrderHandler) ConfirmOrder(c *gin.Context) {
	order, err := h.orderService.ConfirmOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, order))
}

// @Summary      Cancel order
// @Tags         orders
// @Produce      json
// @Param        id   path      string  true  "Order ID"
// @Success      200  {object}  response.Response{data=model.Order}
// @Failure      404  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /api/orders/{id}/cancel [post]
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	order, err := h.orderService.CancelOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, order))
}

// @Summary      Delete order
// @Description  Releases the reservations of a pending order and deletes it
// @Tags         orders
// @Produce      json
// @Param        id   path      string  true  "Order ID"
// @Success      200  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /api/orders/{id} [delete]
func (h *OrderHandler) RemoveOrder(c *gin.Context) {
	if err := h.orderService.RemoveOrder(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "Order deleted successfully"}))
}

// Checkout sells at the counter in a single step
// @Summary      Checkout
// @Description  Creates, pays and confirms an order at once. The Idempotency-Key header is used when the body has no key.
// @Tags         orders
// @Accept       json
// @Produce      json
// @Param        Idempotency-Key  header    string                   false  "Replay protection key"
// @Param        payload          body      service.CheckoutRequest  true   "Checkout payload"
// @Success      201              {object}  response.Response{data=service.CheckoutResponse}
// @Success      200              {object}  response.Response{data=service.CheckoutResponse}  "Replayed"
// @Failure      400              {object}  response.Response
// @Failure      409              {object}  response.Response
// @Router       /api/checkout [post]
func (h *OrderHandler) Checkout(c *gin.Context) {
	var req service.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	res, err := h.orderService.Checkout(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	code := http.StatusCreated
	if res.Replayed {
		code = http.StatusOK
	}
	c.JSON(code, response.Success(code, res))
}
