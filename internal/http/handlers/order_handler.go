package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/showpls/showpls-backend/internal/http/handlers/common"
	"github.com/showpls/showpls-backend/internal/models"
	"github.com/showpls/showpls-backend/internal/service"
)

// OrderHandler — жизненный цикл заказа до денежных операций.
type OrderHandler struct {
	svc *service.OrderService
}

// NewOrderHandler создаёт новый хэндлер.
func NewOrderHandler(svc *service.OrderService) *OrderHandler {
	return &OrderHandler{svc: svc}
}

// Create POST /orders
func (h *OrderHandler) Create(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req service.CreateOrderInput
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	order, err := h.svc.CreateOrder(c.Request.Context(), userID, req)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// Get GET /orders/:id
func (h *OrderHandler) Get(c *gin.Context) {
	orderID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	order, err := h.svc.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// ListMy GET /orders/user?role=requester|provider
func (h *OrderHandler) ListMy(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	limit, offset := common.GetPagination(c)
	orders, err := h.svc.ListMyOrders(c.Request.Context(), userID, c.DefaultQuery("role", "requester"), limit, offset)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

// ListNearby GET /orders/nearby?lat=..&lng=..&radius_km=..
func (h *OrderHandler) ListNearby(c *gin.Context) {
	lat := common.ParseFloatQuery(c, "lat", 0)
	lng := common.ParseFloatQuery(c, "lng", 0)
	radius := common.ParseFloatQuery(c, "radius_km", 0)
	limit := common.ParseIntQuery(c, "limit", 0)

	orders, err := h.svc.ListNearby(c.Request.Context(), lat, lng, radius, limit)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

// Accept POST /orders/:id/accept
func (h *OrderHandler) Accept(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	orderID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	order, err := h.svc.AcceptOrder(c.Request.Context(), orderID, userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// Progress POST /orders/:id/progress
func (h *OrderHandler) Progress(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	orderID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req struct {
		Stage models.OrderStatus `json:"stage" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	order, err := h.svc.ReportProgress(c.Request.Context(), orderID, userID, req.Stage)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// Deliver POST /orders/:id/deliver
func (h *OrderHandler) Deliver(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	orderID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req struct {
		ProofURI string `json:"proof_uri" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	order, err := h.svc.DeliverOrder(c.Request.Context(), orderID, userID, req.ProofURI)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}
