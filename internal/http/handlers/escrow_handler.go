package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/showpls/showpls-backend/internal/http/handlers/common"
	"github.com/showpls/showpls-backend/internal/service"
)

// EscrowHandler — денежные операции по заказу. Все мутации принимают
// клиентский opId; ответ несёт флаг idempotent, когда вернулся
// сохранённый результат прежнего вызова.
type EscrowHandler struct {
	svc *service.EscrowService
}

// NewEscrowHandler создаёт новый хэндлер.
func NewEscrowHandler(svc *service.EscrowService) *EscrowHandler {
	return &EscrowHandler{svc: svc}
}

type escrowRequest struct {
	OrderID string `json:"order_id" binding:"required,uuid"`
	OpID    string `json:"opId"`
}

// respondGuarded отдаёт результат идемпотентной операции как есть.
func respondGuarded(c *gin.Context, payload json.RawMessage, replayed bool) {
	c.JSON(http.StatusOK, gin.H{
		"result":     payload,
		"idempotent": replayed,
	})
}

// Create POST /escrow/create
func (h *EscrowHandler) Create(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req escrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	order, err := h.svc.CreateEscrow(c.Request.Context(), mustUUID(req.OrderID), userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// Fund POST /escrow/fund
func (h *EscrowHandler) Fund(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req escrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	payload, replayed, err := h.svc.FundEscrow(c.Request.Context(), mustUUID(req.OrderID), userID, req.OpID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	respondGuarded(c, payload, replayed)
}

// VerifyFunding POST /escrow/verify-funding
func (h *EscrowHandler) VerifyFunding(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req escrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	order, status, err := h.svc.VerifyFunding(c.Request.Context(), mustUUID(req.OrderID), userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order, "escrow_status": status})
}

// Release POST /escrow/release
func (h *EscrowHandler) Release(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req escrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	payload, replayed, err := h.svc.Approve(c.Request.Context(), mustUUID(req.OrderID), userID, req.OpID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	respondGuarded(c, payload, replayed)
}

// Refund POST /escrow/refund
func (h *EscrowHandler) Refund(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req escrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	payload, replayed, err := h.svc.Refund(c.Request.Context(), mustUUID(req.OrderID), userID, req.OpID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	respondGuarded(c, payload, replayed)
}

// Pause POST /escrow/pause
func (h *EscrowHandler) Pause(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req escrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	order, err := h.svc.Pause(c.Request.Context(), mustUUID(req.OrderID), userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}
