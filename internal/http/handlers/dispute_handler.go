package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/showpls/showpls-backend/internal/http/handlers/common"
	"github.com/showpls/showpls-backend/internal/service"
)

// DisputeHandler — споры по заказам.
type DisputeHandler struct {
	svc *service.DisputeService
}

// NewDisputeHandler создаёт новый хэндлер.
func NewDisputeHandler(svc *service.DisputeService) *DisputeHandler {
	return &DisputeHandler{svc: svc}
}

// Open POST /orders/:id/dispute
func (h *DisputeHandler) Open(c *gin.Context) {
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
		Reason   string   `json:"reason" binding:"required"`
		Evidence []string `json:"evidence"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	dispute, err := h.svc.OpenDispute(c.Request.Context(), orderID, userID, req.Reason, req.Evidence)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dispute)
}

// ListByOrder GET /orders/:id/disputes
func (h *DisputeHandler) ListByOrder(c *gin.Context) {
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

	disputes, err := h.svc.ListByOrder(c.Request.Context(), orderID, userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, disputes)
}

// AddEvidence PUT /disputes/:id/evidence
func (h *DisputeHandler) AddEvidence(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	disputeID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req struct {
		Evidence []string `json:"evidence" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	dispute, err := h.svc.AddEvidence(c.Request.Context(), disputeID, userID, req.Evidence)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, dispute)
}

// Resolve POST /disputes/:id/resolve
func (h *DisputeHandler) Resolve(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	disputeID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req service.ResolveInput
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	payload, replayed, err := h.svc.ResolveDispute(c.Request.Context(), disputeID, userID, req)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	respondGuarded(c, payload, replayed)
}
