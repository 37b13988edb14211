package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/showpls/showpls-backend/internal/http/handlers/common"
	"github.com/showpls/showpls-backend/internal/models"
	"github.com/showpls/showpls-backend/internal/service"
)

// TipHandler — чаевые исполнителю.
type TipHandler struct {
	svc *service.TipService
}

// NewTipHandler создаёт новый хэндлер.
func NewTipHandler(svc *service.TipService) *TipHandler {
	return &TipHandler{svc: svc}
}

// Create POST /orders/:id/tip
func (h *TipHandler) Create(c *gin.Context) {
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
		Amount  models.NanoTON `json:"amount_nanoton" binding:"required"`
		Message *string        `json:"message"`
		OpID    string         `json:"opId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	payload, replayed, err := h.svc.TipOrder(c.Request.Context(), orderID, userID, req.Amount, req.Message, req.OpID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	respondGuarded(c, payload, replayed)
}

// ListByOrder GET /orders/:id/tips
func (h *TipHandler) ListByOrder(c *gin.Context) {
	orderID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	tips, err := h.svc.ListByOrder(c.Request.Context(), orderID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, tips)
}
