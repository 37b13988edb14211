package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/showpls/showpls-backend/internal/http/handlers/common"
	"github.com/showpls/showpls-backend/internal/service"
)

// ChatHandler — чат заказа.
type ChatHandler struct {
	svc *service.ChatService
}

// NewChatHandler создаёт новый хэндлер.
func NewChatHandler(svc *service.ChatService) *ChatHandler {
	return &ChatHandler{svc: svc}
}

// List GET /orders/:id/messages
func (h *ChatHandler) List(c *gin.Context) {
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

	limit, offset := common.GetPagination(c)
	messages, err := h.svc.ListMessages(c.Request.Context(), orderID, userID, limit, offset)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

// Post POST /orders/:id/messages
func (h *ChatHandler) Post(c *gin.Context) {
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
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	msg, err := h.svc.PostMessage(c.Request.Context(), orderID, userID, req.Text)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}
