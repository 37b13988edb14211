package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/showpls/showpls-backend/internal/http/handlers/common"
	"github.com/showpls/showpls-backend/internal/service"
)

// AuthHandler — вход через Telegram Mini App и обновление токенов.
type AuthHandler struct {
	svc *service.AuthService
}

// NewAuthHandler создаёт новый хэндлер.
func NewAuthHandler(svc *service.AuthService) *AuthHandler {
	return &AuthHandler{svc: svc}
}

// Telegram POST /auth/telegram
func (h *AuthHandler) Telegram(c *gin.Context) {
	var req struct {
		InitData string `json:"init_data" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	user, pair, err := h.svc.AuthenticateTelegram(c.Request.Context(), req.InitData)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user, "tokens": pair})
}

// Refresh POST /auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	pair, err := h.svc.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}
