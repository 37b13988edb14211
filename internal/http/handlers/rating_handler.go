package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/showpls/showpls-backend/internal/http/handlers/common"
	"github.com/showpls/showpls-backend/internal/service"
)

// RatingHandler — оценки по завершённым заказам.
type RatingHandler struct {
	svc *service.RatingService
}

// NewRatingHandler создаёт новый хэндлер.
func NewRatingHandler(svc *service.RatingService) *RatingHandler {
	return &RatingHandler{svc: svc}
}

// Create POST /ratings
func (h *RatingHandler) Create(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req struct {
		OrderID string  `json:"order_id" binding:"required,uuid"`
		Score   int     `json:"score" binding:"required"`
		Comment *string `json:"comment"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	rating, err := h.svc.RateOrder(c.Request.Context(), mustUUID(req.OrderID), userID, req.Score, req.Comment)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rating)
}

// ListByUser GET /users/:id/ratings
func (h *RatingHandler) ListByUser(c *gin.Context) {
	targetID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	limit, offset := common.GetPagination(c)
	ratings, err := h.svc.ListUserRatings(c.Request.Context(), targetID, limit, offset)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, ratings)
}
