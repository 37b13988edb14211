package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/showpls/showpls-backend/internal/models"
	"github.com/showpls/showpls-backend/internal/pkg/apperror"
	"github.com/showpls/showpls-backend/internal/repository"
	"github.com/showpls/showpls-backend/internal/validation"
)

// RatingService — взаимные оценки по завершённым заказам.
// Одна оценка на пару (заказ, автор); агрегат получателя
// пересчитывается в той же транзакции.
type RatingService struct {
	ratings RatingRepo
	orders  OrderRepo
}

// NewRatingService создаёт сервис оценок.
func NewRatingService(ratings RatingRepo, orders OrderRepo) *RatingService {
	return &RatingService{ratings: ratings, orders: orders}
}

// RateOrder ставит оценку второй стороне завершённого заказа.
func (s *RatingService) RateOrder(ctx context.Context, orderID, raterID uuid.UUID, score int, comment *string) (*models.Rating, error) {
	if score < 1 || score > 5 {
		return nil, apperror.New(apperror.ErrCodeValidation, "оценка должна быть от 1 до 5")
	}
	if comment != nil {
		if err := validation.ValidateLength("комментарий", *comment, 0, validation.MaxMessageLength); err != nil {
			return nil, apperror.New(apperror.ErrCodeValidation, err.Error())
		}
	}

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if err == repository.ErrOrderNotFound {
			return nil, apperror.ErrOrderNotFound
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось получить заказ")
	}
	if !order.IsTerminal() {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "оценить можно только завершённый заказ")
	}
	if !order.IsParticipant(raterID) {
		return nil, apperror.New(apperror.ErrCodeNotParticipant, "оценивать могут только участники заказа")
	}
	if order.ProviderID == nil {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "у заказа не было исполнителя")
	}

	toUserID := order.RequesterID
	if raterID == order.RequesterID {
		toUserID = *order.ProviderID
	}

	rating := &models.Rating{
		OrderID:    orderID,
		FromUserID: raterID,
		ToUserID:   toUserID,
		Score:      score,
		Comment:    comment,
	}
	if err := s.ratings.CreateAndRecalc(ctx, rating); err != nil {
		if err == repository.ErrAlreadyRated {
			return nil, apperror.New(apperror.ErrCodeAlreadyRated, "вы уже оценили этот заказ")
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось сохранить оценку")
	}
	return rating, nil
}

// ListUserRatings возвращает оценки, полученные пользователем.
func (s *RatingService) ListUserRatings(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Rating, error) {
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}
	ratings, err := s.ratings.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось получить оценки")
	}
	return ratings, nil
}
