package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/showpls/showpls-backend/internal/models"
	"github.com/showpls/showpls-backend/internal/pkg/apperror"
	"github.com/showpls/showpls-backend/internal/repository"
	"github.com/showpls/showpls-backend/internal/validation"
)

// ChatService — чат между заказчиком и исполнителем. Чат открывается
// только когда у заказа есть исполнитель и заказ в активной полосе
// статусов; вне полосы и чтение, и запись закрыты.
type ChatService struct {
	messages MessageRepo
	orders   OrderRepo
	hub      Broadcaster
}

// NewChatService создаёт сервис чата.
func NewChatService(messages MessageRepo, orders OrderRepo, hub Broadcaster) *ChatService {
	return &ChatService{messages: messages, orders: orders, hub: hub}
}

// chatOrder загружает заказ и проверяет доступность чата для пользователя.
func (s *ChatService) chatOrder(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if err == repository.ErrOrderNotFound {
			return nil, apperror.ErrOrderNotFound
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось получить заказ")
	}
	if !order.IsParticipant(userID) {
		return nil, apperror.New(apperror.ErrCodeNotParticipant, "чат доступен только участникам заказа")
	}
	if order.ProviderID == nil {
		return nil, apperror.New(apperror.ErrCodeChatNotAvailable, "чат откроется, когда заказ примет исполнитель")
	}
	if _, ok := models.ActiveStatuses[order.Status]; !ok {
		return nil, apperror.Newf(apperror.ErrCodeChatNotAvailable, "чат недоступен в статусе %s", order.Status)
	}
	return order, nil
}

// ListMessages возвращает сообщения чата заказа.
func (s *ChatService) ListMessages(ctx context.Context, orderID, userID uuid.UUID, limit, offset int) ([]models.Message, error) {
	if _, err := s.chatOrder(ctx, orderID, userID); err != nil {
		return nil, err
	}
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}
	messages, err := s.messages.ListByOrder(ctx, orderID, limit, offset)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось получить сообщения")
	}
	return messages, nil
}

// chatEvent — событие чата для websocket рассылки.
type chatEvent struct {
	Type    string          `json:"type"`
	Message *models.Message `json:"message"`
}

// PostMessage сохраняет сообщение и рассылает его второй стороне.
func (s *ChatService) PostMessage(ctx context.Context, orderID, userID uuid.UUID, text string) (*models.Message, error) {
	if err := validation.ValidateLength("сообщение", text, 1, validation.MaxMessageLength); err != nil {
		return nil, apperror.New(apperror.ErrCodeValidation, err.Error())
	}

	order, err := s.chatOrder(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		OrderID:  orderID,
		SenderID: userID,
		Text:     text,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось сохранить сообщение")
	}

	recipient := order.RequesterID
	if userID == order.RequesterID {
		recipient = *order.ProviderID
	}
	s.hub.SendToUser(recipient, chatEvent{Type: "chat_message", Message: msg})
	return msg, nil
}
