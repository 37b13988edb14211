package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/showpls/showpls-backend/internal/goroutine"
	"github.com/showpls/showpls-backend/internal/logger"
	"github.com/showpls/showpls-backend/internal/models"
	"github.com/showpls/showpls-backend/internal/pkg/apperror"
)

// NotificationService сохраняет уведомления и рассылает их по websocket.
// Доставка fire-and-forget: ошибка уведомления не должна валить операцию,
// которая его породила.
type NotificationService struct {
	repo NotificationRepo
	hub  Broadcaster
}

// NewNotificationService создаёт сервис уведомлений.
func NewNotificationService(repo NotificationRepo, hub Broadcaster) *NotificationService {
	return &NotificationService{repo: repo, hub: hub}
}

// notificationEvent — событие для websocket рассылки.
type notificationEvent struct {
	Type         string               `json:"type"`
	Notification *models.Notification `json:"notification"`
}

// Notify персистит уведомление и отправляет его в websocket.
// Выполняется в фоне с собственным контекстом: вызывающая операция
// к этому моменту может уже завершиться.
func (s *NotificationService) Notify(_ context.Context, userID uuid.UUID, title, message string, metadata map[string]interface{}) {
	goroutine.SafeGo("notify", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var meta json.RawMessage
		if metadata != nil {
			if raw, err := json.Marshal(metadata); err == nil {
				meta = raw
			}
		}

		n := &models.Notification{
			UserID:   userID,
			Title:    title,
			Message:  message,
			Metadata: meta,
		}
		if err := s.repo.Create(ctx, n); err != nil {
			logger.Log.WithField("user_id", userID).
				Errorf("не удалось сохранить уведомление: %v", err)
			return
		}
		s.hub.SendToUser(userID, notificationEvent{Type: "notification", Notification: n})
	})
}

// List возвращает уведомления пользователя.
func (s *NotificationService) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Notification, error) {
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}
	notifications, err := s.repo.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось получить уведомления")
	}
	return notifications, nil
}

// CountUnread возвращает число непрочитанных уведомлений.
func (s *NotificationService) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	count, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return 0, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось посчитать уведомления")
	}
	return count, nil
}

// MarkRead отмечает уведомление прочитанным.
func (s *NotificationService) MarkRead(ctx context.Context, id, userID uuid.UUID) error {
	if err := s.repo.MarkAsRead(ctx, id, userID); err != nil {
		return apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось отметить уведомление")
	}
	return nil
}

// MarkAllRead отмечает все уведомления пользователя прочитанными.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID uuid.UUID) error {
	if err := s.repo.MarkAllAsRead(ctx, userID); err != nil {
		return apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось отметить уведомления")
	}
	return nil
}
