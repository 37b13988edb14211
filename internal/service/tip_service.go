package service

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/showpls/showpls-backend/internal/logger"
	"github.com/showpls/showpls-backend/internal/models"
	"github.com/showpls/showpls-backend/internal/pkg/apperror"
	"github.com/showpls/showpls-backend/internal/repository"
	"github.com/showpls/showpls-backend/internal/validation"
)

// TipService — чаевые исполнителю после подтверждения заказа.
// Чаевые двигают реальные деньги, поэтому идут под opId; комиссия
// платформы с чаевых не удерживается.
type TipService struct {
	tips     TipRepo
	orders   OrderRepo
	users    UserRepo
	ledger   Ledger
	guard    *IdempotencyGuard
	notifier Notifier
}

// NewTipService создаёт сервис чаевых.
func NewTipService(tips TipRepo, orders OrderRepo, users UserRepo, ledger Ledger, guard *IdempotencyGuard, notifier Notifier) *TipService {
	return &TipService{tips: tips, orders: orders, users: users, ledger: ledger, guard: guard, notifier: notifier}
}

// TipOrder отправляет чаевые исполнителю подтверждённого заказа.
func (s *TipService) TipOrder(ctx context.Context, orderID, fromUserID uuid.UUID, amount models.NanoTON, message *string, opID string) (json.RawMessage, bool, error) {
	if amount <= 0 {
		return nil, false, apperror.New(apperror.ErrCodeValidation, "сумма чаевых должна быть положительной")
	}
	if message != nil {
		if err := validation.ValidateLength("сообщение", *message, 0, validation.MaxTipMessageLength); err != nil {
			return nil, false, apperror.New(apperror.ErrCodeValidation, err.Error())
		}
	}

	return s.guard.Run(ctx, opID, func(ctx context.Context) (interface{}, error) {
		order, err := s.orders.GetByID(ctx, orderID)
		if err != nil {
			if err == repository.ErrOrderNotFound {
				return nil, apperror.ErrOrderNotFound
			}
			return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось получить заказ")
		}
		if order.RequesterID != fromUserID {
			return nil, apperror.New(apperror.ErrCodeNotParticipant, "чаевые отправляет заказчик")
		}
		if order.Status != models.OrderStatusApproved {
			return nil, apperror.New(apperror.ErrCodeInvalidState, "чаевые доступны после подтверждения заказа")
		}
		if order.ProviderID == nil {
			return nil, apperror.New(apperror.ErrCodeInvalidState, "у заказа нет исполнителя")
		}

		provider, err := s.users.GetByID(ctx, *order.ProviderID)
		if err != nil || !provider.HasWallet() {
			return nil, apperror.New(apperror.ErrCodeWalletRequired, "у исполнителя не подключён кошелёк")
		}

		comment := "Чаевые за заказ " + orderID.String()
		if _, err := s.ledger.Transfer(ctx, *provider.WalletAddress, amount, comment); err != nil {
			return nil, mapLedgerErr(err, "перевод чаевых не прошёл")
		}

		tip := &models.Tip{
			OrderID:    orderID,
			FromUserID: fromUserID,
			ToUserID:   *order.ProviderID,
			Amount:     amount,
			Message:    message,
		}
		if err := s.tips.Create(ctx, tip); err != nil {
			logger.WithOrder(orderID.String()).
				Errorf("чаевые переведены, но запись не сохранена: %v", err)
			return nil, ledgerCommitted(apperror.Wrap(err, apperror.ErrCodeDatabaseError, "перевод прошёл, но запись не сохранена"))
		}

		logger.WithOrder(orderID.String()).WithField("amount", amount).Info("чаевые отправлены")
		s.notifier.Notify(ctx, *order.ProviderID, "Вам чаевые!",
			"Заказчик отправил вам чаевые за работу.",
			map[string]interface{}{"order_id": orderID.String(), "amount": amount.String()})
		return tip, nil
	})
}

// ListByOrder возвращает чаевые по заказу.
func (s *TipService) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Tip, error) {
	tips, err := s.tips.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось получить чаевые")
	}
	return tips, nil
}
