package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/showpls/showpls-backend/internal/logger"
	"github.com/showpls/showpls-backend/internal/models"
	"github.com/showpls/showpls-backend/internal/pkg/apperror"
	"github.com/showpls/showpls-backend/internal/repository"
	"github.com/showpls/showpls-backend/internal/ton"
)

// EscrowService — денежная часть жизненного цикла: создание и пополнение
// escrow, подтверждение с выплатой, возврат, заморозка. Все операции,
// двигающие деньги, идут под идемпотентным opId, и порядок неизменен:
// проверка предусловий → запись in_flight → вызов ledger → локальный статус.
type EscrowService struct {
	orders   OrderRepo
	users    UserRepo
	ledger   Ledger
	guard    *IdempotencyGuard
	notifier Notifier
}

// NewEscrowService создаёт сервис escrow операций.
func NewEscrowService(orders OrderRepo, users UserRepo, ledger Ledger, guard *IdempotencyGuard, notifier Notifier) *EscrowService {
	return &EscrowService{orders: orders, users: users, ledger: ledger, guard: guard, notifier: notifier}
}

// mapLedgerErr переводит ошибки адаптера в apperror с нужным кодом.
func mapLedgerErr(err error, message string) error {
	switch {
	case errors.Is(err, ton.ErrLedgerUnavailable):
		return apperror.Wrap(err, apperror.ErrCodeLedgerUnavailable, message+": ledger недоступен, повторите позже")
	case errors.Is(err, ton.ErrLedgerRejected):
		return apperror.Wrap(err, apperror.ErrCodeLedgerRejected, message+": ledger отклонил операцию")
	default:
		return apperror.Wrap(err, apperror.ErrCodeInternal, message)
	}
}

// getOrder загружает заказ, переводя ошибку репозитория в apperror.
func (s *EscrowService) getOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if err == repository.ErrOrderNotFound {
			return nil, apperror.ErrOrderNotFound
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось получить заказ")
	}
	return order, nil
}

// walletOf возвращает подключённый кошелёк пользователя.
func (s *EscrowService) walletOf(ctx context.Context, userID uuid.UUID, who string) (string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return "", apperror.ErrUserNotFound
	}
	if !user.HasWallet() {
		return "", apperror.Newf(apperror.ErrCodeWalletRequired, "у %s не подключён TON кошелёк", who)
	}
	if !s.ledger.ValidateAddress(*user.WalletAddress) {
		return "", apperror.Newf(apperror.ErrCodeInvalidWallet, "у %s некорректный адрес кошелька", who)
	}
	return *user.WalletAddress, nil
}

// CreateEscrow деплоит escrow контракт для принятого заказа.
// Операция идемпотентна сама по себе: адрес привязывается один раз,
// повторный вызов возвращает заказ с уже привязанным контрактом.
func (s *EscrowService) CreateEscrow(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error) {
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.RequesterID != userID {
		return nil, apperror.New(apperror.ErrCodeNotParticipant, "создать escrow может только заказчик")
	}
	if order.Status != models.OrderStatusPendingFunding {
		return nil, apperror.Newf(apperror.ErrCodeInvalidState, "escrow создаётся в статусе PENDING_FUNDING, сейчас %s", order.Status)
	}
	if order.EscrowAddress != nil {
		return order, nil
	}
	if order.ProviderID == nil {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "у заказа нет исполнителя")
	}

	buyerWallet, err := s.walletOf(ctx, order.RequesterID, "заказчика")
	if err != nil {
		return nil, err
	}
	sellerWallet, err := s.walletOf(ctx, *order.ProviderID, "исполнителя")
	if err != nil {
		return nil, err
	}

	escrowAddr, err := s.ledger.CreateEscrow(ctx, ton.CreateEscrowParams{
		OrderID:    order.ID.String(),
		Amount:     order.BudgetNanoTon,
		BuyerAddr:  buyerWallet,
		SellerAddr: sellerWallet,
	})
	if err != nil {
		return nil, mapLedgerErr(err, "не удалось создать escrow контракт")
	}

	if err := s.orders.SetEscrowAddress(ctx, orderID, escrowAddr); err != nil {
		if err == repository.ErrStatusConflict {
			// Параллельный запрос успел привязать адрес первым.
			return s.getOrder(ctx, orderID)
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось сохранить адрес escrow")
	}

	logger.WithOrder(orderID.String()).WithField("escrow", escrowAddr).Info("создан escrow контракт")
	return s.getOrder(ctx, orderID)
}

// FundEscrow инициирует перевод бюджета заказа на escrow контракт.
func (s *EscrowService) FundEscrow(ctx context.Context, orderID, userID uuid.UUID, opID string) (json.RawMessage, bool, error) {
	return s.guard.Run(ctx, opID, func(ctx context.Context) (interface{}, error) {
		order, err := s.getOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if order.RequesterID != userID {
			return nil, apperror.New(apperror.ErrCodeNotParticipant, "пополнить escrow может только заказчик")
		}
		if order.Status != models.OrderStatusPendingFunding {
			return nil, apperror.Newf(apperror.ErrCodeInvalidState, "escrow пополняется в статусе PENDING_FUNDING, сейчас %s", order.Status)
		}
		if order.EscrowAddress == nil {
			return nil, apperror.New(apperror.ErrCodeInvalidState, "escrow контракт ещё не создан")
		}

		if _, err := s.ledger.FundEscrow(ctx, *order.EscrowAddress, order.BudgetNanoTon); err != nil {
			return nil, mapLedgerErr(err, "не удалось пополнить escrow")
		}

		logger.WithOrder(orderID.String()).Info("инициировано пополнение escrow")
		return order, nil
	})
}

// VerifyFunding сверяет депозит с ledger и при подтверждении переводит
// заказ в FUNDED. Неподтверждённый депозит — не ошибка: клиент опрашивает
// повторно, пока индексатор не увидит перевод.
func (s *EscrowService) VerifyFunding(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, ton.EscrowStatus, error) {
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, ton.EscrowStatusUnknown, err
	}
	if !order.IsParticipant(userID) {
		return nil, ton.EscrowStatusUnknown, apperror.New(apperror.ErrCodeNotParticipant, "вы не участник заказа")
	}
	if _, active := models.ActiveStatuses[order.Status]; active {
		return order, ton.EscrowStatusFunded, nil
	}
	if order.Status != models.OrderStatusPendingFunding {
		return nil, ton.EscrowStatusUnknown, apperror.Newf(apperror.ErrCodeInvalidState, "проверка депозита невозможна в статусе %s", order.Status)
	}
	if order.EscrowAddress == nil {
		return nil, ton.EscrowStatusUnknown, apperror.New(apperror.ErrCodeInvalidState, "escrow контракт ещё не создан")
	}

	status, err := s.ledger.GetEscrowStatus(ctx, *order.EscrowAddress)
	if err != nil {
		return nil, ton.EscrowStatusUnknown, mapLedgerErr(err, "не удалось проверить депозит")
	}
	if status != ton.EscrowStatusFunded {
		return order, status, nil
	}

	funded, err := s.orders.Transition(ctx, orderID,
		[]models.OrderStatus{models.OrderStatusPendingFunding}, models.OrderStatusFunded)
	if err != nil {
		if err == repository.ErrStatusConflict {
			// Параллельная проверка перевела заказ первой.
			order, err = s.getOrder(ctx, orderID)
			return order, ton.EscrowStatusFunded, err
		}
		return nil, status, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось обновить статус")
	}

	logger.WithOrder(orderID.String()).Info("депозит подтверждён, заказ профинансирован")
	if funded.ProviderID != nil {
		s.notifier.Notify(ctx, *funded.ProviderID, "Заказ оплачен",
			"Депозит на escrow подтверждён. Можно приступать к съёмке.",
			map[string]interface{}{"order_id": orderID.String(), "status": funded.Status})
	}
	return funded, ton.EscrowStatusFunded, nil
}

// Approve подтверждает сданный результат: выплата исполнителю за вычетом
// комиссии, затем перевод заказа в APPROVED. Только из DELIVERED.
func (s *EscrowService) Approve(ctx context.Context, orderID, userID uuid.UUID, opID string) (json.RawMessage, bool, error) {
	return s.guard.Run(ctx, opID, func(ctx context.Context) (interface{}, error) {
		order, err := s.getOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if order.RequesterID != userID {
			return nil, apperror.New(apperror.ErrCodeNotParticipant, "подтвердить заказ может только заказчик")
		}
		if order.Status != models.OrderStatusDelivered {
			return nil, apperror.Newf(apperror.ErrCodeInvalidState, "подтвердить можно только сданный заказ, сейчас %s", order.Status)
		}
		if order.EscrowAddress == nil || order.ProviderID == nil {
			return nil, apperror.New(apperror.ErrCodeInvalidState, "у заказа нет escrow контракта")
		}

		sellerWallet, err := s.walletOf(ctx, *order.ProviderID, "исполнителя")
		if err != nil {
			return nil, err
		}

		if _, err := s.ledger.ReleaseEscrow(ctx, *order.EscrowAddress, sellerWallet, order.NetPayout()); err != nil {
			return nil, mapLedgerErr(err, "выплата исполнителю не прошла")
		}

		approved, err := s.orders.Transition(ctx, orderID,
			[]models.OrderStatus{models.OrderStatusDelivered}, models.OrderStatusApproved)
		if err != nil {
			// Деньги ушли, статус не записался: захват opId остаётся,
			// повтор не должен вызвать вторую выплату.
			logger.WithOrder(orderID.String()).
				Errorf("выплата выполнена, но заказ не переведён в APPROVED: %v", err)
			return nil, ledgerCommitted(apperror.Wrap(err, apperror.ErrCodeDatabaseError, "выплата прошла, но статус не обновился"))
		}

		logger.WithOrder(orderID.String()).WithField("payout", order.NetPayout()).Info("заказ подтверждён, выплата отправлена")
		s.notifier.Notify(ctx, *order.ProviderID, "Заказ подтверждён",
			"Заказчик принял работу. Выплата отправлена на ваш кошелёк.",
			map[string]interface{}{"order_id": orderID.String(), "status": approved.Status})
		return approved, nil
	})
}

// refundableStatuses — статусы, из которых заказчик может отозвать оплату
// до сдачи результата. После DELIVERED возврат возможен только через спор.
var refundableStatuses = []models.OrderStatus{
	models.OrderStatusFunded,
	models.OrderStatusInProgress,
	models.OrderStatusAtLocation,
	models.OrderStatusDraftContent,
}

// Refund возвращает заказчику полную сумму депозита. Комиссия не удерживается.
func (s *EscrowService) Refund(ctx context.Context, orderID, userID uuid.UUID, opID string) (json.RawMessage, bool, error) {
	return s.guard.Run(ctx, opID, func(ctx context.Context) (interface{}, error) {
		order, err := s.getOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if order.RequesterID != userID {
			return nil, apperror.New(apperror.ErrCodeNotParticipant, "вернуть депозит может только заказчик")
		}
		refundable := false
		for _, st := range refundableStatuses {
			if order.Status == st {
				refundable = true
				break
			}
		}
		if !refundable {
			return nil, apperror.Newf(apperror.ErrCodeInvalidState, "возврат невозможен в статусе %s", order.Status)
		}
		if order.EscrowAddress == nil {
			return nil, apperror.New(apperror.ErrCodeInvalidState, "у заказа нет escrow контракта")
		}

		buyerWallet, err := s.walletOf(ctx, order.RequesterID, "заказчика")
		if err != nil {
			return nil, err
		}

		if _, err := s.ledger.RefundEscrow(ctx, *order.EscrowAddress, buyerWallet, order.BudgetNanoTon); err != nil {
			return nil, mapLedgerErr(err, "возврат депозита не прошёл")
		}

		refunded, err := s.orders.Transition(ctx, orderID, refundableStatuses, models.OrderStatusRefunded)
		if err != nil {
			logger.WithOrder(orderID.String()).
				Errorf("возврат выполнен, но заказ не переведён в REFUNDED: %v", err)
			return nil, ledgerCommitted(apperror.Wrap(err, apperror.ErrCodeDatabaseError, "возврат прошёл, но статус не обновился"))
		}

		logger.WithOrder(orderID.String()).WithField("amount", order.BudgetNanoTon).Info("депозит возвращён заказчику")
		if order.ProviderID != nil {
			s.notifier.Notify(ctx, *order.ProviderID, "Заказ отменён",
				"Заказчик отозвал оплату, заказ закрыт с возвратом.",
				map[string]interface{}{"order_id": orderID.String(), "status": refunded.Status})
		}
		return refunded, nil
	})
}

// Pause замораживает движение средств по escrow на время спора.
func (s *EscrowService) Pause(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error) {
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsParticipant(userID) {
		return nil, apperror.New(apperror.ErrCodeNotParticipant, "вы не участник заказа")
	}
	if order.Status != models.OrderStatusDisputed {
		return nil, apperror.Newf(apperror.ErrCodeInvalidState, "заморозка доступна только в споре, сейчас %s", order.Status)
	}
	if order.EscrowAddress == nil {
		return nil, apperror.New(apperror.ErrCodeInvalidState, "у заказа нет escrow контракта")
	}

	if _, err := s.ledger.PauseEscrow(ctx, *order.EscrowAddress); err != nil {
		return nil, mapLedgerErr(err, "не удалось заморозить escrow")
	}
	logger.WithOrder(orderID.String()).Info("escrow заморожен на время спора")
	return order, nil
}
