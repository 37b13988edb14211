package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/showpls/showpls-backend/internal/logger"
	"github.com/showpls/showpls-backend/internal/models"
	"github.com/showpls/showpls-backend/internal/pkg/apperror"
	"github.com/showpls/showpls-backend/internal/repository"
	"github.com/showpls/showpls-backend/internal/validation"
)

// DisputeService — споры по заказам. Открытие спора переводит заказ
// в DISPUTED, решение арбитра доводит его до APPROVED или REFUNDED.
type DisputeService struct {
	disputes DisputeRepo
	orders   OrderRepo
	users    UserRepo
	ledger   Ledger
	guard    *IdempotencyGuard
	notifier Notifier
	sla      time.Duration
}

// NewDisputeService создаёт сервис споров.
func NewDisputeService(disputes DisputeRepo, orders OrderRepo, users UserRepo, ledger Ledger, guard *IdempotencyGuard, notifier Notifier, sla time.Duration) *DisputeService {
	return &DisputeService{
		disputes: disputes,
		orders:   orders,
		users:    users,
		ledger:   ledger,
		guard:    guard,
		notifier: notifier,
		sla:      sla,
	}
}

func (s *DisputeService) getOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if err == repository.ErrOrderNotFound {
			return nil, apperror.ErrOrderNotFound
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось получить заказ")
	}
	return order, nil
}

// disputableList — DisputableStatuses в виде среза для условного UPDATE.
func disputableList() []models.OrderStatus {
	list := make([]models.OrderStatus, 0, len(models.DisputableStatuses))
	for status := range models.DisputableStatuses {
		list = append(list, status)
	}
	return list
}

// OpenDispute открывает спор и переводит заказ в DISPUTED.
// Escrow замораживается best-effort: спор существует и без заморозки.
func (s *DisputeService) OpenDispute(ctx context.Context, orderID, userID uuid.UUID, reason string, evidence []string) (*models.Dispute, error) {
	if err := validation.ValidateLength("причина спора", reason, 3, validation.MaxDisputeReasonLength); err != nil {
		return nil, apperror.New(apperror.ErrCodeValidation, err.Error())
	}
	if err := validation.ValidateEvidence(evidence); err != nil {
		return nil, apperror.New(apperror.ErrCodeValidation, err.Error())
	}

	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsParticipant(userID) {
		return nil, apperror.New(apperror.ErrCodeNotParticipant, "открыть спор может только участник заказа")
	}
	if _, ok := models.DisputableStatuses[order.Status]; !ok {
		return nil, apperror.Newf(apperror.ErrCodeInvalidState, "спор нельзя открыть в статусе %s", order.Status)
	}

	hasOpen, err := s.disputes.HasOpen(ctx, orderID)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось проверить споры")
	}
	if hasOpen {
		return nil, apperror.New(apperror.ErrCodeConflict, "по заказу уже открыт спор")
	}

	if _, err := s.orders.Transition(ctx, orderID, disputableList(), models.OrderStatusDisputed); err != nil {
		if err == repository.ErrStatusConflict {
			return nil, apperror.New(apperror.ErrCodeInvalidState, "статус заказа изменился, спор не открыт")
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось перевести заказ в спор")
	}

	dispute := &models.Dispute{
		OrderID:     orderID,
		OpenedBy:    userID,
		Reason:      reason,
		Evidence:    evidence,
		SLADeadline: time.Now().Add(s.sla),
	}
	if err := s.disputes.Create(ctx, dispute); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось сохранить спор")
	}

	if order.EscrowAddress != nil {
		if _, err := s.ledger.PauseEscrow(ctx, *order.EscrowAddress); err != nil {
			logger.WithOrder(orderID.String()).Warnf("не удалось заморозить escrow при открытии спора: %v", err)
		}
	}

	logger.WithOrder(orderID.String()).WithFields(logrus.Fields{
		"dispute_id": dispute.DisputeID,
		"opened_by":  userID,
	}).Info("открыт спор")

	other := order.RequesterID
	if userID == order.RequesterID && order.ProviderID != nil {
		other = *order.ProviderID
	}
	s.notifier.Notify(ctx, other, "Открыт спор",
		"По заказу открыт спор. Приложите доказательства своей позиции.",
		map[string]interface{}{"order_id": orderID.String(), "dispute_id": dispute.DisputeID})
	return dispute, nil
}

// ListByOrder возвращает споры заказа. Доступно только участникам.
func (s *DisputeService) ListByOrder(ctx context.Context, orderID, userID uuid.UUID) ([]models.Dispute, error) {
	order, err := s.getOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsParticipant(userID) {
		return nil, apperror.New(apperror.ErrCodeNotParticipant, "вы не участник заказа")
	}
	disputes, err := s.disputes.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось получить споры")
	}
	return disputes, nil
}

// AddEvidence дописывает доказательства к спору, пока он не ушёл в разбор.
func (s *DisputeService) AddEvidence(ctx context.Context, disputeID, userID uuid.UUID, evidence []string) (*models.Dispute, error) {
	if len(evidence) == 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "список доказательств пуст")
	}
	if err := validation.ValidateEvidence(evidence); err != nil {
		return nil, apperror.New(apperror.ErrCodeValidation, err.Error())
	}

	dispute, err := s.disputes.GetByID(ctx, disputeID)
	if err != nil {
		if err == repository.ErrDisputeNotFound {
			return nil, apperror.ErrDisputeNotFound
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось получить спор")
	}

	order, err := s.getOrder(ctx, dispute.OrderID)
	if err != nil {
		return nil, err
	}
	if !order.IsParticipant(userID) {
		return nil, apperror.New(apperror.ErrCodeNotParticipant, "доказательства прикладывают участники заказа")
	}

	updated, err := s.disputes.AppendEvidence(ctx, disputeID, evidence)
	if err != nil {
		if err == repository.ErrDisputeClosed {
			return nil, apperror.New(apperror.ErrCodeInvalidState, "спор уже в разборе, доказательства не принимаются")
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось сохранить доказательства")
	}
	return updated, nil
}

// ResolveInput — решение арбитра.
type ResolveInput struct {
	Decision      string         `json:"decision"` // approve | refund | partial
	Resolution    string         `json:"resolution"`
	PartialAmount models.NanoTON `json:"partial_amount_nanoton,omitempty"`
	OpID          string         `json:"opId"`
}

// ResolveDispute исполняет решение арбитра: движение денег под opId,
// затем спор и заказ фиксируются одной транзакцией. Решение выносит
// только пользователь с ролью арбитра, и арбитр — третья сторона:
// участники заказа решать собственный спор не могут.
func (s *DisputeService) ResolveDispute(ctx context.Context, disputeID, arbiterID uuid.UUID, in ResolveInput) (json.RawMessage, bool, error) {
	if _, ok := models.ValidDecisions[in.Decision]; !ok {
		return nil, false, apperror.Newf(apperror.ErrCodeValidation, "недопустимое решение %q", in.Decision)
	}
	if err := validation.ValidateLength("резолюция", in.Resolution, 3, validation.MaxDisputeReasonLength); err != nil {
		return nil, false, apperror.New(apperror.ErrCodeValidation, err.Error())
	}

	arbiter, err := s.users.GetByID(ctx, arbiterID)
	if err != nil {
		return nil, false, apperror.ErrUserNotFound
	}
	if !arbiter.IsArbiter {
		return nil, false, apperror.New(apperror.ErrCodeForbidden, "решение по спору выносит только арбитр платформы")
	}

	return s.guard.Run(ctx, in.OpID, func(ctx context.Context) (interface{}, error) {
		dispute, err := s.disputes.GetByID(ctx, disputeID)
		if err != nil {
			if err == repository.ErrDisputeNotFound {
				return nil, apperror.ErrDisputeNotFound
			}
			return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось получить спор")
		}
		if dispute.IsTerminal() {
			return nil, apperror.New(apperror.ErrCodeInvalidState, "спор уже решён")
		}

		order, err := s.getOrder(ctx, dispute.OrderID)
		if err != nil {
			return nil, err
		}
		if order.IsParticipant(arbiterID) {
			return nil, apperror.New(apperror.ErrCodeForbidden, "участник заказа не может решать собственный спор")
		}
		if order.Status != models.OrderStatusDisputed {
			return nil, apperror.Newf(apperror.ErrCodeInvalidState, "заказ не в споре, текущий статус %s", order.Status)
		}
		if order.EscrowAddress == nil || order.ProviderID == nil {
			return nil, apperror.New(apperror.ErrCodeInvalidState, "по заказу нет escrow, решать нечего")
		}

		requester, err := s.users.GetByID(ctx, order.RequesterID)
		if err != nil || !requester.HasWallet() {
			return nil, apperror.New(apperror.ErrCodeWalletRequired, "у заказчика не подключён кошелёк")
		}
		provider, err := s.users.GetByID(ctx, *order.ProviderID)
		if err != nil || !provider.HasWallet() {
			return nil, apperror.New(apperror.ErrCodeWalletRequired, "у исполнителя не подключён кошелёк")
		}

		var orderStatus models.OrderStatus
		switch in.Decision {
		case models.DecisionApprove:
			if _, err := s.ledger.ReleaseEscrow(ctx, *order.EscrowAddress, *provider.WalletAddress, order.NetPayout()); err != nil {
				return nil, mapLedgerErr(err, "выплата по решению арбитра не прошла")
			}
			orderStatus = models.OrderStatusApproved

		case models.DecisionRefund:
			if _, err := s.ledger.RefundEscrow(ctx, *order.EscrowAddress, *requester.WalletAddress, order.BudgetNanoTon); err != nil {
				return nil, mapLedgerErr(err, "возврат по решению арбитра не прошёл")
			}
			orderStatus = models.OrderStatusRefunded

		case models.DecisionPartial:
			if in.PartialAmount <= 0 || in.PartialAmount >= order.BudgetNanoTon {
				return nil, apperror.New(apperror.ErrCodeValidation, "частичная сумма должна быть больше нуля и меньше бюджета")
			}
			if _, err := s.ledger.ReleaseEscrow(ctx, *order.EscrowAddress, *provider.WalletAddress, in.PartialAmount); err != nil {
				return nil, mapLedgerErr(err, "частичная выплата по решению арбитра не прошла")
			}
			remainder := order.BudgetNanoTon - in.PartialAmount
			if _, err := s.ledger.RefundEscrow(ctx, *order.EscrowAddress, *requester.WalletAddress, remainder); err != nil {
				// Частичная выплата уже прошла: захват opId остаётся, повтор
				// не должен выплатить её второй раз.
				logger.WithOrder(order.ID.String()).
					Errorf("частичная выплата прошла, но возврат остатка не удался: %v", err)
				return nil, ledgerCommitted(mapLedgerErr(err, "возврат остатка по решению арбитра не прошёл"))
			}
			orderStatus = models.OrderStatusApproved
		}

		resolved, err := s.disputes.ResolveTx(ctx, disputeID, in.Decision, in.Resolution, order.ID, orderStatus)
		if err != nil {
			logger.WithOrder(order.ID.String()).
				Errorf("деньги по спору разведены, но фиксация не удалась: %v", err)
			return nil, ledgerCommitted(apperror.Wrap(err, apperror.ErrCodeDatabaseError, "решение исполнено, но не зафиксировано"))
		}

		logger.WithOrder(order.ID.String()).WithFields(logrus.Fields{
			"dispute_id": resolved.DisputeID,
			"decision":   in.Decision,
		}).Info("спор решён")

		meta := map[string]interface{}{
			"order_id":   order.ID.String(),
			"dispute_id": resolved.DisputeID,
			"decision":   in.Decision,
		}
		s.notifier.Notify(ctx, order.RequesterID, "Спор решён", "Арбитр вынес решение по спору.", meta)
		s.notifier.Notify(ctx, *order.ProviderID, "Спор решён", "Арбитр вынес решение по спору.", meta)
		return resolved, nil
	})
}
