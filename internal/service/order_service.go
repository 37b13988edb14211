package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/showpls/showpls-backend/internal/logger"
	"github.com/showpls/showpls-backend/internal/models"
	"github.com/showpls/showpls-backend/internal/pkg/apperror"
	"github.com/showpls/showpls-backend/internal/repository"
	"github.com/showpls/showpls-backend/internal/validation"
)

// Дефолты выборок.
const (
	defaultPageSize   = 20
	maxPageSize       = 100
	defaultNearbyKm   = 10.0
	maxNearbyKm       = 100.0
	defaultNearbyRows = 50
)

// DeliveryPolicy — точка расширения для проверки сдаваемого контента
// (геопривязка, модерация). Ненулевая ошибка блокирует сдачу.
type DeliveryPolicy func(ctx context.Context, order *models.Order, proofURI string) error

// OrderService управляет жизненным циклом заказа до денежных операций:
// создание, приём исполнителем, ход работы, сдача результата.
type OrderService struct {
	orders   OrderRepo
	users    UserRepo
	ledger   Ledger
	notifier Notifier
	feeBps   int
	policy   DeliveryPolicy
}

// NewOrderService создаёт сервис заказов.
func NewOrderService(orders OrderRepo, users UserRepo, ledger Ledger, notifier Notifier, feeBps int) *OrderService {
	return &OrderService{
		orders:   orders,
		users:    users,
		ledger:   ledger,
		notifier: notifier,
		feeBps:   feeBps,
	}
}

// SetDeliveryPolicy подключает проверку контента при сдаче.
func (s *OrderService) SetDeliveryPolicy(policy DeliveryPolicy) {
	s.policy = policy
}

// MilestoneInput — этап плана частичных выплат.
type MilestoneInput struct {
	Kind   models.MilestoneKind `json:"kind"`
	Amount models.NanoTON       `json:"amount_nanoton"`
}

// CreateOrderInput — поля нового заказа.
type CreateOrderInput struct {
	Title         string           `json:"title"`
	Description   string           `json:"description"`
	MediaType     string           `json:"media_type"`
	Lat           float64          `json:"lat"`
	Lng           float64          `json:"lng"`
	Address       *string          `json:"address,omitempty"`
	BudgetNanoTon models.NanoTON   `json:"budget_nanoton"`
	IsSampleOrder bool             `json:"is_sample_order"`
	Milestones    []MilestoneInput `json:"milestones,omitempty"`
}

// CreateOrder создаёт заказ в статусе CREATED.
// Для обычных заказов требуются кошелёк и достаточный баланс заказчика;
// демо-заказы (is_sample_order) эти проверки пропускают.
func (s *OrderService) CreateOrder(ctx context.Context, requesterID uuid.UUID, in CreateOrderInput) (*models.Order, error) {
	if err := validation.ValidateOrderSpec(in.Title, in.Description, in.MediaType, in.Lat, in.Lng); err != nil {
		return nil, apperror.New(apperror.ErrCodeValidation, err.Error())
	}
	if in.BudgetNanoTon <= 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "бюджет заказа должен быть положительным")
	}
	if in.Address != nil {
		if err := validation.ValidateLength("адрес", *in.Address, 0, validation.MaxAddressLength); err != nil {
			return nil, apperror.New(apperror.ErrCodeValidation, err.Error())
		}
	}

	milestones, err := buildMilestones(in.Milestones, in.BudgetNanoTon)
	if err != nil {
		return nil, err
	}

	requester, err := s.users.GetByID(ctx, requesterID)
	if err != nil {
		return nil, apperror.ErrUserNotFound
	}

	if !in.IsSampleOrder {
		if !requester.HasWallet() {
			return nil, apperror.New(apperror.ErrCodeWalletRequired, "для создания заказа подключите TON кошелёк")
		}
		check, err := s.ledger.CheckSufficientBalance(ctx, *requester.WalletAddress, in.BudgetNanoTon)
		if err != nil {
			return nil, mapLedgerErr(err, "не удалось проверить баланс кошелька")
		}
		if !check.Sufficient {
			shortfall := check.Required - check.Balance
			return nil, apperror.Newf(apperror.ErrCodeInsufficientBalance,
				"недостаточно средств: нужно %s nanoTON (с учётом газа), доступно %s, не хватает %s",
				check.Required, check.Balance, shortfall)
		}
	}

	order := &models.Order{
		RequesterID:    requesterID,
		Title:          in.Title,
		Description:    in.Description,
		MediaType:      in.MediaType,
		Lat:            in.Lat,
		Lng:            in.Lng,
		Address:        in.Address,
		BudgetNanoTon:  in.BudgetNanoTon,
		PlatformFeeBps: s.feeBps,
		Status:         models.OrderStatusCreated,
		IsSampleOrder:  in.IsSampleOrder,
		Milestones:     milestones,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось создать заказ")
	}

	logger.Log.WithFields(logrus.Fields{
		"order_id": order.ID,
		"budget":   order.BudgetNanoTon,
		"media":    order.MediaType,
	}).Info("создан заказ")
	return order, nil
}

// buildMilestones валидирует план этапов: известные и неповторяющиеся
// виды, положительные суммы, итог не больше бюджета.
func buildMilestones(in []MilestoneInput, budget models.NanoTON) ([]models.Milestone, error) {
	if len(in) == 0 {
		return nil, nil
	}

	seen := make(map[models.MilestoneKind]struct{}, len(in))
	var total models.NanoTON
	milestones := make([]models.Milestone, 0, len(in))
	for _, m := range in {
		switch m.Kind {
		case models.MilestoneAtLocation, models.MilestoneDraftContent, models.MilestoneFinal:
		default:
			return nil, apperror.Newf(apperror.ErrCodeValidation, "неизвестный этап %q", m.Kind)
		}
		if _, dup := seen[m.Kind]; dup {
			return nil, apperror.Newf(apperror.ErrCodeValidation, "этап %q указан дважды", m.Kind)
		}
		seen[m.Kind] = struct{}{}
		if m.Amount <= 0 {
			return nil, apperror.New(apperror.ErrCodeValidation, "сумма этапа должна быть положительной")
		}
		total += m.Amount
		milestones = append(milestones, models.Milestone{Kind: m.Kind, Amount: m.Amount})
	}
	if total > budget {
		return nil, apperror.New(apperror.ErrCodeValidation, "сумма этапов превышает бюджет заказа")
	}
	return milestones, nil
}

// GetOrder возвращает заказ с этапами.
func (s *OrderService) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if err == repository.ErrOrderNotFound {
			return nil, apperror.ErrOrderNotFound
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось получить заказ")
	}
	return order, nil
}

// ListMyOrders возвращает заказы пользователя в роли заказчика или исполнителя.
func (s *OrderService) ListMyOrders(ctx context.Context, userID uuid.UUID, role string, limit, offset int) ([]models.Order, error) {
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}
	var (
		orders []models.Order
		err    error
	)
	if role == "provider" {
		orders, err = s.orders.ListByProvider(ctx, userID, limit, offset)
	} else {
		orders, err = s.orders.ListByRequester(ctx, userID, limit, offset)
	}
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось получить список заказов")
	}
	return orders, nil
}

// ListNearby возвращает открытые заказы рядом с точкой.
func (s *OrderService) ListNearby(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]models.Order, error) {
	if err := validation.ValidateGeo(lat, lng); err != nil {
		return nil, apperror.New(apperror.ErrCodeValidation, err.Error())
	}
	if radiusKm <= 0 {
		radiusKm = defaultNearbyKm
	}
	if radiusKm > maxNearbyKm {
		radiusKm = maxNearbyKm
	}
	if limit <= 0 || limit > defaultNearbyRows {
		limit = defaultNearbyRows
	}
	orders, err := s.orders.ListNearby(ctx, lat, lng, radiusKm, limit)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось получить заказы рядом")
	}
	return orders, nil
}

// AcceptOrder назначает исполнителя на заказ.
// Гонку двух одновременных приёмов закрывает условный UPDATE в репозитории:
// победит ровно один, второй получит INVALID_STATE.
func (s *OrderService) AcceptOrder(ctx context.Context, orderID, providerID uuid.UUID) (*models.Order, error) {
	provider, err := s.users.GetByID(ctx, providerID)
	if err != nil {
		return nil, apperror.ErrUserNotFound
	}
	if !provider.IsProvider {
		return nil, apperror.New(apperror.ErrCodeNotAProvider, "включите режим исполнителя, чтобы принимать заказы")
	}
	if !provider.HasWallet() {
		return nil, apperror.New(apperror.ErrCodeWalletRequired, "для приёма заказа подключите TON кошелёк")
	}

	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.RequesterID == providerID {
		return nil, apperror.New(apperror.ErrCodeSelfDealing, "нельзя принять собственный заказ")
	}

	accepted, err := s.orders.Accept(ctx, orderID, providerID)
	if err != nil {
		if err == repository.ErrStatusConflict {
			return nil, apperror.New(apperror.ErrCodeInvalidState, "заказ уже принят или недоступен")
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось принять заказ")
	}

	logger.WithOrder(orderID.String()).WithField("provider_id", providerID).Info("заказ принят исполнителем")
	s.notifier.Notify(ctx, order.RequesterID, "Заказ принят",
		"Исполнитель взялся за ваш заказ. Создайте escrow и внесите оплату.",
		map[string]interface{}{"order_id": orderID.String(), "status": accepted.Status})
	return accepted, nil
}

// progressOrigins — откуда разрешён переход в каждый промежуточный статус.
// Движение только вперёд.
var progressOrigins = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusInProgress: {models.OrderStatusFunded},
	models.OrderStatusAtLocation: {models.OrderStatusFunded, models.OrderStatusInProgress},
	models.OrderStatusDraftContent: {
		models.OrderStatusFunded, models.OrderStatusInProgress, models.OrderStatusAtLocation,
	},
}

// milestoneForStage сопоставляет промежуточный статус этапу выплаты.
var milestoneForStage = map[models.OrderStatus]models.MilestoneKind{
	models.OrderStatusAtLocation:   models.MilestoneAtLocation,
	models.OrderStatusDraftContent: models.MilestoneDraftContent,
}

// ReportProgress переводит заказ в промежуточный статус хода работы.
// Если у заказа есть план этапов, достижение AT_LOCATION или DRAFT_CONTENT
// запускает частичную выплату с escrow.
func (s *OrderService) ReportProgress(ctx context.Context, orderID, providerID uuid.UUID, stage models.OrderStatus) (*models.Order, error) {
	origins, ok := progressOrigins[stage]
	if !ok {
		return nil, apperror.Newf(apperror.ErrCodeValidation, "недопустимый этап %q", stage)
	}

	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.ProviderID == nil || *order.ProviderID != providerID {
		return nil, apperror.New(apperror.ErrCodeNotParticipant, "отмечать ход работы может только исполнитель заказа")
	}

	updated, err := s.orders.Transition(ctx, orderID, origins, stage)
	if err != nil {
		if err == repository.ErrStatusConflict {
			return nil, apperror.Newf(apperror.ErrCodeInvalidState,
				"переход в %s из текущего статуса невозможен", stage)
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось обновить статус")
	}
	updated.Milestones = order.Milestones

	if err := s.releaseMilestone(ctx, updated, stage, providerID); err != nil {
		// Статус уже переведён; частичная выплата не прошла, вернём ошибку
		// ledger клиенту, этап останется неоплаченным.
		return nil, err
	}

	s.notifier.Notify(ctx, order.RequesterID, "Ход работы",
		"Исполнитель отметил прогресс по заказу.",
		map[string]interface{}{"order_id": orderID.String(), "status": stage})
	return updated, nil
}

// releaseMilestone выполняет частичную выплату за достигнутый этап.
// Повторная выплата исключена: переход статуса одноразовый (CAS),
// а этап помечается оплаченным сразу после успеха ledger.
func (s *OrderService) releaseMilestone(ctx context.Context, order *models.Order, stage models.OrderStatus, providerID uuid.UUID) error {
	kind, ok := milestoneForStage[stage]
	if !ok {
		return nil
	}
	milestone := order.MilestoneFor(kind)
	if milestone == nil || milestone.Paid {
		return nil
	}
	if order.EscrowAddress == nil {
		return nil
	}

	provider, err := s.users.GetByID(ctx, providerID)
	if err != nil || !provider.HasWallet() {
		return apperror.New(apperror.ErrCodeWalletRequired, "у исполнителя не подключён кошелёк")
	}

	if _, err := s.ledger.ReleaseEscrow(ctx, *order.EscrowAddress, *provider.WalletAddress, milestone.Amount); err != nil {
		return mapLedgerErr(err, "частичная выплата за этап не прошла")
	}
	if err := s.orders.MarkMilestonePaid(ctx, milestone.ID); err != nil {
		logger.WithOrder(order.ID.String()).
			Errorf("этап %s выплачен, но не отмечен оплаченным: %v", kind, err)
	}
	milestone.Paid = true

	logger.WithOrder(order.ID.String()).WithFields(logrus.Fields{
		"milestone": kind,
		"amount":    milestone.Amount,
	}).Info("частичная выплата за этап")
	return nil
}

// DeliverOrder фиксирует сдачу результата исполнителем.
func (s *OrderService) DeliverOrder(ctx context.Context, orderID, providerID uuid.UUID, proofURI string) (*models.Order, error) {
	if proofURI == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "укажите ссылку на результат (proofUri)")
	}

	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.ProviderID == nil || *order.ProviderID != providerID {
		return nil, apperror.New(apperror.ErrCodeNotParticipant, "сдать результат может только исполнитель заказа")
	}
	if _, ok := models.DeliverableStatuses[order.Status]; !ok {
		return nil, apperror.Newf(apperror.ErrCodeInvalidState, "нельзя сдать результат в статусе %s", order.Status)
	}

	if s.policy != nil {
		if err := s.policy(ctx, order, proofURI); err != nil {
			return nil, apperror.Wrap(err, apperror.ErrCodeValidation, "результат не прошёл проверку")
		}
	}

	deliverable := make([]models.OrderStatus, 0, len(models.DeliverableStatuses))
	for status := range models.DeliverableStatuses {
		deliverable = append(deliverable, status)
	}
	delivered, err := s.orders.MarkDelivered(ctx, orderID, proofURI, deliverable)
	if err != nil {
		if err == repository.ErrStatusConflict {
			return nil, apperror.New(apperror.ErrCodeInvalidState, "статус заказа изменился, сдача невозможна")
		}
		return nil, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось сдать результат")
	}

	logger.WithOrder(orderID.String()).Info("результат сдан")
	s.notifier.Notify(ctx, order.RequesterID, "Результат готов",
		"Исполнитель сдал результат. Проверьте и подтвердите заказ.",
		map[string]interface{}{"order_id": orderID.String(), "status": delivered.Status})
	return delivered, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}
