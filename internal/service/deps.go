package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/showpls/showpls-backend/internal/models"
	"github.com/showpls/showpls-backend/internal/ton"
)

// Интерфейсы зависимостей сервисного слоя. Конкретные реализации живут
// в repository и ton; тесты подставляют моки.

// Ledger — единственная дверь в блокчейн для сервисов.
type Ledger interface {
	CreateEscrow(ctx context.Context, p ton.CreateEscrowParams) (string, error)
	FundEscrow(ctx context.Context, escrowAddr string, amount models.NanoTON) (bool, error)
	ReleaseEscrow(ctx context.Context, escrowAddr, sellerAddr string, netAmount models.NanoTON) (bool, error)
	RefundEscrow(ctx context.Context, escrowAddr, buyerAddr string, fullAmount models.NanoTON) (bool, error)
	PauseEscrow(ctx context.Context, escrowAddr string) (bool, error)
	Transfer(ctx context.Context, toAddr string, amount models.NanoTON, comment string) (bool, error)
	GetEscrowStatus(ctx context.Context, escrowAddr string) (ton.EscrowStatus, error)
	CheckSufficientBalance(ctx context.Context, addr string, amount models.NanoTON) (*ton.BalanceCheck, error)
	ValidateAddress(addr string) bool
}

// Notifier доставляет уведомления о событиях жизненного цикла.
// Реализация персистит уведомление и рассылает его в websocket.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, title, message string, metadata map[string]interface{})
}

// Broadcaster рассылает события конкретному пользователю по websocket.
type Broadcaster interface {
	SendToUser(userID uuid.UUID, event interface{})
}

// OrderRepo — хранилище заказов.
type OrderRepo interface {
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ListMilestones(ctx context.Context, orderID uuid.UUID) ([]models.Milestone, error)
	ListByRequester(ctx context.Context, requesterID uuid.UUID, limit, offset int) ([]models.Order, error)
	ListByProvider(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]models.Order, error)
	ListNearby(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]models.Order, error)
	Accept(ctx context.Context, orderID, providerID uuid.UUID) (*models.Order, error)
	SetEscrowAddress(ctx context.Context, orderID uuid.UUID, escrowAddress string) error
	Transition(ctx context.Context, orderID uuid.UUID, from []models.OrderStatus, to models.OrderStatus) (*models.Order, error)
	MarkDelivered(ctx context.Context, orderID uuid.UUID, proofURI string, from []models.OrderStatus) (*models.Order, error)
	MarkMilestonePaid(ctx context.Context, milestoneID uuid.UUID) error
}

// UserRepo — хранилище пользователей.
type UserRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
	UpsertTelegram(ctx context.Context, telegramID int64, firstName string, username *string) (*models.User, error)
	UpdateWallet(ctx context.Context, userID uuid.UUID, walletAddress string) error
	SetProvider(ctx context.Context, userID uuid.UUID, isProvider bool) error
	SetOnboarded(ctx context.Context, userID uuid.UUID) error
}

// DisputeRepo — хранилище споров.
type DisputeRepo interface {
	Create(ctx context.Context, dispute *models.Dispute) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Dispute, error)
	HasOpen(ctx context.Context, orderID uuid.UUID) (bool, error)
	AppendEvidence(ctx context.Context, id uuid.UUID, evidence []string) (*models.Dispute, error)
	MarkUnderReview(ctx context.Context, id uuid.UUID) error
	ListOverdue(ctx context.Context, now time.Time) ([]models.Dispute, error)
	Escalate(ctx context.Context, id uuid.UUID) error
	ResolveTx(ctx context.Context, disputeID uuid.UUID, decision, resolution string, orderID uuid.UUID, orderStatus models.OrderStatus) (*models.Dispute, error)
}

// RatingRepo — хранилище оценок.
type RatingRepo interface {
	CreateAndRecalc(ctx context.Context, rating *models.Rating) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Rating, error)
}

// TipRepo — хранилище чаевых.
type TipRepo interface {
	Create(ctx context.Context, tip *models.Tip) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Tip, error)
}

// MessageRepo — хранилище сообщений чата.
type MessageRepo interface {
	Create(ctx context.Context, msg *models.Message) error
	ListByOrder(ctx context.Context, orderID uuid.UUID, limit, offset int) ([]models.Message, error)
}

// NotificationRepo — хранилище уведомлений.
type NotificationRepo interface {
	Create(ctx context.Context, n *models.Notification) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Notification, error)
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
	MarkAsRead(ctx context.Context, id, userID uuid.UUID) error
	MarkAllAsRead(ctx context.Context, userID uuid.UUID) error
}

// IdempotencyRepo — хранилище записей о денежных операциях.
type IdempotencyRepo interface {
	Begin(ctx context.Context, opID string, ttl time.Duration) (*models.IdempotentRequest, bool, error)
	TakeOver(ctx context.Context, opID string, staleBefore time.Time) (bool, error)
	Complete(ctx context.Context, opID string, response []byte) error
	Fail(ctx context.Context, opID string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
