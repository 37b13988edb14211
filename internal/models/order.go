package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus — статус заказа в жизненном цикле.
type OrderStatus string

const (
	OrderStatusCreated        OrderStatus = "CREATED"
	OrderStatusPendingFunding OrderStatus = "PENDING_FUNDING"
	OrderStatusFunded         OrderStatus = "FUNDED"
	OrderStatusInProgress     OrderStatus = "IN_PROGRESS"
	OrderStatusAtLocation     OrderStatus = "AT_LOCATION"
	OrderStatusDraftContent   OrderStatus = "DRAFT_CONTENT"
	OrderStatusDelivered      OrderStatus = "DELIVERED"
	OrderStatusApproved       OrderStatus = "APPROVED"
	OrderStatusDisputed       OrderStatus = "DISPUTED"
	OrderStatusRefunded       OrderStatus = "REFUNDED"
)

// MediaType — тип запрашиваемого контента.
const (
	MediaTypePhoto = "photo"
	MediaTypeVideo = "video"
	MediaTypeLive  = "live"
)

// ValidMediaTypes — допустимые типы контента.
var ValidMediaTypes = map[string]struct{}{
	MediaTypePhoto: {},
	MediaTypeVideo: {},
	MediaTypeLive:  {},
}

// ActiveStatuses — статусы, в которых заказ профинансирован и идёт работа.
// Этим диапазоном гейтится чат между участниками.
var ActiveStatuses = map[OrderStatus]struct{}{
	OrderStatusFunded:       {},
	OrderStatusInProgress:   {},
	OrderStatusAtLocation:   {},
	OrderStatusDraftContent: {},
	OrderStatusDelivered:    {},
	OrderStatusApproved:     {},
}

// DeliverableStatuses — статусы, из которых исполнитель может сдать результат.
var DeliverableStatuses = map[OrderStatus]struct{}{
	OrderStatusFunded:       {},
	OrderStatusInProgress:   {},
	OrderStatusAtLocation:   {},
	OrderStatusDraftContent: {},
}

// DisputableStatuses — статусы, в которых можно открыть спор.
var DisputableStatuses = map[OrderStatus]struct{}{
	OrderStatusFunded:       {},
	OrderStatusInProgress:   {},
	OrderStatusAtLocation:   {},
	OrderStatusDraftContent: {},
	OrderStatusDelivered:    {},
}

// Order — центральный агрегат: заказ на фото/видео/трансляцию с места.
type Order struct {
	ID             uuid.UUID   `db:"id" json:"id"`
	RequesterID    uuid.UUID   `db:"requester_id" json:"requester_id"`
	ProviderID     *uuid.UUID  `db:"provider_id" json:"provider_id,omitempty"`
	Title          string      `db:"title" json:"title"`
	Description    string      `db:"description" json:"description"`
	MediaType      string      `db:"media_type" json:"media_type"`
	Lat            float64     `db:"lat" json:"lat"`
	Lng            float64     `db:"lng" json:"lng"`
	Address        *string     `db:"address" json:"address,omitempty"`
	BudgetNanoTon  NanoTON     `db:"budget_nanoton" json:"budget_nanoton"`
	PlatformFeeBps int         `db:"platform_fee_bps" json:"platform_fee_bps"`
	EscrowAddress  *string     `db:"escrow_address" json:"escrow_address,omitempty"`
	ProofURI       *string     `db:"proof_uri" json:"proof_uri,omitempty"`
	Status         OrderStatus `db:"status" json:"status"`
	IsSampleOrder  bool        `db:"is_sample_order" json:"is_sample_order"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
	AcceptedAt     *time.Time  `db:"accepted_at" json:"accepted_at,omitempty"`
	DeliveredAt    *time.Time  `db:"delivered_at" json:"delivered_at,omitempty"`
	ApprovedAt     *time.Time  `db:"approved_at" json:"approved_at,omitempty"`
	UpdatedAt      time.Time   `db:"updated_at" json:"updated_at"`

	Milestones []Milestone `json:"milestones,omitempty"`
}

// IsTerminal сообщает, достиг ли заказ конечного состояния.
func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusApproved || o.Status == OrderStatusRefunded
}

// IsParticipant проверяет, является ли пользователь стороной заказа.
func (o *Order) IsParticipant(userID uuid.UUID) bool {
	if o.RequesterID == userID {
		return true
	}
	return o.ProviderID != nil && *o.ProviderID == userID
}

// NetPayout — сумма выплаты исполнителю за вычетом комиссии платформы.
func (o *Order) NetPayout() NanoTON {
	return o.BudgetNanoTon - o.BudgetNanoTon.PlatformFee(o.PlatformFeeBps)
}

// MilestoneKind — этап поэтапной оплаты.
type MilestoneKind string

const (
	MilestoneAtLocation   MilestoneKind = "at_location"
	MilestoneDraftContent MilestoneKind = "draft_content"
	MilestoneFinal        MilestoneKind = "final"
)

// Milestone — этап заказа с частичной выплатой.
// Необязательная структура: заказы без плана этапов оплачиваются
// целиком при подтверждении.
type Milestone struct {
	ID      uuid.UUID     `db:"id" json:"id"`
	OrderID uuid.UUID     `db:"order_id" json:"order_id"`
	Kind    MilestoneKind `db:"kind" json:"kind"`
	Amount  NanoTON       `db:"amount_nanoton" json:"amount_nanoton"`
	Paid    bool          `db:"paid" json:"paid"`
	PaidAt  *time.Time    `db:"paid_at" json:"paid_at,omitempty"`
}

// MilestoneFor возвращает этап нужного типа, если заказ его содержит.
func (o *Order) MilestoneFor(kind MilestoneKind) *Milestone {
	for i := range o.Milestones {
		if o.Milestones[i].Kind == kind {
			return &o.Milestones[i]
		}
	}
	return nil
}
