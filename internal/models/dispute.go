package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// DisputeStatus — статус спора.
type DisputeStatus string

const (
	DisputeStatusOpen              DisputeStatus = "OPEN"
	DisputeStatusEvidenceSubmitted DisputeStatus = "EVIDENCE_SUBMITTED"
	DisputeStatusUnderReview       DisputeStatus = "UNDER_REVIEW"
	DisputeStatusResolved          DisputeStatus = "RESOLVED"
	DisputeStatusEscalated         DisputeStatus = "ESCALATED"
)

// ArbiterDecision — решение арбитра по спору.
const (
	DecisionApprove = "approve"
	DecisionRefund  = "refund"
	DecisionPartial = "partial"
)

// ValidDecisions — допустимые решения арбитра.
var ValidDecisions = map[string]struct{}{
	DecisionApprove: {},
	DecisionRefund:  {},
	DecisionPartial: {},
}

// Dispute — спор по заказу. Живёт в собственном пространстве статусов,
// но связан с заказом: открытие переводит заказ в DISPUTED, а решение
// арбитра доводит заказ до APPROVED или REFUNDED.
type Dispute struct {
	ID              uuid.UUID      `db:"id" json:"id"`
	DisputeID       string         `db:"dispute_id" json:"dispute_id"` // бизнес-идентификатор вида DSP-XXXXXXXX
	OrderID         uuid.UUID      `db:"order_id" json:"order_id"`
	OpenedBy        uuid.UUID      `db:"opened_by" json:"opened_by"`
	Reason          string         `db:"reason" json:"reason"`
	Evidence        pq.StringArray `db:"evidence" json:"evidence"`
	Status          DisputeStatus  `db:"status" json:"status"`
	ArbiterDecision *string        `db:"arbiter_decision" json:"arbiter_decision,omitempty"`
	Resolution      *string        `db:"resolution" json:"resolution,omitempty"`
	SLADeadline     time.Time      `db:"sla_deadline" json:"sla_deadline"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	ResolvedAt      *time.Time     `db:"resolved_at" json:"resolved_at,omitempty"`
}

// IsTerminal сообщает, завершён ли спор.
func (d *Dispute) IsTerminal() bool {
	return d.Status == DisputeStatusResolved
}
