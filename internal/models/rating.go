package models

import (
	"time"

	"github.com/google/uuid"
)

// Rating — оценка участника заказа. Одна оценка на пару (заказ, автор).
type Rating struct {
	ID         uuid.UUID `db:"id" json:"id"`
	OrderID    uuid.UUID `db:"order_id" json:"order_id"`
	FromUserID uuid.UUID `db:"from_user_id" json:"from_user_id"`
	ToUserID   uuid.UUID `db:"to_user_id" json:"to_user_id"`
	Score      int       `db:"score" json:"score"`
	Comment    *string   `db:"comment" json:"comment,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Tip — чаевые исполнителю. Отдельная денежная запись,
// не участвующая в переходах статусов заказа.
type Tip struct {
	ID         uuid.UUID `db:"id" json:"id"`
	OrderID    uuid.UUID `db:"order_id" json:"order_id"`
	FromUserID uuid.UUID `db:"from_user_id" json:"from_user_id"`
	ToUserID   uuid.UUID `db:"to_user_id" json:"to_user_id"`
	Amount     NanoTON   `db:"amount_nanoton" json:"amount_nanoton"`
	Message    *string   `db:"message" json:"message,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
