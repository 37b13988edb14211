package models

import (
	"time"

	"github.com/google/uuid"
)

// Message — сообщение в чате заказа.
// Чат доступен только пока заказ находится в активной полосе статусов.
type Message struct {
	ID        uuid.UUID `db:"id" json:"id"`
	OrderID   uuid.UUID `db:"order_id" json:"order_id"`
	SenderID  uuid.UUID `db:"sender_id" json:"sender_id"`
	Text      string    `db:"text" json:"text"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
