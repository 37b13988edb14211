package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Notification — уведомление пользователя о событии жизненного цикла заказа.
type Notification struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	UserID    uuid.UUID       `db:"user_id" json:"user_id"`
	Title     string          `db:"title" json:"title"`
	Message   string          `db:"message" json:"message"`
	Metadata  json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	IsRead    bool            `db:"is_read" json:"is_read"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}
