package models

import (
	"encoding/json"
	"time"
)

// IdempotencyStatus — состояние идемпотентной операции.
type IdempotencyStatus string

const (
	IdempotencyInFlight  IdempotencyStatus = "in_flight"
	IdempotencyCompleted IdempotencyStatus = "completed"
)

// IdempotentRequest — запись о денежной операции с клиентским opId.
// Хранится в БД, а не в памяти: дедупликация обязана переживать
// рестарты процесса и работать в многоинстансовом деплое.
type IdempotentRequest struct {
	OpID      string            `db:"op_id" json:"op_id"`
	Status    IdempotencyStatus `db:"status" json:"status"`
	Response  json.RawMessage   `db:"response" json:"response,omitempty"`
	CreatedAt time.Time         `db:"created_at" json:"created_at"`
	ExpiresAt time.Time         `db:"expires_at" json:"expires_at"`
}
