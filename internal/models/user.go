package models

import (
	"time"

	"github.com/google/uuid"
)

// User описывает пользователя платформы.
// Аутентификация идёт через Telegram Mini App, поэтому у пользователя
// нет пароля — только telegram_id и подключённый TON кошелёк.
type User struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	TelegramID    int64      `db:"telegram_id" json:"telegram_id"`
	Username      *string    `db:"username" json:"username,omitempty"`
	FirstName     string     `db:"first_name" json:"first_name"`
	WalletAddress *string    `db:"wallet_address" json:"wallet_address,omitempty"`
	IsProvider    bool       `db:"is_provider" json:"is_provider"`
	IsArbiter     bool       `db:"is_arbiter" json:"is_arbiter"`
	IsActive      bool       `db:"is_active" json:"is_active"`
	IsOnboarded   bool       `db:"is_onboarded" json:"is_onboarded"`
	Rating        float64    `db:"rating" json:"rating"`
	TotalRatings  int        `db:"total_ratings" json:"total_ratings"`
	LastSeenAt    *time.Time `db:"last_seen_at" json:"last_seen_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// HasWallet сообщает, подключён ли кошелёк.
func (u *User) HasWallet() bool {
	return u.WalletAddress != nil && *u.WalletAddress != ""
}
