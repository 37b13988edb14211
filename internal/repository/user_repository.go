package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/showpls/showpls-backend/internal/models"
)

// Ошибки уровня репозитория.
var (
	ErrUserNotFound = errors.New("user not found")
)

// UserRepository отвечает за работу с пользователями.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository создаёт новый экземпляр.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `
	id, telegram_id, username, first_name, wallet_address, is_provider, is_arbiter,
	is_active, is_onboarded, rating, total_ratings, last_seen_at, created_at, updated_at
`

// GetByID возвращает пользователя по идентификатору.
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("user repository: get by id %w", err)
	}
	return &user, nil
}

// GetByTelegramID возвращает пользователя по telegram_id.
func (r *UserRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	var user models.User
	query := `SELECT ` + userColumns + ` FROM users WHERE telegram_id = $1`
	if err := r.db.GetContext(ctx, &user, query, telegramID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("user repository: get by telegram id %w", err)
	}
	return &user, nil
}

// UpsertTelegram создаёт пользователя при первом входе через Telegram
// или обновляет имя/username при повторном.
func (r *UserRepository) UpsertTelegram(ctx context.Context, telegramID int64, firstName string, username *string) (*models.User, error) {
	var user models.User
	query := `
		INSERT INTO users (telegram_id, first_name, username, last_seen_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (telegram_id) DO UPDATE
		SET first_name = EXCLUDED.first_name,
		    username = EXCLUDED.username,
		    last_seen_at = NOW(),
		    updated_at = NOW()
		RETURNING ` + userColumns
	if err := r.db.GetContext(ctx, &user, query, telegramID, firstName, username); err != nil {
		return nil, fmt.Errorf("user repository: upsert telegram %w", err)
	}
	return &user, nil
}

// UpdateWallet сохраняет адрес подключённого кошелька.
func (r *UserRepository) UpdateWallet(ctx context.Context, userID uuid.UUID, walletAddress string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET wallet_address = $2, updated_at = NOW() WHERE id = $1`,
		userID, walletAddress)
	if err != nil {
		return fmt.Errorf("user repository: update wallet %w", err)
	}
	return requireAffected(res, ErrUserNotFound)
}

// SetProvider включает или выключает режим исполнителя.
func (r *UserRepository) SetProvider(ctx context.Context, userID uuid.UUID, isProvider bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET is_provider = $2, updated_at = NOW() WHERE id = $1`,
		userID, isProvider)
	if err != nil {
		return fmt.Errorf("user repository: set provider %w", err)
	}
	return requireAffected(res, ErrUserNotFound)
}

// SetOnboarded отмечает, что пользователь прошёл онбординг.
func (r *UserRepository) SetOnboarded(ctx context.Context, userID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET is_onboarded = TRUE, updated_at = NOW() WHERE id = $1`,
		userID)
	if err != nil {
		return fmt.Errorf("user repository: set onboarded %w", err)
	}
	return requireAffected(res, ErrUserNotFound)
}

// requireAffected превращает UPDATE без затронутых строк в доменную ошибку.
func requireAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("repository: rows affected %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}
