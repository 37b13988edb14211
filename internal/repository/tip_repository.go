package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/showpls/showpls-backend/internal/models"
)

// TipRepository отвечает за записи о чаевых.
type TipRepository struct {
	db *sqlx.DB
}

// NewTipRepository создаёт новый экземпляр.
func NewTipRepository(db *sqlx.DB) *TipRepository {
	return &TipRepository{db: db}
}

// Create сохраняет запись о чаевых.
func (r *TipRepository) Create(ctx context.Context, tip *models.Tip) error {
	query := `
		INSERT INTO tips (order_id, from_user_id, to_user_id, amount_nanoton, message)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	if err := r.db.QueryRowxContext(ctx, query,
		tip.OrderID, tip.FromUserID, tip.ToUserID, tip.Amount, tip.Message,
	).Scan(&tip.ID, &tip.CreatedAt); err != nil {
		return fmt.Errorf("tip repository: insert %w", err)
	}
	return nil
}

// ListByOrder возвращает чаевые по заказу.
func (r *TipRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Tip, error) {
	var tips []models.Tip
	query := `
		SELECT id, order_id, from_user_id, to_user_id, amount_nanoton, message, created_at
		FROM tips WHERE order_id = $1 ORDER BY created_at DESC
	`
	if err := r.db.SelectContext(ctx, &tips, query, orderID); err != nil {
		return nil, fmt.Errorf("tip repository: list by order %w", err)
	}
	return tips, nil
}
