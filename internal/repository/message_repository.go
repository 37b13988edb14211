package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/showpls/showpls-backend/internal/models"
)

// MessageRepository отвечает за сообщения чата заказа.
type MessageRepository struct {
	db *sqlx.DB
}

// NewMessageRepository создаёт новый экземпляр.
func NewMessageRepository(db *sqlx.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create сохраняет сообщение.
func (r *MessageRepository) Create(ctx context.Context, msg *models.Message) error {
	query := `
		INSERT INTO messages (order_id, sender_id, text)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`
	if err := r.db.QueryRowxContext(ctx, query,
		msg.OrderID, msg.SenderID, msg.Text,
	).Scan(&msg.ID, &msg.CreatedAt); err != nil {
		return fmt.Errorf("message repository: insert %w", err)
	}
	return nil
}

// ListByOrder возвращает сообщения заказа в хронологическом порядке.
func (r *MessageRepository) ListByOrder(ctx context.Context, orderID uuid.UUID, limit, offset int) ([]models.Message, error) {
	var messages []models.Message
	query := `
		SELECT id, order_id, sender_id, text, created_at
		FROM messages WHERE order_id = $1
		ORDER BY created_at LIMIT $2 OFFSET $3
	`
	if err := r.db.SelectContext(ctx, &messages, query, orderID, limit, offset); err != nil {
		return nil, fmt.Errorf("message repository: list by order %w", err)
	}
	return messages, nil
}
