package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/showpls/showpls-backend/internal/models"
)

// ErrAlreadyRated возвращается при повторной оценке того же заказа тем же автором.
var ErrAlreadyRated = errors.New("rating already exists")

// RatingRepository отвечает за оценки и агрегаты рейтинга пользователей.
type RatingRepository struct {
	db *sqlx.DB
}

// NewRatingRepository создаёт новый экземпляр.
func NewRatingRepository(db *sqlx.DB) *RatingRepository {
	return &RatingRepository{db: db}
}

// CreateAndRecalc сохраняет оценку и пересчитывает агрегат получателя
// в одной транзакции. Уникальность пары (order_id, from_user_id)
// обеспечивает индекс в БД, а не проверка перед вставкой.
func (r *RatingRepository) CreateAndRecalc(ctx context.Context, rating *models.Rating) error {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("rating repository: begin tx %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO ratings (order_id, from_user_id, to_user_id, score, comment)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err = tx.QueryRowxContext(ctx, query,
		rating.OrderID, rating.FromUserID, rating.ToUserID, rating.Score, rating.Comment,
	).Scan(&rating.ID, &rating.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrAlreadyRated
		}
		return fmt.Errorf("rating repository: insert %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE users
		SET rating = (SELECT AVG(score) FROM ratings WHERE to_user_id = $1),
		    total_ratings = (SELECT COUNT(*) FROM ratings WHERE to_user_id = $1),
		    updated_at = NOW()
		WHERE id = $1
	`, rating.ToUserID)
	if err != nil {
		return fmt.Errorf("rating repository: recalc aggregate %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("rating repository: commit %w", err)
	}
	return nil
}

// ListByUser возвращает оценки, полученные пользователем.
func (r *RatingRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Rating, error) {
	var ratings []models.Rating
	query := `
		SELECT id, order_id, from_user_id, to_user_id, score, comment, created_at
		FROM ratings WHERE to_user_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`
	if err := r.db.SelectContext(ctx, &ratings, query, userID, limit, offset); err != nil {
		return nil, fmt.Errorf("rating repository: list by user %w", err)
	}
	return ratings, nil
}
