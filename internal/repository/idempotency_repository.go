package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/showpls/showpls-backend/internal/models"
)

// IdempotencyRepository хранит записи о денежных операциях с клиентским opId.
// Таблица в Postgres, а не карта в памяти: защита от повтора обязана
// переживать рестарты и работать при нескольких инстансах бэкенда.
type IdempotencyRepository struct {
	db *sqlx.DB
}

// NewIdempotencyRepository создаёт новый экземпляр.
func NewIdempotencyRepository(db *sqlx.DB) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

// Begin пытается захватить opId. INSERT ... ON CONFLICT DO NOTHING делает
// захват атомарным: ровно один из конкурирующих запросов получает
// started = true, остальные — существующую запись.
func (r *IdempotencyRepository) Begin(ctx context.Context, opID string, ttl time.Duration) (existing *models.IdempotentRequest, started bool, err error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO idempotent_requests (op_id, status, expires_at)
		VALUES ($1, $2, NOW() + $3::interval)
		ON CONFLICT (op_id) DO NOTHING
	`, opID, models.IdempotencyInFlight, ttl.String())
	if err != nil {
		return nil, false, fmt.Errorf("idempotency repository: begin %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("idempotency repository: rows affected %w", err)
	}
	if affected == 1 {
		return nil, true, nil
	}

	var req models.IdempotentRequest
	query := `SELECT op_id, status, response, created_at, expires_at FROM idempotent_requests WHERE op_id = $1`
	if err := r.db.GetContext(ctx, &req, query, opID); err != nil {
		if err == sql.ErrNoRows {
			// Запись успела истечь и удалиться между INSERT и SELECT.
			// Крайне редкий случай, вызывающий код повторит попытку.
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("idempotency repository: get %w", err)
	}
	return &req, false, nil
}

// TakeOver перехватывает зависшую in_flight запись: предыдущий обработчик
// упал, не дойдя ни до Complete, ни до Fail. Условие по created_at
// гарантирует, что живую операцию перехватить нельзя.
func (r *IdempotencyRepository) TakeOver(ctx context.Context, opID string, staleBefore time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE idempotent_requests SET created_at = NOW()
		WHERE op_id = $1 AND status = $2 AND created_at < $3
	`, opID, models.IdempotencyInFlight, staleBefore)
	if err != nil {
		return false, fmt.Errorf("idempotency repository: take over %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("idempotency repository: rows affected %w", err)
	}
	return affected == 1, nil
}

// Complete фиксирует успешный результат операции для будущих повторов.
func (r *IdempotencyRepository) Complete(ctx context.Context, opID string, response []byte) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE idempotent_requests SET status = $2, response = $3
		WHERE op_id = $1
	`, opID, models.IdempotencyCompleted, response)
	if err != nil {
		return fmt.Errorf("idempotency repository: complete %w", err)
	}
	return requireAffected(res, sql.ErrNoRows)
}

// Fail снимает захват с opId после неуспешной операции,
// чтобы клиент мог повторить запрос с тем же идентификатором.
func (r *IdempotencyRepository) Fail(ctx context.Context, opID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM idempotent_requests WHERE op_id = $1`, opID)
	if err != nil {
		return fmt.Errorf("idempotency repository: fail %w", err)
	}
	return nil
}

// DeleteExpired удаляет истёкшие записи. Вызывается фоновой уборкой.
func (r *IdempotencyRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM idempotent_requests WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("idempotency repository: delete expired %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("idempotency repository: rows affected %w", err)
	}
	return affected, nil
}
