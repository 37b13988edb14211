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

// Ошибки уровня репозитория.
var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrStatusConflict означает, что условный UPDATE не затронул ни одной
	// строки: статус заказа изменился между чтением и записью. Это штатный
	// исход гонки (два исполнителя приняли один заказ), а не сбой.
	ErrStatusConflict    = errors.New("order status conflict")
	ErrMilestoneNotFound = errors.New("milestone not found")
)

// OrderRepository отвечает за работу с заказами и этапами.
type OrderRepository struct {
	db *sqlx.DB
}

// NewOrderRepository создаёт новый экземпляр.
func NewOrderRepository(db *sqlx.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `
	id, requester_id, provider_id, title, description, media_type,
	lat, lng, address, budget_nanoton, platform_fee_bps, escrow_address,
	proof_uri, status, is_sample_order, created_at, accepted_at,
	delivered_at, approved_at, updated_at
`

// Create сохраняет заказ и план этапов (если есть) в одной транзакции.
func (r *OrderRepository) Create(ctx context.Context, order *models.Order) error {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("order repository: begin tx %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (requester_id, title, description, media_type, lat, lng, address,
		                    budget_nanoton, platform_fee_bps, status, is_sample_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at
	`
	if err := tx.QueryRowxContext(ctx, query,
		order.RequesterID, order.Title, order.Description, order.MediaType,
		order.Lat, order.Lng, order.Address, order.BudgetNanoTon,
		order.PlatformFeeBps, order.Status, order.IsSampleOrder,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt); err != nil {
		return fmt.Errorf("order repository: insert order %w", err)
	}

	for i := range order.Milestones {
		m := &order.Milestones[i]
		m.OrderID = order.ID
		if err := tx.QueryRowxContext(ctx,
			`INSERT INTO order_milestones (order_id, kind, amount_nanoton) VALUES ($1, $2, $3) RETURNING id`,
			m.OrderID, m.Kind, m.Amount,
		).Scan(&m.ID); err != nil {
			return fmt.Errorf("order repository: insert milestone %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("order repository: commit %w", err)
	}
	return nil
}

// GetByID возвращает заказ по идентификатору вместе с этапами.
func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if err := r.db.GetContext(ctx, &order, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("order repository: get by id %w", err)
	}

	milestones, err := r.ListMilestones(ctx, id)
	if err != nil {
		return nil, err
	}
	order.Milestones = milestones
	return &order, nil
}

// ListMilestones возвращает план этапов заказа.
func (r *OrderRepository) ListMilestones(ctx context.Context, orderID uuid.UUID) ([]models.Milestone, error) {
	var milestones []models.Milestone
	query := `
		SELECT id, order_id, kind, amount_nanoton, paid, paid_at
		FROM order_milestones
		WHERE order_id = $1
		ORDER BY CASE kind WHEN 'at_location' THEN 1 WHEN 'draft_content' THEN 2 ELSE 3 END
	`
	if err := r.db.SelectContext(ctx, &milestones, query, orderID); err != nil {
		return nil, fmt.Errorf("order repository: list milestones %w", err)
	}
	return milestones, nil
}

// ListByRequester возвращает заказы, созданные пользователем.
func (r *OrderRepository) ListByRequester(ctx context.Context, requesterID uuid.UUID, limit, offset int) ([]models.Order, error) {
	var orders []models.Order
	query := `SELECT ` + orderColumns + ` FROM orders WHERE requester_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	if err := r.db.SelectContext(ctx, &orders, query, requesterID, limit, offset); err != nil {
		return nil, fmt.Errorf("order repository: list by requester %w", err)
	}
	return orders, nil
}

// ListByProvider возвращает заказы, принятые исполнителем.
func (r *OrderRepository) ListByProvider(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]models.Order, error) {
	var orders []models.Order
	query := `SELECT ` + orderColumns + ` FROM orders WHERE provider_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	if err := r.db.SelectContext(ctx, &orders, query, providerID, limit, offset); err != nil {
		return nil, fmt.Errorf("order repository: list by provider %w", err)
	}
	return orders, nil
}

// ListNearby возвращает открытые заказы в радиусе radiusKm от точки.
// Расстояние считается формулой гаверсинусов прямо в SQL.
func (r *OrderRepository) ListNearby(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]models.Order, error) {
	var orders []models.Order
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE status = $4
		  AND 6371 * 2 * asin(sqrt(
		        power(sin(radians(lat - $1) / 2), 2) +
		        cos(radians($1)) * cos(radians(lat)) *
		        power(sin(radians(lng - $2) / 2), 2)
		  )) <= $3
		ORDER BY created_at DESC
		LIMIT $5
	`
	if err := r.db.SelectContext(ctx, &orders, query, lat, lng, radiusKm, models.OrderStatusCreated, limit); err != nil {
		return nil, fmt.Errorf("order repository: list nearby %w", err)
	}
	return orders, nil
}

// Accept назначает исполнителя условным UPDATE: переход выполняется только
// если заказ всё ещё в CREATED и без исполнителя. Ноль затронутых строк —
// значит, заказ уже принят кем-то другим.
func (r *OrderRepository) Accept(ctx context.Context, orderID, providerID uuid.UUID) (*models.Order, error) {
	var order models.Order
	query := `
		UPDATE orders
		SET provider_id = $2, status = $3, accepted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $4 AND provider_id IS NULL
		RETURNING ` + orderColumns
	err := r.db.GetContext(ctx, &order, query, orderID, providerID,
		models.OrderStatusPendingFunding, models.OrderStatusCreated)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrStatusConflict
		}
		return nil, fmt.Errorf("order repository: accept %w", err)
	}
	return &order, nil
}

// SetEscrowAddress привязывает адрес контракта. Адрес ставится ровно один раз.
func (r *OrderRepository) SetEscrowAddress(ctx context.Context, orderID uuid.UUID, escrowAddress string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET escrow_address = $2, updated_at = NOW()
		WHERE id = $1 AND escrow_address IS NULL
	`, orderID, escrowAddress)
	if err != nil {
		return fmt.Errorf("order repository: set escrow address %w", err)
	}
	return requireAffected(res, ErrStatusConflict)
}

// Transition выполняет переход статуса условным UPDATE (compare-and-swap).
func (r *OrderRepository) Transition(ctx context.Context, orderID uuid.UUID, from []models.OrderStatus, to models.OrderStatus) (*models.Order, error) {
	fromStrs := make([]string, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}

	extra := ""
	switch to {
	case models.OrderStatusApproved:
		extra = ", approved_at = NOW()"
	}

	var order models.Order
	query := `
		UPDATE orders
		SET status = $2, updated_at = NOW()` + extra + `
		WHERE id = $1 AND status = ANY($3)
		RETURNING ` + orderColumns
	err := r.db.GetContext(ctx, &order, query, orderID, to, pq.Array(fromStrs))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrStatusConflict
		}
		return nil, fmt.Errorf("order repository: transition to %s %w", to, err)
	}
	return &order, nil
}

// MarkDelivered фиксирует сдачу результата: статус, proof и время — одним CAS.
func (r *OrderRepository) MarkDelivered(ctx context.Context, orderID uuid.UUID, proofURI string, from []models.OrderStatus) (*models.Order, error) {
	fromStrs := make([]string, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}

	var order models.Order
	query := `
		UPDATE orders
		SET status = $2, proof_uri = $3, delivered_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = ANY($4)
		RETURNING ` + orderColumns
	err := r.db.GetContext(ctx, &order, query, orderID, models.OrderStatusDelivered, proofURI, pq.Array(fromStrs))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrStatusConflict
		}
		return nil, fmt.Errorf("order repository: mark delivered %w", err)
	}
	return &order, nil
}

// MarkMilestonePaid отмечает этап оплаченным, если он ещё не оплачен.
func (r *OrderRepository) MarkMilestonePaid(ctx context.Context, milestoneID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE order_milestones
		SET paid = TRUE, paid_at = NOW()
		WHERE id = $1 AND paid = FALSE
	`, milestoneID)
	if err != nil {
		return fmt.Errorf("order repository: mark milestone paid %w", err)
	}
	return requireAffected(res, ErrMilestoneNotFound)
}
