package repository

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/showpls/showpls-backend/internal/models"
)

// Ошибки уровня репозитория.
var (
	ErrDisputeNotFound = errors.New("dispute not found")
	ErrDisputeClosed   = errors.New("dispute is not open")
)

// DisputeRepository отвечает за работу со спорами.
type DisputeRepository struct {
	db *sqlx.DB
}

// NewDisputeRepository создаёт новый экземпляр.
func NewDisputeRepository(db *sqlx.DB) *DisputeRepository {
	return &DisputeRepository{db: db}
}

const disputeColumns = `
	id, dispute_id, order_id, opened_by, reason, evidence, status,
	arbiter_decision, resolution, sla_deadline, created_at, resolved_at
`

// newDisputeID генерирует бизнес-идентификатор вида DSP-XXXXXXXX.
func newDisputeID() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return "DSP-" + strings.ToUpper(hex.EncodeToString(buf))
}

// Create сохраняет новый спор со сгенерированным dispute_id.
func (r *DisputeRepository) Create(ctx context.Context, dispute *models.Dispute) error {
	dispute.DisputeID = newDisputeID()
	dispute.Status = models.DisputeStatusOpen

	query := `
		INSERT INTO disputes (dispute_id, order_id, opened_by, reason, evidence, status, sla_deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	if err := r.db.QueryRowxContext(ctx, query,
		dispute.DisputeID, dispute.OrderID, dispute.OpenedBy, dispute.Reason,
		dispute.Evidence, dispute.Status, dispute.SLADeadline,
	).Scan(&dispute.ID, &dispute.CreatedAt); err != nil {
		return fmt.Errorf("dispute repository: insert %w", err)
	}
	return nil
}

// GetByID возвращает спор по внутреннему идентификатору.
func (r *DisputeRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	var dispute models.Dispute
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE id = $1`
	if err := r.db.GetContext(ctx, &dispute, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrDisputeNotFound
		}
		return nil, fmt.Errorf("dispute repository: get by id %w", err)
	}
	return &dispute, nil
}

// GetByDisputeID возвращает спор по бизнес-идентификатору DSP-XXXXXXXX.
func (r *DisputeRepository) GetByDisputeID(ctx context.Context, disputeID string) (*models.Dispute, error) {
	var dispute models.Dispute
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE dispute_id = $1`
	if err := r.db.GetContext(ctx, &dispute, query, disputeID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrDisputeNotFound
		}
		return nil, fmt.Errorf("dispute repository: get by dispute id %w", err)
	}
	return &dispute, nil
}

// ListByOrder возвращает споры по заказу, новые первыми.
func (r *DisputeRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Dispute, error) {
	var disputes []models.Dispute
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE order_id = $1 ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &disputes, query, orderID); err != nil {
		return nil, fmt.Errorf("dispute repository: list by order %w", err)
	}
	return disputes, nil
}

// HasOpen сообщает, есть ли по заказу незавершённый спор.
func (r *DisputeRepository) HasOpen(ctx context.Context, orderID uuid.UUID) (bool, error) {
	var count int
	query := `SELECT COUNT(*) FROM disputes WHERE order_id = $1 AND status <> $2`
	if err := r.db.GetContext(ctx, &count, query, orderID, models.DisputeStatusResolved); err != nil {
		return false, fmt.Errorf("dispute repository: has open %w", err)
	}
	return count > 0, nil
}

// AppendEvidence дописывает доказательства к открытому спору. После первой
// порции спор переходит в EVIDENCE_SUBMITTED; дальнейшие порции допустимы,
// пока спор не ушёл в разбор.
func (r *DisputeRepository) AppendEvidence(ctx context.Context, id uuid.UUID, evidence []string) (*models.Dispute, error) {
	var dispute models.Dispute
	query := `
		UPDATE disputes
		SET evidence = evidence || $2, status = $3
		WHERE id = $1 AND status IN ($4, $5)
		RETURNING ` + disputeColumns
	err := r.db.GetContext(ctx, &dispute, query, id, pq.Array(evidence),
		models.DisputeStatusEvidenceSubmitted,
		models.DisputeStatusOpen, models.DisputeStatusEvidenceSubmitted)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrDisputeClosed
		}
		return nil, fmt.Errorf("dispute repository: append evidence %w", err)
	}
	return &dispute, nil
}

// MarkUnderReview переводит спор в разбор арбитром.
func (r *DisputeRepository) MarkUnderReview(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE disputes SET status = $2
		WHERE id = $1 AND status IN ($3, $4, $5)
	`, id, models.DisputeStatusUnderReview,
		models.DisputeStatusOpen, models.DisputeStatusEvidenceSubmitted, models.DisputeStatusEscalated)
	if err != nil {
		return fmt.Errorf("dispute repository: mark under review %w", err)
	}
	return requireAffected(res, ErrDisputeClosed)
}

// ListOverdue возвращает споры с истёкшим SLA, ещё не решённые и не эскалированные.
func (r *DisputeRepository) ListOverdue(ctx context.Context, now time.Time) ([]models.Dispute, error) {
	var disputes []models.Dispute
	query := `
		SELECT ` + disputeColumns + `
		FROM disputes
		WHERE sla_deadline < $1 AND status NOT IN ($2, $3)
		ORDER BY sla_deadline
	`
	if err := r.db.SelectContext(ctx, &disputes, query, now,
		models.DisputeStatusResolved, models.DisputeStatusEscalated); err != nil {
		return nil, fmt.Errorf("dispute repository: list overdue %w", err)
	}
	return disputes, nil
}

// Escalate помечает просроченный спор эскалированным. Условный UPDATE
// защищает от гонки с арбитром, решившим спор в этот же момент.
func (r *DisputeRepository) Escalate(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE disputes SET status = $2
		WHERE id = $1 AND status NOT IN ($3, $4)
	`, id, models.DisputeStatusEscalated,
		models.DisputeStatusResolved, models.DisputeStatusEscalated)
	if err != nil {
		return fmt.Errorf("dispute repository: escalate %w", err)
	}
	return requireAffected(res, ErrDisputeClosed)
}

// ResolveTx закрывает спор и доводит заказ до терминального статуса одной
// транзакцией: либо обе записи меняются, либо ни одна.
func (r *DisputeRepository) ResolveTx(ctx context.Context, disputeID uuid.UUID, decision, resolution string, orderID uuid.UUID, orderStatus models.OrderStatus) (*models.Dispute, error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("dispute repository: begin tx %w", err)
	}
	defer tx.Rollback()

	var dispute models.Dispute
	query := `
		UPDATE disputes
		SET status = $2, arbiter_decision = $3, resolution = $4, resolved_at = NOW()
		WHERE id = $1 AND status <> $2
		RETURNING ` + disputeColumns
	err = tx.GetContext(ctx, &dispute, query, disputeID, models.DisputeStatusResolved, decision, resolution)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrDisputeClosed
		}
		return nil, fmt.Errorf("dispute repository: resolve %w", err)
	}

	extra := ""
	if orderStatus == models.OrderStatusApproved {
		extra = ", approved_at = NOW()"
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = $2, updated_at = NOW()`+extra+`
		WHERE id = $1 AND status = $3
	`, orderID, orderStatus, models.OrderStatusDisputed)
	if err != nil {
		return nil, fmt.Errorf("dispute repository: resolve order %w", err)
	}
	if err := requireAffected(res, ErrStatusConflict); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("dispute repository: commit %w", err)
	}
	return &dispute, nil
}
