package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/showpls/showpls-backend/internal/logger"
	"github.com/showpls/showpls-backend/internal/models"
	"github.com/showpls/showpls-backend/internal/pkg/apperror"
)

// staleInFlightAfter — возраст in_flight записи, после которого считаем,
// что предыдущий обработчик умер, не завершив операцию, и её можно
// перехватить.
const staleInFlightAfter = 2 * time.Minute

// ledgerCommittedError помечает ошибку, возникшую после того, как ledger
// уже исполнил перевод. Снимать захват opId в этом случае нельзя:
// повтор с тем же opId вызвал бы ledger второй раз.
type ledgerCommittedError struct {
	cause error
}

func (e *ledgerCommittedError) Error() string { return e.cause.Error() }
func (e *ledgerCommittedError) Unwrap() error { return e.cause }

// ledgerCommitted оборачивает ошибку локальной фиксации, случившуюся
// после успешного вызова ledger.
func ledgerCommitted(err error) error {
	return &ledgerCommittedError{cause: err}
}

// reconciliationNote — сохранённый ответ операции, по которой деньги
// ушли, а локальное состояние осталось незафиксированным. Повтор с тем
// же opId получает эту пометку вместо повторного вызова ledger; дальше
// расхождение разбирается сверкой.
type reconciliationNote struct {
	Status string `json:"status"`
	Detail string `json:"detail"`
}

// IdempotencyGuard оборачивает денежные операции клиентским opId.
// Порядок строгий: запись in_flight появляется до обращения к ledger,
// completed — после. Повтор завершённой операции возвращает сохранённый
// результат, не трогая ledger.
type IdempotencyGuard struct {
	repo IdempotencyRepo
	ttl  time.Duration
}

// NewIdempotencyGuard создаёт guard с заданным временем жизни записей.
func NewIdempotencyGuard(repo IdempotencyRepo, ttl time.Duration) *IdempotencyGuard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyGuard{repo: repo, ttl: ttl}
}

// Run выполняет операцию под защитой opId.
// Возвращает сериализованный результат и признак replayed: true означает,
// что операция уже выполнялась раньше и fn не вызывался.
func (g *IdempotencyGuard) Run(ctx context.Context, opID string, fn func(ctx context.Context) (interface{}, error)) (json.RawMessage, bool, error) {
	if opID == "" {
		return nil, false, apperror.New(apperror.ErrCodeValidation, "opId обязателен для денежной операции")
	}

	existing, started, err := g.repo.Begin(ctx, opID, g.ttl)
	if err != nil {
		return nil, false, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось зафиксировать операцию")
	}

	if !started {
		if existing == nil {
			// Запись истекла между INSERT и SELECT — единственный повтор.
			existing, started, err = g.repo.Begin(ctx, opID, g.ttl)
			if err != nil {
				return nil, false, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось зафиксировать операцию")
			}
		}
		if !started {
			switch {
			case existing == nil:
				return nil, false, apperror.New(apperror.ErrCodeConflict, "операция в неопределённом состоянии, повторите запрос")
			case existing.Status == models.IdempotencyCompleted:
				return existing.Response, true, nil
			default:
				// in_flight: либо параллельный запрос, либо висяк от упавшего
				// процесса. Висяк перехватываем и выполняем заново.
				takenOver, err := g.repo.TakeOver(ctx, opID, time.Now().Add(-staleInFlightAfter))
				if err != nil {
					return nil, false, apperror.Wrap(err, apperror.ErrCodeDatabaseError, "не удалось перехватить операцию")
				}
				if !takenOver {
					return nil, false, apperror.New(apperror.ErrCodeOperationInFlight, "операция с этим opId уже выполняется")
				}
			}
		}
	}

	result, err := fn(ctx)
	if err != nil {
		var committed *ledgerCommittedError
		if errors.As(err, &committed) {
			// Деньги уже ушли. Запись фиксируется как completed с пометкой
			// о сверке: повтор с тем же opId вернёт её, не трогая ledger.
			note, mErr := json.Marshal(reconciliationNote{
				Status: "needs_reconciliation",
				Detail: committed.cause.Error(),
			})
			if mErr != nil {
				note = []byte(`{"status":"needs_reconciliation"}`)
			}
			if cErr := g.repo.Complete(ctx, opID, note); cErr != nil {
				logger.Log.WithField("op_id", opID).
					Errorf("операция требует сверки, но запись не зафиксирована: %v", cErr)
			}
			return nil, false, err
		}
		// Деньги не двигались: снимаем захват, чтобы клиент мог повторить
		// с тем же opId.
		if failErr := g.repo.Fail(ctx, opID); failErr != nil {
			logger.Log.WithField("op_id", opID).
				Errorf("не удалось снять захват opId после ошибки: %v", failErr)
		}
		return nil, false, err
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return nil, false, apperror.Wrap(err, apperror.ErrCodeInternal, "не удалось сериализовать результат операции")
	}
	if err := g.repo.Complete(ctx, opID, payload); err != nil {
		// Ledger уже отработал: операция выполнена, но будущий повтор
		// её не увидит. Логируем громко — деньги важнее записи.
		logger.Log.WithField("op_id", opID).
			Errorf("операция выполнена, но не зафиксирована как completed: %v", err)
	}
	return payload, false, nil
}

// Sweep удаляет истёкшие записи. Вызывается фоновым уборщиком.
func (g *IdempotencyGuard) Sweep(ctx context.Context) {
	deleted, err := g.repo.DeleteExpired(ctx, time.Now())
	if err != nil {
		logger.Log.Errorf("уборка идемпотентных записей: %v", err)
		return
	}
	if deleted > 0 {
		logger.Log.WithField("deleted", deleted).Debug("удалены истёкшие идемпотентные записи")
	}
}
