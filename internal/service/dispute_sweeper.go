package service

import (
	"context"
	"time"

	"github.com/showpls/showpls-backend/internal/logger"
)

// DisputeSweeper — фоновый обходчик просроченных споров. Спор, не решённый
// до SLA дедлайна, эскалируется, стороны получают уведомление. Заодно
// уборщик чистит истёкшие идемпотентные записи.
type DisputeSweeper struct {
	disputes DisputeRepo
	orders   OrderRepo
	guard    *IdempotencyGuard
	notifier Notifier
	interval time.Duration
}

// NewDisputeSweeper создаёт обходчик.
func NewDisputeSweeper(disputes DisputeRepo, orders OrderRepo, guard *IdempotencyGuard, notifier Notifier, interval time.Duration) *DisputeSweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &DisputeSweeper{
		disputes: disputes,
		orders:   orders,
		guard:    guard,
		notifier: notifier,
		interval: interval,
	}
}

// Run крутит тикер до отмены контекста. Запускается отдельной горутиной.
func (s *DisputeSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.Log.WithField("interval", s.interval).Info("запущен обходчик споров")
	for {
		select {
		case <-ctx.Done():
			logger.Log.Info("обходчик споров остановлен")
			return
		case <-ticker.C:
			s.sweep(ctx)
			s.guard.Sweep(ctx)
		}
	}
}

func (s *DisputeSweeper) sweep(ctx context.Context) {
	overdue, err := s.disputes.ListOverdue(ctx, time.Now())
	if err != nil {
		logger.Log.Errorf("обходчик споров: выборка просроченных: %v", err)
		return
	}

	for _, dispute := range overdue {
		if err := s.disputes.Escalate(ctx, dispute.ID); err != nil {
			// Спор могли решить между выборкой и эскалацией.
			logger.Log.WithField("dispute_id", dispute.DisputeID).
				Warnf("эскалация не применена: %v", err)
			continue
		}

		logger.Log.WithField("dispute_id", dispute.DisputeID).
			Warn("спор просрочил SLA и эскалирован")

		meta := map[string]interface{}{
			"order_id":   dispute.OrderID.String(),
			"dispute_id": dispute.DisputeID,
		}
		s.notifier.Notify(ctx, dispute.OpenedBy, "Спор эскалирован",
			"Спор не был решён в срок и передан на приоритетный разбор.", meta)

		if order, err := s.orders.GetByID(ctx, dispute.OrderID); err == nil {
			other := order.RequesterID
			if dispute.OpenedBy == order.RequesterID && order.ProviderID != nil {
				other = *order.ProviderID
			}
			if other != dispute.OpenedBy {
				s.notifier.Notify(ctx, other, "Спор эскалирован",
					"Спор не был решён в срок и передан на приоритетный разбор.", meta)
			}
		}
	}
}
