package goroutine

import (
	"runtime/debug"

	"github.com/showpls/showpls-backend/internal/logger"
)

// SafeGo запускает функцию в горутине с перехватом паники.
// Фоновые задачи (уведомления, рассылка в websocket) не должны
// ронять процесс.
func SafeGo(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Log.WithField("goroutine", name).
					Errorf("паника в фоновой задаче: %v\n%s", r, debug.Stack())
			}
		}()
		fn()
	}()
}
