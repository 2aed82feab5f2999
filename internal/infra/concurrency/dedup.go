// Package concurrency — вспомогательная инфраструктура конкурентного исполнения.
// Deduplicator — потокобезопасный кэш «недавно видели», подавляющий повторную
// обработку одного и того же действия в пределах окна. Бот использует его против
// двойной отправки: повторный /sms на тот же номер или повторное нажатие кнопки
// до ответа на первое.
package concurrency

import (
	"context"
	"sync"
	"time"

	"telegram-smsbot/internal/infra/clock"
	"telegram-smsbot/internal/infra/logger"

	"go.uber.org/zap"
)

// Deduplicator хранит ключи недавно принятых действий со сроком годности.
type Deduplicator struct {
	mu     sync.Mutex
	seen   map[string]time.Time // key -> expireAt
	window time.Duration
	now    clock.Clock

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDeduplicator создаёт кэш с окном window. now=nil — системные часы.
func NewDeduplicator(window time.Duration, now clock.Clock) *Deduplicator {
	if now == nil {
		now = clock.System()
	}
	return &Deduplicator{
		seen:   make(map[string]time.Time),
		window: window,
		now:    now,
	}
}

// Start поднимает фоновую очистку устаревших ключей. Повторные вызовы игнорируются.
func (d *Deduplicator) Start(ctx context.Context) {
	if ctx == nil {
		return
	}

	d.runMu.Lock()
	defer d.runMu.Unlock()
	if d.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.wg.Go(func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				d.Cleanup()
			}
		}
	})
}

// Stop завершает фоновую очистку и дожидается её окончания.
func (d *Deduplicator) Stop() {
	d.runMu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	d.wg.Wait()
}

// Seen сообщает, было ли действие key в пределах окна. Если не было —
// регистрирует его и возвращает false.
func (d *Deduplicator) Seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if exp, ok := d.seen[key]; ok && now.Before(exp) {
		logger.Debug("dedup: repeated action suppressed", zap.String("key", key))
		return true
	}
	d.seen[key] = now.Add(d.window)
	return false
}

// Forget снимает отметку, чтобы действие можно было повторить сразу
// (например, после ошибки, не дошедшей до пользователя).
func (d *Deduplicator) Forget(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
}

// Cleanup удаляет просроченные записи.
func (d *Deduplicator) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, exp := range d.seen {
		if !now.Before(exp) {
			delete(d.seen, k)
		}
	}
}

// Len возвращает число отслеживаемых ключей.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
