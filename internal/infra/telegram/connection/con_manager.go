// Package connection — состояние MTProto-соединения бота.
//
// Monitor даёт остальному коду:
//   - WaitOnline(ctx) — блокирует до восстановления связи, если клиент офлайн;
//   - HandleError(err) — по сетевой ошибке переводит монитор в офлайн;
//   - фоновый пинг в офлайне, который сам возвращает монитор в онлайн.
//
// Ожидатели работают со «снимками» wait-канала: каждый переход в офлайн создаёт
// новое поколение канала, переход в онлайн его закрывает.
package connection

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"telegram-smsbot/internal/infra/logger"

	"github.com/gotd/td/pool"
	"github.com/gotd/td/rpc"
	"go.uber.org/zap"
)

const (
	defaultPingInterval = 10 * time.Second
	defaultPingTimeout  = 5 * time.Second
)

// PingFunc — лёгкий RPC-вызов, успешный только при живом соединении.
type PingFunc func(ctx context.Context) error

// Options — интервалы мониторинга (нули — значения по умолчанию).
type Options struct {
	PingInterval time.Duration
	PingTimeout  time.Duration
}

// Monitor — менеджер состояния соединения. Нулевое значение непригодно, используйте New.
type Monitor struct {
	ping     PingFunc
	interval time.Duration
	timeout  time.Duration

	connected atomic.Bool

	mu            sync.Mutex
	ctx           context.Context
	waitCh        chan struct{}
	monitorCancel context.CancelFunc
	wg            sync.WaitGroup
}

// New создаёт монитор в состоянии online.
func New(ping PingFunc, opts Options) *Monitor {
	m := &Monitor{
		ping:     ping,
		interval: opts.PingInterval,
		timeout:  opts.PingTimeout,
		ctx:      context.Background(),
	}
	if m.interval <= 0 {
		m.interval = defaultPingInterval
	}
	if m.timeout <= 0 {
		m.timeout = defaultPingTimeout
	}
	m.connected.Store(true)
	ready := make(chan struct{})
	close(ready)
	m.waitCh = ready
	return m
}

// Start задаёт контекст жизни фоновых пингов.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()
}

// Stop останавливает мониторинг и будит всех ожидателей.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.monitorCancel != nil {
		m.monitorCancel()
		m.monitorCancel = nil
	}
	if ch := m.waitCh; ch != nil {
		select {
		case <-ch:
		default:
			close(ch)
		}
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// Online сообщает текущее состояние.
func (m *Monitor) Online() bool { return m.connected.Load() }

// WaitOnline блокирует до восстановления соединения или отмены ctx.
func (m *Monitor) WaitOnline(ctx context.Context) {
	if ctx.Err() != nil || m.connected.Load() {
		return
	}
	logger.Debug("WaitOnline: waiting for connection")
	for {
		ch := m.currentWaitCh()
		select {
		case <-ctx.Done():
			return
		case <-ch:
			// Проснулись по старому поколению — ждём актуальное.
			if ch == m.currentWaitCh() {
				return
			}
		}
	}
}

// HandleError переводит монитор в офлайн, если err похожа на разрыв соединения.
func (m *Monitor) HandleError(err error) bool {
	if !IsNetworkError(err) {
		return false
	}
	m.MarkDisconnected()
	return true
}

// MarkConnected переводит монитор в online и закрывает wait-канал. Идемпотентен.
func (m *Monitor) MarkConnected() {
	if m.connected.Swap(true) {
		return
	}
	m.mu.Lock()
	if m.monitorCancel != nil {
		m.monitorCancel()
		m.monitorCancel = nil
	}
	select {
	case <-m.waitCh:
	default:
		close(m.waitCh)
	}
	m.mu.Unlock()
	logger.Info("connection restored")
}

// MarkDisconnected переводит монитор в offline и запускает фоновый пинг. Идемпотентен.
func (m *Monitor) MarkDisconnected() {
	if !m.connected.CompareAndSwap(true, false) {
		return
	}
	m.mu.Lock()
	if m.monitorCancel != nil {
		m.monitorCancel()
	}
	m.waitCh = make(chan struct{})
	loopCtx, cancel := context.WithCancel(m.ctx)
	m.monitorCancel = cancel
	m.wg.Add(1)
	m.mu.Unlock()

	logger.Warn("connection lost, waiting for restore")
	go func() {
		defer m.wg.Done()
		m.monitorLoop(loopCtx)
	}()
}

func (m *Monitor) currentWaitCh() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.waitCh
}

func (m *Monitor) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return
		}
		err := m.safePing(ctx)
		if err == nil {
			logger.Debug("connection ping ok", zap.Int("attempt", attempt))
			m.MarkConnected()
			return
		}
		if IsNetworkError(err) {
			logger.Debug("connection ping failed", zap.Int("attempt", attempt), zap.Error(err))
		} else {
			logger.Error("connection ping failed", zap.Int("attempt", attempt), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// safePing превращает панику пинга в net.ErrClosed.
func (m *Monitor) safePing(ctx context.Context) (err error) {
	if m.ping == nil {
		return net.ErrClosed
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Debug("connection ping panic recovered", zap.Any("panic", r))
			err = net.ErrClosed
		}
	}()
	pingCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	return m.ping(pingCtx)
}

// IsNetworkError сообщает, похожа ли ошибка на разрыв соединения.
// Отмена контекста сетевой ошибкой не считается.
func IsNetworkError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, pool.ErrConnDead) || errors.Is(err, rpc.ErrEngineClosed) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) {
		return true
	}
	var retryErr *rpc.RetryLimitReachedErr
	if errors.As(err, &retryErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
