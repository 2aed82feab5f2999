// Package throttle — ограничение частоты обращений к внешним сервисам.
// В основе — токен-бакет (RPS + burst) и ограниченные повторы: серверная пауза
// (Retry-After и т.п.) через WaitExtractor или экспоненциальный backoff с джиттером.
// Ошибки, реализующие StopRetryer, возвращаются сразу.
// Троттлер потокобезопасен: Do может вызываться параллельно; Start/Stop идемпотентны.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// burstMultiplier задаёт burst по умолчанию как кратный rate.
const burstMultiplier = 2

// WaitExtractor достаёт из ошибки паузу, указанную сервером. ok=false — формат не распознан.
// Экстракторы опрашиваются в порядке регистрации, первый совпавший определяет паузу.
type WaitExtractor func(err error) (wait time.Duration, ok bool)

// StopRetryer объявляет, что повторять вызов бессмысленно.
type StopRetryer interface {
	StopRetry() bool
}

// Option задаёт параметры троттлера при создании.
type Option func(*Throttler)

// WithMaxRetries ограничивает число повторов. 0 — без повторов, <0 — без ограничения.
func WithMaxRetries(n int) Option {
	return func(t *Throttler) { t.maxRetries = n }
}

// WithBurst переопределяет ёмкость бакета. burst<=0 — значение по умолчанию 2*rate.
func WithBurst(burst int) Option {
	return func(t *Throttler) { t.burst = burst }
}

// WithWaitExtractors регистрирует экстракторы серверных пауз.
func WithWaitExtractors(extractors ...WaitExtractor) Option {
	return func(t *Throttler) {
		for _, e := range extractors {
			if e != nil {
				t.extractors = append(t.extractors, e)
			}
		}
	}
}

// WithRandom подменяет источник случайности для джиттера (тесты).
func WithRandom(fn func() float64) Option {
	return func(t *Throttler) {
		if fn != nil {
			t.random = fn
		}
	}
}

// ErrNotStarted возвращается, если Do вызван до Start.
var ErrNotStarted = errors.New("throttle: Start must be called before Do")

// Throttler — токен-бакет с ограниченными повторами.
type Throttler struct {
	rate       int
	burst      int
	maxRetries int
	extractors []WaitExtractor
	random     func() float64
	baseDelay  time.Duration

	mu     sync.Mutex
	tokens chan struct{}
	root   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New создаёт троттлер на rate операций в секунду. По умолчанию повторов нет.
func New(rate int, opts ...Option) *Throttler {
	if rate <= 0 {
		rate = 1
	}
	t := &Throttler{
		rate:      rate,
		random:    rand.Float64,
		baseDelay: time.Second,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.burst <= 0 {
		t.burst = max(rate*burstMultiplier, 1)
	}
	return t
}

// Start заполняет бакет и запускает его пополнение. Повторный вызов игнорируется.
func (t *Throttler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.root != nil {
		return
	}

	t.root, t.cancel = context.WithCancel(ctx)
	t.tokens = make(chan struct{}, t.burst)
	for range t.burst {
		t.tokens <- struct{}{}
	}
	root, tokens := t.root, t.tokens
	t.wg.Go(func() { t.refill(root, tokens) })
}

// Stop останавливает пополнение и ждёт фоновую горутину. Повторный вызов безопасен.
func (t *Throttler) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	t.wg.Wait()
}

// Do выполняет fn, предварительно забрав токен. При ошибке:
//   - StopRetryer со StopRetry()=true или отмена контекста — ошибка возвращается сразу;
//   - лимит повторов исчерпан — ошибка возвращается обёрнутой;
//   - иначе пауза (серверная или экспоненциальная) и новая попытка.
func (t *Throttler) Do(ctx context.Context, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	root, tokens := t.snapshot()
	if root == nil {
		return ErrNotStarted
	}

	for attempt := 0; ; attempt++ {
		if err := take(ctx, root, tokens); err != nil {
			return err
		}
		err := fn()
		if err == nil {
			return nil
		}

		var stopper StopRetryer
		if errors.As(err, &stopper) && stopper.StopRetry() {
			return err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if t.maxRetries >= 0 && attempt >= t.maxRetries {
			if t.maxRetries == 0 {
				return err
			}
			return fmt.Errorf("throttle: max retries reached (%d): %w", t.maxRetries, err)
		}

		pause, ok := t.serverWait(err)
		if !ok {
			pause = t.backoff(attempt)
		}
		if err := sleep(ctx, root, pause); err != nil {
			return err
		}
	}
}

func (t *Throttler) snapshot() (context.Context, chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.root, t.tokens
}

func (t *Throttler) refill(root context.Context, tokens chan struct{}) {
	interval := time.Second / time.Duration(t.rate)
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-root.Done():
			return
		case <-ticker.C:
			select {
			case tokens <- struct{}{}:
			default:
			}
		}
	}
}

func (t *Throttler) serverWait(err error) (time.Duration, bool) {
	for _, e := range t.extractors {
		if wait, ok := e(err); ok {
			return wait, true
		}
	}
	return 0, false
}

// backoff — baseDelay*2^attempt, не больше минуты, с джиттером ±15%.
func (t *Throttler) backoff(attempt int) time.Duration {
	const (
		maxDelay  = time.Minute
		jitterMin = 0.85
		jitterLen = 0.3
	)
	d := float64(t.baseDelay) * math.Pow(2, float64(attempt))
	d = math.Min(d, float64(maxDelay))
	return time.Duration(d * (jitterMin + t.random()*jitterLen))
}

func take(ctx, root context.Context, tokens <-chan struct{}) error {
	if root.Err() != nil {
		return context.Canceled
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-root.Done():
		return context.Canceled
	case <-tokens:
		return nil
	}
}

func sleep(ctx, root context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-root.Done():
		return context.Canceled
	case <-timer.C:
		return nil
	}
}
