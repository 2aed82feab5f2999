package requests

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"telegram-smsbot/internal/infra/clock"
	"telegram-smsbot/internal/infra/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultTTL — время жизни запроса SMS.
const DefaultTTL = 10 * time.Minute

// sweepInterval — период фоновой очистки реестра.
const sweepInterval = time.Minute

// Status — состояние запроса SMS.
type Status string

const (
	StatusPending   Status = "pending"
	StatusReceived  Status = "received"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

var (
	// ErrInFlight — по ключу (номер, сервер) уже есть активный запрос другого пользователя.
	ErrInFlight = errors.New("requests: request for this number is already in progress")
	// ErrNotFound — запроса с таким ключом нет.
	ErrNotFound = errors.New("requests: request not found")
	// ErrNotOwner — запрос принадлежит другому пользователю.
	ErrNotOwner = errors.New("requests: request belongs to another user")
)

// SMSKey — ключ запроса SMS.
type SMSKey struct {
	Phone  string
	Server string
}

// SMSRequest — запрос пользователя на получение SMS для номера.
type SMSRequest struct {
	ID         string
	UserID     int64
	Phone      string
	Server     string
	Status     Status
	Checks     int
	Received   int
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ReceivedAt time.Time
}

// Key возвращает ключ запроса.
func (r SMSRequest) Key() SMSKey { return SMSKey{Phone: r.Phone, Server: r.Server} }

// Active сообщает, что запрос ещё ждёт SMS и не истёк к моменту now.
func (r SMSRequest) Active(now time.Time) bool {
	return r.Status == StatusPending && now.Before(r.ExpiresAt)
}

// SMSRegistry — реестр запросов SMS. Инвариант: по одному ключу (номер, сервер)
// не больше одного активного запроса.
type SMSRegistry struct {
	store Store[SMSKey, SMSRequest]
	ttl   time.Duration
	now   clock.Clock

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSMSRegistry создаёт реестр. ttl<=0 заменяется на DefaultTTL, now=nil — на системные часы.
func NewSMSRegistry(store Store[SMSKey, SMSRequest], ttl time.Duration, now clock.Clock) *SMSRegistry {
	if store == nil {
		store = NewMemoryStore[SMSKey, SMSRequest]()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = clock.System()
	}
	return &SMSRegistry{store: store, ttl: ttl, now: now}
}

// TTL возвращает время жизни запроса.
func (r *SMSRegistry) TTL() time.Duration { return r.ttl }

// Open регистрирует запрос пользователя на номер. Если активный запрос того же
// пользователя уже есть — возвращается он (created=false). Активный запрос другого
// пользователя даёт ErrInFlight. Завершённые и истёкшие записи заменяются новой.
func (r *SMSRegistry) Open(userID int64, phone, server string) (req SMSRequest, created bool, err error) {
	now := r.now()
	key := SMSKey{Phone: phone, Server: server}

	r.store.Update(key, func(cur SMSRequest, ok bool) (SMSRequest, bool) {
		if ok && cur.Active(now) {
			if cur.UserID != userID {
				err = ErrInFlight
			}
			req = cur
			return cur, true
		}
		created = true
		req = SMSRequest{
			ID:        uuid.NewString(),
			UserID:    userID,
			Phone:     phone,
			Server:    server,
			Status:    StatusPending,
			CreatedAt: now,
			ExpiresAt: now.Add(r.ttl),
		}
		return req, true
	})
	if err != nil {
		return SMSRequest{}, false, err
	}
	return req, created, nil
}

// Get возвращает запрос по ключу. Просроченный pending-запрос помечается expired.
func (r *SMSRegistry) Get(phone, server string) (SMSRequest, bool) {
	now := r.now()
	return r.store.Update(SMSKey{Phone: phone, Server: server}, func(cur SMSRequest, ok bool) (SMSRequest, bool) {
		if !ok {
			return cur, false
		}
		return expireIfStale(cur, now), true
	})
}

// RecordCheck увеличивает счётчик проверок запроса. Возвращает актуальный запрос.
func (r *SMSRegistry) RecordCheck(phone, server string) (SMSRequest, error) {
	now := r.now()
	var found bool
	req, _ := r.store.Update(SMSKey{Phone: phone, Server: server}, func(cur SMSRequest, ok bool) (SMSRequest, bool) {
		if !ok {
			return cur, false
		}
		found = true
		cur = expireIfStale(cur, now)
		cur.Checks++
		return cur, true
	})
	if !found {
		return SMSRequest{}, ErrNotFound
	}
	return req, nil
}

// MarkReceived переводит запрос в received и запоминает количество найденных SMS.
// Истёкший запрос не воскрешается.
func (r *SMSRegistry) MarkReceived(phone, server string, count int) (SMSRequest, error) {
	now := r.now()
	var found bool
	req, _ := r.store.Update(SMSKey{Phone: phone, Server: server}, func(cur SMSRequest, ok bool) (SMSRequest, bool) {
		if !ok {
			return cur, false
		}
		found = true
		cur = expireIfStale(cur, now)
		if cur.Status == StatusPending || cur.Status == StatusReceived {
			cur.Status = StatusReceived
			cur.Received = count
			cur.ReceivedAt = now
		}
		return cur, true
	})
	if !found {
		return SMSRequest{}, ErrNotFound
	}
	return req, nil
}

// Cancel отменяет активный запрос владельца.
func (r *SMSRegistry) Cancel(userID int64, phone, server string) (SMSRequest, error) {
	now := r.now()
	var resErr error
	req, _ := r.store.Update(SMSKey{Phone: phone, Server: server}, func(cur SMSRequest, ok bool) (SMSRequest, bool) {
		if !ok {
			resErr = ErrNotFound
			return cur, false
		}
		if cur.UserID != userID {
			resErr = ErrNotOwner
			return cur, true
		}
		cur = expireIfStale(cur, now)
		if cur.Status == StatusPending {
			cur.Status = StatusCancelled
		}
		return cur, true
	})
	if resErr != nil {
		return SMSRequest{}, resErr
	}
	return req, nil
}

// ByUser возвращает запросы пользователя от новых к старым (с учётом истечения TTL).
func (r *SMSRegistry) ByUser(userID int64) []SMSRequest {
	now := r.now()
	var out []SMSRequest
	r.store.Range(func(_ SMSKey, v SMSRequest) bool {
		if v.UserID == userID {
			out = append(out, expireIfStale(v, now))
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Stats возвращает количество запросов по статусам.
func (r *SMSRegistry) Stats() map[Status]int {
	now := r.now()
	stats := make(map[Status]int)
	r.store.Range(func(_ SMSKey, v SMSRequest) bool {
		stats[expireIfStale(v, now).Status]++
		return true
	})
	return stats
}

// ExpireStale помечает expired все просроченные pending-запросы. Возвращает их число.
func (r *SMSRegistry) ExpireStale() int {
	now := r.now()
	var keys []SMSKey
	r.store.Range(func(k SMSKey, v SMSRequest) bool {
		if v.Status == StatusPending && !now.Before(v.ExpiresAt) {
			keys = append(keys, k)
		}
		return true
	})
	expired := 0
	for _, k := range keys {
		r.store.Update(k, func(cur SMSRequest, ok bool) (SMSRequest, bool) {
			if !ok {
				return cur, false
			}
			if next := expireIfStale(cur, now); next.Status != cur.Status {
				expired++
				return next, true
			}
			return cur, true
		})
	}
	return expired
}

// Prune удаляет завершённые запросы (не pending), созданные раньше now-horizon.
func (r *SMSRegistry) Prune(horizon time.Duration) int {
	cutoff := r.now().Add(-horizon)
	var keys []SMSKey
	r.store.Range(func(k SMSKey, v SMSRequest) bool {
		if v.Status != StatusPending && v.CreatedAt.Before(cutoff) {
			keys = append(keys, k)
		}
		return true
	})
	pruned := 0
	for _, k := range keys {
		r.store.Update(k, func(cur SMSRequest, ok bool) (SMSRequest, bool) {
			if !ok {
				return cur, false
			}
			if cur.Status != StatusPending && cur.CreatedAt.Before(cutoff) {
				pruned++
				return cur, false
			}
			return cur, true
		})
	}
	return pruned
}

// Start поднимает фоновую очистку: раз в минуту просроченные запросы помечаются
// expired, а завершённые старше 6*TTL удаляются. Повторный вызов игнорируется.
func (r *SMSRegistry) Start(ctx context.Context) {
	if ctx == nil {
		return
	}
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Go(func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				expired := r.ExpireStale()
				pruned := r.Prune(6 * r.ttl)
				if expired > 0 || pruned > 0 {
					logger.Debug("sms registry sweep",
						zap.Int("expired", expired),
						zap.Int("pruned", pruned),
						zap.Int("left", r.store.Len()))
				}
			}
		}
	})
}

// Stop останавливает фоновую очистку и дожидается её завершения.
func (r *SMSRegistry) Stop() {
	r.runMu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	r.wg.Wait()
}

func expireIfStale(req SMSRequest, now time.Time) SMSRequest {
	if req.Status == StatusPending && !now.Before(req.ExpiresAt) {
		req.Status = StatusExpired
	}
	return req
}
