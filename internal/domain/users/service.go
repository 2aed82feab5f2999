package users

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"telegram-smsbot/internal/infra/clock"
	"telegram-smsbot/internal/infra/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// ensureAttempts — сколько раз пробуем получить/создать пользователя при конкуренции.
	ensureAttempts = 3
	// ensureInitialBackoff — первая пауза между попытками, далее растёт экспоненциально.
	ensureInitialBackoff = 50 * time.Millisecond
)

// Options — параметры сервиса пользователей.
type Options struct {
	// Admins — id администраторов из конфигурации. Они всегда авторизованы и не платят.
	Admins []int64
	// StartBalance — баланс новой записи.
	StartBalance decimal.Decimal
	// Now — источник времени (nil — системные часы).
	Now clock.Clock
}

// Service — бизнес-операции над пользователями.
type Service struct {
	store        Store
	admins       []int64
	startBalance decimal.Decimal
	now          clock.Clock
}

// NewService создаёт сервис пользователей.
func NewService(store Store, opts Options) *Service {
	now := opts.Now
	if now == nil {
		now = clock.System()
	}
	return &Service{
		store:        store,
		admins:       slices.Clone(opts.Admins),
		startBalance: opts.StartBalance,
		now:          now,
	}
}

// IsAdmin проверяет, что id указан администратором в конфигурации или имеет роль admin.
func (s *Service) IsAdmin(ctx context.Context, id int64) bool {
	if slices.Contains(s.admins, id) {
		return true
	}
	u, err := s.store.GetUser(ctx, id)
	return err == nil && u.IsAdmin()
}

// Ensure возвращает пользователя, создавая запись при первом обращении.
// Username и имя обновляются, если изменились. При конкуренции за хранилище
// операция повторяется до трёх раз с экспоненциальной паузой от 50 мс.
func (s *Service) Ensure(ctx context.Context, id Identity) (User, error) {
	var out User
	op := func() error {
		u, err := s.ensureOnce(ctx, id)
		if err != nil {
			if errors.Is(err, ErrContention) || errors.Is(err, ErrExists) {
				return err
			}
			return backoff.Permanent(err)
		}
		out = u
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = ensureInitialBackoff
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, ensureAttempts-1), ctx)

	notify := func(err error, wait time.Duration) {
		logger.Debug("user lookup retry",
			zap.Int64("user_id", id.ID),
			zap.Duration("wait", wait),
			zap.Error(err))
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return User{}, fmt.Errorf("ensure user %d: %w", id.ID, err)
	}
	return out, nil
}

func (s *Service) ensureOnce(ctx context.Context, id Identity) (User, error) {
	u, err := s.store.GetUser(ctx, id.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		now := s.now()
		u = User{
			ID:        id.ID,
			Username:  id.Username,
			FirstName: id.FirstName,
			Balance:   s.startBalance,
			Role:      RoleUser,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if slices.Contains(s.admins, id.ID) {
			u.Role = RoleAdmin
			u.Authorized = true
		}
		if err := s.store.CreateUser(ctx, u); err != nil {
			return User{}, err
		}
		logger.Info("user registered", zap.Int64("user_id", u.ID), zap.String("username", u.Username))
		return u, nil
	case err != nil:
		return User{}, err
	}

	// Администратор, добавленный в конфигурацию после регистрации, повышается здесь.
	promote := slices.Contains(s.admins, id.ID) && !u.IsAdmin()
	if !promote && u.Username == id.Username && u.FirstName == id.FirstName {
		return u, nil
	}
	return s.store.UpdateUser(ctx, id.ID, func(cur *User) error {
		if promote {
			cur.Role = RoleAdmin
			cur.Authorized = true
		}
		cur.Username = id.Username
		cur.FirstName = id.FirstName
		cur.UpdatedAt = s.now()
		return nil
	})
}

// CheckAccess проверяет, что пользователь может пользоваться ботом.
func (s *Service) CheckAccess(u User) error {
	if slices.Contains(s.admins, u.ID) || u.IsAdmin() {
		return nil
	}
	if u.Banned {
		return ErrBanned
	}
	if !u.Authorized {
		return ErrNotAuthorized
	}
	return nil
}

// Charge списывает amount с баланса в одной транзакции хранилища и увеличивает
// счётчик проверок. Повторов нет. Администраторы не платят.
func (s *Service) Charge(ctx context.Context, userID int64, amount decimal.Decimal) (User, error) {
	free := slices.Contains(s.admins, userID)
	return s.store.UpdateUser(ctx, userID, func(u *User) error {
		if !free && !u.IsAdmin() && amount.IsPositive() {
			if u.Balance.LessThan(amount) {
				return ErrInsufficientBalance
			}
			u.Balance = u.Balance.Sub(amount)
		}
		u.SMSChecks++
		u.UpdatedAt = s.now()
		return nil
	})
}

// CanAfford сообщает, хватает ли пользователю на amount.
func (s *Service) CanAfford(u User, amount decimal.Decimal) bool {
	if slices.Contains(s.admins, u.ID) || u.IsAdmin() {
		return true
	}
	return !u.Balance.LessThan(amount)
}

// Get возвращает пользователя по id.
func (s *Service) Get(ctx context.Context, id int64) (User, error) {
	return s.store.GetUser(ctx, id)
}

// List возвращает всех пользователей, отсортированных по id.
func (s *Service) List(ctx context.Context) ([]User, error) {
	list, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(list, func(a, b User) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return list, nil
}

// Authorize выдаёт доступ. Если пользователь ещё не писал боту, запись создаётся.
func (s *Service) Authorize(ctx context.Context, id int64) (User, error) {
	return s.mutateOrCreate(ctx, id, func(u *User) error {
		u.Authorized = true
		u.Banned = false
		return nil
	})
}

// Ban блокирует пользователя и снимает авторизацию.
func (s *Service) Ban(ctx context.Context, id int64) (User, error) {
	if slices.Contains(s.admins, id) {
		return User{}, fmt.Errorf("ban %d: %w", id, ErrNotAdmin)
	}
	return s.mutateOrCreate(ctx, id, func(u *User) error {
		u.Banned = true
		u.Authorized = false
		return nil
	})
}

// Unban снимает блокировку. Авторизацию нужно выдать отдельно.
func (s *Service) Unban(ctx context.Context, id int64) (User, error) {
	return s.store.UpdateUser(ctx, id, func(u *User) error {
		u.Banned = false
		u.UpdatedAt = s.now()
		return nil
	})
}

// TopUp пополняет баланс на положительную сумму.
func (s *Service) TopUp(ctx context.Context, id int64, amount decimal.Decimal) (User, error) {
	if !amount.IsPositive() {
		return User{}, ErrInvalidAmount
	}
	return s.mutateOrCreate(ctx, id, func(u *User) error {
		u.Balance = u.Balance.Add(amount)
		return nil
	})
}

func (s *Service) mutateOrCreate(ctx context.Context, id int64, fn func(u *User) error) (User, error) {
	apply := func(u *User) error {
		if err := fn(u); err != nil {
			return err
		}
		u.UpdatedAt = s.now()
		return nil
	}
	u, err := s.store.UpdateUser(ctx, id, apply)
	if !errors.Is(err, ErrNotFound) {
		return u, err
	}
	if _, err := s.Ensure(ctx, Identity{ID: id}); err != nil {
		return User{}, err
	}
	return s.store.UpdateUser(ctx, id, apply)
}
