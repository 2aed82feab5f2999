// Package users — пользователи бота: доступ, роли и баланс.
//
// Хранилище (Store) реализуется инфраструктурой (bbolt). Service поверх него
// реализует бизнес-правила: автосоздание пользователя при первом обращении,
// списание фиксированной платы за проверку SMS, админские операции.
package users

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound — пользователь отсутствует в хранилище.
	ErrNotFound = errors.New("users: user not found")
	// ErrExists — попытка создать уже существующего пользователя.
	ErrExists = errors.New("users: user already exists")
	// ErrInsufficientBalance — баланса не хватает на операцию.
	ErrInsufficientBalance = errors.New("users: insufficient balance")
	// ErrBanned — пользователь заблокирован.
	ErrBanned = errors.New("users: user is banned")
	// ErrNotAuthorized — пользователь не авторизован администратором.
	ErrNotAuthorized = errors.New("users: user is not authorized")
	// ErrNotAdmin — команда доступна только администраторам.
	ErrNotAdmin = errors.New("users: admin rights required")
	// ErrContention — хранилище занято конкурентной транзакцией; операцию можно повторить.
	ErrContention = errors.New("users: store contention")
	// ErrInvalidAmount — сумма должна быть положительной.
	ErrInvalidAmount = errors.New("users: amount must be positive")
)

// Role — роль пользователя.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User — запись пользователя в хранилище.
type User struct {
	ID         int64           `json:"id"`
	Username   string          `json:"username,omitempty"`
	FirstName  string          `json:"first_name,omitempty"`
	Balance    decimal.Decimal `json:"balance"`
	Authorized bool            `json:"authorized"`
	Banned     bool            `json:"banned"`
	Role       Role            `json:"role"`
	SMSChecks  int             `json:"sms_checks"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// IsAdmin сообщает, что у записи роль администратора.
func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

// DisplayName возвращает @username, имя или числовой id.
func (u User) DisplayName() string {
	switch {
	case u.Username != "":
		return "@" + u.Username
	case u.FirstName != "":
		return u.FirstName
	default:
		return strconv.FormatInt(u.ID, 10)
	}
}

// Identity — то, что транспорт знает об отправителе.
type Identity struct {
	ID        int64
	Username  string
	FirstName string
}

// Store — долговременное хранилище пользователей.
//
// UpdateUser выполняет read-modify-write в одной транзакции хранилища: если fn
// вернул ошибку, изменения не сохраняются и ошибка возвращается как есть.
type Store interface {
	GetUser(ctx context.Context, id int64) (User, error)
	CreateUser(ctx context.Context, u User) error
	UpdateUser(ctx context.Context, id int64, fn func(u *User) error) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
}
