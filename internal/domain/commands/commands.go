// Package commands — административные операции бота. Один и тот же Executor
// обслуживает команды администратора в чате и локальную CLI-консоль.
package commands

import (
	"context"
	"time"

	"telegram-smsbot/internal/domain/requests"
	"telegram-smsbot/internal/domain/users"

	"github.com/shopspring/decimal"
)

// Executor — административные команды.
type Executor interface {
	// Authorize выдаёт пользователю доступ к боту.
	Authorize(ctx context.Context, userID int64) (users.User, error)
	// Ban блокирует пользователя.
	Ban(ctx context.Context, userID int64) (users.User, error)
	// Unban снимает блокировку.
	Unban(ctx context.Context, userID int64) (users.User, error)
	// TopUp пополняет баланс.
	TopUp(ctx context.Context, userID int64, amount decimal.Decimal) (users.User, error)
	// SaveCookies разбирает строку cookies и сохраняет их для сервера (пустое имя — сервер по умолчанию).
	SaveCookies(ctx context.Context, server, raw string) (*CookiesResult, error)
	// Status — сводка по пользователям, запросам и серверам.
	Status(ctx context.Context) (*StatusResult, error)
	// User возвращает карточку пользователя.
	User(ctx context.Context, userID int64) (users.User, error)
	// Users возвращает всех пользователей.
	Users(ctx context.Context) ([]users.User, error)
	// Version — имя и версия сборки.
	Version(ctx context.Context) (*VersionResult, error)
}

// StatusResult — результат Status.
type StatusResult struct {
	Users          int
	Authorized     int
	Banned         int
	Admins         int
	Requests       map[requests.Status]int
	NumberSessions int
	Servers        []ServerStatus
	StartedAt      time.Time
	Uptime         time.Duration
}

// ServerStatus — состояние сервера сервиса номеров.
type ServerStatus struct {
	Name        string
	Default     bool
	LiveCookies int
	// CookiesExpire — ближайшее истечение среди живых cookies (ноль — сессионные).
	CookiesExpire time.Time
}

// CookiesResult — результат SaveCookies.
type CookiesResult struct {
	Server  string
	Saved   int
	Expired int
}

// VersionResult — результат Version.
type VersionResult struct {
	Name    string
	Version string
}
