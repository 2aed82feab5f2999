package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"telegram-smsbot/internal/adapters/provider"
	"telegram-smsbot/internal/domain/requests"
	"telegram-smsbot/internal/domain/users"
	"telegram-smsbot/internal/infra/clock"
	"telegram-smsbot/internal/infra/logger"
	versioninfo "telegram-smsbot/internal/support/version"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrCookiesExpired — все присланные cookies уже истекли.
var ErrCookiesExpired = errors.New("all cookies are expired")

// Deps — зависимости CommandExecutor.
type Deps struct {
	Users     *users.Service
	Cookies   provider.CookieStore
	Providers *provider.Registry
	SMS       *requests.SMSRegistry
	Numbers   *requests.NumberRegistry
	Now       clock.Clock
}

// CommandExecutor — реализация Executor.
type CommandExecutor struct {
	users     *users.Service
	cookies   provider.CookieStore
	providers *provider.Registry
	sms       *requests.SMSRegistry
	numbers   *requests.NumberRegistry
	now       clock.Clock
	startedAt time.Time
}

var _ Executor = (*CommandExecutor)(nil)

// NewExecutor создаёт исполнитель команд.
func NewExecutor(d Deps) *CommandExecutor {
	now := d.Now
	if now == nil {
		now = clock.System()
	}
	return &CommandExecutor{
		users:     d.Users,
		cookies:   d.Cookies,
		providers: d.Providers,
		sms:       d.SMS,
		numbers:   d.Numbers,
		now:       now,
		startedAt: now(),
	}
}

// Authorize выдаёт доступ.
func (e *CommandExecutor) Authorize(ctx context.Context, userID int64) (users.User, error) {
	if userID <= 0 {
		return users.User{}, fmt.Errorf("invalid user id %d", userID)
	}
	u, err := e.users.Authorize(ctx, userID)
	if err != nil {
		return users.User{}, fmt.Errorf("authorize %d: %w", userID, err)
	}
	logger.Info("user authorized", zap.Int64("user_id", userID))
	return u, nil
}

// Ban блокирует пользователя.
func (e *CommandExecutor) Ban(ctx context.Context, userID int64) (users.User, error) {
	if userID <= 0 {
		return users.User{}, fmt.Errorf("invalid user id %d", userID)
	}
	u, err := e.users.Ban(ctx, userID)
	if err != nil {
		return users.User{}, fmt.Errorf("ban %d: %w", userID, err)
	}
	logger.Info("user banned", zap.Int64("user_id", userID))
	return u, nil
}

// Unban снимает блокировку.
func (e *CommandExecutor) Unban(ctx context.Context, userID int64) (users.User, error) {
	u, err := e.users.Unban(ctx, userID)
	if err != nil {
		return users.User{}, fmt.Errorf("unban %d: %w", userID, err)
	}
	logger.Info("user unbanned", zap.Int64("user_id", userID))
	return u, nil
}

// TopUp пополняет баланс.
func (e *CommandExecutor) TopUp(ctx context.Context, userID int64, amount decimal.Decimal) (users.User, error) {
	if userID <= 0 {
		return users.User{}, fmt.Errorf("invalid user id %d", userID)
	}
	u, err := e.users.TopUp(ctx, userID, amount)
	if err != nil {
		return users.User{}, fmt.Errorf("topup %d: %w", userID, err)
	}
	logger.Info("balance topped up",
		zap.Int64("user_id", userID),
		zap.Stringer("amount", amount),
		zap.Stringer("balance", u.Balance))
	return u, nil
}

// SaveCookies разбирает строку (заголовок Cookie или JSON-экспорт браузера)
// и целиком заменяет cookies сервера. Просроченные отбрасываются.
func (e *CommandExecutor) SaveCookies(ctx context.Context, server, raw string) (*CookiesResult, error) {
	if strings.TrimSpace(server) == "" {
		server = e.providers.Default()
	}
	if !e.providers.Has(server) {
		return nil, fmt.Errorf("save cookies: %w: %q", provider.ErrUnknownServer, server)
	}
	parsed, err := provider.ParseCookies(raw)
	if err != nil {
		return nil, fmt.Errorf("save cookies: %w", err)
	}
	live := provider.Live(parsed, e.now())
	if len(live) == 0 {
		return nil, fmt.Errorf("save cookies: %w (%d)", ErrCookiesExpired, len(parsed))
	}
	if err := e.cookies.SaveCookies(ctx, server, live); err != nil {
		return nil, fmt.Errorf("save cookies: %w", err)
	}
	logger.Info("cookies saved", zap.String("server", server), zap.Int("count", len(live)))
	return &CookiesResult{Server: server, Saved: len(live), Expired: len(parsed) - len(live)}, nil
}

// Status собирает сводку.
func (e *CommandExecutor) Status(ctx context.Context) (*StatusResult, error) {
	list, err := e.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	now := e.now()
	res := &StatusResult{
		Users:     len(list),
		Requests:  e.sms.Stats(),
		StartedAt: e.startedAt,
		Uptime:    now.Sub(e.startedAt),
	}
	if e.numbers != nil {
		res.NumberSessions = e.numbers.Len()
	}
	for _, u := range list {
		switch {
		case u.IsAdmin():
			res.Admins++
		case u.Banned:
			res.Banned++
		case u.Authorized:
			res.Authorized++
		}
	}

	def := e.providers.Default()
	for _, name := range e.providers.Names() {
		st := ServerStatus{Name: name, Default: name == def}
		cookies, err := e.cookies.LoadCookies(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("status: load cookies %s: %w", name, err)
		}
		live := provider.Live(cookies, now)
		st.LiveCookies = len(live)
		for _, c := range live {
			if c.Expires.IsZero() {
				continue
			}
			if st.CookiesExpire.IsZero() || c.Expires.Before(st.CookiesExpire) {
				st.CookiesExpire = c.Expires
			}
		}
		res.Servers = append(res.Servers, st)
	}
	return res, nil
}

// User возвращает пользователя.
func (e *CommandExecutor) User(ctx context.Context, userID int64) (users.User, error) {
	return e.users.Get(ctx, userID)
}

// Users возвращает всех пользователей.
func (e *CommandExecutor) Users(ctx context.Context) ([]users.User, error) {
	return e.users.List(ctx)
}

// Version возвращает информацию о сборке.
func (e *CommandExecutor) Version(context.Context) (*VersionResult, error) {
	return &VersionResult{Name: versioninfo.Name, Version: versioninfo.Version}, nil
}
