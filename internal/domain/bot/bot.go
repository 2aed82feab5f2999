// Package bot — обработка входящих событий чата: команды, обычный текст с номерами
// и нажатия inline-кнопок. Пакет не знает о транспорте: события приходят как
// Incoming, ответы уходят через порт Chat.
//
// Ошибки инфраструктуры (апстрим, хранилище) превращаются здесь в понятный ответ
// пользователю и запись в лог; наружу возвращается только ошибка отправки ответа.
package bot

import (
	"context"
	"errors"
	"strings"
	"time"

	"telegram-smsbot/internal/adapters/provider"
	"telegram-smsbot/internal/domain/commands"
	"telegram-smsbot/internal/domain/history"
	"telegram-smsbot/internal/domain/requests"
	"telegram-smsbot/internal/domain/users"
	"telegram-smsbot/internal/infra/clock"
	"telegram-smsbot/internal/infra/concurrency"
	"telegram-smsbot/internal/infra/logger"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultPageSize — элементов на странице меню стран и диапазонов.
const DefaultPageSize = 8

// Incoming — входящее событие: сообщение (Text) или нажатие кнопки (Data).
type Incoming struct {
	UserID    int64
	Username  string
	FirstName string
	// MessageID — сообщение с клавиатурой, на которой нажали кнопку.
	MessageID int
	// QueryID — id callback-запроса; ноль для обычных сообщений.
	QueryID int64
	Text    string
	Data    string
}

// IsCallback сообщает, что событие — нажатие inline-кнопки.
func (in Incoming) IsCallback() bool { return in.QueryID != 0 }

func (in Incoming) identity() users.Identity {
	return users.Identity{ID: in.UserID, Username: in.Username, FirstName: in.FirstName}
}

// Button — inline-кнопка.
type Button struct {
	Text string
	Data string
}

// Keyboard — строки inline-кнопок.
type Keyboard [][]Button

// Chat — исходящий порт транспорта.
type Chat interface {
	// Reply отправляет новое сообщение в чат пользователя.
	Reply(ctx context.Context, in Incoming, text string, kb Keyboard) error
	// Edit заменяет текст и клавиатуру сообщения in.MessageID.
	Edit(ctx context.Context, in Incoming, text string, kb Keyboard) error
	// AnswerCallback закрывает «часики» на кнопке; непустой text показывается всплывающим уведомлением.
	AnswerCallback(ctx context.Context, in Incoming, text string) error
	// Notify пишет пользователю вне контекста входящего события.
	Notify(ctx context.Context, userID int64, text string) error
}

// Deps — зависимости Bot.
type Deps struct {
	Chat      Chat
	Users     *users.Service
	Admin     commands.Executor
	Providers *provider.Registry
	SMS       *requests.SMSRegistry
	Numbers   *requests.NumberRegistry
	History   history.Log
	Dedup     *concurrency.Deduplicator
	// CheckCost — плата за одну проверку SMS.
	CheckCost decimal.Decimal
	PageSize  int
	Location  *time.Location
	Now       clock.Clock
}

// Bot — обработчик событий.
type Bot struct {
	chat      Chat
	users     *users.Service
	admin     commands.Executor
	providers *provider.Registry
	sms       *requests.SMSRegistry
	numbers   *requests.NumberRegistry
	history   history.Log
	dedup     *concurrency.Deduplicator
	cost      decimal.Decimal
	pageSize  int
	loc       *time.Location
	now       clock.Clock
}

// New собирает обработчик.
func New(d Deps) *Bot {
	b := &Bot{
		chat:      d.Chat,
		users:     d.Users,
		admin:     d.Admin,
		providers: d.Providers,
		sms:       d.SMS,
		numbers:   d.Numbers,
		history:   d.History,
		dedup:     d.Dedup,
		cost:      d.CheckCost,
		pageSize:  d.PageSize,
		loc:       d.Location,
		now:       d.Now,
	}
	if b.pageSize <= 0 {
		b.pageSize = DefaultPageSize
	}
	if b.loc == nil {
		b.loc = time.UTC
	}
	if b.now == nil {
		b.now = clock.System()
	}
	return b
}

// HandleMessage обрабатывает текстовое сообщение: команду или текст с номерами.
func (b *Bot) HandleMessage(ctx context.Context, in Incoming) error {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil
	}

	u, err := b.users.Ensure(ctx, in.identity())
	if err != nil {
		return b.fail(ctx, in, "ensure user", err)
	}

	if !strings.HasPrefix(text, "/") {
		return b.handleText(ctx, in, u, text)
	}

	name, args := parseCommand(text)
	logger.Debug("command received",
		zap.Int64("user_id", in.UserID),
		zap.String("command", name),
		zap.Int("args", len(args)))

	switch name {
	case "start":
		return b.cmdStart(ctx, in, u)
	case "info", "help":
		return b.cmdInfo(ctx, in, u)
	case "balance":
		return b.cmdBalance(ctx, in, u)
	case "profile":
		return b.cmdProfile(ctx, in, u)
	case "sms":
		return b.cmdSMS(ctx, in, u, args)
	case "mysms":
		return b.cmdMySMS(ctx, in, u)
	case "numbers":
		return b.cmdNumbers(ctx, in, u, args)
	case "cancel":
		return b.cmdCancel(ctx, in, u, args)
	case "authorize", "ban", "unban", "topup", "savecookie", "status":
		return b.handleAdmin(ctx, in, name, args, rawArgs(text))
	default:
		return b.reply(ctx, in, msgUnknownCommand, nil)
	}
}

// HandleCallback обрабатывает нажатие inline-кнопки.
func (b *Bot) HandleCallback(ctx context.Context, in Incoming) error {
	u, err := b.users.Ensure(ctx, in.identity())
	if err != nil {
		_ = b.chat.AnswerCallback(ctx, in, "")
		return b.fail(ctx, in, "ensure user", err)
	}
	if err := b.users.CheckAccess(u); err != nil {
		return b.chat.AnswerCallback(ctx, in, accessDeniedText(u, err))
	}

	cb, err := parseCallback(in.Data)
	if err != nil {
		logger.Warn("bad callback data", zap.String("data", in.Data), zap.Error(err))
		return b.chat.AnswerCallback(ctx, in, msgStaleButton)
	}

	switch cb.kind {
	case callbackCountries:
		return b.onCountriesPage(ctx, in, cb)
	case callbackCountry:
		return b.onCountry(ctx, in, u, cb)
	case callbackRange:
		return b.onRange(ctx, in, u, cb)
	case callbackCheck:
		if err := b.chat.AnswerCallback(ctx, in, msgChecking); err != nil {
			logger.Debug("answer callback failed", zap.Error(err))
		}
		return b.checkNumber(ctx, in, u, cb.server, cb.number)
	}
	return b.chat.AnswerCallback(ctx, in, msgStaleButton)
}

// respond отвечает новым сообщением или, для нажатия кнопки, правкой исходного.
func (b *Bot) respond(ctx context.Context, in Incoming, text string, kb Keyboard) error {
	if in.IsCallback() && in.MessageID != 0 {
		return b.chat.Edit(ctx, in, text, kb)
	}
	return b.chat.Reply(ctx, in, text, kb)
}

func (b *Bot) reply(ctx context.Context, in Incoming, text string, kb Keyboard) error {
	return b.chat.Reply(ctx, in, text, kb)
}

// fail пишет ошибку в лог и отвечает пользователю понятным текстом.
func (b *Bot) fail(ctx context.Context, in Incoming, op string, err error) error {
	fields := []zap.Field{zap.Int64("user_id", in.UserID), zap.String("op", op), zap.Error(err)}
	switch {
	case errors.Is(err, context.Canceled):
		return nil
	case errors.Is(err, provider.ErrAuthRequired), errors.Is(err, provider.ErrUpstream):
		logger.Warn("upstream call failed", fields...)
	case isUserError(err):
		logger.Debug("request rejected", fields...)
	default:
		logger.Error("handler failed", fields...)
	}
	return b.respond(ctx, in, errorText(err), nil)
}

// parseCommand выделяет имя команды (без "/" и "@botname") и аргументы.
func parseCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil
	}
	name := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name), fields[1:]
}

// rawArgs возвращает текст после имени команды без изменений (для cookies с пробелами).
func rawArgs(text string) string {
	text = strings.TrimSpace(text)
	i := strings.IndexFunc(text, func(r rune) bool { return r == ' ' || r == '\n' || r == '\t' })
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(text[i:])
}
