package bot

import (
	"context"
	"fmt"
	"strings"

	"telegram-smsbot/internal/domain/history"
	"telegram-smsbot/internal/domain/phone"
	"telegram-smsbot/internal/domain/users"
	"telegram-smsbot/internal/infra/logger"

	"go.uber.org/zap"
)

// maxNumbersPerMessage — сколько номеров из одного сообщения проверяется за раз.
const maxNumbersPerMessage = 5

func (b *Bot) cmdStart(ctx context.Context, in Incoming, u users.User) error {
	if err := b.users.CheckAccess(u); err != nil {
		return b.reply(ctx, in, "👋 Welcome!\n\n"+accessDeniedText(u, err), nil)
	}
	text := fmt.Sprintf("👋 Welcome, %s!\n\nSend me a phone number to check its SMS, or use /numbers to get a new one.\nBalance: %s. Send /info for help.",
		u.DisplayName(), money(u.Balance))
	return b.reply(ctx, in, text, nil)
}

func (b *Bot) cmdInfo(ctx context.Context, in Incoming, u users.User) error {
	return b.reply(ctx, in, b.renderInfo(u), nil)
}

func (b *Bot) cmdBalance(ctx context.Context, in Incoming, u users.User) error {
	if u.Banned {
		return b.reply(ctx, in, errorText(users.ErrBanned), nil)
	}
	return b.reply(ctx, in, b.renderBalance(u), nil)
}

func (b *Bot) cmdProfile(ctx context.Context, in Incoming, u users.User) error {
	if u.Banned {
		return b.reply(ctx, in, errorText(users.ErrBanned), nil)
	}
	return b.reply(ctx, in, b.renderProfile(u), nil)
}

// cmdSMS: /sms [server] <number> [number…]. Первый аргумент считается сервером,
// если совпадает с именем из реестра.
func (b *Bot) cmdSMS(ctx context.Context, in Incoming, u users.User, args []string) error {
	if err := b.users.CheckAccess(u); err != nil {
		return b.reply(ctx, in, accessDeniedText(u, err), nil)
	}
	server := b.providers.Default()
	if len(args) > 1 && b.providers.Has(args[0]) {
		server, args = args[0], args[1:]
	}
	if len(args) == 0 {
		return b.reply(ctx, in, usageSMS, nil)
	}
	for i, n := range resolveNumbers(args) {
		if i == maxNumbersPerMessage {
			break
		}
		if err := b.checkNumber(ctx, in, u, server, n); err != nil {
			return err
		}
	}
	return nil
}

// resolveNumbers разбирает аргументы /sms теми же шаблонами, что и обычный текст.
// Токены, не подошедшие ни под один шаблон, склеиваются: так «(234) 567-8900»
// остаётся одним номером. Если и склейка не нормализуется, токены возвращаются
// как есть, чтобы checkNumber ответил о неверном номере.
func resolveNumbers(args []string) []string {
	var out, rest []string
	seen := make(map[string]struct{})
	add := func(n string) {
		if _, dup := seen[n]; !dup {
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}
	for _, arg := range args {
		c, matched := phone.Classify(arg)
		switch {
		case matched && c.Normalized != "":
			add(c.Normalized)
		case matched:
			out = append(out, arg)
		default:
			rest = append(rest, arg)
		}
	}
	if len(rest) == 0 {
		return out
	}
	if n, ok := phone.Normalize(strings.Join(rest, "")); ok && phone.IsValid(n) {
		add(n)
		return out
	}
	for _, arg := range rest {
		if n, ok := phone.Normalize(arg); ok && phone.IsValid(n) {
			add(n)
		} else {
			out = append(out, arg)
		}
	}
	return out
}

// handleText ищет номера в обычном сообщении и проверяет каждый как /sms.
func (b *Bot) handleText(ctx context.Context, in Incoming, u users.User, text string) error {
	if err := b.users.CheckAccess(u); err != nil {
		return b.reply(ctx, in, accessDeniedText(u, err), nil)
	}
	numbers := phone.Detect(text)
	if len(numbers) == 0 {
		return b.reply(ctx, in, msgNoNumbers, nil)
	}
	logger.Debug("numbers detected", zap.Int64("user_id", u.ID), zap.Strings("numbers", numbers))

	server := b.providers.Default()
	for i, n := range numbers {
		if i == maxNumbersPerMessage {
			break
		}
		if err := b.checkNumber(ctx, in, u, server, n); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) cmdMySMS(ctx context.Context, in Incoming, u users.User) error {
	if err := b.users.CheckAccess(u); err != nil {
		return b.reply(ctx, in, accessDeniedText(u, err), nil)
	}
	active := b.sms.ByUser(u.ID)
	var recent []history.Entry
	if b.history != nil {
		var err error
		recent, err = b.history.Recent(ctx, u.ID, history.DefaultLimit)
		if err != nil {
			return b.fail(ctx, in, "recent sms", err)
		}
	}
	var kb Keyboard
	now := b.now()
	for _, r := range active {
		if r.Active(now) {
			kb = append(kb, []Button{{Text: "🔄 " + phone.Format(r.Phone), Data: checkData(r.Server, r.Phone)}})
		}
	}
	return b.reply(ctx, in, b.renderMySMS(active, recent), kb)
}

// cmdCancel: /cancel <number> [server].
func (b *Bot) cmdCancel(ctx context.Context, in Incoming, u users.User, args []string) error {
	if err := b.users.CheckAccess(u); err != nil {
		return b.reply(ctx, in, accessDeniedText(u, err), nil)
	}
	if len(args) == 0 {
		return b.reply(ctx, in, usageCancel, nil)
	}
	number, ok := phone.Normalize(args[0])
	if !ok {
		return b.reply(ctx, in, fmt.Sprintf(msgInvalidNumber, args[0]), nil)
	}
	server := b.providers.Default()
	if len(args) > 1 {
		server = args[1]
	}
	if _, err := b.sms.Cancel(u.ID, number, server); err != nil {
		return b.fail(ctx, in, "cancel", err)
	}
	return b.reply(ctx, in, fmt.Sprintf("🛑 Stopped tracking %s.", phone.Format(number)), nil)
}
