package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"telegram-smsbot/internal/domain/requests"
	"telegram-smsbot/internal/infra/logger"
	"telegram-smsbot/internal/infra/timeutil"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// handleAdmin выполняет команды администратора через commands.Executor.
// raw — текст после имени команды без разбиения (нужен /savecookie).
func (b *Bot) handleAdmin(ctx context.Context, in Incoming, name string, args []string, raw string) error {
	if !b.users.IsAdmin(ctx, in.UserID) {
		logger.Warn("admin command from non-admin", zap.Int64("user_id", in.UserID), zap.String("command", name))
		return b.reply(ctx, in, msgAdminOnly, nil)
	}

	switch name {
	case "authorize":
		id, ok := parseUserID(args)
		if !ok {
			return b.reply(ctx, in, usageAuthorize, nil)
		}
		u, err := b.admin.Authorize(ctx, id)
		if err != nil {
			return b.fail(ctx, in, "authorize", err)
		}
		b.notify(ctx, id, "✅ You have been authorized. Send /info to get started.")
		return b.reply(ctx, in, "✅ Authorized: "+userCard(u), nil)

	case "ban":
		id, ok := parseUserID(args)
		if !ok {
			return b.reply(ctx, in, usageBan, nil)
		}
		u, err := b.admin.Ban(ctx, id)
		if err != nil {
			return b.fail(ctx, in, "ban", err)
		}
		return b.reply(ctx, in, "🚫 Banned: "+userCard(u), nil)

	case "unban":
		id, ok := parseUserID(args)
		if !ok {
			return b.reply(ctx, in, usageUnban, nil)
		}
		u, err := b.admin.Unban(ctx, id)
		if err != nil {
			return b.fail(ctx, in, "unban", err)
		}
		return b.reply(ctx, in, "♻️ Unbanned: "+userCard(u), nil)

	case "topup":
		if len(args) != 2 {
			return b.reply(ctx, in, usageTopUp, nil)
		}
		id, ok := parseUserID(args[:1])
		amount, err := decimal.NewFromString(args[1])
		if !ok || err != nil {
			return b.reply(ctx, in, usageTopUp, nil)
		}
		u, err := b.admin.TopUp(ctx, id, amount)
		if err != nil {
			return b.fail(ctx, in, "topup", err)
		}
		b.notify(ctx, id, fmt.Sprintf("💰 Your balance was topped up by %s. Balance: %s", money(amount), money(u.Balance)))
		return b.reply(ctx, in, "💰 Topped up: "+userCard(u), nil)

	case "savecookie":
		server, cookies := b.splitServer(raw)
		if cookies == "" {
			return b.reply(ctx, in, usageSaveCookie, nil)
		}
		res, err := b.admin.SaveCookies(ctx, server, cookies)
		if err != nil {
			return b.fail(ctx, in, "save cookies", err)
		}
		text := fmt.Sprintf("🍪 Saved %d cookies for %s.", res.Saved, res.Server)
		if res.Expired > 0 {
			text += fmt.Sprintf(" Skipped %d expired.", res.Expired)
		}
		return b.reply(ctx, in, text, nil)

	case "status":
		return b.adminStatus(ctx, in)
	}
	return b.reply(ctx, in, msgUnknownCommand, nil)
}

func (b *Bot) adminStatus(ctx context.Context, in Incoming) error {
	st, err := b.admin.Status(ctx)
	if err != nil {
		return b.fail(ctx, in, "status", err)
	}
	v, _ := b.admin.Version(ctx)

	var sb strings.Builder
	if v != nil {
		fmt.Fprintf(&sb, "🤖 %s %s, up %s\n", v.Name, v.Version, timeutil.HumanizeRemaining(st.Uptime))
	}
	fmt.Fprintf(&sb, "👥 Users: %d (authorized %d, banned %d, admins %d)\n", st.Users, st.Authorized, st.Banned, st.Admins)
	fmt.Fprintf(&sb, "📋 Requests: pending %d, received %d, expired %d, cancelled %d\n",
		st.Requests[requests.StatusPending], st.Requests[requests.StatusReceived],
		st.Requests[requests.StatusExpired], st.Requests[requests.StatusCancelled])
	fmt.Fprintf(&sb, "🌍 Number sessions: %d\n", st.NumberSessions)
	sb.WriteString("🖥 Servers:")
	for _, s := range st.Servers {
		mark := ""
		if s.Default {
			mark = " (default)"
		}
		fmt.Fprintf(&sb, "\n• %s%s: %d live cookies", s.Name, mark, s.LiveCookies)
		if s.LiveCookies > 0 {
			fmt.Fprintf(&sb, ", expire %s", formatExpiry(s.CookiesExpire, b.loc))
		}
	}
	return b.reply(ctx, in, sb.String(), nil)
}

// splitServer отделяет необязательное имя сервера в начале аргументов.
func (b *Bot) splitServer(raw string) (string, string) {
	first, rest, _ := strings.Cut(raw, " ")
	if first != "" && b.providers.Has(first) {
		return first, strings.TrimSpace(rest)
	}
	return "", strings.TrimSpace(raw)
}

// notify — уведомление пользователю; ошибка только логируется.
func (b *Bot) notify(ctx context.Context, userID int64, text string) {
	if err := b.chat.Notify(ctx, userID, text); err != nil {
		logger.Debug("notify failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}

func parseUserID(args []string) (int64, bool) {
	if len(args) != 1 {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
