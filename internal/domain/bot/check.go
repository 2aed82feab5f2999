package bot

import (
	"context"
	"fmt"
	"strconv"

	"telegram-smsbot/internal/domain/history"
	"telegram-smsbot/internal/domain/phone"
	"telegram-smsbot/internal/domain/smsmatch"
	"telegram-smsbot/internal/domain/users"
	"telegram-smsbot/internal/infra/logger"

	"go.uber.org/zap"
)

// checkNumber — проверка SMS для одного номера:
// дедупликация → запрос в реестре → апстрим → FindAll → списание → журнал → ответ.
// Списание происходит только после успешного ответа апстрима.
func (b *Bot) checkNumber(ctx context.Context, in Incoming, u users.User, server, raw string) error {
	number, ok := phone.Normalize(raw)
	if !ok || !phone.IsValid(number) {
		return b.respond(ctx, in, fmt.Sprintf(msgInvalidNumber, raw), nil)
	}

	prov, err := b.providers.Get(server)
	if err != nil {
		return b.fail(ctx, in, "resolve server", err)
	}
	server = prov.Name()

	// Отказ по балансу не занимает окно дедупликации: после пополнения можно повторить сразу.
	if !b.users.CanAfford(u, b.cost) {
		return b.fail(ctx, in, "check sms", users.ErrInsufficientBalance)
	}

	key := dedupKey(u.ID, server, number)
	if b.dedup != nil && b.dedup.Seen(key) {
		return b.respond(ctx, in, fmt.Sprintf(msgDuplicate, phone.Format(number)), nil)
	}

	req, created, err := b.sms.Open(u.ID, number, server)
	if err != nil {
		b.forget(key)
		return b.fail(ctx, in, "open request", err)
	}
	if created {
		logger.Info("sms request opened",
			zap.String("request_id", req.ID),
			zap.Int64("user_id", u.ID),
			zap.String("number", number),
			zap.String("server", server))
	}

	records, err := prov.LookupSMS(ctx, number)
	if err != nil {
		// Неудачную проверку можно повторить сразу, не дожидаясь окна.
		b.forget(key)
		return b.fail(ctx, in, "lookup sms", err)
	}
	matches := smsmatch.FindAll(records, number)

	charged, err := b.users.Charge(ctx, u.ID, b.cost)
	if err != nil {
		b.forget(key)
		return b.fail(ctx, in, "charge", err)
	}

	if cur, err := b.sms.RecordCheck(number, server); err == nil {
		req = cur
	}
	if len(matches) > 0 {
		if cur, err := b.sms.MarkReceived(number, server, len(matches)); err == nil {
			req = cur
		}
		b.appendHistory(ctx, u.ID, server, number, matches)
	}

	logger.Debug("sms check done",
		zap.String("request_id", req.ID),
		zap.String("number", number),
		zap.Int("records", len(records)),
		zap.Int("matches", len(matches)),
		zap.String("status", string(req.Status)))

	paid := b.cost.IsPositive() && !charged.IsAdmin()
	kb := Keyboard{{{Text: "🔄 Check again", Data: checkData(server, number)}}}
	return b.respond(ctx, in, b.renderCheck(req, matches, charged, paid), kb)
}

// forget освобождает окно дедупликации для key.
func (b *Bot) forget(key string) {
	if b.dedup != nil {
		b.dedup.Forget(key)
	}
}

// appendHistory пишет найденные SMS в журнал. Ошибка журнала не мешает ответу.
func (b *Bot) appendHistory(ctx context.Context, userID int64, server, number string, matches []smsmatch.Match) {
	if b.history == nil {
		return
	}
	now := b.now()
	entries := make([]history.Entry, 0, len(matches))
	for _, m := range matches {
		entries = append(entries, history.Entry{
			UserID:    userID,
			Number:    number,
			Server:    server,
			Sender:    m.Record.Sender,
			Message:   m.Record.Message,
			Date:      m.Record.Date,
			Strategy:  string(m.Strategy),
			CheckedAt: now,
		})
	}
	added, err := b.history.Append(ctx, entries...)
	if err != nil {
		logger.Warn("history append failed", zap.Int64("user_id", userID), zap.Error(err))
		return
	}
	if added > 0 {
		logger.Debug("history appended", zap.Int64("user_id", userID), zap.Int("added", added))
	}
}

func dedupKey(userID int64, server, number string) string {
	return strconv.FormatInt(userID, 10) + "|" + server + "|" + number
}
