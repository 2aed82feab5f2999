package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"telegram-smsbot/internal/adapters/provider"
	"telegram-smsbot/internal/domain/phone"
	"telegram-smsbot/internal/domain/users"
	"telegram-smsbot/internal/infra/logger"
	"telegram-smsbot/internal/infra/timeutil"

	"go.uber.org/zap"
)

// Форматы callback data (поля через ":"):
//
//	cp:<server>:<page>                 страница стран
//	c:<server>:<countryID>:<page>      страница диапазонов страны
//	r:<server>:<countryID>:<rangeID>   покупка номера из диапазона
//	k:<server>:<number>                проверка SMS
type callbackKind string

const (
	callbackCountries callbackKind = "cp"
	callbackCountry   callbackKind = "c"
	callbackRange     callbackKind = "r"
	callbackCheck     callbackKind = "k"
)

// maxCallbackData — лимит Telegram на длину callback data в байтах.
const maxCallbackData = 64

// numbersPerPurchase — сколько номеров покупается за одно нажатие.
const numbersPerPurchase = 1

var errBadCallback = errors.New("malformed callback data")

type callback struct {
	kind      callbackKind
	server    string
	countryID string
	rangeID   string
	number    string
	page      int
}

func parseCallback(data string) (callback, error) {
	kind, rest, ok := strings.Cut(data, ":")
	if !ok {
		return callback{}, errBadCallback
	}
	cb := callback{kind: callbackKind(kind)}
	switch cb.kind {
	case callbackCountries:
		parts := strings.SplitN(rest, ":", 2)
		if len(parts) != 2 {
			return callback{}, errBadCallback
		}
		page, err := strconv.Atoi(parts[1])
		if err != nil || page < 0 {
			return callback{}, errBadCallback
		}
		cb.server, cb.page = parts[0], page
	case callbackCountry:
		parts := strings.SplitN(rest, ":", 3)
		if len(parts) != 3 || parts[1] == "" {
			return callback{}, errBadCallback
		}
		page, err := strconv.Atoi(parts[2])
		if err != nil || page < 0 {
			return callback{}, errBadCallback
		}
		cb.server, cb.countryID, cb.page = parts[0], parts[1], page
	case callbackRange:
		parts := strings.SplitN(rest, ":", 3)
		if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
			return callback{}, errBadCallback
		}
		cb.server, cb.countryID, cb.rangeID = parts[0], parts[1], parts[2]
	case callbackCheck:
		server, number, ok := strings.Cut(rest, ":")
		if !ok || number == "" {
			return callback{}, errBadCallback
		}
		cb.server, cb.number = server, number
	default:
		return callback{}, errBadCallback
	}
	return cb, nil
}

func countriesData(server string, page int) string {
	return string(callbackCountries) + ":" + server + ":" + strconv.Itoa(page)
}

func countryData(server, countryID string, page int) string {
	return string(callbackCountry) + ":" + server + ":" + countryID + ":" + strconv.Itoa(page)
}

func rangeData(server, countryID, rangeID string) string {
	return string(callbackRange) + ":" + server + ":" + countryID + ":" + rangeID
}

func checkData(server, number string) string {
	return string(callbackCheck) + ":" + server + ":" + number
}

// addButton добавляет кнопку, если её data укладывается в лимит Telegram.
func addButton(row []Button, text, data string) []Button {
	if len(data) > maxCallbackData {
		logger.Warn("callback data too long, button skipped", zap.String("data", data))
		return row
	}
	return append(row, Button{Text: text, Data: data})
}

// pageBounds возвращает срез [start,end) страницы page, исправленный номер страницы и число страниц.
func pageBounds(total, page, size int) (start, end, fixed, pages int) {
	pages = (total + size - 1) / size
	if pages == 0 {
		pages = 1
	}
	fixed = min(max(page, 0), pages-1)
	start = fixed * size
	end = min(start+size, total)
	return start, end, fixed, pages
}

// navRow — кнопки «назад/вперёд»; nil, если страница одна.
func navRow(page, pages int, data func(page int) string) []Button {
	if pages <= 1 {
		return nil
	}
	var row []Button
	if page > 0 {
		row = addButton(row, "◀️ Prev", data(page-1))
	}
	row = addButton(row, fmt.Sprintf("%d/%d", page+1, pages), data(page))
	if page < pages-1 {
		row = addButton(row, "Next ▶️", data(page+1))
	}
	return row
}

// cmdNumbers: /numbers [server] — меню выбора страны.
func (b *Bot) cmdNumbers(ctx context.Context, in Incoming, u users.User, args []string) error {
	if err := b.users.CheckAccess(u); err != nil {
		return b.reply(ctx, in, accessDeniedText(u, err), nil)
	}
	server := ""
	if len(args) > 0 {
		server = args[0]
	}
	prov, err := b.providers.Get(server)
	if err != nil {
		return b.fail(ctx, in, "resolve server", err)
	}
	text, kb, err := b.countriesPage(ctx, prov, 0)
	if err != nil {
		return b.fail(ctx, in, "countries", err)
	}
	return b.reply(ctx, in, text, kb)
}

func (b *Bot) countriesPage(ctx context.Context, prov provider.Provider, page int) (string, Keyboard, error) {
	countries, err := prov.Countries(ctx)
	if err != nil {
		return "", nil, err
	}
	if len(countries) == 0 {
		return msgNoCountries, nil, nil
	}
	server := prov.Name()
	start, end, page, pages := pageBounds(len(countries), page, b.pageSize)

	var kb Keyboard
	var row []Button
	for _, c := range countries[start:end] {
		row = addButton(row, c.Name, countryData(server, c.ID, 0))
		if len(row) == 2 {
			kb = append(kb, row)
			row = nil
		}
	}
	if len(row) > 0 {
		kb = append(kb, row)
	}
	if nav := navRow(page, pages, func(p int) string { return countriesData(server, p) }); nav != nil {
		kb = append(kb, nav)
	}
	text := fmt.Sprintf("🌍 Choose a country (server %s, %d available):", server, len(countries))
	return text, kb, nil
}

func (b *Bot) onCountriesPage(ctx context.Context, in Incoming, cb callback) error {
	prov, err := b.providers.Get(cb.server)
	if err != nil {
		_ = b.chat.AnswerCallback(ctx, in, msgStaleButton)
		return nil
	}
	_ = b.chat.AnswerCallback(ctx, in, "")
	text, kb, err := b.countriesPage(ctx, prov, cb.page)
	if err != nil {
		return b.fail(ctx, in, "countries", err)
	}
	return b.respond(ctx, in, text, kb)
}

func (b *Bot) onCountry(ctx context.Context, in Incoming, u users.User, cb callback) error {
	prov, err := b.providers.Get(cb.server)
	if err != nil {
		_ = b.chat.AnswerCallback(ctx, in, msgStaleButton)
		return nil
	}
	_ = b.chat.AnswerCallback(ctx, in, "")

	countryName := cb.countryID
	if countries, err := prov.Countries(ctx); err == nil {
		for _, c := range countries {
			if c.ID == cb.countryID {
				countryName = c.Name
				break
			}
		}
	}
	if cb.page == 0 {
		b.numbers.Begin(u.ID, prov.Name(), cb.countryID, countryName)
	}

	ranges, err := prov.Ranges(ctx, cb.countryID)
	if err != nil {
		return b.fail(ctx, in, "ranges", err)
	}
	server := prov.Name()
	back := []Button{{Text: "⬅️ Countries", Data: countriesData(server, 0)}}
	if len(ranges) == 0 {
		return b.respond(ctx, in, msgNoRanges, Keyboard{back})
	}

	start, end, page, pages := pageBounds(len(ranges), cb.page, b.pageSize)
	var kb Keyboard
	for _, r := range ranges[start:end] {
		label := r.Name
		if r.Available > 0 {
			label += fmt.Sprintf(" (%d)", r.Available)
		}
		if row := addButton(nil, label, rangeData(server, cb.countryID, r.ID)); len(row) > 0 {
			kb = append(kb, row)
		}
	}
	if nav := navRow(page, pages, func(p int) string { return countryData(server, cb.countryID, p) }); nav != nil {
		kb = append(kb, nav)
	}
	kb = append(kb, back)
	return b.respond(ctx, in, fmt.Sprintf("📶 %s: choose a range", countryName), kb)
}

// onRange покупает номер из диапазона и открывает для него запрос SMS.
func (b *Bot) onRange(ctx context.Context, in Incoming, u users.User, cb callback) error {
	prov, err := b.providers.Get(cb.server)
	if err != nil {
		_ = b.chat.AnswerCallback(ctx, in, msgStaleButton)
		return nil
	}
	server := prov.Name()

	key := "buy|" + dedupKey(u.ID, server, cb.rangeID)
	if b.dedup != nil && b.dedup.Seen(key) {
		return b.chat.AnswerCallback(ctx, in, "⏳ Purchase in progress…")
	}
	_ = b.chat.AnswerCallback(ctx, in, "")

	rangeName := cb.rangeID
	if ranges, err := prov.Ranges(ctx, cb.countryID); err == nil {
		for _, r := range ranges {
			if r.ID == cb.rangeID {
				rangeName = r.Name
				break
			}
		}
	}
	b.numbers.SelectRange(u.ID, server, cb.countryID, cb.rangeID, rangeName)

	bought, err := prov.BuyNumbers(ctx, cb.rangeID, numbersPerPurchase)
	if err != nil {
		if b.dedup != nil {
			b.dedup.Forget(key)
		}
		return b.fail(ctx, in, "buy numbers", err)
	}

	var normalized []string
	for _, raw := range bought {
		if n, ok := phone.Normalize(raw); ok {
			normalized = append(normalized, n)
		}
	}
	if len(normalized) == 0 {
		return b.respond(ctx, in, "😕 No numbers left in this range, please choose another one.",
			Keyboard{{{Text: "⬅️ Back", Data: countryData(server, cb.countryID, 0)}}})
	}
	if _, err := b.numbers.AddNumbers(u.ID, cb.countryID, normalized...); err != nil {
		logger.Warn("number registry update failed", zap.Int64("user_id", u.ID), zap.Error(err))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "✅ Your number (%s):\n", rangeName)
	var kb Keyboard
	for _, n := range normalized {
		if _, _, err := b.sms.Open(u.ID, n, server); err != nil {
			logger.Warn("open request for bought number failed", zap.String("number", n), zap.Error(err))
		}
		fmt.Fprintf(&sb, "\n%s", numberTitle(n))
		if row := addButton(nil, "📨 Check SMS "+phone.Format(n), checkData(server, n)); len(row) > 0 {
			kb = append(kb, row)
		}
	}
	fmt.Fprintf(&sb, "\n\nUse the number, then press the button to fetch the SMS. The request stays active for %s.",
		timeutil.HumanizeRemaining(b.sms.TTL()))
	logger.Info("numbers bought",
		zap.Int64("user_id", u.ID),
		zap.String("server", server),
		zap.String("range", cb.rangeID),
		zap.Strings("numbers", normalized))
	return b.respond(ctx, in, sb.String(), kb)
}
