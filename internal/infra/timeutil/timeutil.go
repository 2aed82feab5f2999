// Пакет timeutil содержит служебные функции для работы со временем:
// разбор таймзон из конфигурации и форматирование времени для ответов бота.
package timeutil

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// displayLayout — формат времени в сообщениях бота.
const displayLayout = "2006-01-02 15:04:05"

// utcOffsetRe: +HH, -HH, +HHMM, -HHMM, +HH:MM, -HH:MM
var utcOffsetRe = regexp.MustCompile(`^([+-])\s*(\d{1,2})(?::?(\d{2}))?$`)

// ParseLocation разбирает либо IANA‑таймзону (например, "Asia/Dhaka"),
// либо UTC‑смещение (например, "+06:00", "-0700", "UTC+6", "GMT-04:30").
func ParseLocation(value string) (*time.Location, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, errors.New("empty timezone")
	}
	if loc, err := time.LoadLocation(v); err == nil {
		return loc, nil
	}
	if loc, ok := ParseUTCOffsetToLocation(v); ok {
		return loc, nil
	}
	return nil, fmt.Errorf("invalid timezone %q: not an IANA name or UTC offset", value)
}

// ParseUTCOffsetToLocation парсит строки вида "+03:00", "-0700", "UTC+3", "GMT-04:30" или "Z".
func ParseUTCOffsetToLocation(value string) (*time.Location, bool) {
	v := strings.TrimSpace(strings.ToUpper(value))
	if v == "Z" || v == "UTC" || v == "GMT" {
		return time.FixedZone("UTC+00:00", 0), true
	}
	v = strings.TrimPrefix(v, "UTC")
	v = strings.TrimPrefix(v, "GMT")
	v = strings.TrimSpace(v)

	m := utcOffsetRe.FindStringSubmatch(v)
	if m == nil {
		return nil, false
	}
	sign := 1
	if m[1] == "-" {
		sign = -1
	}
	hours, err := strconv.Atoi(m[2])
	if err != nil {
		return nil, false
	}
	mins := 0
	if m[3] != "" {
		if mins, err = strconv.Atoi(m[3]); err != nil {
			return nil, false
		}
	}
	if hours > 14 || mins > 59 {
		return nil, false
	}
	offset := sign * (hours*int(time.Hour/time.Second) + mins*int(time.Minute/time.Second))
	name := fmt.Sprintf("UTC%+03d:%02d", sign*hours, mins)
	return time.FixedZone(name, offset), true
}

// FormatLocal форматирует t в таймзоне loc (UTC, если loc=nil). Нулевое время — "-".
func FormatLocal(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return "-"
	}
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(displayLayout)
}

// HumanizeRemaining возвращает остаток времени в виде "9m30s", округлённый до секунд.
// Отрицательные значения схлопываются в "0s".
func HumanizeRemaining(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	return d.Round(time.Second).String()
}
