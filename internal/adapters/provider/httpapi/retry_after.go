package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"telegram-smsbot/internal/infra/throttle"
)

// maxRetryAfter — верхняя граница паузы, которую мы готовы выдержать по указанию сервиса.
const maxRetryAfter = 30 * time.Second

// rateLimitedError — ответ 429 с Retry-After. В отличие от provider.Error не
// запрещает повтор: троттлер выдерживает паузу и повторяет запрос.
type rateLimitedError struct {
	wait time.Duration
	last error
}

func (e *rateLimitedError) Error() string { return e.last.Error() }

func (e *rateLimitedError) Unwrap() error { return e.last }

// RetryAfter возвращает паузу, запрошенную сервисом.
func (e *rateLimitedError) RetryAfter() time.Duration { return e.wait }

// StopRetry разрешает троттлеру повторить вызов.
func (e *rateLimitedError) StopRetry() bool { return false }

// RetryAfterExtractor — throttle.WaitExtractor для ответов 429 с Retry-After.
// Пауза соблюдается ровно, без джиттера.
func RetryAfterExtractor() throttle.WaitExtractor {
	return func(err error) (time.Duration, bool) {
		var rl *rateLimitedError
		if !errors.As(err, &rl) || rl.wait <= 0 {
			return 0, false
		}
		return rl.wait, true
	}
}

// parseRetryAfter понимает оба формата заголовка: секунды и HTTP-дату.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	var wait time.Duration
	if secs, err := strconv.Atoi(v); err == nil {
		wait = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(v); err == nil {
		wait = at.Sub(now)
	}
	if wait <= 0 {
		return 0
	}
	return min(wait, maxRetryAfter)
}
