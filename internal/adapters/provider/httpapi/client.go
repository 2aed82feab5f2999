// Package httpapi — реализация provider.Provider поверх JSON HTTP API сервиса
// перепродажи номеров.
//
// Особенности:
//   - cookies сессии читаются из CookieStore перед каждым запросом, поэтому
//     /savecookie начинает действовать без перезапуска;
//   - 401/403 и редирект на страницу входа → provider.ErrAuthRequired;
//   - прочие не-2xx → provider.ErrUpstream, без повторов;
//   - 429 с Retry-After выдерживается троттлером ровно один раз.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"telegram-smsbot/internal/adapters/provider"
	"telegram-smsbot/internal/domain/smsmatch"
	"telegram-smsbot/internal/infra/clock"
	"telegram-smsbot/internal/infra/logger"
	"telegram-smsbot/internal/infra/throttle"

	"go.uber.org/zap"
)

const (
	// defaultTimeout — таймаут HTTP-клиента по умолчанию.
	defaultTimeout = 30 * time.Second
	// maxBodyBytes — ограничение размера читаемого ответа.
	maxBodyBytes = 4 << 20
	// loginPath — признак редиректа на форму входа.
	loginPath = "/login"
	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"
)

// Options — параметры клиента.
type Options struct {
	Name      string
	BaseURL   string
	Cookies   provider.CookieStore
	Throttler *throttle.Throttler
	Timeout   time.Duration
	// HTTPClient позволяет подменить транспорт (тесты). Редиректы он должен не выполнять.
	HTTPClient *http.Client
	Now        clock.Clock
}

// Client — один сервер сервиса.
type Client struct {
	name     string
	base     *url.URL
	cookies  provider.CookieStore
	throttle *throttle.Throttler
	http     *http.Client
	now      clock.Clock
}

var _ provider.Provider = (*Client)(nil)

// New создаёт клиента. BaseURL обязателен и должен быть абсолютным.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", opts.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", opts.BaseURL)
	}
	if opts.Cookies == nil {
		return nil, fmt.Errorf("server %q: cookie store is required", opts.Name)
	}

	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	now := opts.Now
	if now == nil {
		now = clock.System()
	}
	name := opts.Name
	if name == "" {
		name = base.Host
	}

	return &Client{
		name:     name,
		base:     base,
		cookies:  opts.Cookies,
		throttle: opts.Throttler,
		http:     hc,
		now:      now,
	}, nil
}

// Name возвращает имя сервера.
func (c *Client) Name() string { return c.name }

// Countries возвращает список стран.
func (c *Client) Countries(ctx context.Context) ([]provider.Country, error) {
	var out []provider.Country
	if err := c.call(ctx, "countries", http.MethodGet, "/api/countries", nil, nil, &out); err != nil {
		return nil, err
	}
	provider.SortCountries(out)
	return out, nil
}

// Ranges возвращает диапазоны номеров страны.
func (c *Client) Ranges(ctx context.Context, countryID string) ([]provider.Range, error) {
	var out []provider.Range
	path := "/api/countries/" + url.PathEscape(countryID) + "/ranges"
	if err := c.call(ctx, "ranges", http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// BuyNumbers покупает quantity номеров из диапазона и возвращает их.
func (c *Client) BuyNumbers(ctx context.Context, rangeID string, quantity int) ([]string, error) {
	if quantity <= 0 {
		quantity = 1
	}
	body := struct {
		Quantity int `json:"quantity"`
	}{Quantity: quantity}

	var resp []struct {
		Number string `json:"number"`
	}
	path := "/api/ranges/" + url.PathEscape(rangeID) + "/numbers"
	if err := c.call(ctx, "buy numbers", http.MethodPost, path, nil, body, &resp); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(resp))
	for _, r := range resp {
		if n := strings.TrimSpace(r.Number); n != "" {
			out = append(out, n)
		}
	}
	return out, nil
}

// LookupSMS возвращает SMS-записи, которые сервис отдаёт по номеру. Сопоставление
// с номером выполняет вызывающий код (smsmatch).
func (c *Client) LookupSMS(ctx context.Context, number string) ([]smsmatch.Record, error) {
	var resp struct {
		Data []smsmatch.Record `json:"data"`
	}
	query := url.Values{"number": {number}}
	if err := c.call(ctx, "lookup sms", http.MethodGet, "/api/sms", query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// call выполняет запрос через троттлер (если задан).
func (c *Client) call(ctx context.Context, op, method, path string, query url.Values, in, out any) error {
	do := func() error { return c.do(ctx, op, method, path, query, in, out) }
	if c.throttle == nil {
		return do()
	}
	return c.throttle.Do(ctx, do)
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, in, out any) error {
	cookies, err := c.cookies.LoadCookies(ctx, c.name)
	if err != nil {
		return c.fail(op, 0, provider.ErrAuthRequired, err)
	}
	cookies = provider.Live(cookies, c.now())
	if len(cookies) == 0 {
		return c.fail(op, 0, provider.ErrAuthRequired, provider.ErrNoCookies)
	}

	u := *c.base
	u.Path = c.base.Path + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, ck := range cookies {
		req.AddCookie(&http.Cookie{Name: ck.Name, Value: ck.Value})
		if ck.Name == "XSRF-TOKEN" {
			if v, err := url.QueryUnescape(ck.Value); err == nil {
				req.Header.Set("X-XSRF-TOKEN", v)
			}
		}
	}

	started := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return c.fail(op, 0, provider.ErrUpstream, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return c.fail(op, resp.StatusCode, provider.ErrUpstream, err)
	}

	logger.Debug("provider call",
		zap.String("server", c.name),
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", c.now().Sub(started)))

	if err := c.handleHTTPStatus(op, resp, raw); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return c.fail(op, resp.StatusCode, provider.ErrUpstream, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// handleHTTPStatus классифицирует ответ: nil для 2xx, иначе provider.Error
// (или rateLimitedError для 429 с Retry-After).
func (c *Client) handleHTTPStatus(op string, resp *http.Response, body []byte) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		if looksLikeLoginPage(resp, body) {
			return c.fail(op, code, provider.ErrAuthRequired, nil)
		}
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return c.fail(op, code, provider.ErrAuthRequired, nil)
	case code >= 300 && code < 400:
		if strings.Contains(resp.Header.Get("Location"), loginPath) {
			return c.fail(op, code, provider.ErrAuthRequired, nil)
		}
		return c.fail(op, code, provider.ErrUpstream, nil)
	case code == http.StatusTooManyRequests:
		if wait := parseRetryAfter(resp.Header.Get("Retry-After"), c.now()); wait > 0 {
			return &rateLimitedError{wait: wait, last: c.fail(op, code, provider.ErrUpstream, nil)}
		}
	}
	return c.fail(op, code, provider.ErrUpstream, errors.New(snippet(body)))
}

func (c *Client) fail(op string, status int, kind, cause error) error {
	return &provider.Error{Server: c.name, Op: op, Status: status, Kind: kind, Err: cause}
}

// looksLikeLoginPage ловит ответ 200 с HTML-формой входа вместо JSON.
func looksLikeLoginPage(resp *http.Response, body []byte) bool {
	if strings.Contains(resp.Header.Get("Content-Type"), "json") {
		return false
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] == '{' || trimmed[0] == '[' {
		return false
	}
	lower := bytes.ToLower(trimmed)
	return bytes.Contains(lower, []byte("<form")) && bytes.Contains(lower, []byte("password"))
}

func snippet(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if utf8.RuneCountInString(s) > limit {
		s = string([]rune(s)[:limit]) + "…"
	}
	if s == "" {
		s = "empty body"
	}
	return s
}
