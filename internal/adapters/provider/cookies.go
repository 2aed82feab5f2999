package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrNoCookies — для сервера не сохранено ни одной cookie.
var ErrNoCookies = errors.New("provider: no cookies stored")

// Cookie — сессионная cookie сервиса.
type Cookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Domain  string    `json:"domain,omitempty"`
	Path    string    `json:"path,omitempty"`
	Expires time.Time `json:"expires,omitzero"`
}

// Expired сообщает, что срок cookie истёк к моменту now. Cookie без срока не истекает.
func (c Cookie) Expired(now time.Time) bool {
	return !c.Expires.IsZero() && !now.Before(c.Expires)
}

// HTTP переводит cookie в net/http представление.
func (c Cookie) HTTP() *http.Cookie {
	return &http.Cookie{Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path, Expires: c.Expires}
}

// CookieStore — долговременное хранилище cookies по имени сервера.
type CookieStore interface {
	SaveCookies(ctx context.Context, server string, cookies []Cookie) error
	LoadCookies(ctx context.Context, server string) ([]Cookie, error)
}

// Live отфильтровывает истёкшие cookies. Пустой результат означает, что
// сессия недействительна.
func Live(cookies []Cookie, now time.Time) []Cookie {
	out := make([]Cookie, 0, len(cookies))
	for _, c := range cookies {
		if !c.Expired(now) && c.Value != "" {
			out = append(out, c)
		}
	}
	return out
}

// exportedCookie — формат экспорта браузерных расширений (EditThisCookie и аналоги).
type exportedCookie struct {
	Name           string  `json:"name"`
	Value          string  `json:"value"`
	Domain         string  `json:"domain"`
	Path           string  `json:"path"`
	ExpirationDate float64 `json:"expirationDate"`
}

// ParseCookies разбирает строку, присланную администратором. Поддерживаются
// заголовок Cookie ("a=1; b=2") и JSON-массив экспорта браузера.
func ParseCookies(raw string) ([]Cookie, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrNoCookies
	}

	if strings.HasPrefix(raw, "[") {
		var exported []exportedCookie
		if err := json.Unmarshal([]byte(raw), &exported); err != nil {
			return nil, fmt.Errorf("parse cookie json: %w", err)
		}
		out := make([]Cookie, 0, len(exported))
		for _, e := range exported {
			if e.Name == "" {
				continue
			}
			c := Cookie{Name: e.Name, Value: e.Value, Domain: e.Domain, Path: e.Path}
			if e.ExpirationDate > 0 {
				c.Expires = time.Unix(int64(e.ExpirationDate), 0).UTC()
			}
			out = append(out, c)
		}
		if len(out) == 0 {
			return nil, ErrNoCookies
		}
		return out, nil
	}

	parsed, err := http.ParseCookie(raw)
	if err != nil {
		return nil, fmt.Errorf("parse cookie header: %w", err)
	}
	out := make([]Cookie, 0, len(parsed))
	for _, c := range parsed {
		out = append(out, Cookie{Name: c.Name, Value: c.Value})
	}
	if len(out) == 0 {
		return nil, ErrNoCookies
	}
	return out, nil
}
