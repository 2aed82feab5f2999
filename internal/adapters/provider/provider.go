// Package provider — граница с внешним сервисом перепродажи номеров.
//
// Бот видит сервис как набор «серверов» (Provider), каждый из которых умеет
// отдать список стран, диапазоны номеров в стране, купить номера из диапазона
// и вернуть SMS-записи по номеру. Аутентификация — сессионные cookies, которые
// администратор сохраняет через /savecookie; хранятся они в CookieStore.
package provider

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"telegram-smsbot/internal/domain/smsmatch"
)

var (
	// ErrAuthRequired — cookies отсутствуют или протухли, нужен администратор.
	ErrAuthRequired = errors.New("provider: authentication required")
	// ErrUpstream — сервис ответил не-2xx или недоступен; можно попробовать позже.
	ErrUpstream = errors.New("provider: upstream failure")
	// ErrUnknownServer — в реестре нет сервера с таким именем.
	ErrUnknownServer = errors.New("provider: unknown server")
)

// Error — ошибка обращения к серверу. Оборачивает ErrAuthRequired или ErrUpstream,
// поэтому проверяется через errors.Is. Повторы запросов не выполняются.
type Error struct {
	Server string
	Op     string
	Status int
	Kind   error
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Server, e.Op, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (http %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap отдаёт и вид ошибки, и исходную причину.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// StopRetry запрещает троттлеру повторять вызов.
func (e *Error) StopRetry() bool { return true }

// Country — страна назначения.
type Country struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Code string `json:"code,omitempty"`
}

// Range — диапазон номеров внутри страны.
type Range struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Prefix    string `json:"prefix,omitempty"`
	Available int    `json:"available"`
}

// Provider — один сервер внешнего сервиса.
type Provider interface {
	Name() string
	Countries(ctx context.Context) ([]Country, error)
	Ranges(ctx context.Context, countryID string) ([]Range, error)
	BuyNumbers(ctx context.Context, rangeID string, quantity int) ([]string, error)
	LookupSMS(ctx context.Context, number string) ([]smsmatch.Record, error)
}

// Registry — именованные серверы. Первый добавленный считается сервером по умолчанию.
type Registry struct {
	order []string
	byKey map[string]Provider
}

// NewRegistry собирает реестр. Повторное имя заменяет предыдущий сервер.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{byKey: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.Add(p)
	}
	return r
}

// Add регистрирует сервер.
func (r *Registry) Add(p Provider) {
	if p == nil {
		return
	}
	name := p.Name()
	if _, ok := r.byKey[name]; !ok {
		r.order = append(r.order, name)
	}
	r.byKey[name] = p
}

// Get возвращает сервер по имени; пустое имя означает сервер по умолчанию.
func (r *Registry) Get(name string) (Provider, error) {
	if name == "" {
		if len(r.order) == 0 {
			return nil, ErrUnknownServer
		}
		name = r.order[0]
	}
	p, ok := r.byKey[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownServer, name)
	}
	return p, nil
}

// Default возвращает имя сервера по умолчанию ("" если реестр пуст).
func (r *Registry) Default() string {
	if len(r.order) == 0 {
		return ""
	}
	return r.order[0]
}

// Names возвращает имена серверов в порядке регистрации.
func (r *Registry) Names() []string { return slices.Clone(r.order) }

// Has сообщает, зарегистрирован ли сервер.
func (r *Registry) Has(name string) bool {
	_, ok := r.byKey[name]
	return ok
}

// SortCountries упорядочивает страны по имени без учёта регистра.
func SortCountries(list []Country) {
	sort.SliceStable(list, func(i, j int) bool {
		return strings.ToLower(list[i].Name) < strings.ToLower(list[j].Name)
	})
}
