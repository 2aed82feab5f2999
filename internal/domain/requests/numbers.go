package requests

import (
	"slices"
	"time"

	"telegram-smsbot/internal/infra/clock"
)

// NumberKey — ключ незавершённой покупки номера.
type NumberKey struct {
	UserID    int64
	CountryID string
}

// NumberRequest — выбор пользователя в меню «страна → диапазон → номер».
type NumberRequest struct {
	UserID      int64
	CountryID   string
	CountryName string
	RangeID     string
	RangeName   string
	Server      string
	Numbers     []string
	CreatedAt   time.Time
}

// NumberRegistry хранит незавершённые покупки номеров по ключу (пользователь, страна).
type NumberRegistry struct {
	store Store[NumberKey, NumberRequest]
	now   clock.Clock
}

// NewNumberRegistry создаёт реестр; nil-аргументы заменяются значениями по умолчанию.
func NewNumberRegistry(store Store[NumberKey, NumberRequest], now clock.Clock) *NumberRegistry {
	if store == nil {
		store = NewMemoryStore[NumberKey, NumberRequest]()
	}
	if now == nil {
		now = clock.System()
	}
	return &NumberRegistry{store: store, now: now}
}

// Begin начинает (или перезапускает) выбор номера в стране.
func (r *NumberRegistry) Begin(userID int64, server, countryID, countryName string) NumberRequest {
	req := NumberRequest{
		UserID:      userID,
		CountryID:   countryID,
		CountryName: countryName,
		Server:      server,
		CreatedAt:   r.now(),
	}
	r.store.Put(NumberKey{UserID: userID, CountryID: countryID}, req)
	return req
}

// SelectRange запоминает выбранный диапазон. Если выбор по стране ещё не начат,
// запись создаётся.
func (r *NumberRegistry) SelectRange(userID int64, server, countryID, rangeID, rangeName string) NumberRequest {
	now := r.now()
	req, _ := r.store.Update(NumberKey{UserID: userID, CountryID: countryID},
		func(cur NumberRequest, ok bool) (NumberRequest, bool) {
			if !ok {
				cur = NumberRequest{UserID: userID, CountryID: countryID, CreatedAt: now}
			}
			cur.Server = server
			cur.RangeID = rangeID
			cur.RangeName = rangeName
			return cur, true
		})
	return req
}

// AddNumbers добавляет купленные номера к выбору, пропуская повторы.
func (r *NumberRegistry) AddNumbers(userID int64, countryID string, numbers ...string) (NumberRequest, error) {
	var found bool
	req, _ := r.store.Update(NumberKey{UserID: userID, CountryID: countryID},
		func(cur NumberRequest, ok bool) (NumberRequest, bool) {
			if !ok {
				return cur, false
			}
			found = true
			for _, n := range numbers {
				if !slices.Contains(cur.Numbers, n) {
					cur.Numbers = append(cur.Numbers, n)
				}
			}
			return cur, true
		})
	if !found {
		return NumberRequest{}, ErrNotFound
	}
	return req, nil
}

// Get возвращает выбор пользователя по стране.
func (r *NumberRegistry) Get(userID int64, countryID string) (NumberRequest, bool) {
	return r.store.Get(NumberKey{UserID: userID, CountryID: countryID})
}

// Drop удаляет выбор.
func (r *NumberRegistry) Drop(userID int64, countryID string) {
	r.store.Delete(NumberKey{UserID: userID, CountryID: countryID})
}

// Len возвращает количество незавершённых выборов.
func (r *NumberRegistry) Len() int { return r.store.Len() }
