// Package requests — оперативные (in-memory) реестры запросов бота.
//
// Здесь живут два реестра:
//   - SMSRegistry — запросы «проверь SMS на номер» с ключом (номер, сервер) и TTL;
//   - NumberRegistry — незавершённые покупки номеров с ключом (пользователь, страна).
//
// Оба построены поверх Store — инъецируемого key-value хранилища. Реестры не
// персистятся: при перезапуске процесса запросы теряются, это известное ограничение.
// Истечение TTL кооперативное: запрос помечается expired при следующем чтении
// или явной очистке (ExpireStale), таймеров на каждую запись нет.
package requests

import "sync"

// Store — минимальное key-value хранилище для реестров.
// Update выполняет read-modify-write атомарно относительно других вызовов.
type Store[K comparable, V any] interface {
	Get(key K) (V, bool)
	Put(key K, value V)
	// PutIfAbsent кладёт value, только если ключа нет. Возвращает фактическое
	// значение под ключом и true, если запись была вставлена.
	PutIfAbsent(key K, value V) (V, bool)
	// Update вызывает fn с текущим значением (ok=false, если ключа нет). Если fn
	// вернул keep=false, ключ удаляется; иначе сохраняется next.
	Update(key K, fn func(cur V, ok bool) (next V, keep bool)) (V, bool)
	Delete(key K)
	// Range обходит снимок записей; fn=false прерывает обход.
	Range(fn func(key K, value V) bool)
	Len() int
}

// MemoryStore — Store на карте под мьютексом.
type MemoryStore[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore[K comparable, V any]() *MemoryStore[K, V] {
	return &MemoryStore[K, V]{m: make(map[K]V)}
}

func (s *MemoryStore[K, V]) Get(key K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok
}

func (s *MemoryStore[K, V]) Put(key K, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
}

func (s *MemoryStore[K, V]) PutIfAbsent(key K, value V) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.m[key]; ok {
		return cur, false
	}
	s.m[key] = value
	return value, true
}

func (s *MemoryStore[K, V]) Update(key K, fn func(cur V, ok bool) (V, bool)) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.m[key]
	next, keep := fn(cur, ok)
	if !keep {
		delete(s.m, key)
		var zero V
		return zero, false
	}
	s.m[key] = next
	return next, true
}

func (s *MemoryStore[K, V]) Delete(key K) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
}

func (s *MemoryStore[K, V]) Range(fn func(key K, value V) bool) {
	s.mu.RLock()
	snapshot := make(map[K]V, len(s.m))
	for k, v := range s.m {
		snapshot[k] = v
	}
	s.mu.RUnlock()

	for k, v := range snapshot {
		if !fn(k, v) {
			return
		}
	}
}

func (s *MemoryStore[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}
