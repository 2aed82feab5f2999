// Package boltstore — долговременное хранилище бота на bbolt.
//
// Один файл базы обслуживает:
//   - пользователей (users.Store);
//   - cookies серверов (provider.CookieStore);
//   - журнал полученных SMS (history.Log);
//   - состояние апдейтов и пиров gotd (через DB(), бакеты создаёт gotd/contrib).
//
// Значения хранятся в JSON. Запись сериализуется bbolt (одна write-транзакция
// за раз), поэтому read-modify-write внутри Update атомарен.
package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"telegram-smsbot/internal/adapters/provider"
	"telegram-smsbot/internal/domain/history"
	"telegram-smsbot/internal/domain/users"
	"telegram-smsbot/internal/infra/storage"

	"go.etcd.io/bbolt"
)

var (
	bucketUsers        = []byte("users")
	bucketCookies      = []byte("cookies")
	bucketMessages     = []byte("messages")
	bucketMessageIndex = []byte("message_index")
)

// openTimeout — сколько ждать файловую блокировку базы, занятой другим процессом.
const openTimeout = 2 * time.Second

// Store — обёртка над bbolt.DB с доменными операциями.
type Store struct {
	db *bbolt.DB
}

var (
	_ users.Store          = (*Store)(nil)
	_ provider.CookieStore = (*Store)(nil)
	_ history.Log          = (*Store)(nil)
)

// Open открывает (или создаёт) базу по пути path и заводит бакеты.
func Open(path string) (*Store, error) {
	if err := storage.EnsureDir(path); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, storage.DefaultFilePerm, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("open bolt db %s: %w", path, mapErr(err))
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketUsers, bucketCookies, bucketMessages, bucketMessageIndex} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// DB отдаёт bbolt.DB для хранилищ gotd/contrib (состояние апдейтов, пиры).
func (s *Store) DB() *bbolt.DB { return s.db }

// Close закрывает базу.
func (s *Store) Close() error { return s.db.Close() }

// GetUser возвращает пользователя или users.ErrNotFound.
func (s *Store) GetUser(ctx context.Context, id int64) (users.User, error) {
	if err := ctx.Err(); err != nil {
		return users.User{}, err
	}
	var u users.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketUsers).Get(itob(id))
		if raw == nil {
			return users.ErrNotFound
		}
		return json.Unmarshal(raw, &u)
	})
	return u, mapErr(err)
}

// CreateUser сохраняет нового пользователя; существующий id даёт users.ErrExists.
func (s *Store) CreateUser(ctx context.Context, u users.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapErr(s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		if b.Get(itob(u.ID)) != nil {
			return users.ErrExists
		}
		return putJSON(b, itob(u.ID), u)
	}))
}

// UpdateUser выполняет fn над записью в одной write-транзакции.
func (s *Store) UpdateUser(ctx context.Context, id int64, fn func(u *users.User) error) (users.User, error) {
	if err := ctx.Err(); err != nil {
		return users.User{}, err
	}
	var out users.User
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		raw := b.Get(itob(id))
		if raw == nil {
			return users.ErrNotFound
		}
		var u users.User
		if err := json.Unmarshal(raw, &u); err != nil {
			return fmt.Errorf("decode user %d: %w", id, err)
		}
		if err := fn(&u); err != nil {
			return err
		}
		out = u
		return putJSON(b, itob(id), u)
	})
	if err != nil {
		return users.User{}, mapErr(err)
	}
	return out, nil
}

// ListUsers возвращает всех пользователей в порядке id.
func (s *Store) ListUsers(ctx context.Context) ([]users.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []users.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(_, v []byte) error {
			var u users.User
			if err := json.Unmarshal(v, &u); err != nil {
				return err
			}
			out = append(out, u)
			return nil
		})
	})
	return out, mapErr(err)
}

// SaveCookies заменяет cookies сервера.
func (s *Store) SaveCookies(ctx context.Context, server string, cookies []provider.Cookie) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapErr(s.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket(bucketCookies), []byte(server), cookies)
	}))
}

// LoadCookies возвращает cookies сервера; пустой результат без ошибки, если их нет.
func (s *Store) LoadCookies(ctx context.Context, server string) ([]provider.Cookie, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []provider.Cookie
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketCookies).Get([]byte(server))
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &out)
	})
	return out, mapErr(err)
}

// Append дописывает записи журнала, пропуская уже известные.
func (s *Store) Append(ctx context.Context, entries ...history.Entry) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	added := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		for _, e := range entries {
			msgs, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists(itob(e.UserID))
			if err != nil {
				return err
			}
			idx, err := tx.Bucket(bucketMessageIndex).CreateBucketIfNotExists(itob(e.UserID))
			if err != nil {
				return err
			}
			key := []byte(e.Key())
			if idx.Get(key) != nil {
				continue
			}
			seq, err := msgs.NextSequence()
			if err != nil {
				return err
			}
			if err := putJSON(msgs, utob(seq), e); err != nil {
				return err
			}
			if err := idx.Put(key, utob(seq)); err != nil {
				return err
			}
			added++
		}
		return nil
	})
	if err != nil {
		return 0, mapErr(err)
	}
	return added, nil
}

// Recent возвращает до limit последних записей пользователя, новые первыми.
func (s *Store) Recent(ctx context.Context, userID int64, limit int) ([]history.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = history.DefaultLimit
	}
	var out []history.Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		msgs := tx.Bucket(bucketMessages).Bucket(itob(userID))
		if msgs == nil {
			return nil
		}
		c := msgs.Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var e history.Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, mapErr(err)
}

func putJSON(b *bbolt.Bucket, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, raw)
}

// itob кодирует id в big-endian, чтобы курсор обходил ключи по возрастанию.
func itob(v int64) []byte { return utob(uint64(v)) }

func utob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// mapErr переводит занятость базы в users.ErrContention, которую сервис пользователей повторяет.
func mapErr(err error) error {
	if errors.Is(err, bbolt.ErrTimeout) || errors.Is(err, bbolt.ErrDatabaseNotOpen) {
		return fmt.Errorf("%w: %w", users.ErrContention, err)
	}
	return err
}
