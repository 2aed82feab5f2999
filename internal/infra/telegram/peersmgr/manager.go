// Package peersmgr — gotd peers.Manager с персистентным хранилищем пиров в bbolt.
//
// Бот видит пользователей только через апдейты: UpdateHook сохраняет их access hash
// в бакет "peers", а при старте LoadFromStorage возвращает их в менеджер, чтобы
// уведомления (например, об авторизации) доходили без свежего сообщения от пользователя.
package peersmgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	bboltdb "github.com/gotd/contrib/bbolt"
	contribstorage "github.com/gotd/contrib/storage"
	"github.com/gotd/td/telegram/peers"
	"github.com/gotd/td/telegram/query/dialogs"
	"github.com/gotd/td/tg"
	"go.etcd.io/bbolt"
)

var peersBucket = []byte("peers")

// Service объединяет менеджер пиров и его хранилище.
type Service struct {
	db    *bbolt.DB
	store contribstorage.PeerStorage
	Mgr   *peers.Manager
}

// New создаёт сервис поверх общей базы bbolt. Закрытие базы — забота владельца.
func New(api *tg.Client, db *bbolt.DB) (*Service, error) {
	if db == nil {
		return nil, errors.New("peersmgr: db is nil")
	}
	return &Service{
		db:    db,
		store: bboltdb.NewPeerStorage(db, peersBucket),
		Mgr:   peers.Options{}.Build(api),
	}, nil
}

// Store возвращает персистентное хранилище пиров (для contrib UpdateHook).
func (s *Service) Store() contribstorage.PeerStorage { return s.store }

// LoadFromStorage прогружает сохранённых пользователей в peers.Manager.
// Повреждённый бакет сбрасывается: пиры восстановятся из следующих апдейтов.
func (s *Service) LoadFromStorage(ctx context.Context) (int, error) {
	exists := false
	if err := s.db.View(func(tx *bbolt.Tx) error {
		exists = tx.Bucket(peersBucket) != nil
		return nil
	}); err != nil || !exists {
		return 0, err
	}

	iter, err := s.store.Iterate(ctx)
	if err != nil {
		return 0, fmt.Errorf("peersmgr: iterate: %w", err)
	}
	defer func() { _ = iter.Close() }()

	var users []tg.UserClass
	for iter.Next(ctx) {
		value := iter.Value()
		if value.Key.Kind != dialogs.User {
			continue
		}
		user := value.User
		if user == nil {
			user = &tg.User{ID: value.Key.ID, AccessHash: value.Key.AccessHash}
		}
		users = append(users, user)
	}
	if err := iter.Err(); err != nil {
		if isJSONError(err) {
			return 0, s.resetBucket()
		}
		return 0, fmt.Errorf("peersmgr: iterate: %w", err)
	}
	if len(users) == 0 {
		return 0, nil
	}
	if err := s.Mgr.Apply(ctx, users, nil); err != nil {
		return 0, fmt.Errorf("peersmgr: apply: %w", err)
	}
	return len(users), nil
}

// InputUser возвращает InputPeer пользователя по id.
func (s *Service) InputUser(ctx context.Context, userID int64) (tg.InputPeerClass, error) {
	user, err := s.Mgr.ResolveUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve user %d: %w", userID, err)
	}
	return user.InputPeer(), nil
}

func isJSONError(err error) bool {
	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError
	return errors.As(err, &typeErr) || errors.As(err, &syntaxErr)
}

func (s *Service) resetBucket() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(peersBucket); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(peersBucket)
		return err
	})
}
