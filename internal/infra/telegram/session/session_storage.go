// Package session — файловое хранилище MTProto-сессии бота.
package session

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"sync"

	"telegram-smsbot/internal/infra/logger"
	"telegram-smsbot/internal/infra/storage"

	faster "github.com/go-faster/errors"
	tdsession "github.com/gotd/td/session"
	"go.uber.org/zap"
)

var errNilStorage = errors.New("session: nil storage")

// FileStorage хранит сессию в файле Path. Запись атомарная: после сбоя на диске
// остаётся предыдущая сессия. Пустой файл считается отсутствующим, и бот заново
// логинится по токену.
type FileStorage struct {
	Path string
	// OnStored вызывается после каждой успешной записи. gotd пишет сессию после
	// логина и смены ключа, то есть когда соединение заведомо живое.
	OnStored func()

	mu sync.Mutex
}

var _ tdsession.Storage = (*FileStorage)(nil)

// LoadSession читает сессию; нет файла или он пуст — tdsession.ErrNotFound.
func (f *FileStorage) LoadSession(context.Context) ([]byte, error) {
	if f == nil {
		return nil, errNilStorage
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.Path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, tdsession.ErrNotFound
	case err != nil:
		return nil, faster.Wrap(err, "read session")
	case len(bytes.TrimSpace(data)) == 0:
		logger.Warn("session file is empty, logging in again", zap.String("path", f.Path))
		return nil, tdsession.ErrNotFound
	}
	return data, nil
}

// StoreSession атомарно сохраняет сессию и сообщает об этом OnStored.
func (f *FileStorage) StoreSession(_ context.Context, data []byte) error {
	if f == nil {
		return errNilStorage
	}
	f.mu.Lock()
	err := storage.AtomicWriteFile(f.Path, data)
	onStored := f.OnStored
	f.mu.Unlock()

	if err != nil {
		return faster.Wrap(err, "store session")
	}
	logger.Debug("session stored", zap.String("path", f.Path), zap.Int("bytes", len(data)))
	if onStored != nil {
		onStored()
	}
	return nil
}
