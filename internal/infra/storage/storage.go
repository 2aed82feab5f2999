// Package storage — утилиты безопасной работы с локальными файлами:
//   - EnsureDir — создаёт каталог для целевого пути;
//   - AtomicWriteFile — атомарная запись файла (temp → fsync → rename).
//
// Используется для MTProto-сессии бота и базы bbolt.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"telegram-smsbot/internal/infra/logger"

	"go.uber.org/zap"
)

// DefaultFilePerm — права на файлы с секретами (сессия, база).
const DefaultFilePerm = 0o600

// EnsureDir создаёт каталог для файла path с правами 0700. Путь без каталога — no-op.
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	return nil
}

// AtomicWriteFile записывает data в path так, что на диске остаётся либо старое,
// либо полностью новое содержимое. rename атомарен только в пределах одного тома,
// поэтому temp создаётся рядом с целевым файлом.
func AtomicWriteFile(path string, data []byte) error {
	clean := filepath.Clean(path)
	if err := EnsureDir(clean); err != nil {
		return err
	}
	dir := filepath.Dir(clean)

	tmp, err := os.CreateTemp(dir, "atomic-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := writeAndSync(tmp, data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, clean); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	// fsync каталога — best-effort, на части ФС не поддерживается.
	if d, err := os.Open(dir); err == nil {
		if errSync := d.Sync(); errSync != nil {
			logger.Warn("atomic write: dir sync failed", zap.String("dir", dir), zap.Error(errSync))
		}
		_ = d.Close()
	}
	return nil
}

func writeAndSync(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Chmod(DefaultFilePerm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	return nil
}
