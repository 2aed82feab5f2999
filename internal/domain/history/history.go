// Package history — журнал полученных пользователями SMS, из которого строится /mysms.
package history

import (
	"context"
	"time"
)

// DefaultLimit — сколько последних записей показывает /mysms.
const DefaultLimit = 10

// Entry — одна доставленная пользователю SMS.
type Entry struct {
	UserID    int64     `json:"user_id"`
	Number    string    `json:"number"`
	Server    string    `json:"server"`
	Sender    string    `json:"sender"`
	Message   string    `json:"message"`
	Date      string    `json:"date"`
	Strategy  string    `json:"strategy"`
	CheckedAt time.Time `json:"checked_at"`
}

// Key — признак повтора: одна и та же SMS не пишется в журнал дважды.
func (e Entry) Key() string {
	return e.Number + "|" + e.Date + "|" + e.Message
}

// Log — хранилище журнала.
type Log interface {
	// Append дописывает записи пользователя, пропуская уже сохранённые (по Key).
	// Возвращает число добавленных.
	Append(ctx context.Context, entries ...Entry) (int, error)
	// Recent возвращает до limit последних записей пользователя, новые первыми.
	Recent(ctx context.Context, userID int64, limit int) ([]Entry, error)
}
