// Package lock содержит блокировки по ключу: локальную и распределённую на Redis.
package lock

import (
	"context"
	"errors"
)

// ErrNotAcquired возвращается, если блокировку не удалось захватить.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker захватывает эксклюзивную блокировку по ключу.
// Возвращаемая функция освобождает блокировку и безопасна для повторного вызова.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
	TryLock(ctx context.Context, key string) (func(), error)
	// Ping проверяет доступность хранилища блокировок.
	Ping(ctx context.Context) error
}
