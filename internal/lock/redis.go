package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultExpiration    = 30 * time.Second
	defaultRetryInterval = 50 * time.Millisecond
)

// unlockScript удаляет ключ, только если он всё ещё принадлежит владельцу.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker реализует распределённую блокировку на SET NX с ограниченным временем жизни.
type RedisLocker struct {
	client        redis.UniversalClient
	prefix        string
	expiration    time.Duration
	retryInterval time.Duration
}

// NewRedisLocker создаёт распределённую блокировку с префиксом ключей prefix.
func NewRedisLocker(client redis.UniversalClient, prefix string) *RedisLocker {
	return &RedisLocker{
		client:        client,
		prefix:        prefix,
		expiration:    defaultExpiration,
		retryInterval: defaultRetryInterval,
	}
}

func (l *RedisLocker) key(key string) string {
	return l.prefix + key
}

// TryLock делает одну попытку захватить ключ.
func (l *RedisLocker) TryLock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.key(key), token, l.expiration).Result()
	if err != nil {
		return nil, fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	return l.unlocker(key, token), nil
}

// Lock повторяет попытки захвата до успеха или отмены контекста.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	for {
		unlock, err := l.TryLock(ctx, key)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, ErrNotAcquired) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retryInterval):
		}
	}
}

// Ping проверяет соединение с Redis.
func (l *RedisLocker) Ping(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (l *RedisLocker) unlocker(key, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			// Контекст вызывающего к этому моменту может быть уже отменён.
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = unlockScript.Run(ctx, l.client, []string{l.key(key)}, token).Err()
		})
	}
}
