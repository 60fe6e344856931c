package lock

import (
	"context"
	"sync"
)

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

// KeyedMutex блокирует ключи в пределах одного процесса.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

// NewKeyedMutex создаёт пустой KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*keyedEntry)}
}

func (m *KeyedMutex) acquireEntry(key string) *keyedEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		m.entries[key] = e
	}
	e.refs++
	return e
}

func (m *KeyedMutex) releaseEntry(key string, e *keyedEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(m.entries, key)
	}
}

// Lock ждёт освобождения ключа либо отмены контекста.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	e := m.acquireEntry(key)

	select {
	case e.ch <- struct{}{}:
		return m.unlocker(key, e), nil
	case <-ctx.Done():
		m.releaseEntry(key, e)
		return nil, ctx.Err()
	}
}

// TryLock захватывает ключ без ожидания.
func (m *KeyedMutex) TryLock(_ context.Context, key string) (func(), error) {
	e := m.acquireEntry(key)

	select {
	case e.ch <- struct{}{}:
		return m.unlocker(key, e), nil
	default:
		m.releaseEntry(key, e)
		return nil, ErrNotAcquired
	}
}

// Ping всегда успешен: блокировки живут в памяти процесса.
func (m *KeyedMutex) Ping(context.Context) error {
	return nil
}

func (m *KeyedMutex) unlocker(key string, e *keyedEntry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			m.releaseEntry(key, e)
		})
	}
}
