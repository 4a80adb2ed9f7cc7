package store

import (
	"context"
	"sync"
)

// Locker serializes check-then-act sections keyed by an identifier, typically
// a user id around the attendance cooldown window.
type Locker interface {
	// Lock blocks until the key is held or the context ends. The returned
	// function releases the lock.
	Lock(ctx context.Context, key string) (func(), error)
}

// KeyedMutex is an in-process locker. Correct for a single API replica; use
// Redis.Locker when running more than one. Entries are reference counted and
// removed when the last holder releases, so the map stays bounded by the
// number of in-flight requests rather than the number of users ever seen.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex builds an empty locker.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*keyedEntry)}
}

// Lock acquires the per-key mutex.
func (k *KeyedMutex) Lock(_ context.Context, key string) (func(), error) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &keyedEntry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}, nil
}
