package store

import "sync"

// KeyLocks hands out one mutex per key so work for the same identity runs sequentially.
type KeyLocks struct {
	mu    sync.RWMutex
	locks map[string]*sync.Mutex
}

// Lock acquires the mutex for key and returns its unlock function.
func (k *KeyLocks) Lock(key string) func() {
	m := k.get(key)
	m.Lock()
	return m.Unlock
}

func (k *KeyLocks) get(key string) *sync.Mutex {
	k.mu.RLock()
	m, ok := k.locks[key]
	k.mu.RUnlock()
	if ok {
		return m
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	// Another goroutine may have created it while we waited for the write lock.
	if m, ok = k.locks[key]; !ok {
		if k.locks == nil {
			k.locks = make(map[string]*sync.Mutex)
		}
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}
