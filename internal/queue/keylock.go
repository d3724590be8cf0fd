package queue

import "sync"

// keyLock hands out one mutex per key and forgets keys nobody holds.
type keyLock struct {
	mu    sync.Mutex
	locks map[string]*lockRef
}

type lockRef struct {
	mu   sync.Mutex
	refs int
}

func newKeyLock() *keyLock {
	return &keyLock{locks: make(map[string]*lockRef)}
}

// Lock blocks until key is free and returns the matching unlock.
func (k *keyLock) Lock(key string) func() {
	k.mu.Lock()
	ref, ok := k.locks[key]
	if !ok {
		ref = &lockRef{}
		k.locks[key] = ref
	}
	ref.refs++
	k.mu.Unlock()

	ref.mu.Lock()
	return func() {
		ref.mu.Unlock()
		k.mu.Lock()
		ref.refs--
		if ref.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyLock) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

func entryKey(restaurantID, entryID string) string {
	return "entry:" + restaurantID + ":" + entryID
}

func phoneKey(restaurantID, phoneKey string) string {
	return "phone:" + restaurantID + ":" + phoneKey
}

func capacityKey(restaurantID string) string {
	return "capacity:" + restaurantID
}
