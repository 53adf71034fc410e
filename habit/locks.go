package habit

import "sync"

// keyedMutex serialises work per user. Different users never wait on each
// other beyond the short critical section that maintains the map.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[UserID]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[UserID]*refMutex)}
}

// Lock acquires the lock for user and returns its release function.
func (k *keyedMutex) Lock(user UserID) func() {
	k.mu.Lock()
	m, ok := k.locks[user]
	if !ok {
		m = &refMutex{}
		k.locks[user] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, user)
		}
		k.mu.Unlock()
	}
}
