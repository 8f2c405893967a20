package services

import "sync"

// UserLocks serialises all mutations of one user's records.
type UserLocks struct {
	m sync.Map // map[userID]*sync.Mutex
}

// Lock locks by userID and returns an unlock function.
func (l *UserLocks) Lock(userID int64) func() {
	v, _ := l.m.LoadOrStore(userID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
