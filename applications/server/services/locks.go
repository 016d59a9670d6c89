package services

import "sync"

// namespaceLocks serializes the file count check and the claim of a new name per namespace.
type namespaceLocks struct {
	mu    sync.Mutex
	locks map[string]*namespaceLock
}

type namespaceLock struct {
	sync.Mutex
	refs int
}

func newNamespaceLocks() *namespaceLocks {
	return &namespaceLocks{locks: map[string]*namespaceLock{}}
}

func (n *namespaceLocks) lock(ns string) func() {
	n.mu.Lock()
	l, ok := n.locks[ns]
	if !ok {
		l = &namespaceLock{}
		n.locks[ns] = l
	}
	l.refs++
	n.mu.Unlock()

	l.Lock()

	return func() {
		l.Unlock()

		n.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(n.locks, ns)
		}
		n.mu.Unlock()
	}
}
