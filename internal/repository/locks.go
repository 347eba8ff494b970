package repository

import "sync"

// rowLocks набор мьютексов по ключу строки ("item:1", "cart:u1", ...).
// Запись удаляется, когда её никто не держит и не ждёт.
type rowLocks struct {
	mu   sync.Mutex
	rows map[string]*rowLock
}

type rowLock struct {
	mu   sync.Mutex
	refs int
}

func newRowLocks() *rowLocks {
	return &rowLocks{rows: make(map[string]*rowLock)}
}

func (r *rowLocks) Lock(key string) {
	r.mu.Lock()
	l, ok := r.rows[key]
	if !ok {
		l = &rowLock{}
		r.rows[key] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
}

func (r *rowLocks) Unlock(key string) {
	r.mu.Lock()
	l, ok := r.rows[key]
	if !ok {
		r.mu.Unlock()
		panic("repository: unlock of unlocked row " + key)
	}
	l.refs--
	if l.refs == 0 {
		delete(r.rows, key)
	}
	r.mu.Unlock()

	l.mu.Unlock()
}

func (r *rowLocks) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}
