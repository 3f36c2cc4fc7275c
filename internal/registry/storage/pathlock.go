package storage

import "sync"

// PathLocks hands out one mutex per entity path so that operations touching
// the same path (toggle vs. rescan, concurrent registration) serialize
// without blocking unrelated paths.
type PathLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewPathLocks returns an empty lock set.
func NewPathLocks() *PathLocks {
	return &PathLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for path and returns its unlock function.
func (p *PathLocks) Lock(path string) func() {
	p.mu.Lock()
	m, ok := p.locks[path]
	if !ok {
		m = &sync.Mutex{}
		p.locks[path] = m
	}
	p.mu.Unlock()

	m.Lock()
	return m.Unlock
}
