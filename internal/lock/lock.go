// Package lock provides the RWMutex used to serialize access to a single
// repository's cache entry. It is a thin wrapper over go-deadlock so a
// stuck lock (e.g. a hung git process holding a write lock) shows up as
// a logged deadlock report instead of an unexplained hang.
package lock

import (
	"github.com/sasha-s/go-deadlock"
)

// RWMutex is sync.RWMutex with deadlock detection. Zero value is ready
// to use.
type RWMutex struct {
	mu deadlock.RWMutex
}

func (m *RWMutex) Lock()    { m.mu.Lock() }
func (m *RWMutex) Unlock()  { m.mu.Unlock() }
func (m *RWMutex) RLock()   { m.mu.RLock() }
func (m *RWMutex) RUnlock() { m.mu.RUnlock() }
