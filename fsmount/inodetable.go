package fsmount

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/utilitywarehouse/repo-mount/repoid"
)

// rootIno is reserved for the root directory, per the inode table
// contract: inode 1 is always Root.
const rootIno = 1

// inodeTable allocates stable inode numbers and tracks, for every
// passthrough inode, the host path and generation it was bound against.
// go-fuse's own fs.Inode tree already manages nlookup and per-parent
// child memoization; this table exists to layer the monotone,
// never-reused allocation and the generation-staleness bookkeeping the
// filesystem surface needs on top of it.
type inodeTable struct {
	counter atomic.Uint64

	mu       sync.RWMutex
	bindings map[uint64]*binding
}

// binding is the extra state kept per passthrough inode.
type binding struct {
	hostPath   string
	generation repoid.GenerationId
	boundAt    time.Time
}

func newInodeTable() *inodeTable {
	t := &inodeTable{bindings: make(map[uint64]*binding)}
	t.counter.Store(rootIno)
	return t
}

// allocate returns the next inode number in the monotone sequence. It
// is never zero and never reuses a number handed out earlier in this
// table's lifetime.
func (t *inodeTable) allocate() uint64 {
	return t.counter.Add(1)
}

// bindPassthrough records that ino stands in for hostPath as of
// generation gen.
func (t *inodeTable) bindPassthrough(ino uint64, hostPath string, gen repoid.GenerationId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bindings[ino] = &binding{hostPath: hostPath, generation: gen, boundAt: time.Now()}
}

// lookupBinding returns the binding recorded for ino, if any.
func (t *inodeTable) lookupBinding(ino uint64) (*binding, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.bindings[ino]
	return b, ok
}

// forget drops the bookkeeping for ino. Called from the node's Forget
// hook once go-fuse's own nlookup reaches zero.
func (t *inodeTable) forget(ino uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.bindings, ino)
}
