package reposcache

import (
	"time"

	"github.com/utilitywarehouse/repo-mount/internal/lock"
	"github.com/utilitywarehouse/repo-mount/repoid"
)

// entry is the in-memory RepoState for one RepoKey: everything
// ensure_current needs to decide whether network work is required,
// guarded by a lock that coalesces same-process callers.
type entry struct {
	key repoid.RepoKey

	mu lock.RWMutex

	publishedGeneration repoid.GenerationId
	lastRefreshAt       time.Time
	currentPath         string
}

func newEntry(key repoid.RepoKey) *entry {
	return &entry{key: key}
}

func (e *entry) freshEnough(ttl time.Duration, now time.Time) bool {
	if !e.publishedGeneration.Valid() {
		return false
	}
	if ttl <= 0 {
		return false
	}
	return now.Sub(e.lastRefreshAt) < ttl
}
