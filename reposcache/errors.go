package reposcache

import (
	"errors"
	"fmt"

	"github.com/utilitywarehouse/repo-mount/repoid"
)

// Category is one of the cache-level error taxonomy's fixed members.
// The filesystem surface translates each Category to exactly one errno;
// nothing above this package needs to inspect an error's message.
type Category int

const (
	// CategoryInvalidIdentifier means an owner/repo name failed
	// validation before any cache work was attempted.
	CategoryInvalidIdentifier Category = iota
	// CategoryRepoNotFound means the remote returned a definitive "no
	// such repository".
	CategoryRepoNotFound
	// CategoryAuthRequired means the remote demanded credentials this
	// cache was not given.
	CategoryAuthRequired
	// CategoryNetworkUnavailable means the remote could not be reached;
	// retrying later may succeed.
	CategoryNetworkUnavailable
	// CategoryTransportError means the remote was reached but the
	// version-control exchange otherwise failed.
	CategoryTransportError
	// CategoryFilesystemError means a local I/O, lock or rename failed.
	CategoryFilesystemError
	// CategoryLockTimeout means the per-repository file lock was not
	// acquired within the bound.
	CategoryLockTimeout
	// CategoryIntegrityError means an on-disk invariant was violated,
	// e.g. current_link pointed at a directory that does not exist.
	CategoryIntegrityError
	// CategoryWriteDenied means the caller attempted a write-class
	// operation against the read-only cache.
	CategoryWriteDenied
)

func (c Category) String() string {
	switch c {
	case CategoryInvalidIdentifier:
		return "invalid-identifier"
	case CategoryRepoNotFound:
		return "repo-not-found"
	case CategoryAuthRequired:
		return "auth-required"
	case CategoryNetworkUnavailable:
		return "network-unavailable"
	case CategoryTransportError:
		return "transport-error"
	case CategoryFilesystemError:
		return "filesystem-error"
	case CategoryLockTimeout:
		return "lock-timeout"
	case CategoryIntegrityError:
		return "integrity-error"
	case CategoryWriteDenied:
		return "write-denied"
	default:
		return "unknown"
	}
}

// Error is the structured error ensure_current and its callers return.
// It always names the repository and carries the category the
// filesystem surface needs to pick an errno.
type Error struct {
	Category Category
	Key      repoid.RepoKey
	Err      error
}

func (e *Error) Error() string {
	if e.Key == (repoid.RepoKey{}) {
		return fmt.Sprintf("reposcache: %s: %v", e.Category, e.Err)
	}
	return fmt.Sprintf("reposcache: %s: %s: %v", e.Category, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(cat Category, key repoid.RepoKey, err error) *Error {
	return &Error{Category: cat, Key: key, Err: err}
}

// AsError extracts a *Error from err via errors.As.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
