package fsmount

import (
	"syscall"

	"github.com/utilitywarehouse/repo-mount/reposcache"
)

// errnoForCacheError implements the propagation policy: cache errors
// translate to exactly one errno each, with IntegrityError additionally
// logged loudly by the caller before this is invoked.
func errnoForCacheError(err error) syscall.Errno {
	errno := classifyCacheError(err)
	recordErrno(errno.Error())
	return errno
}

func classifyCacheError(err error) syscall.Errno {
	cacheErr, ok := reposcache.AsError(err)
	if !ok {
		return syscall.EIO
	}
	switch cacheErr.Category {
	case reposcache.CategoryInvalidIdentifier, reposcache.CategoryRepoNotFound:
		return syscall.ENOENT
	case reposcache.CategoryAuthRequired:
		return syscall.EACCES
	case reposcache.CategoryNetworkUnavailable, reposcache.CategoryTransportError,
		reposcache.CategoryFilesystemError, reposcache.CategoryLockTimeout:
		return syscall.EIO
	case reposcache.CategoryIntegrityError:
		return syscall.EIO
	case reposcache.CategoryWriteDenied:
		return syscall.EROFS
	default:
		return syscall.EIO
	}
}
