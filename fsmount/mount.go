package fsmount

import (
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/utilitywarehouse/repo-mount/reposcache"
)

// Handle is a mounted filesystem. Callers wait on it to unmount and can
// request an unmount themselves.
type Handle struct {
	server *fuse.Server
}

// Wait blocks until the filesystem is unmounted, either by the caller
// or externally (fusermount -u, a lazy unmount, the kernel tearing it
// down on process exit).
func (h *Handle) Wait() { h.server.Wait() }

// Unmount requests the kernel unmount the filesystem.
func (h *Handle) Unmount() error { return h.server.Unmount() }

// MountOptions are the subset of go-fuse's mount options this package
// exposes directly; everything else is given sane, read-only defaults.
type MountOptions struct {
	MountPoint string
	AllowOther bool
	// FSName/Name show up in `mount` output and some file managers.
	FSName string
}

// Mount starts serving a read-only FUSE filesystem backed by cache at
// opts.MountPoint. The returned Handle's Wait blocks until unmount.
func Mount(opts MountOptions, cfg Config, cache *reposcache.Cache) (*Handle, error) {
	cfg = cfg.withDefaults()

	root := &RootNode{baseNode: baseNode{s: &shared{
		cfg:   cfg,
		cache: cache,
		table: newInodeTable(),
	}}}

	fuseOpts := &fs.Options{
		MountOptions: fuse.MountOptions{
			FsName:     opts.FSName,
			Name:       "repo-mount",
			AllowOther: opts.AllowOther,
			Debug:      false,
		},
		EntryTimeout: &cfg.EntryCacheTTL,
		AttrTimeout:  &cfg.AttrCacheTTL,
	}

	server, err := fs.Mount(opts.MountPoint, root, fuseOpts)
	if err != nil {
		return nil, err
	}
	return &Handle{server: server}, nil
}
