package fsmount

import (
	"context"
	"os"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/utilitywarehouse/repo-mount/repoid"
)

// RootNode is "/": readdir returns every owner with at least one
// materialized repository, found by scanning <cache_root>/worktrees.
// lookup validates the requested name as an owner and never touches the
// cache (P6) — an owner directory with no materialized repos simply
// doesn't exist from a lookup's point of view.
type RootNode struct {
	baseNode
	noWrite
}

var (
	_ fs.NodeGetattrer = (*RootNode)(nil)
	_ fs.NodeLookuper  = (*RootNode)(nil)
	_ fs.NodeReaddirer = (*RootNode)(nil)
)

func (n *RootNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	setVirtualDirAttr(n.s, out)
	return 0
}

func (n *RootNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries, err := os.ReadDir(repoid.OwnersRootDir(n.s.cfg.CacheRoot))
	if err != nil {
		if os.IsNotExist(err) {
			return fs.NewListDirStream(nil), 0
		}
		return nil, syscall.EIO
	}
	var dirents []fuse.DirEntry
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dirents = append(dirents, fuse.DirEntry{Name: e.Name(), Mode: syscall.S_IFDIR})
	}
	return fs.NewListDirStream(dirents), 0
}

func (n *RootNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if err := repoid.ValidateName("owner", name); err != nil {
		return nil, syscall.ENOENT
	}
	owner := repoid.Owner(name)
	if empty, err := dirHasNoEntries(repoid.OwnerReposDir(n.s.cfg.CacheRoot, owner)); err != nil || empty {
		return nil, syscall.ENOENT
	}

	child := &OwnerNode{baseNode: baseNode{s: n.s}, owner: owner}
	setVirtualEntryOut(n.s, out)
	ino := n.s.table.allocate()
	return n.NewInode(ctx, child, fs.StableAttr{Mode: syscall.S_IFDIR, Ino: ino}), 0
}

func dirHasNoEntries(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	return len(entries) == 0, nil
}

func setVirtualDirAttr(s *shared, out *fuse.AttrOut) {
	now := time.Now()
	out.Mode = syscall.S_IFDIR | 0555
	out.Nlink = 2
	out.Uid = s.cfg.Uid
	out.Gid = s.cfg.Gid
	out.SetTimes(&now, &now, &now)
	out.SetTimeout(s.cfg.AttrCacheTTL)
}

func setVirtualEntryOut(s *shared, out *fuse.EntryOut) {
	now := time.Now()
	out.Mode = syscall.S_IFDIR | 0555
	out.Nlink = 2
	out.Uid = s.cfg.Uid
	out.Gid = s.cfg.Gid
	out.SetAttrTimeout(s.cfg.AttrCacheTTL)
	out.SetEntryTimeout(s.cfg.EntryCacheTTL)
	out.SetTimes(&now, &now, &now)
}
