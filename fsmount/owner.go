package fsmount

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/utilitywarehouse/repo-mount/repoid"
	"github.com/utilitywarehouse/repo-mount/reposcache"
)

// OwnerNode is "/<owner>": readdir returns every repo materialized
// under this owner; lookup validates the name as a repo and calls
// ensure_current, binding the result to a PassthroughNode rooted at
// the resolved generation's worktree.
type OwnerNode struct {
	baseNode
	noWrite
	owner repoid.Owner
}

var (
	_ fs.NodeGetattrer = (*OwnerNode)(nil)
	_ fs.NodeLookuper  = (*OwnerNode)(nil)
	_ fs.NodeReaddirer = (*OwnerNode)(nil)
)

func (n *OwnerNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	setVirtualDirAttr(n.s, out)
	return 0
}

func (n *OwnerNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries, err := os.ReadDir(repoid.OwnerReposDir(n.s.cfg.CacheRoot, n.owner))
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

func (n *OwnerNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if err := repoid.ValidateName("repo", name); err != nil {
		return nil, syscall.ENOENT
	}
	key, err := repoid.NewRepoKey(string(n.owner), name)
	if err != nil {
		return nil, syscall.ENOENT
	}

	hostPath, err := n.s.cache.EnsureCurrent(ctx, key)
	if err != nil {
		if cacheErr, ok := reposcache.AsError(err); ok && cacheErr.Category == reposcache.CategoryIntegrityError {
			n.s.cfg.Log.Error("fsmount: integrity error resolving repo", "repo", key.String(), "err", err)
		} else {
			n.s.cfg.Log.Log(ctx, slog.LevelWarn, "fsmount: ensure_current failed", "repo", key.String(), "err", err)
		}
		return nil, errnoForCacheError(err)
	}

	fi, statErr := os.Stat(hostPath)
	if statErr != nil {
		return nil, syscall.EIO
	}

	ino := n.s.table.allocate()
	gen, _ := currentGenerationOf(n.s, key)
	n.s.table.bindPassthrough(ino, hostPath, gen)

	child := &PassthroughNode{baseNode: baseNode{s: n.s}, hostPath: hostPath, ino: ino, generation: gen}
	fillEntryOutFromStat(n.s, out, fi)
	return n.NewInode(ctx, child, fs.StableAttr{Mode: syscall.S_IFDIR, Ino: ino}), 0
}

// currentGenerationOf re-derives the generation id bound to key's
// current cache path, for passthrough staleness tracking.
func currentGenerationOf(s *shared, key repoid.RepoKey) (repoid.GenerationId, bool) {
	paths := repoid.NewCachePaths(s.cfg.CacheRoot, key)
	target, err := os.Readlink(paths.CurrentLink())
	if err != nil {
		return repoid.NoGeneration, false
	}
	return repoid.ParseGenerationDirName(filepath.Base(target))
}
