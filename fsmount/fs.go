package fsmount

import (
	"log/slog"
	"os"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/utilitywarehouse/repo-mount/reposcache"
)

// Config controls the mounted filesystem's behaviour. It does not
// control the cache's own TTL/retention; those live in
// reposcache.Config.
type Config struct {
	// CacheRoot is the same root directory the reposcache.Cache backing
	// this mount was built with; fsmount reads it directly to
	// synthesize the owner and repo listings.
	CacheRoot string
	// EntryCacheTTL/AttrCacheTTL bound how long the kernel is told it
	// may cache directory entries and attributes for virtual nodes
	// (root and owner directories). PassthroughAttrCacheTTL governs the
	// same thing for nodes mirroring a generation worktree, which can
	// safely be cached far longer since a generation's contents never
	// change after it's materialized.
	EntryCacheTTL           time.Duration
	AttrCacheTTL            time.Duration
	PassthroughAttrCacheTTL time.Duration
	// Uid/Gid are reported as the owner of every virtual node. Zero
	// means "use the mounting process's uid/gid".
	Uid uint32
	Gid uint32
	Log *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.EntryCacheTTL == 0 {
		c.EntryCacheTTL = time.Second
	}
	if c.AttrCacheTTL == 0 {
		c.AttrCacheTTL = 5 * time.Second
	}
	if c.PassthroughAttrCacheTTL == 0 {
		c.PassthroughAttrCacheTTL = 30 * time.Second
	}
	if c.Uid == 0 {
		c.Uid = uint32(os.Getuid())
	}
	if c.Gid == 0 {
		c.Gid = uint32(os.Getgid())
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	return c
}

// shared is the state every node in the tree needs a handle to: the
// cache it resolves repositories through, the inode table, and mount
// configuration. It is analogous to the teacher example's loopbackRoot
// handle threaded through every BaseNode.
type shared struct {
	cfg   Config
	cache *reposcache.Cache
	table *inodeTable
}

// baseNode is embedded by every node kind in the tree, giving it access
// to shared state the way the teacher's BaseNode gives every node
// access to its owning filesystem.
type baseNode struct {
	fs.Inode
	s *shared
}
