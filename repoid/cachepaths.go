package repoid

import "path/filepath"

// CachePaths is a pure function of a cache root and a RepoKey. It never
// touches disk; callers stat/create whatever it names.
type CachePaths struct {
	Root string
	Key  RepoKey
}

// NewCachePaths builds the path set for the given root and key. root must
// be absolute; callers validate this (see Config.Validate).
func NewCachePaths(root string, key RepoKey) CachePaths {
	return CachePaths{Root: root, Key: key.Canonical()}
}

// MirrorDir is the bare, shallow mirror clone of the repository.
func (p CachePaths) MirrorDir() string {
	return filepath.Join(p.Root, "mirrors", string(p.Key.Owner), string(p.Key.Repo)+".git")
}

// WorktreesDir is the root directory holding this repository's numbered
// generations and its "current" pointer.
func (p CachePaths) WorktreesDir() string {
	return filepath.Join(p.Root, "worktrees", string(p.Key.Owner), string(p.Key.Repo))
}

// GenerationDir is the immutable worktree directory for generation g.
func (p CachePaths) GenerationDir(g GenerationId) string {
	return filepath.Join(p.WorktreesDir(), g.DirName())
}

// CurrentLink is the symlink published atomically onto one GenerationDir.
func (p CachePaths) CurrentLink() string {
	return filepath.Join(p.WorktreesDir(), "current")
}

// LockFile is the zero-byte advisory lock file serializing mutation of
// this repository's mirror and worktrees across processes.
func (p CachePaths) LockFile() string {
	return filepath.Join(p.Root, "locks", string(p.Key.Owner)+"__"+string(p.Key.Repo)+".lock")
}

// OwnersRootDir returns the directory under which every owner that has at
// least one materialized repository appears as a subdirectory, used by the
// filesystem surface to synthesize the root listing.
func OwnersRootDir(root string) string {
	return filepath.Join(root, "worktrees")
}

// OwnerReposDir returns the directory listing every repo materialized
// under the given owner, used to synthesize an owner-level listing.
func OwnerReposDir(root string, owner Owner) string {
	return filepath.Join(root, "worktrees", string(owner))
}
