// Package reposcache is the heart of the system: it owns the mapping
// from a RepoKey to its RepoState and exposes ensure_current, the one
// operation the filesystem surface calls to materialize or refresh a
// repository's checkout.
package reposcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	ioutilx "github.com/utilitywarehouse/repo-mount/internal/ioutil"
	"github.com/utilitywarehouse/repo-mount/repoid"
	"github.com/utilitywarehouse/repo-mount/vcs"
)

// RemoteResolver turns a RepoKey into a clone URL and the credentials to
// use for it. Acquiring credentials (from a token service, a mounted
// secret, an SSH agent) is outside this package's scope; the resolver is
// the seam an external token-acquisition component plugs into.
type RemoteResolver interface {
	Resolve(ctx context.Context, key repoid.RepoKey) (remote string, creds vcs.Credentials, err error)
}

// vcsRunner is the subset of *vcs.Runner the cache depends on. Tests
// substitute a fake satisfying this interface instead of shelling out
// to git.
type vcsRunner interface {
	InitMirror(ctx context.Context, dir, remote string, creds vcs.Credentials) (string, error)
	Fetch(ctx context.Context, dir, remote string, creds vcs.Credentials) ([]string, error)
	ResolveRef(ctx context.Context, dir, ref string) (string, error)
	CreateWorktree(ctx context.Context, mirrorDir, worktreeDir, hash string) error
	PruneWorktree(ctx context.Context, mirrorDir, worktreeDir string) error
}

// Config controls cache behaviour.
type Config struct {
	// Root is the cache root directory (mirrors/, worktrees/, locks/).
	Root string
	// TTL is how long a published generation is served without a
	// refresh attempt.
	TTL time.Duration
	// RetentionGenerations is how many generations prior to the
	// published one are kept on disk before being pruned (default 1).
	RetentionGenerations uint32
	// Log is the base logger; a per-repo child logger is derived from
	// it via .With("repo", key).
	Log *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.RetentionGenerations == 0 {
		c.RetentionGenerations = 1
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	return c
}

// Cache is the repository cache (C4). One Cache instance owns one cache
// root directory and is safe for concurrent use by any number of
// filesystem-surface goroutines.
type Cache struct {
	cfg      Config
	resolver RemoteResolver
	runner   vcsRunner

	// ttl and retentionGenerations shadow cfg.TTL/cfg.RetentionGenerations
	// and are the values actually consulted once the cache is running,
	// so UpdateTunables can change them without a data race against
	// concurrent ensure_current calls.
	ttl                  atomic.Int64
	retentionGenerations atomic.Uint32

	mu      sync.Mutex // guards entries
	entries map[string]*entry
}

// New builds a Cache rooted at cfg.Root. It does not touch disk; call
// Boot to perform the startup orphan sweep. A nil runner defaults to a
// *vcs.Runner that shells out to the real git binary.
func New(cfg Config, resolver RemoteResolver, runner vcsRunner) *Cache {
	cfg = cfg.withDefaults()
	if runner == nil {
		runner = vcs.NewRunner(cfg.Log)
	}
	c := &Cache{
		cfg:      cfg,
		resolver: resolver,
		runner:   runner,
		entries:  make(map[string]*entry),
	}
	c.ttl.Store(int64(cfg.TTL))
	c.retentionGenerations.Store(cfg.RetentionGenerations)
	return c
}

// UpdateTunables applies a hot-reloaded ttl/retention change to a
// running cache without disturbing in-flight entries or requiring a
// remount. A zero value leaves the corresponding field unchanged.
func (c *Cache) UpdateTunables(ttl time.Duration, retentionGenerations uint32) {
	if ttl > 0 {
		c.ttl.Store(int64(ttl))
	}
	if retentionGenerations > 0 {
		c.retentionGenerations.Store(retentionGenerations)
	}
}

func (c *Cache) entryFor(key repoid.RepoKey) *entry {
	mapKey := key.MapKey()

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[mapKey]; ok {
		return e
	}
	e := newEntry(key)
	c.entries[mapKey] = e
	return e
}

// EnsureCurrent implements the algorithm in full: coalesce same-process
// callers, serve from TTL when possible, otherwise take the
// cross-process file lock and fetch + publish a new generation,
// preferring stale-but-present over failing outright.
func (c *Cache) EnsureCurrent(ctx context.Context, key repoid.RepoKey) (string, error) {
	return c.ensureCurrent(ctx, key, false)
}

// ForceRefresh bypasses the TTL but still coalesces with any concurrent
// caller for the same key.
func (c *Cache) ForceRefresh(ctx context.Context, key repoid.RepoKey) (string, error) {
	return c.ensureCurrent(ctx, key, true)
}

func (c *Cache) ensureCurrent(ctx context.Context, key repoid.RepoKey, force bool) (string, error) {
	start := time.Now()
	repoLabel := key.String()
	log := c.cfg.Log.With("repo", repoLabel)

	paths := repoid.NewCachePaths(c.cfg.Root, key)
	e := c.entryFor(key)

	// Step 1: in-memory mutex per key, held for the whole
	// call so concurrent same-process callers coalesce onto one
	// network operation rather than merely serializing duplicate ones.
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	if !force && e.freshEnough(time.Duration(c.ttl.Load()), now) {
		recordEnsureCurrent(repoLabel, "fresh", start)
		return e.currentPath, nil
	}

	// Re-derive in-memory state from disk in case another process
	// published since we last looked (or this is the first call after
	// a restart).
	if err := c.reloadFromDisk(e, paths); err != nil {
		log.Warn("ensure_current: failed reloading state from disk", "err", err)
	}
	if !force && e.freshEnough(time.Duration(c.ttl.Load()), now) {
		recordEnsureCurrent(repoLabel, "fresh", start)
		return e.currentPath, nil
	}

	unlock, err := acquireFileLock(ctx, paths.LockFile())
	if err != nil {
		recordEnsureCurrent(repoLabel, "error", start)
		if errors.Is(err, context.DeadlineExceeded) {
			return "", newError(CategoryLockTimeout, key, fmt.Errorf("acquiring lock on %s: %w", paths.LockFile(), err))
		}
		return "", newError(CategoryFilesystemError, key, err)
	}
	defer unlock()

	// Re-check under the file lock: another process may have just
	// refreshed while we waited.
	if err := c.reloadFromDisk(e, paths); err != nil {
		log.Warn("ensure_current: failed reloading state from disk", "err", err)
	}
	if !force && e.freshEnough(time.Duration(c.ttl.Load()), now) {
		recordEnsureCurrent(repoLabel, "fresh", start)
		return e.currentPath, nil
	}

	remote, creds, err := c.resolver.Resolve(ctx, key)
	if err != nil {
		recordEnsureCurrent(repoLabel, "error", start)
		return "", newError(CategoryInvalidIdentifier, key, err)
	}

	if _, statErr := os.Stat(paths.MirrorDir()); os.IsNotExist(statErr) {
		log.Info("ensure_current: mirror missing, cloning", "dir", paths.MirrorDir())
	}

	_, initErr := c.runner.InitMirror(ctx, paths.MirrorDir(), remote, creds)
	if initErr != nil {
		if e.publishedGeneration.Valid() {
			log.Error("ensure_current: mirror init failed, serving stale current generation", "err", initErr)
			e.lastRefreshAt = now
			recordEnsureCurrent(repoLabel, "stale-served", start)
			return e.currentPath, nil
		}
		recordEnsureCurrent(repoLabel, "error", start)
		return "", translateVCSError(key, initErr)
	}

	_, fetchErr := c.runner.Fetch(ctx, paths.MirrorDir(), remote, creds)
	if fetchErr != nil {
		if e.publishedGeneration.Valid() {
			log.Error("ensure_current: fetch failed, serving stale current generation", "err", fetchErr)
			e.lastRefreshAt = now
			recordEnsureCurrent(repoLabel, "stale-served", start)
			return e.currentPath, nil
		}
		recordEnsureCurrent(repoLabel, "error", start)
		return "", translateVCSError(key, fetchErr)
	}

	hash, resolveErr := c.runner.ResolveRef(ctx, paths.MirrorDir(), "HEAD")
	if resolveErr != nil {
		if e.publishedGeneration.Valid() {
			log.Error("ensure_current: resolving HEAD failed, serving stale current generation", "err", resolveErr)
			e.lastRefreshAt = now
			recordEnsureCurrent(repoLabel, "stale-served", start)
			return e.currentPath, nil
		}
		recordEnsureCurrent(repoLabel, "error", start)
		return "", translateVCSError(key, resolveErr)
	}

	nextGen, genErr := nextGeneration(paths, e.publishedGeneration)
	if genErr != nil {
		recordEnsureCurrent(repoLabel, "error", start)
		return "", newError(CategoryFilesystemError, key, genErr)
	}

	genDir := paths.GenerationDir(nextGen)
	if err := c.runner.CreateWorktree(ctx, paths.MirrorDir(), genDir, hash); err != nil {
		if e.publishedGeneration.Valid() {
			log.Error("ensure_current: worktree creation failed, serving stale current generation", "err", err)
			e.lastRefreshAt = now
			recordEnsureCurrent(repoLabel, "stale-served", start)
			return e.currentPath, nil
		}
		recordEnsureCurrent(repoLabel, "error", start)
		return "", translateVCSError(key, err)
	}

	if err := ioutilx.PublishSymlink(paths.CurrentLink(), genDir); err != nil {
		recordEnsureCurrent(repoLabel, "error", start)
		return "", newError(CategoryFilesystemError, key, fmt.Errorf("publishing current link: %w", err))
	}

	e.publishedGeneration = nextGen
	e.lastRefreshAt = now
	e.currentPath = genDir
	recordRefresh(repoLabel, uint32(nextGen))

	c.scheduleRetention(log, paths, nextGen)

	recordEnsureCurrent(repoLabel, "refreshed", start)
	return e.currentPath, nil
}

// reloadFromDisk re-derives currentPath/publishedGeneration from the
// on-disk current_link, treating an unresolvable link as an integrity
// error that repairs itself on the next successful publish.
func (c *Cache) reloadFromDisk(e *entry, paths repoid.CachePaths) error {
	target, err := ioutilx.ReadAbsLink(paths.CurrentLink())
	if err != nil {
		return err
	}
	if target == "" {
		return nil
	}
	if _, statErr := os.Stat(target); statErr != nil {
		if os.IsNotExist(statErr) {
			c.cfg.Log.Error("reposcache: current_link points at missing directory, clearing", "link", paths.CurrentLink(), "target", target)
			_ = os.Remove(paths.CurrentLink())
			e.publishedGeneration = repoid.NoGeneration
			e.currentPath = ""
			return nil
		}
		return statErr
	}

	_, base := ioutilx.SplitAbs(target)
	gen, ok := repoid.ParseGenerationDirName(base)
	if !ok {
		return fmt.Errorf("reposcache: current_link target %q is not a generation directory", target)
	}
	if gen > e.publishedGeneration {
		e.publishedGeneration = gen
		e.currentPath = target
	}
	return nil
}

// nextGeneration computes g' = max(existing gen-* dirs, published) + 1,
// scanning the worktrees directory for any generation left over from a
// previous run.
func nextGeneration(paths repoid.CachePaths, published repoid.GenerationId) (repoid.GenerationId, error) {
	max := published
	entries, err := os.ReadDir(paths.WorktreesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return max.Next(), nil
		}
		return 0, err
	}
	var ids []repoid.GenerationId
	for _, de := range entries {
		if gen, ok := repoid.ParseGenerationDirName(de.Name()); ok {
			ids = append(ids, gen)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > 0 && ids[len(ids)-1] > max {
		max = ids[len(ids)-1]
	}
	return max.Next(), nil
}

// scheduleRetention asynchronously prunes every generation at or below
// g' - RetentionGenerations - 1, keeping the published generation plus
// RetentionGenerations before it, giving kernel-cached inodes against the
// previous generation a grace period before their backing directory
// disappears.
func (c *Cache) scheduleRetention(log *slog.Logger, paths repoid.CachePaths, published repoid.GenerationId) {
	go func() {
		retention := c.retentionGenerations.Load()
		threshold := uint32(0)
		if uint32(published) > retention+1 {
			threshold = uint32(published) - retention - 1
		}
		entries, err := os.ReadDir(paths.WorktreesDir())
		if err != nil {
			log.Warn("retention: could not list worktrees dir", "err", err)
			return
		}
		for _, de := range entries {
			gen, ok := repoid.ParseGenerationDirName(de.Name())
			if !ok || uint32(gen) == 0 || uint32(gen) > threshold {
				continue
			}
			genDir := paths.GenerationDir(gen)
			if err := c.runner.PruneWorktree(context.Background(), paths.MirrorDir(), genDir); err != nil {
				log.Warn("retention: failed pruning generation", "generation", gen, "err", err)
			}
		}
	}()
}

// translateVCSError maps a vcs package error onto the cache's error
// taxonomy: RepoNotFound, AuthRequired and NetworkUnavailable map to
// their own categories and every other failure maps to TransportError.
func translateVCSError(key repoid.RepoKey, err error) *Error {
	switch {
	case errors.Is(err, vcs.ErrRepoNotFound):
		return newError(CategoryRepoNotFound, key, err)
	case errors.Is(err, vcs.ErrAuthRequired):
		return newError(CategoryAuthRequired, key, err)
	case errors.Is(err, vcs.ErrNetworkUnavailable):
		return newError(CategoryNetworkUnavailable, key, err)
	default:
		return newError(CategoryTransportError, key, err)
	}
}
