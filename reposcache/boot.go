package reposcache

import (
	"context"
	"os"
	"path/filepath"

	ioutilx "github.com/utilitywarehouse/repo-mount/internal/ioutil"
	"github.com/utilitywarehouse/repo-mount/repoid"
)

// Boot performs the startup reconciliation pass: for every repository
// found under Root's worktrees directory, it resolves the generation
// current_link points at and prunes every other gen-* directory except
// the one immediately before it, leaving a one-generation grace window
// for any FUSE handle the kernel remembers from before a restart.
//
// Boot never contacts the network. It removes worktree directories this
// process did not itself just create, and for each one runs
// `git worktree prune` in the repository's mirror so the mirror forgets it.
func (c *Cache) Boot() error {
	root := repoid.OwnersRootDir(c.cfg.Root)
	owners, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, ownerEnt := range owners {
		if !ownerEnt.IsDir() {
			continue
		}
		owner := repoid.Owner(ownerEnt.Name())
		repoRoot := repoid.OwnerReposDir(c.cfg.Root, owner)
		repos, err := os.ReadDir(repoRoot)
		if err != nil {
			c.cfg.Log.Warn("boot: could not list owner directory", "owner", owner, "err", err)
			continue
		}
		for _, repoEnt := range repos {
			if !repoEnt.IsDir() {
				continue
			}
			repo := repoid.Repo(repoEnt.Name())
			key, err := repoid.NewRepoKey(string(owner), string(repo))
			if err != nil {
				continue
			}
			c.sweepRepo(repoid.NewCachePaths(c.cfg.Root, key))
		}
	}
	return nil
}

func (c *Cache) sweepRepo(paths repoid.CachePaths) {
	log := c.cfg.Log.With("repo", paths.Key.String())

	current, err := ioutilx.ReadAbsLink(paths.CurrentLink())
	if err != nil {
		log.Warn("boot: could not read current_link", "err", err)
		return
	}

	var currentGen repoid.GenerationId
	if current != "" {
		if _, statErr := os.Stat(current); statErr != nil {
			log.Error("boot: current_link points at missing directory, clearing", "target", current)
			_ = os.Remove(paths.CurrentLink())
			current = ""
		} else {
			_, base := ioutilx.SplitAbs(current)
			if gen, ok := repoid.ParseGenerationDirName(base); ok {
				currentGen = gen
			}
		}
	}

	keepFloor := repoid.NoGeneration
	if uint32(currentGen) > 1 {
		keepFloor = currentGen - 1
	}

	entries, err := os.ReadDir(paths.WorktreesDir())
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("boot: could not list worktrees dir", "err", err)
		}
		return
	}
	for _, e := range entries {
		gen, ok := repoid.ParseGenerationDirName(e.Name())
		if !ok {
			continue
		}
		if currentGen.Valid() && (gen == currentGen || gen == keepFloor) {
			continue
		}
		stale := filepath.Join(paths.WorktreesDir(), e.Name())
		log.Info("boot: pruning orphaned generation", "path", stale)
		if err := c.runner.PruneWorktree(context.Background(), paths.MirrorDir(), stale); err != nil {
			log.Warn("boot: failed pruning orphaned generation", "path", stale, "err", err)
		}
	}
}
