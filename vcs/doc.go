// Package vcs is the thin layer over the git binary: it knows how to
// create a bare mirror clone, fetch it, resolve the remote's default
// branch and materialize/prune worktrees from it. It never decides when
// those things should happen; reposcache owns that.
package vcs
