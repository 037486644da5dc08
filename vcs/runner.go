package vcs

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	ioutilx "github.com/utilitywarehouse/repo-mount/internal/ioutil"
)

// waitDelay bounds how long a killed git process is given to exit after
// its context is cancelled before the runner gives up on it.
const waitDelay = 5 * time.Second

const askpassScript = "#!/bin/sh\ncase \"$1\" in\n  Username*) echo \"$VCS_USERNAME\" ;;\n  Password*) echo \"$VCS_PASSWORD\" ;;\nesac\n"

var remoteDefaultBranchRgx = regexp.MustCompile(`ref:\s+refs/heads/(\S+)\s+HEAD`)

// Runner executes the sequence of git subcommands the cache needs:
// creating and fetching a bare mirror, resolving the remote's default
// branch, and materializing or pruning worktrees from it. One Runner can
// be shared across every repository; it carries no per-repo state.
type Runner struct {
	log *slog.Logger

	mu          sync.Mutex
	askpassPath string
}

// NewRunner builds a Runner that logs commands at trace level under
// log. A nil log is replaced with slog.Default().
func NewRunner(log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{log: log}
}

// InitMirror ensures dir holds a bare mirror of remote, creating and
// configuring it if dir does not yet exist or fails a sanity check.
// It returns the remote's default branch ref (e.g. "refs/heads/main").
func (r *Runner) InitMirror(ctx context.Context, dir, remote string, creds Credentials) (defaultRef string, err error) {
	switch _, statErr := os.Stat(dir); {
	case os.IsNotExist(statErr):
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", &Error{Stage: StageInit, Err: fmt.Errorf("creating mirror dir: %w", err)}
		}
	case statErr != nil:
		return "", &Error{Stage: StageInit, Err: fmt.Errorf("stat mirror dir: %w", statErr)}
	default:
		if r.sanityCheckMirror(ctx, dir, remote) {
			return r.resolveDefaultBranch(ctx, dir, remote, creds)
		}
		r.log.Warn("mirror directory failed sanity check, recreating", "dir", dir)
		if err := ioutilx.ReCreate(dir); err != nil {
			return "", &Error{Stage: StageInit, Err: fmt.Errorf("recreating mirror dir: %w", err)}
		}
	}

	if _, err := r.git(ctx, nil, dir, StageInit, "init", "-q", "--bare"); err != nil {
		return "", err
	}
	if _, err := r.git(ctx, nil, dir, StageInit, "remote", "add", "--mirror=fetch", "origin", remote); err != nil {
		return "", err
	}

	ref, err := r.resolveDefaultBranch(ctx, dir, remote, creds)
	if err != nil {
		return "", err
	}
	if _, err := r.git(ctx, nil, dir, StageInit, "symbolic-ref", "HEAD", ref); err != nil {
		return "", err
	}
	if _, err := r.Fetch(ctx, dir, remote, creds); err != nil {
		return "", err
	}
	if !r.sanityCheckMirror(ctx, dir, remote) {
		return "", &Error{Stage: StageInit, Err: fmt.Errorf("mirror at %s failed sanity check after init", dir)}
	}
	return ref, nil
}

// resolveDefaultBranch asks the remote which branch HEAD points at.
func (r *Runner) resolveDefaultBranch(ctx context.Context, dir, remote string, creds Credentials) (string, error) {
	env, err := r.env(remote, creds)
	if err != nil {
		return "", &Error{Stage: StageLsRemote, Err: err}
	}
	out, gitErr := r.git(ctx, env, dir, StageLsRemote, "ls-remote", "--symref", "origin", "HEAD")
	if gitErr != nil {
		return "", gitErr
	}
	m := remoteDefaultBranchRgx.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", &Error{Stage: StageLsRemote, Err: fmt.Errorf("could not parse ls-remote output: %q", out)}
	}
	return "refs/heads/" + m[1], nil
}

// Fetch updates every ref in the mirror at dir from remote, returning
// the refs that changed.
func (r *Runner) Fetch(ctx context.Context, dir, remote string, creds Credentials) ([]string, error) {
	env, err := r.env(remote, creds)
	if err != nil {
		return nil, &Error{Stage: StageFetch, Err: err}
	}
	out, gitErr := r.git(ctx, env, dir, StageFetch, "fetch", "origin", "--prune", "--no-progress", "--porcelain", "--no-auto-gc")
	if gitErr != nil {
		return nil, gitErr
	}
	return parseUpdatedRefs(out), nil
}

// ResolveRef returns the commit hash that ref currently points at in
// the mirror at dir.
func (r *Runner) ResolveRef(ctx context.Context, dir, ref string) (string, error) {
	out, err := r.git(ctx, nil, dir, StageFetch, "rev-parse", ref)
	if err != nil {
		return "", err
	}
	return out, nil
}

// CreateWorktree materializes a detached checkout of hash
// from the mirror at mirrorDir into worktreeDir. worktreeDir must not
// already exist as a git worktree; any leftover directory at that path
// is removed first, matching the "numbered generation directories are
// always fresh" invariant the cache relies on.
func (r *Runner) CreateWorktree(ctx context.Context, mirrorDir, worktreeDir, hash string) error {
	if _, statErr := os.Stat(worktreeDir); statErr == nil {
		if err := os.RemoveAll(worktreeDir); err != nil {
			return &Error{Stage: StageWorktree, Err: fmt.Errorf("clearing stale worktree dir: %w", err)}
		}
	}
	if _, err := r.git(ctx, nil, mirrorDir, StageWorktree, "worktree", "add", "--force", "--detach", "--no-checkout", worktreeDir, hash); err != nil {
		return err
	}
	if _, err := r.git(ctx, nil, worktreeDir, StageCheckout, "checkout", "--quiet", hash); err != nil {
		_ = r.PruneWorktree(ctx, mirrorDir, worktreeDir)
		return err
	}
	return nil
}

// PruneWorktree removes worktreeDir and tells the mirror at mirrorDir
// to forget about it.
func (r *Runner) PruneWorktree(ctx context.Context, mirrorDir, worktreeDir string) error {
	if err := os.RemoveAll(worktreeDir); err != nil {
		return &Error{Stage: StagePrune, Err: fmt.Errorf("removing worktree dir: %w", err)}
	}
	if _, err := r.git(ctx, nil, mirrorDir, StagePrune, "worktree", "prune", "--verbose"); err != nil {
		return err
	}
	return nil
}

// sanityCheckMirror verifies dir is a bare mirror of remote, the way
// the cache expects: non-empty, bare, rooted at dir, with the right
// origin URL, and passing a connectivity-only fsck.
func (r *Runner) sanityCheckMirror(ctx context.Context, dir, remote string) bool {
	if empty, err := dirIsEmpty(dir); err != nil || empty {
		return false
	}
	if out, err := r.git(ctx, nil, dir, StageSanity, "rev-parse", "--is-bare-repository"); err != nil || out != "true" {
		return false
	}
	if out, err := r.git(ctx, nil, dir, StageSanity, "rev-parse", "--absolute-git-dir"); err != nil || out != dir {
		return false
	}
	if out, err := r.git(ctx, nil, dir, StageSanity, "config", "--get", "remote.origin.url"); err != nil || out != remote {
		return false
	}
	if _, err := r.git(ctx, nil, dir, StageSanity, "fsck", "--no-progress", "--connectivity-only"); err != nil {
		return false
	}
	return true
}

// env builds the environment for a remote-touching git invocation,
// lazily installing the askpass helper script the first time it's
// needed for this Runner.
func (r *Runner) env(remote string, creds Credentials) ([]string, error) {
	askpass, err := r.ensureAskpass()
	if err != nil {
		return nil, err
	}
	return authEnv(remote, creds, askpass), nil
}

// ensureAskpass writes the askpass helper script to a stable path under
// the OS temp directory once per Runner and returns that path.
func (r *Runner) ensureAskpass() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.askpassPath != "" {
		return r.askpassPath, nil
	}
	path := filepath.Join(os.TempDir(), fmt.Sprintf("repo-mount-askpass-%d.sh", os.Getpid()))
	if err := os.WriteFile(path, []byte(askpassScript), 0700); err != nil {
		return "", fmt.Errorf("installing askpass helper: %w", err)
	}
	r.askpassPath = path
	return path, nil
}

// git runs one git subcommand, trimming and capturing stdout/stderr,
// and classifies any failure into a *vcs.Error.
func (r *Runner) git(ctx context.Context, env []string, cwd string, stage Stage, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = cwd
	cmd.WaitDelay = waitDelay
	if env != nil {
		cmd.Env = env
	} else {
		cmd.Env = baseEnv()
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.log.Log(ctx, slog.Level(-8), "running git command", "cwd", cwd, "args", args)
	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	out := strings.TrimSpace(stdout.String())
	errOut := strings.TrimSpace(stderr.String())

	if ctx.Err() == context.DeadlineExceeded {
		runErr = ctx.Err()
	}
	if runErr != nil {
		r.log.Log(ctx, slog.Level(-8), "git command failed", "args", args, "stderr", errOut, "err", runErr)
		vcsErr := classify(&Error{Stage: stage, Command: append([]string{"git"}, args...), ExitCode: exitCode(runErr), StderrTail: errOut, Err: runErr})
		return "", vcsErr
	}
	r.log.Log(ctx, slog.Level(-8), "git command succeeded", "args", args, "time", elapsed)
	return out, nil
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		return exitErr.ExitCode()
	}
	return -1
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if !ok {
		return false
	}
	*target = ee
	return true
}

func dirIsEmpty(dir string) (bool, error) {
	f, err := os.Open(dir)
	if err != nil {
		return false, err
	}
	defer f.Close()
	_, err = f.Readdirnames(1)
	if err == nil {
		return false, nil
	}
	return true, nil
}

// parseUpdatedRefs extracts the ref names touched by a porcelain fetch
// report, skipping the leading status character and old/new oid columns.
func parseUpdatedRefs(porcelain string) []string {
	var refs []string
	for _, line := range strings.Split(porcelain, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		refs = append(refs, fields[len(fields)-1])
	}
	return refs
}
