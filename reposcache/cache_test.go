package reposcache

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	ioutilx "github.com/utilitywarehouse/repo-mount/internal/ioutil"
	"github.com/utilitywarehouse/repo-mount/repoid"
	"github.com/utilitywarehouse/repo-mount/vcs"
)

// fakeRunner simulates the version-control runner without ever shelling
// out, so these tests exercise the cache's own bookkeeping.
type fakeRunner struct {
	initErr    error
	fetchErr   error
	resolveErr error
	worktreeErr error

	initCalls int
	fetchCalls int
}

func (f *fakeRunner) InitMirror(ctx context.Context, dir, remote string, creds vcs.Credentials) (string, error) {
	f.initCalls++
	if f.initErr != nil {
		return "", f.initErr
	}
	_ = os.MkdirAll(dir, 0755)
	return "refs/heads/main", nil
}

func (f *fakeRunner) Fetch(ctx context.Context, dir, remote string, creds vcs.Credentials) ([]string, error) {
	f.fetchCalls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return nil, nil
}

func (f *fakeRunner) ResolveRef(ctx context.Context, dir, ref string) (string, error) {
	if f.resolveErr != nil {
		return "", f.resolveErr
	}
	return "deadbeef", nil
}

func (f *fakeRunner) CreateWorktree(ctx context.Context, mirrorDir, worktreeDir, hash string) error {
	if f.worktreeErr != nil {
		return f.worktreeErr
	}
	return os.MkdirAll(worktreeDir, 0755)
}

func (f *fakeRunner) PruneWorktree(ctx context.Context, mirrorDir, worktreeDir string) error {
	return os.RemoveAll(worktreeDir)
}

type fakeResolver struct{}

func (fakeResolver) Resolve(ctx context.Context, key repoid.RepoKey) (string, vcs.Credentials, error) {
	return "https://example.com/" + key.String() + ".git", vcs.Credentials{}, nil
}

func newTestCache(t *testing.T, runner vcsRunner) (*Cache, string) {
	t.Helper()
	root := t.TempDir()
	c := New(Config{
		Root: root,
		TTL:  time.Minute,
		Log:  slog.Default(),
	}, fakeResolver{}, runner)
	return c, root
}

func TestEnsureCurrentPublishesFirstGeneration(t *testing.T) {
	r := &fakeRunner{}
	c, root := newTestCache(t, r)
	key, err := repoid.NewRepoKey("acme", "widgets")
	if err != nil {
		t.Fatal(err)
	}

	path, err := c.EnsureCurrent(context.Background(), key)
	if err != nil {
		t.Fatalf("EnsureCurrent: %v", err)
	}

	paths := repoid.NewCachePaths(root, key)
	if path != paths.GenerationDir(1) {
		t.Fatalf("expected generation 1 dir, got %q", path)
	}
	target, err := ioutilx.ReadAbsLink(paths.CurrentLink())
	if err != nil {
		t.Fatalf("ReadAbsLink: %v", err)
	}
	if target != path {
		t.Fatalf("current_link points at %q, want %q", target, path)
	}
}

func TestEnsureCurrentServesTTLWithoutNetworkWork(t *testing.T) {
	r := &fakeRunner{}
	c, _ := newTestCache(t, r)
	key, _ := repoid.NewRepoKey("acme", "widgets")
	ctx := context.Background()

	if _, err := c.EnsureCurrent(ctx, key); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := c.EnsureCurrent(ctx, key); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if r.fetchCalls != 1 {
		t.Fatalf("expected exactly one fetch within TTL, got %d", r.fetchCalls)
	}
}

func TestEnsureCurrentServesStaleOnFetchFailure(t *testing.T) {
	r := &fakeRunner{}
	c, _ := newTestCache(t, r)
	key, _ := repoid.NewRepoKey("acme", "widgets")
	ctx := context.Background()

	first, err := c.EnsureCurrent(ctx, key)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}

	r.fetchErr = vcs.ErrNetworkUnavailable
	second, err := c.ForceRefresh(ctx, key)
	if err != nil {
		t.Fatalf("expected stale-serving success, got error: %v", err)
	}
	if second != first {
		t.Fatalf("expected stale generation %q to be served, got %q", first, second)
	}
}

func TestEnsureCurrentFirstMaterializationFailureIsFatal(t *testing.T) {
	r := &fakeRunner{fetchErr: vcs.ErrNetworkUnavailable}
	c, _ := newTestCache(t, r)
	key, _ := repoid.NewRepoKey("acme", "widgets")

	_, err := c.EnsureCurrent(context.Background(), key)
	if err == nil {
		t.Fatal("expected error on first materialization failure")
	}
	var cacheErr *Error
	if !errors.As(err, &cacheErr) {
		t.Fatalf("expected *reposcache.Error, got %T", err)
	}
	if cacheErr.Category != CategoryNetworkUnavailable {
		t.Fatalf("expected CategoryNetworkUnavailable, got %v", cacheErr.Category)
	}
}

func TestEnsureCurrentMonotoneGenerations(t *testing.T) {
	r := &fakeRunner{}
	c, root := newTestCache(t, r)
	c.ttl.Store(0) // force a refresh on every call
	key, _ := repoid.NewRepoKey("acme", "widgets")
	ctx := context.Background()
	paths := repoid.NewCachePaths(root, key)

	first, err := c.EnsureCurrent(ctx, key)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := c.EnsureCurrent(ctx, key)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}

	if first != paths.GenerationDir(1) || second != paths.GenerationDir(2) {
		t.Fatalf("expected gen 1 then gen 2, got %q then %q", first, second)
	}
}

func TestEnsureCurrentRetentionPrunesOldGenerations(t *testing.T) {
	r := &fakeRunner{}
	c, root := newTestCache(t, r)
	c.ttl.Store(0)
	c.retentionGenerations.Store(1)
	key, _ := repoid.NewRepoKey("acme", "widgets")
	ctx := context.Background()
	paths := repoid.NewCachePaths(root, key)

	for i := 0; i < 3; i++ {
		if _, err := c.EnsureCurrent(ctx, key); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}

	// retention runs asynchronously; give it a moment.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(paths.GenerationDir(1)); os.IsNotExist(err) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := os.Stat(paths.GenerationDir(1)); !os.IsNotExist(err) {
		t.Fatalf("expected generation 1 to be pruned after 2 generations of retention=1 slack")
	}
	if _, err := os.Stat(paths.GenerationDir(3)); err != nil {
		t.Fatalf("expected generation 3 (current) to remain: %v", err)
	}
}

func TestEnsureCurrentInvalidIdentifierNeverTouchesDisk(t *testing.T) {
	r := &fakeRunner{}
	_, root := newTestCache(t, r)

	if _, err := repoid.NewRepoKey("../etc", "passwd"); err == nil {
		t.Fatal("expected validation to reject path traversal owner")
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no directories created under cache root, found %v", entries)
	}
}

// blockingRunner behaves like fakeRunner except Fetch blocks until
// released, so a test can hold the cache's per-key lock open long
// enough to prove concurrent callers coalesce onto it rather than each
// running their own fetch.
type blockingRunner struct {
	fakeRunner

	entered chan struct{}
	release chan struct{}
	once    sync.Once
	fetchN  atomic.Int32
}

func (r *blockingRunner) Fetch(ctx context.Context, dir, remote string, creds vcs.Credentials) ([]string, error) {
	r.fetchN.Add(1)
	r.once.Do(func() { close(r.entered) })
	<-r.release
	return r.fakeRunner.Fetch(ctx, dir, remote, creds)
}

func TestEnsureCurrentCoalescesConcurrentCallers(t *testing.T) {
	r := &blockingRunner{entered: make(chan struct{}), release: make(chan struct{})}
	c, root := newTestCache(t, r)
	key, _ := repoid.NewRepoKey("acme", "widgets")
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.EnsureCurrent(ctx, key)
		}(i)
	}

	// Wait for the first caller to reach Fetch, then give the rest a
	// moment to pile up behind the per-key lock before releasing it.
	<-r.entered
	time.Sleep(50 * time.Millisecond)
	close(r.release)
	wg.Wait()

	paths := repoid.NewCachePaths(root, key)
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i] != paths.GenerationDir(1) {
			t.Fatalf("caller %d: expected generation 1, got %q", i, results[i])
		}
	}
	if n := r.fetchN.Load(); n != 1 {
		t.Fatalf("expected exactly one fetch to coalesce %d concurrent callers, got %d", callers, n)
	}
}

func TestCachePathsCanonicalization(t *testing.T) {
	root := t.TempDir()
	key, _ := repoid.NewRepoKey("Acme", "Widgets")
	p := repoid.NewCachePaths(root, key)
	if filepath.Base(p.MirrorDir()) != "widgets.git" {
		t.Fatalf("expected lowercase mirror dir name, got %q", p.MirrorDir())
	}
}
