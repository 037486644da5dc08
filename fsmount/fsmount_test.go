package fsmount

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/utilitywarehouse/repo-mount/reposcache"
)

func TestErrnoForCacheErrorMapping(t *testing.T) {
	cases := []struct {
		cat  reposcache.Category
		want syscall.Errno
	}{
		{reposcache.CategoryInvalidIdentifier, syscall.ENOENT},
		{reposcache.CategoryRepoNotFound, syscall.ENOENT},
		{reposcache.CategoryAuthRequired, syscall.EACCES},
		{reposcache.CategoryNetworkUnavailable, syscall.EIO},
		{reposcache.CategoryTransportError, syscall.EIO},
		{reposcache.CategoryFilesystemError, syscall.EIO},
		{reposcache.CategoryLockTimeout, syscall.EIO},
		{reposcache.CategoryIntegrityError, syscall.EIO},
		{reposcache.CategoryWriteDenied, syscall.EROFS},
	}
	for _, tc := range cases {
		err := &reposcache.Error{Category: tc.cat}
		if got := classifyCacheError(err); got != tc.want {
			t.Errorf("category %v: got errno %v, want %v", tc.cat, got, tc.want)
		}
	}
}

func TestErrnoForCacheErrorFallsBackToEIO(t *testing.T) {
	if got := classifyCacheError(os.ErrClosed); got != syscall.EIO {
		t.Errorf("expected EIO for an untyped error, got %v", got)
	}
}

func TestFuseTypeForMode(t *testing.T) {
	dir := t.TempDir()
	regFile := filepath.Join(dir, "f")
	if err := os.WriteFile(regFile, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "l")
	if err := os.Symlink(regFile, link); err != nil {
		t.Fatal(err)
	}

	regInfo, _ := os.Lstat(regFile)
	dirInfo, _ := os.Lstat(dir)
	linkInfo, _ := os.Lstat(link)

	if fuseTypeForMode(regInfo.Mode()) != syscall.S_IFREG {
		t.Error("expected regular file to map to S_IFREG")
	}
	if fuseTypeForMode(dirInfo.Mode()) != syscall.S_IFDIR {
		t.Error("expected directory to map to S_IFDIR")
	}
	if fuseTypeForMode(linkInfo.Mode()) != syscall.S_IFLNK {
		t.Error("expected symlink to map to S_IFLNK")
	}
}

func TestReadOnlyPermBitsStripsWrite(t *testing.T) {
	got := readOnlyPermBits(0755)
	if got&0222 != 0 {
		t.Errorf("expected write bits stripped, got %o", got)
	}
	if got&0555 != 0555 {
		t.Errorf("expected read/execute bits preserved, got %o", got)
	}
}

func TestDirHasNoEntries(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "owner")
	empty, err := dirHasNoEntries(sub)
	if err != nil || !empty {
		t.Fatalf("missing dir should report empty=true, got empty=%v err=%v", empty, err)
	}

	if err := os.MkdirAll(filepath.Join(sub, "repo"), 0755); err != nil {
		t.Fatal(err)
	}
	empty, err = dirHasNoEntries(sub)
	if err != nil || empty {
		t.Fatalf("populated dir should report empty=false, got empty=%v err=%v", empty, err)
	}
}
