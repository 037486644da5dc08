package fsmount

import (
	"context"
	"os"
	"path/filepath"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/utilitywarehouse/repo-mount/repoid"
)

// PassthroughNode stands in for one path beneath a generation root. It
// carries the real host path and the generation id it was bound
// against so a lookup that lands on a generation the kernel still
// remembers, but the cache has since pruned, fails with ESTALE instead
// of silently reading through to whatever now occupies that path.
type PassthroughNode struct {
	baseNode
	noWrite

	hostPath   string
	ino        uint64
	generation repoid.GenerationId
}

var (
	_ fs.NodeGetattrer   = (*PassthroughNode)(nil)
	_ fs.NodeLookuper    = (*PassthroughNode)(nil)
	_ fs.NodeReaddirer   = (*PassthroughNode)(nil)
	_ fs.NodeOpener      = (*PassthroughNode)(nil)
	_ fs.NodeReader      = (*PassthroughNode)(nil)
	_ fs.NodeReadlinker  = (*PassthroughNode)(nil)
	_ fs.NodeOnForgetter = (*PassthroughNode)(nil)
)

// OnForget drops this node's inode-table binding once go-fuse forgets it.
func (n *PassthroughNode) OnForget() {
	n.s.table.forget(n.ino)
}

func (n *PassthroughNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	fi, err := os.Lstat(n.hostPath)
	if err != nil {
		if os.IsNotExist(err) {
			return syscall.ESTALE
		}
		return syscall.EIO
	}
	fillAttrOutFromStat(n.s, out, fi)
	return 0
}

func (n *PassthroughNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries, err := os.ReadDir(n.hostPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, syscall.ESTALE
		}
		return nil, syscall.EIO
	}
	var dirents []fuse.DirEntry
	for _, e := range entries {
		mode := uint32(syscall.S_IFREG)
		info, err := e.Info()
		if err == nil {
			mode = fuseTypeForMode(info.Mode())
		}
		dirents = append(dirents, fuse.DirEntry{Name: e.Name(), Mode: mode})
	}
	return fs.NewListDirStream(dirents), 0
}

func (n *PassthroughNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := filepath.Join(n.hostPath, name)
	fi, err := os.Lstat(childPath)
	if err != nil {
		if os.IsNotExist(err) {
			if _, parentErr := os.Lstat(n.hostPath); os.IsNotExist(parentErr) {
				return nil, syscall.ESTALE
			}
			return nil, syscall.ENOENT
		}
		return nil, syscall.EIO
	}

	ino := n.s.table.allocate()
	n.s.table.bindPassthrough(ino, childPath, n.generation)
	child := &PassthroughNode{baseNode: baseNode{s: n.s}, hostPath: childPath, ino: ino, generation: n.generation}

	fillEntryOutFromStat(n.s, out, fi)
	mode := fuseTypeForMode(fi.Mode())
	return n.NewInode(ctx, child, fs.StableAttr{Mode: mode, Ino: ino}), 0
}

func (n *PassthroughNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR|syscall.O_CREAT|syscall.O_TRUNC|syscall.O_APPEND) != 0 {
		return nil, 0, syscall.EACCES
	}
	// go-fuse's loopback file keeps only the raw fd, not a reference to
	// an *os.File; opening through os.Open and handing off f.Fd() would
	// leave f unreferenced, and its GC finalizer would be free to close
	// the fd out from under the loopback handle. syscall.Open avoids
	// that finalizer entirely.
	fd, err := syscall.Open(n.hostPath, syscall.O_RDONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, syscall.ESTALE
		}
		return nil, 0, syscall.EIO
	}
	return fs.NewLoopbackFile(fd), fuse.FOPEN_KEEP_CACHE, 0
}

func (n *PassthroughNode) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	if reader, ok := f.(fs.FileReader); ok {
		return reader.Read(ctx, dest, off)
	}
	return nil, syscall.EIO
}

func (n *PassthroughNode) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	target, err := os.Readlink(n.hostPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, syscall.ESTALE
		}
		return nil, syscall.EIO
	}
	return []byte(target), 0
}

func fillAttrOutFromStat(s *shared, out *fuse.AttrOut, fi os.FileInfo) {
	out.Mode = fuseTypeForMode(fi.Mode()) | readOnlyPermBits(fi.Mode())
	out.Size = uint64(fi.Size())
	out.Uid = s.cfg.Uid
	out.Gid = s.cfg.Gid
	mtime := fi.ModTime()
	out.SetTimes(&mtime, &mtime, &mtime)
	out.SetTimeout(s.cfg.PassthroughAttrCacheTTL)
}

func fillEntryOutFromStat(s *shared, out *fuse.EntryOut, fi os.FileInfo) {
	out.Attr.Mode = fuseTypeForMode(fi.Mode()) | readOnlyPermBits(fi.Mode())
	out.Attr.Size = uint64(fi.Size())
	out.Attr.Uid = s.cfg.Uid
	out.Attr.Gid = s.cfg.Gid
	mtime := fi.ModTime()
	out.Attr.SetTimes(&mtime, &mtime, &mtime)
	out.SetAttrTimeout(s.cfg.PassthroughAttrCacheTTL)
	out.SetEntryTimeout(s.cfg.EntryCacheTTL)
}

// readOnlyPermBits strips write bits from the host mode's permission
// bits, since the mount as a whole is read-only regardless of what the
// underlying generation checkout's permissions say.
func readOnlyPermBits(mode os.FileMode) uint32 {
	return uint32(mode.Perm()) &^ 0222
}

func fuseTypeForMode(mode os.FileMode) uint32 {
	switch {
	case mode&os.ModeSymlink != 0:
		return syscall.S_IFLNK
	case mode.IsDir():
		return syscall.S_IFDIR
	default:
		return syscall.S_IFREG
	}
}
