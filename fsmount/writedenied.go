package fsmount

import (
	"context"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// noWrite implements every write-class FUSE operation by returning
// EROFS, regardless of node kind. Embedding it in a node satisfies the
// corresponding go-fuse interfaces via method promotion, so every node
// in the tree rejects writes identically (P5).
type noWrite struct{}

var (
	_ fs.NodeCreater    = noWrite{}
	_ fs.NodeMkdirer    = noWrite{}
	_ fs.NodeUnlinker   = noWrite{}
	_ fs.NodeRmdirer    = noWrite{}
	_ fs.NodeRenamer    = noWrite{}
	_ fs.NodeLinker     = noWrite{}
	_ fs.NodeSymlinker  = noWrite{}
	_ fs.NodeMknoder    = noWrite{}
	_ fs.NodeSetattrer  = noWrite{}
	_ fs.NodeSetxattrer = noWrite{}
)

func (noWrite) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	return nil, nil, 0, syscall.EROFS
}

func (noWrite) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, syscall.EROFS
}

func (noWrite) Unlink(ctx context.Context, name string) syscall.Errno {
	return syscall.EROFS
}

func (noWrite) Rmdir(ctx context.Context, name string) syscall.Errno {
	return syscall.EROFS
}

func (noWrite) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	return syscall.EROFS
}

func (noWrite) Link(ctx context.Context, target fs.InodeEmbedder, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, syscall.EROFS
}

func (noWrite) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, syscall.EROFS
}

func (noWrite) Mknod(ctx context.Context, name string, mode, dev uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, syscall.EROFS
}

func (noWrite) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	return syscall.EROFS
}

func (noWrite) Setxattr(ctx context.Context, attr string, data []byte, flags uint32) syscall.Errno {
	return syscall.EROFS
}
