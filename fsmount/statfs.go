package fsmount

import (
	"context"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// Statfs reports a read-only filesystem with no free space, so tools
// that check available space before writing fail fast instead of
// attempting a write that EROFS would reject anyway.
func (n *RootNode) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	out.Blocks = 0
	out.Bfree = 0
	out.Bavail = 0
	out.Files = 0
	out.Ffree = 0
	out.Bsize = 4096
	out.NameLen = 255
	return 0
}

var _ fs.NodeStatfser = (*RootNode)(nil)
