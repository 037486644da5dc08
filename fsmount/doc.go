// Package fsmount is the filesystem surface (C6) and its inode table
// (C5): a read-only FUSE tree whose first two levels (owner, repo) are
// synthesized from the cache's on-disk layout, and whose deeper levels
// are a passthrough onto whatever generation directory ensure_current
// most recently resolved.
package fsmount
