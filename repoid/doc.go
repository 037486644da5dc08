// Package repoid holds the identifier model (owner, repo, repo key,
// generation id) and the pure path layout derived from it.
//
// Nothing in this package touches disk or the network: CachePaths is a
// function of a root directory and a RepoKey only, so the layout can be
// computed, compared and tested without a cache or a filesystem.
package repoid
