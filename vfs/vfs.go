// Package vfs presents an archive listing as a virtual filesystem
// tree backed by an on-demand extraction cache.
//
// The tree (Index) is immutable once built; all dynamic state lives in
// the cache.  The OS specific mount glue sits on top of this package.
package vfs

import (
	"fmt"
	"path/filepath"

	"github.com/archivemount/archivemount/sevenzip"
	"github.com/archivemount/archivemount/vfs/vfscache"
	"github.com/archivemount/archivemount/vfs/vfscommon"
)

// VFS is the state of one mounted archive.
type VFS struct {
	opt     vfscommon.Options
	archive string // absolute path of the archive
	index   *Index
	cache   *vfscache.Cache
}

// New creates a VFS over a listing.
func New(archive string, index *Index, cache *vfscache.Cache, opt *vfscommon.Options) *VFS {
	if opt == nil {
		opt = &vfscommon.DefaultOpt
	}
	return &VFS{
		opt:     *opt,
		archive: archive,
		index:   index,
		cache:   cache,
	}
}

// String for logging.
func (vfs *VFS) String() string {
	return fmt.Sprintf("vfs %q", vfs.archive)
}

// Opt returns the options the VFS was created with.
func (vfs *VFS) Opt() vfscommon.Options {
	return vfs.opt
}

// Archive returns the absolute path of the mounted archive.
func (vfs *VFS) Archive() string {
	return vfs.archive
}

// Index returns the entry index.
func (vfs *VFS) Index() *Index {
	return vfs.index
}

// Cache returns the extraction cache.
func (vfs *VFS) Cache() *vfscache.Cache {
	return vfs.cache
}

// LocalPath returns the scratch location for an archive relative path.
func (vfs *VFS) LocalPath(rel string) string {
	return filepath.Join(vfs.cache.Root(), vfscommon.OSPath(Normalize(rel)))
}

// Shutdown releases everything the mount holds on disk except the
// scratch directory itself, which the supervisor removes.
func (vfs *VFS) Shutdown() {
	vfs.cache.EvictAll()
}

// HandleKind discriminates the variants of a Handle.
type HandleKind byte

// Handle variants.
const (
	// HandleRoot is an open of the mount root.
	HandleRoot HandleKind = iota
	// HandleArchive is an entry served from the index and cache.
	HandleArchive
	// HandleScratch is a file living only below the scratch
	// directory, created through a read-write mount.
	HandleScratch
)

// Handle is the per-open context handed to the kernel bridge.  It is
// created at open, read without locking during the open's lifetime,
// and dropped at close.
type Handle struct {
	Kind      HandleKind
	Node      *Node  // set for HandleArchive
	LocalPath string // set for HandleArchive and HandleScratch
	Dir       bool
}

// OpenRoot returns the handle for the mount root.
func (vfs *VFS) OpenRoot() *Handle {
	return &Handle{Kind: HandleRoot, Node: vfs.index.Root(), Dir: true}
}

// OpenNode opens an index node, pinning its cache record for the
// lifetime of the handle.  Callers must Close the handle.
func (vfs *VFS) OpenNode(node *Node) *Handle {
	if !node.IsDir() {
		vfs.cache.Pin(node.Entry())
	}
	return &Handle{
		Kind:      HandleArchive,
		Node:      node,
		LocalPath: vfs.LocalPath(node.Path()),
		Dir:       node.IsDir(),
	}
}

// OpenScratch returns a handle for a scratch-only file or directory.
func (vfs *VFS) OpenScratch(rel string, dir bool) *Handle {
	return &Handle{
		Kind:      HandleScratch,
		LocalPath: vfs.LocalPath(rel),
		Dir:       dir,
	}
}

// Close releases the handle.  It is idempotent.
func (vfs *VFS) Close(h *Handle) {
	if h == nil || h.Kind != HandleArchive || h.Node == nil {
		return
	}
	if !h.Node.IsDir() {
		vfs.cache.Unpin(h.Node.Entry())
	}
	h.Node = nil
}

// Entry returns the archive entry for archive backed handles.
func (h *Handle) Entry() (sevenzip.Entry, bool) {
	if h.Kind == HandleArchive && h.Node != nil {
		return h.Node.Entry(), true
	}
	return sevenzip.Entry{}, false
}
