// Package cmount implements the filesystem callback surface for a
// mounted archive on top of cgofuse.
//
// On Windows cgofuse runs over WinFsp, which translates the errnos
// returned here onto NT statuses on the kernel side (ENOENT becomes
// STATUS_OBJECT_NAME_NOT_FOUND, EACCES becomes STATUS_ACCESS_DENIED,
// EIO becomes STATUS_INVALID_DEVICE_REQUEST and so on).
package cmount

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/winfsp/cgofuse/fuse"

	"github.com/archivemount/archivemount/cmd/mountlib"
	"github.com/archivemount/archivemount/fs"
	"github.com/archivemount/archivemount/lib/console"
	"github.com/archivemount/archivemount/vfs"
	"github.com/archivemount/archivemount/vfs/vfscache"
)

const invalidFh = ^uint64(0)

// FS represents the mounted archive to cgofuse.
//
// All methods may be called concurrently from the host's worker
// threads; the only mutable state is the handle table under mu - the
// index is immutable and the cache locks internally.
type FS struct {
	fuse.FileSystemBase
	VFS        *vfs.VFS
	opt        *mountlib.Options
	mountPoint string
	host       *fuse.FileSystemHost

	mu      sync.Mutex
	handles []*vfs.Handle
}

// NewFS creates the callback surface for VFS.
func NewFS(VFS *vfs.VFS, mountPoint string, opt *mountlib.Options) *FS {
	return &FS{
		VFS:        VFS,
		opt:        opt,
		mountPoint: mountPoint,
	}
}

// openHandle stores a handle and returns its slot.
func (fsys *FS) openHandle(handle *vfs.Handle) uint64 {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	for i, h := range fsys.handles {
		if h == nil {
			fsys.handles[i] = handle
			return uint64(i)
		}
	}
	fsys.handles = append(fsys.handles, handle)
	return uint64(len(fsys.handles) - 1)
}

// getHandle looks up an open handle.
func (fsys *FS) getHandle(fh uint64) (*vfs.Handle, int) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if fh >= uint64(len(fsys.handles)) || fsys.handles[fh] == nil {
		return nil, -fuse.EBADF
	}
	return fsys.handles[fh], 0
}

// closeHandle releases a slot.  Closing twice is a no-op.
func (fsys *FS) closeHandle(fh uint64) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if fh >= uint64(len(fsys.handles)) || fsys.handles[fh] == nil {
		return
	}
	handle := fsys.handles[fh]
	fsys.handles[fh] = nil
	fsys.VFS.Close(handle)
}

// translateError converts an internal error to a fuse errno.
func translateError(err error) int {
	if err == nil {
		return 0
	}
	var vfsErr vfs.Error
	if errors.As(err, &vfsErr) {
		switch vfsErr {
		case vfs.OK:
			return 0
		case vfs.ENOENT:
			return -fuse.ENOENT
		case vfs.ENOTDIR:
			return -fuse.ENOTDIR
		case vfs.EISDIR:
			return -fuse.EISDIR
		case vfs.EEXIST:
			return -fuse.EEXIST
		case vfs.ENOTEMPTY:
			return -fuse.ENOTEMPTY
		case vfs.EBADF:
			return -fuse.EBADF
		case vfs.EROFS:
			// EACCES rather than EROFS so WinFsp surfaces the access
			// denied status applications expect from a locked volume.
			return -fuse.EACCES
		case vfs.ENOSYS:
			return -fuse.ENOSYS
		case vfs.EINVAL:
			return -fuse.EINVAL
		}
	}
	if errors.Is(err, vfscache.ErrExtractFailed) {
		return -fuse.EIO
	}
	if errors.Is(err, os.ErrNotExist) {
		return -fuse.ENOENT
	}
	fs.Debugf(nil, "translating unknown error: %v", err)
	return -fuse.EIO
}

// permissions for reported modes.
func (fsys *FS) perms(dir bool) uint32 {
	if dir {
		if fsys.VFS.Opt().ReadOnly {
			return fuse.S_IFDIR | 0555
		}
		return fuse.S_IFDIR | 0777
	}
	if fsys.VFS.Opt().ReadOnly {
		return fuse.S_IFREG | 0444
	}
	return fuse.S_IFREG | 0666
}

// statFromNode fills s with the attributes of an index node.
func (fsys *FS) statFromNode(node *vfs.Node, s *fuse.Stat_t) {
	entry := node.Entry()
	mtime := fuse.NewTimespec(node.ModTime())
	s.Mode = fsys.perms(node.IsDir())
	s.Nlink = 1
	s.Size = node.Size()
	s.Mtim = mtime
	s.Atim = mtime
	s.Ctim = mtime
	if !entry.Created.IsZero() {
		s.Birthtim = fuse.NewTimespec(entry.Created)
	} else {
		s.Birthtim = mtime
	}
}

// statFromOS fills s from live scratch file metadata.
func (fsys *FS) statFromOS(info os.FileInfo, s *fuse.Stat_t) {
	mtime := fuse.NewTimespec(info.ModTime())
	s.Mode = fsys.perms(info.IsDir())
	s.Nlink = 1
	s.Size = info.Size()
	s.Mtim = mtime
	s.Atim = mtime
	s.Ctim = mtime
	s.Birthtim = mtime
}

// statRoot fills s with the fixed record for the mount root.
func statRoot(s *fuse.Stat_t) {
	epoch := fuse.NewTimespec(time.Unix(0, 0))
	s.Mode = fuse.S_IFDIR | 0555
	s.Nlink = 1
	s.Mtim = epoch
	s.Atim = epoch
	s.Ctim = epoch
	s.Birthtim = epoch
}

// open implements Open, Create and Opendir.
func (fsys *FS) open(path string, flags int) (errc int, fh uint64) {
	name := vfs.Normalize(path)
	if vfs.IsNuisancePath(name) {
		return -fuse.ENOENT, invalidFh
	}
	if name == "" {
		return 0, fsys.openHandle(fsys.VFS.OpenRoot())
	}

	readOnly := fsys.VFS.Opt().ReadOnly
	wantsWrite := flags&(fuse.O_WRONLY|fuse.O_RDWR|fuse.O_TRUNC|fuse.O_CREAT) != 0
	if readOnly && wantsWrite {
		return -fuse.EACCES, invalidFh
	}

	if node, err := fsys.VFS.Index().Lookup(name); err == nil {
		if flags&fuse.O_EXCL != 0 {
			return -fuse.EEXIST, invalidFh
		}
		return 0, fsys.openHandle(fsys.VFS.OpenNode(node))
	}

	if readOnly {
		if fsys.VFS.Opt().Debug {
			fs.Debugf(nil, "open failed: %q flags=%#x", name, flags)
		}
		return -fuse.ENOENT, invalidFh
	}

	// Read-write mount: the path may be a scratch file made by an
	// earlier create, or a create-class open materializing a new one.
	// The index itself never changes.
	localPath := fsys.VFS.LocalPath(name)
	info, statErr := os.Stat(localPath)
	switch {
	case statErr == nil:
		return 0, fsys.openHandle(fsys.VFS.OpenScratch(name, info.IsDir()))
	case flags&fuse.O_CREAT != 0:
		if err := createScratchFile(localPath); err != nil {
			fs.Errorf(nil, "failed to create %q: %v", localPath, err)
			return -fuse.EIO, invalidFh
		}
		return 0, fsys.openHandle(fsys.VFS.OpenScratch(name, false))
	default:
		return -fuse.ENOENT, invalidFh
	}
}

func createScratchFile(localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0777); err != nil {
		return err
	}
	f, err := os.OpenFile(localPath, os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	return f.Close()
}

// Open opens an existing file.
func (fsys *FS) Open(path string, flags int) (errc int, fh uint64) {
	return fsys.open(path, flags)
}

// Create creates and opens a file.
func (fsys *FS) Create(path string, flags int, mode uint32) (errc int, fh uint64) {
	return fsys.open(path, flags|fuse.O_CREAT)
}

// Opendir opens a directory.
func (fsys *FS) Opendir(path string) (errc int, fh uint64) {
	return fsys.open(path, 0)
}

// Release closes an open file.
func (fsys *FS) Release(path string, fh uint64) int {
	fsys.closeHandle(fh)
	return 0
}

// Releasedir closes an open directory.
func (fsys *FS) Releasedir(path string, fh uint64) int {
	fsys.closeHandle(fh)
	return 0
}

// Getattr reads file attributes.  Metadata for archive entries comes
// from the index only - cache state never changes what is reported.
func (fsys *FS) Getattr(path string, s *fuse.Stat_t, fh uint64) int {
	if fh != invalidFh {
		handle, errc := fsys.getHandle(fh)
		if errc != 0 {
			return errc
		}
		return fsys.getattrHandle(handle, s)
	}
	name := vfs.Normalize(path)
	if vfs.IsNuisancePath(name) {
		return -fuse.ENOENT
	}
	if name == "" {
		statRoot(s)
		return 0
	}
	if node, err := fsys.VFS.Index().Lookup(name); err == nil {
		fsys.statFromNode(node, s)
		return 0
	}
	if !fsys.VFS.Opt().ReadOnly {
		if info, err := os.Stat(fsys.VFS.LocalPath(name)); err == nil {
			fsys.statFromOS(info, s)
			return 0
		}
	}
	return -fuse.ENOENT
}

func (fsys *FS) getattrHandle(handle *vfs.Handle, s *fuse.Stat_t) int {
	switch handle.Kind {
	case vfs.HandleRoot:
		statRoot(s)
	case vfs.HandleArchive:
		fsys.statFromNode(handle.Node, s)
	case vfs.HandleScratch:
		info, err := os.Stat(handle.LocalPath)
		if err != nil {
			return -fuse.ENOENT
		}
		fsys.statFromOS(info, s)
	}
	return 0
}

// Read reads data from an open file, extracting it on first touch.
func (fsys *FS) Read(path string, buff []byte, ofst int64, fh uint64) int {
	handle, errc := fsys.getHandle(fh)
	if errc != 0 {
		return errc
	}
	if handle.Dir {
		return -fuse.EISDIR
	}
	switch handle.Kind {
	case vfs.HandleArchive:
		entry, _ := handle.Entry()
		n, err := fsys.VFS.Cache().ReadAt(context.Background(), entry, buff, ofst)
		if err != nil {
			if fsys.VFS.Opt().Debug {
				fs.Debugf(nil, "read failed: %q: %v", entry.Path, err)
			}
			return translateError(err)
		}
		return n
	case vfs.HandleScratch:
		f, err := os.Open(handle.LocalPath)
		if err != nil {
			return translateError(err)
		}
		defer func() { _ = f.Close() }()
		n, err := f.ReadAt(buff, ofst)
		if err != nil && err != io.EOF {
			return translateError(err)
		}
		return n
	}
	return -fuse.EIO
}

// Write writes data to an open file.  Writes land on the scratch copy
// only and are discarded at unmount - the archive is never modified.
func (fsys *FS) Write(path string, buff []byte, ofst int64, fh uint64) int {
	if fsys.VFS.Opt().ReadOnly {
		return -fuse.EACCES
	}
	handle, errc := fsys.getHandle(fh)
	if errc != 0 {
		return errc
	}
	if handle.Dir {
		return 0
	}
	f, err := os.OpenFile(handle.LocalPath, os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		return translateError(err)
	}
	defer func() { _ = f.Close() }()
	n, err := f.WriteAt(buff, ofst)
	if err != nil {
		return translateError(err)
	}
	return n
}

// Truncate changes the size of a scratch backed file.
func (fsys *FS) Truncate(path string, size int64, fh uint64) int {
	if fsys.VFS.Opt().ReadOnly {
		return -fuse.EACCES
	}
	name := vfs.Normalize(path)
	localPath := fsys.VFS.LocalPath(name)
	if _, err := os.Stat(localPath); err != nil {
		return -fuse.EACCES
	}
	if err := os.Truncate(localPath, size); err != nil {
		return translateError(err)
	}
	return 0
}

// Mkdir creates a directory below scratch.
func (fsys *FS) Mkdir(path string, mode uint32) int {
	if fsys.VFS.Opt().ReadOnly {
		return -fuse.EACCES
	}
	name := vfs.Normalize(path)
	if _, err := fsys.VFS.Index().Lookup(name); err == nil {
		return -fuse.EEXIST
	}
	if err := os.MkdirAll(fsys.VFS.LocalPath(name), 0777); err != nil {
		return translateError(err)
	}
	return 0
}

// Unlink removes a file.  Only scratch backed files can go - archive
// entries are frozen in the index.
func (fsys *FS) Unlink(path string) int {
	if fsys.VFS.Opt().ReadOnly {
		return -fuse.EACCES
	}
	name := vfs.Normalize(path)
	localPath := fsys.VFS.LocalPath(name)
	if _, err := fsys.VFS.Index().Lookup(name); err == nil {
		// Deleting the cached copy of an archive entry would only
		// force a re-extraction - deny instead.
		fs.Logf(nil, "delete file failed: %q", name)
		return -fuse.EACCES
	}
	if _, err := os.Stat(localPath); err != nil {
		return -fuse.EACCES
	}
	if err := os.Remove(localPath); err != nil {
		return translateError(err)
	}
	return 0
}

// Rmdir refuses - directories come from the index.
func (fsys *FS) Rmdir(path string) int {
	fs.Logf(nil, "delete directory failed: %q", path)
	return -fuse.EACCES
}

// Rename refuses - the tree is frozen at mount.
func (fsys *FS) Rename(oldpath, newpath string) int {
	fs.Logf(nil, "move failed: %q -> %q", oldpath, newpath)
	return -fuse.EACCES
}

// Readdir lists a directory: the index children plus, on read-write
// mounts, scratch extras not already reported.
func (fsys *FS) Readdir(path string, fill func(name string, stat *fuse.Stat_t, ofst int64) bool, ofst int64, fh uint64) int {
	name := vfs.Normalize(path)
	fill(".", nil, 0)
	fill("..", nil, 0)

	reported := make(map[string]bool)
	node, err := fsys.VFS.Index().Lookup(name)
	switch {
	case err == nil && !node.IsDir():
		return -fuse.ENOTDIR
	case err == nil:
		for _, child := range node.Children() {
			var s fuse.Stat_t
			fsys.statFromNode(child, &s)
			if !fill(child.Name(), &s, 0) {
				return 0
			}
			reported[strings.ToLower(child.Name())] = true
		}
	case fsys.VFS.Opt().ReadOnly:
		return -fuse.ENOENT
	}

	if fsys.VFS.Opt().ReadOnly {
		return 0
	}
	entries, readErr := os.ReadDir(fsys.VFS.LocalPath(name))
	if readErr != nil {
		if err != nil {
			// Neither in the index nor below scratch.
			return -fuse.ENOENT
		}
		return 0
	}
	for _, ent := range entries {
		if reported[strings.ToLower(ent.Name())] {
			continue
		}
		info, infoErr := ent.Info()
		if infoErr != nil {
			continue
		}
		var s fuse.Stat_t
		fsys.statFromOS(info, &s)
		if !fill(ent.Name(), &s, 0) {
			return 0
		}
	}
	return 0
}

// Statfs reports the cache budget as the volume size and what is left
// of it as free space.
func (fsys *FS) Statfs(path string, s *fuse.Statfs_t) int {
	const unit = 1024 // allocation unit and sector size
	budget := fsys.VFS.Cache().Budget()
	if budget <= 0 {
		budget = 1 << 40
	}
	used := fsys.VFS.Cache().Used()
	free := budget - used
	if free < 0 {
		free = 0
	}
	s.Bsize = unit
	s.Frsize = unit
	s.Blocks = uint64(budget) / unit
	s.Bfree = uint64(free) / unit
	s.Bavail = s.Bfree
	s.Namemax = maxComponentLength
	return 0
}

// Init is called once the volume is live.
func (fsys *FS) Init() {
	console.Write(console.Success, "Mounted archive successfully")
	if fsys.opt.OpenAfter {
		openFileBrowser(fsys.mountPoint)
	}
}

// Destroy is called as the volume goes away.
func (fsys *FS) Destroy() {
	fs.Debugf(nil, "unmounting %q", fsys.mountPoint)
}

// Check the interface is satisfied
var _ fuse.FileSystemInterface = (*FS)(nil)
