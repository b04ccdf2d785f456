// Package mountlib supervises the lifecycle of a mounted archive: it
// validates the request, reads the listing, builds the index and
// cache, hands the result to the OS mount layer and tears everything
// down afterwards.
package mountlib

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/archivemount/archivemount/fs"
	"github.com/archivemount/archivemount/lib/atexit"
	"github.com/archivemount/archivemount/lib/console"
	"github.com/archivemount/archivemount/sevenzip"
	"github.com/archivemount/archivemount/vfs"
	"github.com/archivemount/archivemount/vfs/vfscache"
)

// ErrEmptyArchive means the listing succeeded but contained no
// entries.  There is nothing to mount.
var ErrEmptyArchive = errors.New("the archive is empty")

// MountFn mounts the VFS at mountPoint and blocks until the volume is
// released.  The cmount package provides the production implementation.
type MountFn func(VFS *vfs.VFS, mountPoint string, opt *Options) error

// Archiver lists an archive and extracts entries from it.
type Archiver interface {
	List(ctx context.Context, archive, password string) ([]sevenzip.Entry, error)
	vfscache.Extractor
}

// newArchiver finds the extractor binary - swapped out by tests.
var newArchiver = func() (Archiver, error) {
	return sevenzip.New()
}

// MountPoint holds everything belonging to one mount.
type MountPoint struct {
	Archive    string // absolute archive path
	MountPoint string
	ScratchDir string
	VFS        *vfs.VFS
	Opt        Options

	mountFn    MountFn
	createdDir bool // we made the mount point directory
}

// scratchDirFor returns the scratch directory for an archive.
func scratchDirFor(tempDir, archive string) string {
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "ArchiveMount", "ArchiveTemp")
	}
	return filepath.Join(tempDir, filepath.Base(archive))
}

// looksLikeDriveLetter reports mount points of the "X:" form which
// must not be created as directories.
func looksLikeDriveLetter(mountPoint string) bool {
	return len(mountPoint) == 2 && mountPoint[1] == ':'
}

// Mount mounts archive at mountPoint and blocks until unmount.
func Mount(ctx context.Context, mountFn MountFn, archive, mountPoint string, opt *Options) error {
	if opt == nil {
		opt = &DefaultOpt
	}
	m := &MountPoint{
		Archive:    archive,
		MountPoint: mountPoint,
		Opt:        *opt,
		mountFn:    mountFn,
	}
	if err := m.setup(ctx); err != nil {
		m.Cleanup()
		return err
	}
	return m.mount()
}

// setup validates the request and builds the VFS.
func (m *MountPoint) setup(ctx context.Context) error {
	var err error
	m.Archive, err = filepath.Abs(m.Archive)
	if err != nil {
		return fmt.Errorf("failed to resolve archive path: %w", err)
	}
	info, err := os.Stat(m.Archive)
	if err != nil {
		return fmt.Errorf("the archive does not exist, if the path contains spaces please use quotation marks: %q", m.Archive)
	}
	if info.IsDir() {
		return fmt.Errorf("the archive is a directory: %q", m.Archive)
	}

	if err := m.setupMountPoint(); err != nil {
		return err
	}

	m.ScratchDir = scratchDirFor(m.Opt.TempDir, m.Archive)
	if err := os.MkdirAll(m.ScratchDir, 0777); err != nil {
		return fmt.Errorf("failed to create scratch directory: %w", err)
	}

	zip, err := newArchiver()
	if err != nil {
		return err
	}
	console.Write(console.Info, "Reading archive list......")
	entries, err := zip.List(ctx, m.Archive, m.Opt.Password)
	if err != nil {
		return fmt.Errorf("the archive information is not detected, please confirm it is a correct or decryptable archive: %w", err)
	}
	// Guard here as well as in the backend - an Archiver may return an
	// empty listing without an error.
	if len(entries) == 0 {
		return fmt.Errorf("%q: %w", m.Archive, ErrEmptyArchive)
	}

	index := vfs.NewIndex(entries)
	cache := vfscache.New(zip, m.Archive, m.Opt.Password, m.ScratchDir, int64(m.Opt.VFSOpt.CacheMaxSize))
	m.VFS = vfs.New(m.Archive, index, cache, &m.Opt.VFSOpt)
	fs.Infof(nil, "indexed %d entries, cache budget %s", index.Len(),
		humanize.IBytes(uint64(int64(m.Opt.VFSOpt.CacheMaxSize))))
	return nil
}

// setupMountPoint validates or creates the mount point and applies
// the nesting policy.
func (m *MountPoint) setupMountPoint() error {
	if info, err := os.Stat(m.MountPoint); err == nil {
		if !info.IsDir() {
			return fmt.Errorf("the mount path exists and is not a directory: %q", m.MountPoint)
		}
		entries, err := os.ReadDir(m.MountPoint)
		if err != nil {
			return fmt.Errorf("failed to read mount path: %w", err)
		}
		if len(entries) != 0 {
			return fmt.Errorf("the mount path is not empty, please specify an empty directory: %q", m.MountPoint)
		}
	} else if !looksLikeDriveLetter(m.MountPoint) {
		if err := os.MkdirAll(m.MountPoint, 0777); err != nil {
			return fmt.Errorf("failed to create mount path: %w", err)
		}
		m.createdDir = true
	}

	// Nesting mounts the volume one level down, named after the
	// archive, so several archives can share one parent directory.
	if m.Nest() {
		m.MountPoint = filepath.Join(m.MountPoint, filepath.Base(m.Archive))
		if err := os.MkdirAll(m.MountPoint, 0777); err != nil {
			return fmt.Errorf("failed to create nested mount point: %w", err)
		}
		m.createdDir = true
	}
	return nil
}

// Nest reports whether the nested mount policy applies.
func (m *MountPoint) Nest() bool {
	return m.Opt.Nest && !looksLikeDriveLetter(m.MountPoint)
}

// mount runs the blocking mount and guarantees teardown afterwards,
// including on an interrupt.
func (m *MountPoint) mount() error {
	if err := writeRecord(m); err != nil {
		fs.Logf(nil, "failed to record mount: %v", err)
	}
	cleanupHandle := atexit.Register(m.Cleanup)
	defer func() {
		atexit.Unregister(cleanupHandle)
		m.Cleanup()
	}()

	err := m.mountFn(m.VFS, m.MountPoint, &m.Opt)
	if err != nil {
		return err
	}
	return nil
}

// Cleanup tears down everything the mount owns on disk.  It is
// idempotent: it runs on clean unmount, on error paths and from the
// signal handler.
func (m *MountPoint) Cleanup() {
	if m.VFS != nil {
		m.VFS.Shutdown()
	}
	if m.ScratchDir != "" {
		if err := os.RemoveAll(m.ScratchDir); err != nil {
			fs.Logf(nil, "failed to remove scratch directory %q: %v", m.ScratchDir, err)
		}
	}
	if m.createdDir {
		// Only goes if empty, which is what we want.
		_ = os.Remove(m.MountPoint)
	}
	removeRecord(m.MountPoint)
}
