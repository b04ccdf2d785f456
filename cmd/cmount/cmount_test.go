package cmount

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/winfsp/cgofuse/fuse"

	"github.com/archivemount/archivemount/cmd/mountlib"
	"github.com/archivemount/archivemount/sevenzip"
	"github.com/archivemount/archivemount/vfs"
	"github.com/archivemount/archivemount/vfs/vfscache"
	"github.com/archivemount/archivemount/vfs/vfscommon"
)

// fakeExtractor serves fixture contents instead of running a binary.
type fakeExtractor struct {
	mu    sync.Mutex
	files map[string]string
	calls int
}

func (e *fakeExtractor) Extract(ctx context.Context, archive, password, entryPath, outDir string) (bool, error) {
	e.mu.Lock()
	e.calls++
	content, found := e.files[entryPath]
	e.mu.Unlock()
	if !found {
		return false, nil
	}
	osPath := filepath.Join(outDir, vfscommon.OSPath(entryPath))
	if err := os.MkdirAll(filepath.Dir(osPath), 0777); err != nil {
		return false, err
	}
	return true, os.WriteFile(osPath, []byte(content), 0666)
}

var testModified = time.Date(2021, 9, 26, 13, 51, 48, 0, time.Local)

// newTestFS builds an FS over the S1 fixture archive: a.txt (10 B)
// and dir/b.txt (20 B).
func newTestFS(t *testing.T, readOnly bool) (*FS, *fakeExtractor) {
	entries := []sevenzip.Entry{
		{Path: "a.txt", Size: 10, Modified: testModified},
		{Path: "dir", IsDir: true, Modified: testModified},
		{Path: `dir\b.txt`, Size: 20, Modified: testModified},
	}
	ex := &fakeExtractor{files: map[string]string{
		"a.txt":     "0123456789",
		`dir\b.txt`: "bbbbbbbbbbbbbbbbbbbb",
	}}
	vfsOpt := vfscommon.DefaultOpt
	vfsOpt.ReadOnly = readOnly
	vfsOpt.CacheMaxSize = 1024
	index := vfs.NewIndex(entries)
	cache := vfscache.New(ex, "archive.7z", "", t.TempDir(), int64(vfsOpt.CacheMaxSize))
	VFS := vfs.New("archive.7z", index, cache, &vfsOpt)
	opt := mountlib.DefaultOpt
	opt.VFSOpt = vfsOpt
	return NewFS(VFS, filepath.Join(t.TempDir(), "mnt"), &opt), ex
}

// readdir collects the names Readdir reports, excluding . and ..
func readdir(t *testing.T, fsys *FS, path string) map[string]fuse.Stat_t {
	got := map[string]fuse.Stat_t{}
	errc := fsys.Readdir(path, func(name string, stat *fuse.Stat_t, ofst int64) bool {
		if name == "." || name == ".." {
			return true
		}
		if stat != nil {
			got[name] = *stat
		} else {
			got[name] = fuse.Stat_t{}
		}
		return true
	}, 0, invalidFh)
	require.Equal(t, 0, errc)
	return got
}

func TestReaddirRoot(t *testing.T) {
	fsys, _ := newTestFS(t, true)
	got := readdir(t, fsys, "/")

	names := make([]string, 0, len(got))
	for name := range got {
		names = append(names, name)
	}
	sort.Strings(names)
	require.Equal(t, []string{"a.txt", "dir"}, names)

	a := got["a.txt"]
	assert.Equal(t, int64(10), a.Size)
	assert.Equal(t, uint32(fuse.S_IFREG|0444), a.Mode)

	dir := got["dir"]
	assert.Equal(t, uint32(fuse.S_IFDIR|0555), dir.Mode)
}

func TestReaddirSubdir(t *testing.T) {
	fsys, _ := newTestFS(t, true)
	got := readdir(t, fsys, "/dir")
	require.Len(t, got, 1)
	assert.Equal(t, int64(20), got["b.txt"].Size)
}

func TestReaddirMissing(t *testing.T) {
	fsys, _ := newTestFS(t, true)
	errc := fsys.Readdir("/absent", func(name string, stat *fuse.Stat_t, ofst int64) bool {
		return true
	}, 0, invalidFh)
	assert.Equal(t, -fuse.ENOENT, errc)
}

func TestOpenRead(t *testing.T) {
	fsys, ex := newTestFS(t, true)

	errc, fh := fsys.Open("/a.txt", fuse.O_RDONLY)
	require.Equal(t, 0, errc)
	require.NotEqual(t, invalidFh, fh)

	// First read triggers the extraction.
	buf := make([]byte, 10)
	n := fsys.Read("/a.txt", buf, 0, fh)
	require.Equal(t, 10, n)
	assert.Equal(t, "0123456789", string(buf))
	assert.Equal(t, 1, ex.calls)
	assert.FileExists(t, filepath.Join(fsys.VFS.Cache().Root(), "a.txt"))

	// Later reads hit the cache.
	n = fsys.Read("/a.txt", buf[:4], 6, fh)
	require.Equal(t, 4, n)
	assert.Equal(t, "6789", string(buf[:4]))
	assert.Equal(t, 1, ex.calls)

	assert.Equal(t, 0, fsys.Release("/a.txt", fh))
	// Release is idempotent on the slot.
	assert.Equal(t, 0, fsys.Release("/a.txt", fh))
}

func TestOpenMissing(t *testing.T) {
	fsys, _ := newTestFS(t, true)
	errc, _ := fsys.Open("/absent.txt", fuse.O_RDONLY)
	assert.Equal(t, -fuse.ENOENT, errc)
}

func TestOpenCaseInsensitive(t *testing.T) {
	fsys, _ := newTestFS(t, true)
	errc, fh := fsys.Open("/DIR/B.TXT", fuse.O_RDONLY)
	require.Equal(t, 0, errc)
	buf := make([]byte, 20)
	n := fsys.Read("/DIR/B.TXT", buf, 0, fh)
	assert.Equal(t, 20, n)
	fsys.Release("/DIR/B.TXT", fh)
}

func TestReadDirectory(t *testing.T) {
	fsys, _ := newTestFS(t, true)
	errc, fh := fsys.Opendir("/dir")
	require.Equal(t, 0, errc)
	n := fsys.Read("/dir", make([]byte, 10), 0, fh)
	assert.Equal(t, -fuse.EISDIR, n)
	fsys.Releasedir("/dir", fh)
}

func TestNuisanceFilter(t *testing.T) {
	fsys, _ := newTestFS(t, true)
	for _, path := range []string{"/desktop.ini", "/$RECYCLE.BIN", "/System Volume Information/x"} {
		errc, _ := fsys.Open(path, fuse.O_RDONLY)
		assert.Equal(t, -fuse.ENOENT, errc, path)
		var s fuse.Stat_t
		assert.Equal(t, -fuse.ENOENT, fsys.Getattr(path, &s, invalidFh), path)
	}
}

func TestGetattr(t *testing.T) {
	fsys, ex := newTestFS(t, true)

	// Root is a fixed directory record with epoch timestamps.
	var s fuse.Stat_t
	require.Equal(t, 0, fsys.Getattr("/", &s, invalidFh))
	assert.Equal(t, uint32(fuse.S_IFDIR|0555), s.Mode)
	assert.Equal(t, int64(0), s.Mtim.Sec)

	// Metadata comes from the index without touching the extractor.
	require.Equal(t, 0, fsys.Getattr("/dir/b.txt", &s, invalidFh))
	assert.Equal(t, int64(20), s.Size)
	assert.Equal(t, fuse.NewTimespec(testModified), s.Mtim)
	assert.Equal(t, 0, ex.calls)

	assert.Equal(t, -fuse.ENOENT, fsys.Getattr("/absent", &s, invalidFh))
}

func TestGetattrByHandle(t *testing.T) {
	fsys, _ := newTestFS(t, true)
	errc, fh := fsys.Open("/a.txt", fuse.O_RDONLY)
	require.Equal(t, 0, errc)
	var s fuse.Stat_t
	require.Equal(t, 0, fsys.Getattr("/a.txt", &s, fh))
	assert.Equal(t, int64(10), s.Size)
	fsys.Release("/a.txt", fh)
}

func TestReadOnlyDeniesWrites(t *testing.T) {
	fsys, _ := newTestFS(t, true)

	// Create-class open is denied and leaves nothing behind.
	errc, _ := fsys.Create("/new.txt", fuse.O_CREAT|fuse.O_WRONLY, 0666)
	assert.Equal(t, -fuse.EACCES, errc)
	assert.NoFileExists(t, filepath.Join(fsys.VFS.Cache().Root(), "new.txt"))

	errc, _ = fsys.Open("/a.txt", fuse.O_RDWR)
	assert.Equal(t, -fuse.EACCES, errc)

	assert.Equal(t, -fuse.EACCES, fsys.Mkdir("/newdir", 0777))
	assert.Equal(t, -fuse.EACCES, fsys.Unlink("/a.txt"))
	assert.Equal(t, -fuse.EACCES, fsys.Rmdir("/dir"))
	assert.Equal(t, -fuse.EACCES, fsys.Rename("/a.txt", "/b.txt"))
	assert.Equal(t, -fuse.EACCES, fsys.Truncate("/a.txt", 0, invalidFh))

	errc, fh := fsys.Open("/a.txt", fuse.O_RDONLY)
	require.Equal(t, 0, errc)
	assert.Equal(t, -fuse.EACCES, fsys.Write("/a.txt", []byte("x"), 0, fh))
	fsys.Release("/a.txt", fh)
}

func TestReadWriteScratch(t *testing.T) {
	fsys, _ := newTestFS(t, false)

	// Creating a new file lands below scratch and never touches the
	// index.
	errc, fh := fsys.Create("/new.txt", fuse.O_CREAT|fuse.O_WRONLY, 0666)
	require.Equal(t, 0, errc)
	n := fsys.Write("/new.txt", []byte("hello"), 0, fh)
	require.Equal(t, 5, n)
	require.Equal(t, 0, fsys.Release("/new.txt", fh))
	_, err := fsys.VFS.Index().Lookup("new.txt")
	assert.Equal(t, vfs.ENOENT, err)

	// It can be opened and read back.
	errc, fh = fsys.Open("/new.txt", fuse.O_RDONLY)
	require.Equal(t, 0, errc)
	buf := make([]byte, 8)
	n = fsys.Read("/new.txt", buf, 0, fh)
	require.Equal(t, 5, n)
	assert.Equal(t, "hello", string(buf[:5]))
	fsys.Release("/new.txt", fh)

	// Enumeration reports it alongside the index children.
	got := readdir(t, fsys, "/")
	assert.Contains(t, got, "new.txt")
	assert.Contains(t, got, "a.txt")
	assert.Contains(t, got, "dir")
	assert.Equal(t, int64(5), got["new.txt"].Size)

	// Getattr sees live metadata.
	var s fuse.Stat_t
	require.Equal(t, 0, fsys.Getattr("/new.txt", &s, invalidFh))
	assert.Equal(t, int64(5), s.Size)

	// Scratch files can be deleted; archive entries cannot.
	assert.Equal(t, 0, fsys.Unlink("/new.txt"))
	assert.Equal(t, -fuse.EACCES, fsys.Unlink("/a.txt"))
}

func TestReaddirNoDuplicates(t *testing.T) {
	fsys, _ := newTestFS(t, false)

	// Materialize a.txt into scratch via a read.
	errc, fh := fsys.Open("/a.txt", fuse.O_RDONLY)
	require.Equal(t, 0, errc)
	fsys.Read("/a.txt", make([]byte, 10), 0, fh)
	fsys.Release("/a.txt", fh)

	// The extracted copy must not show up as a second a.txt, and the
	// reported size stays the index's.
	got := readdir(t, fsys, "/")
	require.Contains(t, got, "a.txt")
	assert.Equal(t, int64(10), got["a.txt"].Size)
	assert.Len(t, got, 2) // a.txt and dir only
}

func TestMkdirScratch(t *testing.T) {
	fsys, _ := newTestFS(t, false)
	require.Equal(t, 0, fsys.Mkdir("/newdir", 0777))
	assert.DirExists(t, filepath.Join(fsys.VFS.Cache().Root(), "newdir"))
	assert.Equal(t, -fuse.EEXIST, fsys.Mkdir("/dir", 0777))

	got := readdir(t, fsys, "/")
	assert.Contains(t, got, "newdir")
}

func TestStatfs(t *testing.T) {
	fsys, _ := newTestFS(t, true)
	var s fuse.Statfs_t
	require.Equal(t, 0, fsys.Statfs("/", &s))
	assert.Equal(t, uint64(1024), s.Bsize)
	assert.Equal(t, uint64(1), s.Blocks) // 1024 byte budget / 1024
	assert.Equal(t, s.Bfree, s.Bavail)
	assert.Equal(t, uint64(255), s.Namemax)

	// Free space shrinks as the cache fills.
	errc, fh := fsys.Open("/a.txt", fuse.O_RDONLY)
	require.Equal(t, 0, errc)
	fsys.Read("/a.txt", make([]byte, 10), 0, fh)
	require.Equal(t, 0, fsys.Statfs("/", &s))
	assert.Equal(t, (uint64(1024)-10)/1024, s.Bfree)
	fsys.Release("/a.txt", fh)
}

func TestBadHandle(t *testing.T) {
	fsys, _ := newTestFS(t, true)
	assert.Equal(t, -fuse.EBADF, fsys.Read("/a.txt", make([]byte, 1), 0, 42))
	var s fuse.Stat_t
	assert.Equal(t, -fuse.EBADF, fsys.Getattr("/a.txt", &s, 42))
}

func TestTranslateError(t *testing.T) {
	assert.Equal(t, 0, translateError(nil))
	assert.Equal(t, -fuse.ENOENT, translateError(vfs.ENOENT))
	assert.Equal(t, -fuse.ENOTDIR, translateError(vfs.ENOTDIR))
	assert.Equal(t, -fuse.EISDIR, translateError(vfs.EISDIR))
	assert.Equal(t, -fuse.EACCES, translateError(vfs.EROFS))
	assert.Equal(t, -fuse.ENOSYS, translateError(vfs.ENOSYS))
	assert.Equal(t, -fuse.EIO, translateError(vfscache.ErrExtractFailed))
	assert.Equal(t, -fuse.ENOENT, translateError(os.ErrNotExist))
}

func TestVolumeParams(t *testing.T) {
	fsys, _ := newTestFS(t, true)
	vol := volumeParams(fsys.VFS)
	assert.Equal(t, "NTFS", vol.FSName)
	assert.Equal(t, "ArchiveMount", vol.Name)
	assert.Equal(t, 255, vol.MaxComponentLength)
	assert.True(t, vol.ReadOnly)
}

func TestMountOptions(t *testing.T) {
	fsys, _ := newTestFS(t, true)
	options := mountOptions(fsys.VFS, "archive.7z", fsys.opt)
	assert.Contains(t, options, "fsname=archive.7z")
	assert.Contains(t, options, "ro")
	assert.Contains(t, options, "attr_timeout=5")
}
