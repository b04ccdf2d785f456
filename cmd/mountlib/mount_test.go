package mountlib

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archivemount/archivemount/sevenzip"
	"github.com/archivemount/archivemount/vfs"
)

// fakeArchiver serves a canned listing and extracts nothing.
type fakeArchiver struct {
	entries []sevenzip.Entry
	listErr error
}

func (a *fakeArchiver) List(ctx context.Context, archive, password string) ([]sevenzip.Entry, error) {
	if a.listErr != nil {
		return nil, a.listErr
	}
	return a.entries, nil
}

func (a *fakeArchiver) Extract(ctx context.Context, archive, password, entryPath, outDir string) (bool, error) {
	return false, nil
}

// withArchiver swaps the extractor lookup for the test's lifetime.
func withArchiver(t *testing.T, a Archiver) {
	old := newArchiver
	newArchiver = func() (Archiver, error) { return a, nil }
	t.Cleanup(func() { newArchiver = old })
}

// writeTestArchive makes a file standing in for an archive.
func writeTestArchive(t *testing.T) string {
	archive := filepath.Join(t.TempDir(), "t.7z")
	require.NoError(t, os.WriteFile(archive, []byte("not really an archive"), 0666))
	return archive
}

func TestScratchDirFor(t *testing.T) {
	got := scratchDirFor("", `/tmp/path/t.7z`)
	want := filepath.Join(os.TempDir(), "ArchiveMount", "ArchiveTemp", "t.7z")
	assert.Equal(t, want, got)

	got = scratchDirFor("/elsewhere", "/tmp/path/t.7z")
	assert.Equal(t, filepath.Join("/elsewhere", "t.7z"), got)
}

func TestLooksLikeDriveLetter(t *testing.T) {
	assert.True(t, looksLikeDriveLetter("X:"))
	assert.True(t, looksLikeDriveLetter("c:"))
	assert.False(t, looksLikeDriveLetter("X:\\"))
	assert.False(t, looksLikeDriveLetter("/mnt/x"))
	assert.False(t, looksLikeDriveLetter("X"))
}

func TestMountMissingArchive(t *testing.T) {
	err := Mount(context.Background(), nil, filepath.Join(t.TempDir(), "absent.7z"), t.TempDir(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestMountNonEmptyMountPoint(t *testing.T) {
	archive := writeTestArchive(t)
	mountPoint := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(mountPoint, "occupied"), nil, 0666))

	err := Mount(context.Background(), nil, archive, mountPoint, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not empty")
}

func TestMountUnreadableListing(t *testing.T) {
	// An unreadable listing aborts before the mount function is ever
	// handed the filesystem.
	withArchiver(t, &fakeArchiver{listErr: sevenzip.ErrListUnreadable})
	archive := writeTestArchive(t)

	mounted := false
	mountFn := func(VFS *vfs.VFS, mountPoint string, opt *Options) error {
		mounted = true
		return nil
	}
	err := Mount(context.Background(), mountFn, archive, filepath.Join(t.TempDir(), "mnt"), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, sevenzip.ErrListUnreadable))
	assert.False(t, mounted)
}

func TestMountEmptyListing(t *testing.T) {
	// A listing which succeeds but is empty must be rejected by the
	// supervisor itself - it cannot rely on the backend for this.
	withArchiver(t, &fakeArchiver{entries: nil})
	archive := writeTestArchive(t)

	mounted := false
	mountFn := func(VFS *vfs.VFS, mountPoint string, opt *Options) error {
		mounted = true
		return nil
	}
	err := Mount(context.Background(), mountFn, archive, filepath.Join(t.TempDir(), "mnt"), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyArchive))
	assert.False(t, mounted)
}

func TestMountLifecycle(t *testing.T) {
	withArchiver(t, &fakeArchiver{entries: []sevenzip.Entry{
		{Path: "a.txt", Size: 10},
		{Path: `dir\b.txt`, Size: 20},
	}})
	archive := writeTestArchive(t)
	mountPoint := filepath.Join(t.TempDir(), "mnt")

	var scratchDir string
	mountFn := func(VFS *vfs.VFS, gotMountPoint string, opt *Options) error {
		assert.Equal(t, mountPoint, gotMountPoint)
		require.NotNil(t, VFS)
		assert.Equal(t, 3, VFS.Index().Len()) // a.txt, dir, b.txt
		scratchDir = VFS.Cache().Root()
		assert.DirExists(t, scratchDir)
		return nil
	}
	opt := DefaultOpt
	require.NoError(t, Mount(context.Background(), mountFn, archive, mountPoint, &opt))

	// After unmount the scratch directory is gone and so is the
	// mount point directory we created.
	assert.NoDirExists(t, scratchDir)
	assert.NoDirExists(t, mountPoint)
}

func TestMountNested(t *testing.T) {
	withArchiver(t, &fakeArchiver{entries: []sevenzip.Entry{{Path: "a.txt", Size: 1}}})
	archive := writeTestArchive(t)
	parent := t.TempDir()

	opt := DefaultOpt
	opt.Nest = true
	mountFn := func(VFS *vfs.VFS, mountPoint string, o *Options) error {
		assert.Equal(t, filepath.Join(parent, "t.7z"), mountPoint)
		assert.DirExists(t, mountPoint)
		return nil
	}
	require.NoError(t, Mount(context.Background(), mountFn, archive, parent, &opt))
}

func TestMountFnError(t *testing.T) {
	withArchiver(t, &fakeArchiver{entries: []sevenzip.Entry{{Path: "a.txt", Size: 1}}})
	archive := writeTestArchive(t)

	wantErr := errors.New("driver not installed")
	var scratchDir string
	mountFn := func(VFS *vfs.VFS, mountPoint string, o *Options) error {
		scratchDir = VFS.Cache().Root()
		return wantErr
	}
	err := Mount(context.Background(), mountFn, archive, filepath.Join(t.TempDir(), "mnt"), nil)
	assert.Equal(t, wantErr, err)
	// Teardown still ran.
	assert.NoDirExists(t, scratchDir)
}

func TestRecordRoundTrip(t *testing.T) {
	m := &MountPoint{
		MountPoint: filepath.Join(t.TempDir(), "mnt"),
		ScratchDir: filepath.Join(t.TempDir(), "scratch"),
		createdDir: true,
	}
	require.NoError(t, writeRecord(m))
	defer removeRecord(m.MountPoint)

	rec, err := readRecord(m.MountPoint)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), rec.PID)
	assert.Equal(t, m.MountPoint, rec.MountPoint)
	assert.Equal(t, m.ScratchDir, rec.ScratchDir)
	assert.True(t, rec.CreatedDir)

	removeRecord(m.MountPoint)
	_, err = readRecord(m.MountPoint)
	assert.Error(t, err)
}

func TestUnmountNoMount(t *testing.T) {
	err := Unmount(filepath.Join(t.TempDir(), "never-mounted"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no mount found")
}

func TestUnmountDeadOwner(t *testing.T) {
	// A record left by a process which is gone: Unmount cleans up the
	// leftovers itself.
	oldWait := unmountWait
	unmountWait = 100 * time.Millisecond
	defer func() { unmountWait = oldWait }()

	scratch := filepath.Join(t.TempDir(), "scratch")
	require.NoError(t, os.MkdirAll(scratch, 0777))
	m := &MountPoint{
		MountPoint: filepath.Join(t.TempDir(), "mnt"),
		ScratchDir: scratch,
	}
	require.NoError(t, writeRecord(m))

	// Overwrite the PID with one that can't be running.
	rec, err := readRecord(m.MountPoint)
	require.NoError(t, err)
	rec.PID = 1 << 30
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(recordPath(m.MountPoint), data, 0666))

	require.NoError(t, Unmount(m.MountPoint))
	assert.NoDirExists(t, scratch)
	_, err = readRecord(m.MountPoint)
	assert.Error(t, err)
}
