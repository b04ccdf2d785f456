package cmount

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/skratchdot/open-golang/open"
	"github.com/winfsp/cgofuse/fuse"

	"github.com/archivemount/archivemount/cmd/mountlib"
	"github.com/archivemount/archivemount/fs"
	"github.com/archivemount/archivemount/vfs"
)

// maxComponentLength is what the volume reports for the longest
// allowed name component.
const maxComponentLength = 255

// VolumeParams describes the volume as reported to the OS.  The host
// layer derives the NT volume flags from these: the filesystem name
// plus read-only state produce the case-preserved, Unicode,
// compressed, persistent-ACLs (and, when applicable, read-only) flag
// set; the serial number stays 0.
type VolumeParams struct {
	Name               string
	FSName             string
	MaxComponentLength int
	ReadOnly           bool
}

// volumeParams returns the volume description for a VFS.
func volumeParams(VFS *vfs.VFS) VolumeParams {
	return VolumeParams{
		Name:               VFS.Opt().VolumeName,
		FSName:             "NTFS",
		MaxComponentLength: maxComponentLength,
		ReadOnly:           VFS.Opt().ReadOnly,
	}
}

// mountOptions builds the option slice for the fuse host.
func mountOptions(VFS *vfs.VFS, device string, opt *mountlib.Options) (options []string) {
	vol := volumeParams(VFS)
	options = []string{
		"-o", "fsname=" + device,
		"-o", "subtype=archivemount",
		"-o", fmt.Sprintf("attr_timeout=%g", opt.Timeout.Seconds()),
	}
	if vol.ReadOnly {
		options = append(options, "-o", "ro")
	}
	if runtime.GOOS == "windows" {
		options = append(options,
			"--FileSystemName="+vol.FSName,
			"-o", "volname="+vol.Name,
			"-o", "uid=-1",
			"-o", "gid=-1",
		)
		if opt.Threads > 0 {
			options = append(options, "-o", fmt.Sprintf("ThreadCount=%d", opt.Threads))
		}
	}
	return options
}

// Hosts mounted by this process, for same-process unmounts.
var (
	hostsMu sync.Mutex
	hosts   = map[string]*fuse.FileSystemHost{}
)

// Mount mounts the VFS at mountPoint and blocks until the volume is
// released.  It implements mountlib.MountFn.
func Mount(VFS *vfs.VFS, mountPoint string, opt *mountlib.Options) error {
	fsys := NewFS(VFS, mountPoint, opt)
	host := fuse.NewFileSystemHost(fsys)
	host.SetCapReaddirPlus(true)
	host.SetCapCaseInsensitive(true)
	fsys.host = host

	hostsMu.Lock()
	hosts[mountPoint] = host
	hostsMu.Unlock()
	defer func() {
		hostsMu.Lock()
		delete(hosts, mountPoint)
		hostsMu.Unlock()
	}()

	options := mountOptions(VFS, VFS.Archive(), opt)
	fs.Debugf(nil, "mounting %q at %q with options %q", VFS.Archive(), mountPoint, options)
	if !host.Mount(mountPoint, options) {
		return errors.New("mount failed - check the WinFsp (or FUSE) driver is installed")
	}
	return nil
}

// Unmount releases a volume mounted by this process.  It returns
// false if the mount point is not ours.
func Unmount(mountPoint string) (bool, error) {
	hostsMu.Lock()
	host := hosts[mountPoint]
	hostsMu.Unlock()
	if host == nil {
		return false, nil
	}
	if !host.Unmount() {
		return true, fmt.Errorf("failed to unmount %q", mountPoint)
	}
	return true, nil
}

// openFileBrowser shows the mounted volume to the user.
func openFileBrowser(mountPoint string) {
	if err := open.Start(mountPoint); err != nil {
		fs.Logf(nil, "failed to open file browser on %q: %v", mountPoint, err)
	}
}
