package mountlib

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"time"

	"github.com/archivemount/archivemount/fs"
)

// mountRecord is the on-disk note a mount process leaves behind so a
// later `unmount` invocation can find it.
type mountRecord struct {
	PID        int    `json:"pid"`
	MountPoint string `json:"mount_point"`
	ScratchDir string `json:"scratch_dir"`
	CreatedDir bool   `json:"created_dir"`
}

// How long Unmount waits for the mount process's own teardown before
// cleaning up on its behalf.
var unmountWait = 5 * time.Second

func recordDir() string {
	return filepath.Join(os.TempDir(), "ArchiveMount", "mounts")
}

func recordPath(mountPoint string) string {
	abs, err := filepath.Abs(mountPoint)
	if err != nil {
		abs = mountPoint
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(abs))
	return filepath.Join(recordDir(), fmt.Sprintf("%08x.json", h.Sum32()))
}

func writeRecord(m *MountPoint) error {
	if err := os.MkdirAll(recordDir(), 0777); err != nil {
		return err
	}
	data, err := json.Marshal(mountRecord{
		PID:        os.Getpid(),
		MountPoint: m.MountPoint,
		ScratchDir: m.ScratchDir,
		CreatedDir: m.createdDir,
	})
	if err != nil {
		return err
	}
	return os.WriteFile(recordPath(m.MountPoint), data, 0666)
}

func readRecord(mountPoint string) (*mountRecord, error) {
	data, err := os.ReadFile(recordPath(mountPoint))
	if err != nil {
		return nil, err
	}
	var rec mountRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func removeRecord(mountPoint string) {
	_ = os.Remove(recordPath(mountPoint))
}

// Unmount asks the process owning the mount at mountPoint to release
// the volume, waiting for it to finish its own teardown.  If the
// owner is gone or unresponsive the cleanup is done from here so the
// scratch directory never outlives the mount.
func Unmount(mountPoint string) error {
	rec, err := readRecord(mountPoint)
	if err != nil {
		return fmt.Errorf("no mount found at %q", mountPoint)
	}
	if err := signalProcess(rec.PID); err != nil {
		fs.Debugf(nil, "failed to signal mount process %d: %v", rec.PID, err)
	}

	// The mount process removes its record as the last step of its
	// teardown.
	deadline := time.Now().Add(unmountWait)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(recordPath(mountPoint)); err != nil {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	fs.Logf(nil, "mount process did not clean up, removing leftovers")
	if err := os.RemoveAll(rec.ScratchDir); err != nil {
		return fmt.Errorf("failed to remove scratch directory %q: %w", rec.ScratchDir, err)
	}
	if rec.CreatedDir {
		_ = os.Remove(rec.MountPoint)
	}
	removeRecord(mountPoint)
	return nil
}
