package mountlib

import (
	"time"

	"github.com/archivemount/archivemount/vfs/vfscommon"
)

// Options configures a mount.
type Options struct {
	VFSOpt    vfscommon.Options
	TempDir   string // scratch parent, "" means <system temp>/ArchiveMount/ArchiveTemp
	Password  string
	Threads   int  // host worker threads, 0 means the library default
	Nest      bool // mount at <mountPoint>/<archive base name>
	OpenAfter bool // show the file browser once mounted
	Timeout   time.Duration
}

// DefaultOpt is the default configuration, matching the CLI defaults.
var DefaultOpt = Options{
	VFSOpt:  vfscommon.DefaultOpt,
	Timeout: 5 * time.Second,
}
