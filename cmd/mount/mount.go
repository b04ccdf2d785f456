// Package mount implements the mount command.
package mount

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/archivemount/archivemount/cmd"
	"github.com/archivemount/archivemount/cmd/cmount"
	"github.com/archivemount/archivemount/cmd/mountlib"
	"github.com/archivemount/archivemount/fs"
	"github.com/archivemount/archivemount/lib/console"
)

var opt = mountlib.DefaultOpt

// errAlreadyReported marks errors whose diagnostic already went out on
// the console protocol.
var errAlreadyReported = errors.New("already reported")

var commandDefinition = &cobra.Command{
	Use:   "mount <archive> <mount_point> [temp_path]",
	Short: "Mount an archive at a drive letter or empty directory.",
	Long: `Mount the archive as a virtual volume.  Entries are listed up
front; file contents are extracted lazily into a scratch directory
bounded by --cache-size and evicted least recently used first.

The command blocks until the volume is unmounted.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(command *cobra.Command, args []string) error {
		fs.SetDebug(opt.VFSOpt.Debug)
		if len(args) > 2 {
			opt.TempDir = args[2]
		}
		console.Write(console.Info, "Mounting archive: %s", args[0])
		err := mountlib.Mount(context.Background(), cmount.Mount, args[0], args[1], &opt)
		if err != nil {
			console.Write(console.Err, "%v", err)
			return errAlreadyReported
		}
		return nil
	},
}

func init() {
	cmd.Root.AddCommand(commandDefinition)
	flags := commandDefinition.Flags()
	flags.StringVarP(&opt.Password, "password", "p", "", "Archive password")
	flags.IntVarP(&opt.Threads, "threads", "t", 0, "Host worker threads (0 = library default)")
	flags.VarP(&opt.VFSOpt.CacheMaxSize, "cache-size", "c", "Byte budget of the extraction cache")
	flags.BoolVarP(&opt.VFSOpt.ReadOnly, "read-only", "r", false, "Mount the volume read-only")
	flags.BoolVarP(&opt.Nest, "nest", "n", false, "Mount at <mount_point>/<archive name>")
	flags.BoolVarP(&opt.OpenAfter, "open", "o", false, "Open the file browser after mounting")
	flags.StringVarP(&opt.VFSOpt.VolumeName, "volume-name", "v", opt.VFSOpt.VolumeName, "Volume label")
	flags.BoolVarP(&opt.VFSOpt.Debug, "debug", "d", false, "Debug logging")
}
