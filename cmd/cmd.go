// Package cmd implements the archivemount command line interface.
//
// Subcommand packages register themselves on Root from their init
// functions; the main package imports them for effect.
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/archivemount/archivemount/lib/atexit"
)

// Version of the program
const Version = "v1.0.0"

// Root is the main archivemount command.
var Root = &cobra.Command{
	Use:     "archivemount",
	Short:   "Mount archives (7z/zip/rar/tar/...) as virtual drives.",
	Version: Version,
	Long: `archivemount exposes the contents of an archive as a browsable
read-mostly filesystem.  Files are extracted on first read into a
bounded on-disk cache, so even huge archives browse instantly.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Main runs the command line interface.
func Main() {
	defer atexit.Run()
	if err := Root.Execute(); err != nil {
		atexit.Run()
		os.Exit(1)
	}
}
