// Package unmount implements the unmount command.
package unmount

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/archivemount/archivemount/cmd"
	"github.com/archivemount/archivemount/cmd/cmount"
	"github.com/archivemount/archivemount/cmd/mountlib"
	"github.com/archivemount/archivemount/lib/console"
)

var errAlreadyReported = errors.New("already reported")

var commandDefinition = &cobra.Command{
	Use:   "unmount <mount_point>",
	Short: "Unmount a mounted archive.",
	Args:  cobra.ExactArgs(1),
	RunE: func(command *cobra.Command, args []string) error {
		mountPoint := args[0]
		handled, err := cmount.Unmount(mountPoint)
		if !handled {
			err = mountlib.Unmount(mountPoint)
		}
		if err != nil {
			console.Write(console.Err, "unmount failed: %v", err)
			return errAlreadyReported
		}
		console.Write(console.Success, "unmount successfully")
		return nil
	},
}

func init() {
	cmd.Root.AddCommand(commandDefinition)
}
