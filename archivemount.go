// archivemount mounts archives as browsable virtual drives.
package main

import (
	"github.com/archivemount/archivemount/cmd"
	_ "github.com/archivemount/archivemount/cmd/mount"
	_ "github.com/archivemount/archivemount/cmd/unmount"
)

func main() {
	cmd.Main()
}
