//go:build windows || plan9

package atexit

import "os"

var exitSignals = []os.Signal{os.Interrupt}

// exitCode for the platforms without POSIX signal numbers
func exitCode(sig os.Signal) int {
	return 2
}
