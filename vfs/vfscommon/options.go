// Package vfscommon holds the options and helpers shared between the
// vfs layers and the commands which configure them.
package vfscommon

import (
	"path/filepath"
	"strings"

	"github.com/archivemount/archivemount/fs"
)

// Options is the configuration shared by the mount layers.
type Options struct {
	CacheMaxSize fs.SizeSuffix // byte budget for materialized entries
	ReadOnly     bool          // deny all write class operations
	VolumeName   string        // label reported to the OS
	Debug        bool          // verbose per-operation logging
}

// DefaultOpt is the default configuration, matching the CLI defaults.
var DefaultOpt = Options{
	CacheMaxSize: 4096 * fs.Mebi,
	VolumeName:   "ArchiveMount",
}

// OSPath converts an archive relative path (backslash separated) into
// a native relative path suitable for filepath.Join.
func OSPath(rel string) string {
	return filepath.FromSlash(strings.ReplaceAll(rel, `\`, "/"))
}
