package vfs

import "strings"

// Normalize converts a path as seen on the mount or in a listing to
// the canonical form used by the index: backslash separated, no
// leading or trailing separators, no empty components, case preserved.
func Normalize(name string) string {
	name = strings.ReplaceAll(name, "/", `\`)
	parts := strings.Split(name, `\`)
	out := parts[:0]
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return strings.Join(out, `\`)
}

// SplitPath returns the normalized components of a path, case
// preserved, or nil for the root.
func SplitPath(name string) []string {
	name = Normalize(name)
	if name == "" {
		return nil
	}
	return strings.Split(name, `\`)
}

// Nuisance paths are names the shell probes on every volume.  They are
// rejected up front so each Explorer click doesn't trigger a scan of
// the index.
var nuisanceNames = []string{
	"desktop.ini",
	"recycle.bin",
	"recycler",
	"system volume information",
}

// IsNuisancePath reports whether the path is shell noise which should
// be reported as absent without consulting the index.
func IsNuisancePath(name string) bool {
	lower := strings.ToLower(name)
	for _, nuisance := range nuisanceNames {
		if strings.Contains(lower, nuisance) {
			return true
		}
	}
	return false
}
