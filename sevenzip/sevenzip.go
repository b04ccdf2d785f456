// Package sevenzip drives an external 7-Zip binary as a black box to
// list archive entries and to materialize them on disk.
//
// Archive format coverage is entirely delegated to the binary - this
// package only owns the subprocess invocation and the listing parser.
package sevenzip

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/archivemount/archivemount/fs"
)

// TimeFormat is the timestamp layout 7z emits in -slt listings, in
// local time.
const TimeFormat = "2006-01-02 15:04:05"

// Entry is one file or directory inside an archive as reported by the
// listing.
type Entry struct {
	Path       string    // relative path exactly as emitted, backslash separated
	Size       int64     // uncompressed size in bytes
	PackedSize int64     // compressed size, informational only
	Modified   time.Time // zero if the format doesn't carry one
	Created    time.Time // zero for formats without a creation time (eg 7z)
	IsDir      bool
	Encrypted  bool
}

// SevenZip invokes the 7-Zip binary found at program.
type SevenZip struct {
	program string
}

// New finds the 7-Zip binary on PATH.
func New() (*SevenZip, error) {
	for _, name := range []string{"7z", "7za", "7zz"} {
		program, err := exec.LookPath(name)
		if err == nil {
			return &SevenZip{program: program}, nil
		}
	}
	return nil, fmt.Errorf("7-Zip binary not found on PATH")
}

// NewWithProgram uses the binary at the given path without consulting
// PATH - used by tests and by callers which ship their own binary.
func NewWithProgram(program string) *SevenZip {
	return &SevenZip{program: program}
}

// passwordArg builds the -p argument.  An empty password still gets a
// bare -p so the binary never blocks on a password prompt.
func passwordArg(password string) string {
	return "-p" + password
}

// List lists the entries of the archive.
//
// It fails with ErrListUnreadable wrapped if the binary exits nonzero,
// emits nothing, or emits nothing parseable - all of which mean the
// archive cannot be served.
func (z *SevenZip) List(ctx context.Context, archive, password string) ([]Entry, error) {
	cmd := exec.CommandContext(ctx, z.program,
		"l",
		passwordArg(password),
		"-ba",  // no header lines
		"-slt", // technical listing, Key = Value records
		"-sccUTF-8",
		archive,
	)
	hideWindow(cmd)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("list %q: %w: %w", archive, ErrListUnreadable, err)
	}
	entries := parseListing(out)
	if len(entries) == 0 {
		return nil, fmt.Errorf("list %q: %w: no entries in listing", archive, ErrListUnreadable)
	}
	fs.Debugf(nil, "listed %d entries from %q", len(entries), archive)
	return entries, nil
}

// Extract materializes one entry tree of the archive under outDir,
// preserving relative paths.
//
// The binary runs with "yes to all" and "skip existing", so retrying a
// previously interrupted extraction is safe and cheap.  ok is true iff
// the binary self-reports success; on false the caller must assume no
// file was produced.
func (z *SevenZip) Extract(ctx context.Context, archive, password, entryPath, outDir string) (ok bool, err error) {
	if entryPath == "" {
		entryPath = "*"
	}
	cmd := exec.CommandContext(ctx, z.program,
		"x",
		archive,
		entryPath,
		"-y",   // yes to all prompts
		"-aos", // skip existing files
		passwordArg(password),
		"-o"+outDir,
	)
	hideWindow(cmd)
	out, err := cmd.Output()
	if err != nil {
		// A nonzero exit with diagnostic output is a normal failure
		// mode - report it as ok=false rather than an error so the
		// caller can fall back to checking the target path.
		if _, isExit := err.(*exec.ExitError); isExit {
			fs.Debugf(nil, "extract %q from %q: %v", entryPath, archive, err)
			return false, nil
		}
		return false, fmt.Errorf("extract %q from %q: %w", entryPath, archive, err)
	}
	return extractSucceeded(out), nil
}
