// Package console implements the diagnostic line protocol the parent
// CLI parses on the mount command's standard output.
//
// Each line is "  <level><gap><message>" where level is padded to 7
// characters and the gap is 6 spaces.  A terminal Success or Err line
// tells the parent the fate of the mount.
package console

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
)

// Type is the level of a diagnostic line.
type Type int

// Diagnostic levels.
const (
	Info Type = iota
	Success
	Warning
	Err
)

var titles = map[Type]struct {
	text  string
	color *color.Color
}{
	Info:    {"Info   ", color.New(color.FgCyan)},
	Success: {"Success", color.New(color.FgGreen)},
	Warning: {"Warning", color.New(color.FgYellow)},
	Err:     {"Err    ", color.New(color.FgRed)},
}

var (
	mu    sync.Mutex
	out   io.Writer = os.Stdout
	quiet bool
)

// SetOutput redirects diagnostics - used by tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

// SetQuiet silences all diagnostics.
func SetQuiet(q bool) {
	mu.Lock()
	defer mu.Unlock()
	quiet = q
}

// Line formats a single diagnostic line without color, as the parent
// parses it.
func Line(t Type, message string) string {
	return fmt.Sprintf("  %s      %s\n", titles[t].text, message)
}

// Write emits one diagnostic line at the given level.
func Write(t Type, format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if quiet {
		return
	}
	title := titles[t]
	fmt.Fprintf(out, "  %s      %s\n", title.color.Sprint(title.text), fmt.Sprintf(format, args...))
}
