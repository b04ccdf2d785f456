// Package fs provides the common runtime services for archivemount:
// leveled logging and the flag value types shared by the commands.
package fs

import (
	"fmt"

	"github.com/mattn/go-colorable"
	"github.com/sirupsen/logrus"
)

// LogLevel describes a log level for the Debugf/Infof/Logf/Errorf family.
type LogLevel byte

// Log levels.  These are the log levels defined by syslog that we use.
const (
	LogLevelError LogLevel = iota
	LogLevelNotice
	LogLevelInfo
	LogLevelDebug
)

var logger = logrus.New()

func init() {
	logger.SetOutput(colorable.NewColorableStderr())
	logger.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: "2006/01/02 15:04:05",
		FullTimestamp:   true,
	})
	logger.SetLevel(logrus.InfoLevel)
}

// SetDebug turns debug logging on or off.
func SetDebug(debug bool) {
	if debug {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
}

// Debug returns whether debug logging is enabled.
func Debug() bool {
	return logger.IsLevelEnabled(logrus.DebugLevel)
}

// prefix o onto the log message if non-nil.
//
// o is an object which may have a String method - typically the
// component doing the logging.
func prefix(o interface{}, text string, args []interface{}) string {
	out := fmt.Sprintf(text, args...)
	if o != nil {
		out = fmt.Sprintf("%v: %s", o, out)
	}
	return out
}

// Errorf writes error log output for this Object or Fs.
func Errorf(o interface{}, text string, args ...interface{}) {
	logger.Error(prefix(o, text, args))
}

// Logf writes log output for this Object or Fs.  This should be
// considered to be Notice level logging - it is written at logrus
// warning level, so it shows at the default (info) level.
func Logf(o interface{}, text string, args ...interface{}) {
	logger.Warn(prefix(o, text, args))
}

// Infof writes info on transfers for this Object or Fs.
func Infof(o interface{}, text string, args ...interface{}) {
	logger.Info(prefix(o, text, args))
}

// Debugf writes debugging output for this Object or Fs.
func Debugf(o interface{}, text string, args ...interface{}) {
	logger.Debug(prefix(o, text, args))
}
