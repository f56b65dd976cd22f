// Package debug owns verbosity and hands out component loggers.
package debug

import (
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/log"
)

var (
	enabled     = os.Getenv("CCBRIDGE_DEBUG") != ""
	verboseMode = false
	quietMode   = false
	mu          sync.Mutex
	output      io.Writer = os.Stderr
)

// Enabled reports whether debug logging is on (CCBRIDGE_DEBUG or --verbose).
func Enabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled || verboseMode
}

// SetVerbose enables verbose/debug output
func SetVerbose(verbose bool) {
	mu.Lock()
	verboseMode = verbose
	mu.Unlock()
}

// SetQuiet suppresses info-level logging; warnings and errors still print.
func SetQuiet(quiet bool) {
	mu.Lock()
	quietMode = quiet
	mu.Unlock()
}

// IsQuiet returns true if quiet mode is enabled
func IsQuiet() bool {
	mu.Lock()
	defer mu.Unlock()
	return quietMode
}

// SetOutput redirects loggers created afterwards. nil restores stderr.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	mu.Lock()
	output = w
	mu.Unlock()
}

// Level returns the log level implied by the current verbosity flags.
func Level() log.Level {
	mu.Lock()
	defer mu.Unlock()
	switch {
	case enabled || verboseMode:
		return log.DebugLevel
	case quietMode:
		return log.WarnLevel
	default:
		return log.InfoLevel
	}
}

// Logger returns a logger for one component, e.g. Logger("dispatch").
func Logger(prefix string) *log.Logger {
	mu.Lock()
	w := output
	mu.Unlock()

	l := log.NewWithOptions(w, log.Options{
		Prefix:          prefix,
		ReportTimestamp: true,
	})
	l.SetLevel(Level())
	return l
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}
