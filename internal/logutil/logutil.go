package logutil

import (
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/log"
)

var (
	logger = log.NewWithOptions(os.Stderr, log.Options{
		Prefix:          "xrelay",
		ReportTimestamp: true,
		Level:           log.InfoLevel,
	})
	verbose bool
	mu      sync.RWMutex
)

// SetVerbose switches between debug and info level.
func SetVerbose(enable bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = enable
	if enable {
		logger.SetLevel(log.DebugLevel)
	} else {
		logger.SetLevel(log.InfoLevel)
	}
}

// Verbose reports whether debug logging is on.
func Verbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verbose
}

// SetJSON emits one JSON object per line instead of styled text, for log
// collectors in front of the server.
func SetJSON(enable bool) {
	if enable {
		logger.SetFormatter(log.JSONFormatter)
		return
	}
	logger.SetFormatter(log.TextFormatter)
}

// SetOutput redirects log output. Tests pass io.Discard.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

func Debugf(format string, args ...any) {
	logger.Debugf(format, args...)
}

func Infof(format string, args ...any) {
	logger.Infof(format, args...)
}

// Warnf is for problems the relay recovers from, such as a failed persist.
func Warnf(format string, args ...any) {
	logger.Warnf(format, args...)
}

// Errorf is for per-destination publish failures and dropped connections.
func Errorf(format string, args ...any) {
	logger.Errorf(format, args...)
}
