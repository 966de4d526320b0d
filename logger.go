package nodegraph

import (
	"log/slog"

	"github.com/gogpu/nodegraph/driver"
)

// SetLogger configures the logger for nodegraph and its drivers.
// By default, nodegraph produces no log output. Pass nil to restore the
// silent default. SetLogger is safe for concurrent use.
//
// Log levels used by nodegraph:
//   - [slog.LevelDebug]: allocations, dispatches, submissions
//   - [slog.LevelInfo]: session lifecycle (device selected, libraries loaded)
//   - [slog.LevelWarn]: validation warnings, resource release errors
//
// Example:
//
//	nodegraph.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	driver.SetLogger(l)
}

// Logger returns the current logger. The root package and the drivers
// share one logger.
func Logger() *slog.Logger {
	return driver.Logger()
}
