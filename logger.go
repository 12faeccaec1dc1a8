package terra

import (
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/terra/internal/generate"
	"github.com/gogpu/terra/internal/readback"
	"github.com/gogpu/terra/internal/shader"
	"github.com/gogpu/terra/internal/stream"
	"github.com/gogpu/terra/storage"
)

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for terra and all its sub-packages.
// By default, terra produces no log output. Call SetLogger to enable logging.
//
// SetLogger is safe for concurrent use: it stores the new logger atomically.
// Pass nil to disable logging (restore default silent behavior).
//
// Log levels used by terra:
//   - [slog.LevelDebug]: per-tile events (tile streamed, readback dropped)
//   - [slog.LevelInfo]: lifecycle events (store opened, shader reloaded)
//   - [slog.LevelWarn]: recoverable trouble (readback map failure, rejected shader edit)
//   - [slog.LevelError]: a worker stopped on a storage or decode failure
//
// Example:
//
//	terra.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	stream.SetLogger(l)
	readback.SetLogger(l)
	shader.SetLogger(l)
	generate.SetLogger(l)
	storage.SetLogger(l)
}

// Logger returns the current logger used by terra.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
