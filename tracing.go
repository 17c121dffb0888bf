package tevm

import (
	"os"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
)

// tracingEnabled is a process-wide flag that makes EnableTracing a one-shot:
// EnableTracing is its only reader and writer. It has no effect on the
// per-call instrumentation hook (internal/trace.Hooks) - this is a diagnostic
// switch for the library's own logging, not a coverage/finding collector.
var tracingEnabled atomic.Bool

// EnableTracing raises the default logger to debug verbosity, grounded on
// go-ethereum's own log.SetDefault/NewTerminalHandlerWithLevel verbosity
// pattern. It is idempotent and process-wide: it replaces the default logger,
// so the debug lines internal/fork.Backend logs become visible.
func EnableTracing() {
	if tracingEnabled.CompareAndSwap(false, true) {
		handler := log.NewTerminalHandlerWithLevel(os.Stderr, log.LevelDebug, false)
		log.SetDefault(log.NewLogger(handler))
	}
}
