package eventloop

import (
	"log/slog"
	"sync/atomic"
)

// Once wraps a completion callback so that fn runs at most once, on d.
// A second invocation is dropped and logged; adapters are responsible for
// making sure the first one always happens.
func Once[T any](d Dispatcher, operation string, fn func(T)) func(T) {
	var fired atomic.Bool
	return func(v T) {
		if !fired.CompareAndSwap(false, true) {
			slog.Warn("duplicate completion dropped", "operation", operation)
			return
		}
		if fn == nil {
			return
		}
		if !d.Post(func() { fn(v) }) {
			slog.Debug("completion dropped, loop stopped", "operation", operation)
		}
	}
}
