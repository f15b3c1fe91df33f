// Package safego launches background goroutines that survive panics.
package safego

import (
	"log/slog"
	"runtime/debug"
)

// Go runs fn on its own goroutine, logging a recovered panic with its stack
// instead of crashing the process. Every fire-and-forget goroutine in the
// service (ingestion jobs, trail shipping, the stale-job sweeper, automatic
// stage actions) goes through here: a panic in one of them must not take the
// API down, and must not vanish without a trace either.
func Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in background goroutine",
					"panic", r,
					"stack", string(debug.Stack()))
			}
		}()
		fn()
	}()
}
