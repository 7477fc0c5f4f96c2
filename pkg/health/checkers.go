package health

import (
	"context"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck fails once the live goroutine count exceeds limit.
// Registered as a liveness check it catches goroutine leaks.
func GoroutineCountCheck(limit int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > limit {
			return errors.Errorf("%d goroutines running, limit %d", n, limit)
		}
		return nil
	}
}

// GCMaxPauseCheck fails when any recorded stop-the-world pause exceeds limit.
func GCMaxPauseCheck(limit time.Duration) CheckFunc {
	return func(context.Context) error {
		var st debug.GCStats
		debug.ReadGCStats(&st)

		for _, pause := range st.Pause {
			if pause > limit {
				return errors.Errorf("GC pause %s over limit %s", pause, limit)
			}
		}
		return nil
	}
}
