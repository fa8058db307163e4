package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
)

// Pinger is a dependency that can verify its own connectivity, such as a
// database pool or a broker connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingProbe wraps Pinger in a Probe.
func PingProbe(p Pinger) Probe {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return errors.Wrap(err, "ping")
		}
		return nil
	}
}

// GoroutineProbe fails when more than limit goroutines are running, which
// usually means a leak.
func GoroutineProbe(limit int) Probe {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > limit {
			return errors.Errorf("%d goroutines running, limit %d", n, limit)
		}
		return nil
	}
}
