// Package source provides the raw line streams that feed the cycle pipeline:
// a live serial spectrometer or a recorded log replayed with its original
// pacing.
package source

import (
	"context"
	"errors"
	"time"

	"github.com/banshee-data/spectrometer/internal/timeutil"
)

// ErrSourceIO reports that the underlying device or file failed mid-stream.
// Acquisition stops and must be restarted explicitly.
var ErrSourceIO = errors.New("source I/O error")

// Source produces raw protocol lines one at a time.
//
// Next blocks until a line is available, the stream ends (io.EOF), the
// source fails (an error wrapping ErrSourceIO) or ctx is done (ctx.Err()).
// Implementations are used by a single goroutine.
type Source interface {
	Name() string
	Next(ctx context.Context) (string, error)
	Close() error
}

// sleep waits for d on clock, returning early with ctx.Err() on cancellation.
func sleep(ctx context.Context, clock timeutil.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C():
		return nil
	}
}
