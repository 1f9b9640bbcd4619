package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/banshee-data/spectrometer/internal/protocol"
	"github.com/banshee-data/spectrometer/internal/serialmux"
)

// SerialReader streams lines from a spectrometer attached to a SerialMux.
//
// The mux itself is owned by the caller and outlives the reader, so the
// debug tail keeps working between acquisition runs. Each reader runs its
// own Monitor loop and subscription, both released by Close.
type SerialReader struct {
	mux      serialmux.SerialMuxInterface
	settings *protocol.DeviceSettings

	startOnce sync.Once
	startErr  error

	subID  string
	lines  chan string
	done   chan struct{}
	cancel context.CancelFunc

	mu         sync.Mutex
	monitorErr error
	closed     bool
}

// NewSerialReader returns a reader over mux. When settings is non-nil the
// gain, ADC rate and count are pushed to the firmware before the first line
// is read.
func NewSerialReader(mux serialmux.SerialMuxInterface, settings *protocol.DeviceSettings) *SerialReader {
	return &SerialReader{mux: mux, settings: settings}
}

func (r *SerialReader) Name() string { return "serial" }

func (r *SerialReader) start() error {
	r.startOnce.Do(func() {
		r.mu.Lock()
		closed := r.closed
		r.mu.Unlock()
		if closed {
			r.startErr = fmt.Errorf("%w: serial reader closed", ErrSourceIO)
			return
		}

		r.subID, r.lines = r.mux.Subscribe()

		ctx, cancel := context.WithCancel(context.Background())
		r.cancel = cancel
		r.done = make(chan struct{})
		go func() {
			defer close(r.done)
			err := r.mux.Monitor(ctx)
			r.mu.Lock()
			r.monitorErr = err
			r.mu.Unlock()
		}()

		if r.settings != nil {
			if err := r.mux.Initialise(*r.settings); err != nil {
				r.startErr = fmt.Errorf("%w: initialise device: %v", ErrSourceIO, err)
				return
			}
			diagf("device initialised: gain=%d fadc=%g count=%d",
				r.settings.Gain, float64(r.settings.Frequency), r.settings.Count)
		}
	})
	return r.startErr
}

// Next returns the next line from the device with trailing whitespace
// removed.
func (r *SerialReader) Next(ctx context.Context) (string, error) {
	if err := r.start(); err != nil {
		return "", err
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-r.lines:
		if !ok {
			return "", r.failure()
		}
		return r.clean(line), nil
	case <-r.done:
		// lines already fanned out before Monitor returned are still ours
		select {
		case line, ok := <-r.lines:
			if ok {
				return r.clean(line), nil
			}
		default:
		}
		return "", r.failure()
	}
}

func (r *SerialReader) clean(line string) string {
	line = strings.TrimRight(line, "\r\n\t ")
	tracef("rx %q", line)
	return line
}

// failure describes why the stream ended. The device never legitimately
// stops talking, so every end of stream is an I/O failure.
func (r *SerialReader) failure() error {
	r.mu.Lock()
	err := r.monitorErr
	r.mu.Unlock()
	opsf("serial stream ended: %v", err)

	switch {
	case err == nil:
		return fmt.Errorf("%w: serial stream ended", ErrSourceIO)
	case errors.Is(err, ErrSourceIO):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrSourceIO, err)
	}
}

// Close stops the monitor loop and releases the subscription. The mux stays
// open.
func (r *SerialReader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
		<-r.done
		r.mux.Unsubscribe(r.subID)
	}
	return nil
}
