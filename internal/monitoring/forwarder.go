package monitoring

import (
	"context"
	"sync/atomic"

	"github.com/banshee-data/spectrometer/internal/pipeline"
)

// ReadingSource is the subscription side of the acquisition controller.
type ReadingSource interface {
	Subscribe() (string, <-chan pipeline.Reading)
	Unsubscribe(id string)
}

// Forwarder relays every reading from a ReadingSource to a coordinator.
// Failed posts are logged and the reading is dropped.
type Forwarder struct {
	client *Client
	source ReadingSource

	sent   atomic.Int64
	failed atomic.Int64
}

func NewForwarder(client *Client, source ReadingSource) *Forwarder {
	return &Forwarder{client: client, source: source}
}

// Run forwards readings until ctx is cancelled or the subscription closes.
func (f *Forwarder) Run(ctx context.Context) {
	id, readings := f.source.Subscribe()
	defer f.source.Unsubscribe(id)

	Logf("forwarding readings to %s", f.client.Endpoint())
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-readings:
			if !ok {
				return
			}
			if err := f.client.PostReading(ctx, r); err != nil {
				if ctx.Err() != nil {
					return
				}
				f.failed.Add(1)
				Logf("failed to forward reading %s: %v", r.ID, err)
				continue
			}
			f.sent.Add(1)
		}
	}
}

// Sent and Failed count forwarding outcomes since creation.
func (f *Forwarder) Sent() int64   { return f.sent.Load() }
func (f *Forwarder) Failed() int64 { return f.failed.Load() }
