package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/spectrometer/internal/outlier"
	"github.com/banshee-data/spectrometer/internal/source"
	"github.com/banshee-data/spectrometer/internal/timeutil"
)

// SourceFactory opens a fresh acquisition source for each run.
type SourceFactory func() (source.Source, error)

// DiagnosticsRecorder persists run boundaries and dropped cycles. Recording
// failures are logged and never affect acquisition.
type DiagnosticsRecorder interface {
	RecordRunStart(runID, sourceName string, startedAt time.Time) error
	RecordRunStop(runID string, stoppedAt time.Time, counts Counts, lastErr string) error
	RecordCycleDropped(runID string, at time.Time, reason, detail string) error
}

// playbackStater is implemented by sources that can report replay progress.
type playbackStater interface {
	State() source.PlaybackState
}

// Counts tallies outcomes for one run.
type Counts struct {
	Lines              int64 `json:"lines"`
	Readings           int64 `json:"readings"`
	MalformedRecords   int64 `json:"malformed_records"`
	ProtocolDesyncs    int64 `json:"protocol_desyncs"`
	EmptySeries        int64 `json:"empty_series"`
	InvalidMeasurement int64 `json:"invalid_measurements"`
	Discarded          int64 `json:"discarded_incomplete"`
}

type counters struct {
	lines, readings, malformed, desync, empty, invalid, discarded atomic.Int64
}

func (c *counters) reset() {
	for _, v := range []*atomic.Int64{&c.lines, &c.readings, &c.malformed, &c.desync, &c.empty, &c.invalid, &c.discarded} {
		v.Store(0)
	}
}

func (c *counters) snapshot() Counts {
	return Counts{
		Lines:              c.lines.Load(),
		Readings:           c.readings.Load(),
		MalformedRecords:   c.malformed.Load(),
		ProtocolDesyncs:    c.desync.Load(),
		EmptySeries:        c.empty.Load(),
		InvalidMeasurement: c.invalid.Load(),
		Discarded:          c.discarded.Load(),
	}
}

// Status is a point-in-time view of the controller.
type Status struct {
	Running   bool                  `json:"is_running"`
	RunID     string                `json:"run_id,omitempty"`
	Source    string                `json:"source,omitempty"`
	StartedAt *time.Time            `json:"started_at,omitempty"`
	StoppedAt *time.Time            `json:"stopped_at,omitempty"`
	LastError string                `json:"last_error,omitempty"`
	Counts    Counts                `json:"counts"`
	Playback  *source.PlaybackState `json:"playback,omitempty"`
}

// subscriberBuffer is how many readings a subscriber may fall behind before
// readings are dropped for it.
const subscriberBuffer = 16

// Controller owns the acquisition loop: one source feeding one pipeline on
// a dedicated goroutine. The latest reading is published through an atomic
// pointer so readers never observe a partially built value.
type Controller struct {
	newSource SourceFactory
	outlier   outlier.Config
	clock     timeutil.Clock
	recorder  DiagnosticsRecorder

	// opMu serialises Start and Stop.
	opMu sync.Mutex

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	runID     string
	src       source.Source
	startedAt time.Time
	stoppedAt time.Time
	lastErr   string

	counts counters
	latest atomic.Pointer[Reading]

	subMu       sync.Mutex
	subscribers map[string]chan Reading
}

// ControllerOption configures optional collaborators.
type ControllerOption func(*Controller)

// WithClock overrides the wall clock used to stamp serial readings.
func WithClock(clock timeutil.Clock) ControllerOption {
	return func(c *Controller) { c.clock = clock }
}

// WithRecorder attaches a diagnostics recorder.
func WithRecorder(r DiagnosticsRecorder) ControllerOption {
	return func(c *Controller) { c.recorder = r }
}

// NewController returns a stopped controller. The outlier configuration is
// fixed for the controller's lifetime and must already be valid.
func NewController(newSource SourceFactory, cfg outlier.Config, opts ...ControllerOption) *Controller {
	c := &Controller{
		newSource:   newSource,
		outlier:     cfg,
		clock:       timeutil.RealClock{},
		subscribers: make(map[string]chan Reading),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start opens a fresh source and begins acquisition from StateAwaitingDark.
// It is a no-op when already running.
func (c *Controller) Start() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	src, err := c.newSource()
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	runID := uuid.New().String()
	now := c.clock.Now().UTC()

	c.counts.reset()
	c.mu.Lock()
	c.running = true
	c.cancel = cancel
	c.done = done
	c.runID = runID
	c.src = src
	c.startedAt = now
	c.stoppedAt = time.Time{}
	c.lastErr = ""
	c.mu.Unlock()

	if c.recorder != nil {
		if err := c.recorder.RecordRunStart(runID, src.Name(), now); err != nil {
			opsf("failed to record run start: %v", err)
		}
	}
	diagf("acquisition run %s started from %s source", runID, src.Name())

	go c.run(ctx, src, runID, done)
	return nil
}

// Stop cancels acquisition at the next suspension point and waits for the
// loop to exit. It is a no-op when already stopped.
func (c *Controller) Stop() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	cancel, done := c.cancel, c.done
	running := c.running
	c.mu.Unlock()
	if !running {
		return
	}

	cancel()
	<-done
}

// Wait blocks until the current run, if any, has ended.
func (c *Controller) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// IsRunning reports whether the acquisition loop is active.
func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// LatestReading returns the most recent reading, or false if none has been
// produced since the controller was created.
func (c *Controller) LatestReading() (Reading, bool) {
	r := c.latest.Load()
	if r == nil {
		return Reading{}, false
	}
	return *r, true
}

// Status returns a snapshot of the controller and its current run.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		Running:   c.running,
		RunID:     c.runID,
		LastError: c.lastErr,
		Counts:    c.counts.snapshot(),
	}
	if c.src != nil {
		st.Source = c.src.Name()
		if ps, ok := c.src.(playbackStater); ok {
			state := ps.State()
			st.Playback = &state
		}
	}
	if !c.startedAt.IsZero() {
		t := c.startedAt
		st.StartedAt = &t
	}
	if !c.stoppedAt.IsZero() {
		t := c.stoppedAt
		st.StoppedAt = &t
	}
	return st
}

// Subscribe registers a channel that receives every reading emitted after
// the call. Slow subscribers miss readings rather than stall acquisition.
func (c *Controller) Subscribe() (string, <-chan Reading) {
	id := uuid.New().String()
	ch := make(chan Reading, subscriberBuffer)
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber channel.
func (c *Controller) Unsubscribe(id string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if ch, ok := c.subscribers[id]; ok {
		close(ch)
		delete(c.subscribers, id)
	}
}

func (c *Controller) publish(r Reading) {
	c.latest.Store(&r)
	c.counts.readings.Add(1)

	c.subMu.Lock()
	defer c.subMu.Unlock()
	for id, ch := range c.subscribers {
		select {
		case ch <- r:
		default:
			opsf("subscriber %s is full; dropping reading %s", id, r.ID)
		}
	}
}

func (c *Controller) run(ctx context.Context, src source.Source, runID string, done chan struct{}) {
	defer close(done)

	p := New(c.outlier, c.clock, src.Name())
	var lastErr string

loop:
	for {
		line, err := src.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				if p.Finish() {
					c.counts.discarded.Add(1)
					c.recordDrop(runID, "discarded_incomplete", "stream ended mid-cycle")
				}
				diagf("run %s: source exhausted", runID)
			case ctx.Err() != nil:
				diagf("run %s: stopped", runID)
			default:
				lastErr = err.Error()
				opsf("run %s: acquisition halted: %v", runID, err)
			}
			break loop
		}

		c.counts.lines.Add(1)
		reading, err := p.Process(line)
		if err != nil {
			c.countDrop(err)
			c.recordDrop(runID, DropReason(err), err.Error())
			diagf("dropped: %v", err)
			continue
		}
		if reading != nil {
			c.publish(*reading)
		}
	}

	if err := src.Close(); err != nil {
		opsf("run %s: closing %s source: %v", runID, src.Name(), err)
	}

	now := c.clock.Now().UTC()
	c.mu.Lock()
	c.running = false
	c.stoppedAt = now
	c.lastErr = lastErr
	c.mu.Unlock()

	if c.recorder != nil {
		if err := c.recorder.RecordRunStop(runID, now, c.counts.snapshot(), lastErr); err != nil {
			opsf("failed to record run stop: %v", err)
		}
	}
}

func (c *Controller) countDrop(err error) {
	switch DropReason(err) {
	case "malformed_record":
		c.counts.malformed.Add(1)
	case "protocol_desync":
		c.counts.desync.Add(1)
	case "empty_series":
		c.counts.empty.Add(1)
	case "invalid_measurement":
		c.counts.invalid.Add(1)
	}
}

func (c *Controller) recordDrop(runID, reason, detail string) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.RecordCycleDropped(runID, c.clock.Now().UTC(), reason, detail); err != nil {
		opsf("failed to record dropped cycle: %v", err)
	}
}
