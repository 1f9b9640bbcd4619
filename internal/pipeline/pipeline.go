// Package pipeline turns a stream of raw protocol lines into calibrated
// readings, one per completed measurement cycle, and runs that stream as a
// start/stop controllable acquisition loop.
package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/spectrometer/internal/calibration"
	"github.com/banshee-data/spectrometer/internal/outlier"
	"github.com/banshee-data/spectrometer/internal/protocol"
	"github.com/banshee-data/spectrometer/internal/timeutil"
)

// ErrProtocolDesync means a record arrived out of the Dark, Full, Sample,
// END_CYCLE order. The cycle in progress is discarded.
var ErrProtocolDesync = errors.New("protocol desync")

// State is the position within the current measurement cycle.
type State int

const (
	StateAwaitingDark State = iota
	StateAwaitingFull
	StateAwaitingSample
	StateAwaitingCycleEnd
)

func (s State) String() string {
	switch s {
	case StateAwaitingDark:
		return "awaiting_dark"
	case StateAwaitingFull:
		return "awaiting_full"
	case StateAwaitingSample:
		return "awaiting_sample"
	case StateAwaitingCycleEnd:
		return "awaiting_cycle_end"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// expects is the series each state accepts.
func (s State) expects() protocol.SeriesID {
	switch s {
	case StateAwaitingDark:
		return protocol.SeriesDark
	case StateAwaitingFull:
		return protocol.SeriesFull
	case StateAwaitingSample:
		return protocol.SeriesSample
	default:
		return 0
	}
}

// Reading is one calibrated result. It is immutable once emitted.
type Reading struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Percentage float64   `json:"calibrated_reading"`
	DarkMean   float64   `json:"dark_mean"`
	FullMean   float64   `json:"full_mean"`
	SampleMean float64   `json:"sample_mean"`
	// Removed counts the outliers excluded from the dark, full and sample
	// series.
	Removed [3]int `json:"outliers_removed"`
	Source  string `json:"source"`
}

// cycle accumulates the series of the measurement in progress.
type cycle struct {
	started time.Time
	dark    []int64
	full    []int64
	sample  []int64
}

// Pipeline is the cycle state machine. It is driven one line at a time by a
// single goroutine and knows nothing about where the lines come from.
type Pipeline struct {
	outlier outlier.Config
	clock   timeutil.Clock
	source  string

	state State
	cur   cycle
}

// New returns a pipeline in StateAwaitingDark. sourceName is copied onto
// every reading.
func New(cfg outlier.Config, clock timeutil.Clock, sourceName string) *Pipeline {
	return &Pipeline{outlier: cfg, clock: clock, source: sourceName}
}

// State returns the current cycle position.
func (p *Pipeline) State() State { return p.state }

// Reset discards any partial cycle and returns to StateAwaitingDark.
func (p *Pipeline) Reset() {
	p.state = StateAwaitingDark
	p.cur = cycle{}
}

// Finish ends the stream. An incomplete cycle is discarded, never emitted;
// Finish reports whether one was dropped.
func (p *Pipeline) Finish() bool {
	partial := p.state != StateAwaitingDark
	if partial {
		diagf("discarding incomplete cycle at end of stream (%s)", p.state)
	}
	p.Reset()
	return partial
}

// Process consumes one raw line. It returns a reading when the line
// completes a valid cycle. Errors are per-line or per-cycle and never fatal:
// ErrMalformedRecord, ErrProtocolDesync, ErrEmptySeries or
// ErrInvalidMeasurement, each leaving the pipeline ready for the next line.
func (p *Pipeline) Process(line string) (*Reading, error) {
	rec, err := protocol.ParseLine(line)
	if err != nil {
		return nil, err
	}

	switch rec.Kind {
	case protocol.KindSeries:
		return nil, p.series(rec)
	case protocol.KindCycleEnd:
		return p.cycleEnd()
	case protocol.KindGainSet, protocol.KindFADCSet, protocol.KindCountSet:
		diagf("device confirmed %s %g", rec.Kind, rec.Setting)
	case protocol.KindADCReady:
		diagf("device reports ADC ready")
	case protocol.KindMeasurements:
		tracef("device measurement dump: %d values", len(rec.Values))
	case protocol.KindCycleMissing:
		opsf("device reports measurement cycle is missing")
	case protocol.KindDeviceError:
		opsf("device error: %s", rec.Text)
	default:
		tracef("ignoring unrecognized line %q", rec.Text)
	}
	return nil, nil
}

func (p *Pipeline) series(rec protocol.Record) error {
	want := p.state.expects()
	if rec.Series != want {
		from := p.state
		p.Reset()
		if rec.Series == protocol.SeriesDark {
			// a fresh Dark series is a valid cycle start
			p.begin(rec)
		}
		return fmt.Errorf("%w: got %s while %s", ErrProtocolDesync, rec.Series, from)
	}

	switch want {
	case protocol.SeriesDark:
		p.begin(rec)
	case protocol.SeriesFull:
		p.cur.full = rec.Values
		p.state = StateAwaitingSample
	case protocol.SeriesSample:
		p.cur.sample = rec.Values
		p.state = StateAwaitingCycleEnd
	}
	tracef("%s series: %d samples", rec.Series, len(rec.Values))
	return nil
}

func (p *Pipeline) begin(rec protocol.Record) {
	p.cur = cycle{dark: rec.Values}
	if rec.HasTimestamp {
		p.cur.started = rec.Timestamp
	} else {
		p.cur.started = p.clock.Now().UTC()
	}
	p.state = StateAwaitingFull
}

func (p *Pipeline) cycleEnd() (*Reading, error) {
	switch p.state {
	case StateAwaitingCycleEnd:
	case StateAwaitingDark:
		// nothing accumulated, e.g. the tail of a cycle we joined mid-way
		tracef("ignoring END_CYCLE with no cycle in progress")
		return nil, nil
	default:
		from := p.state
		p.Reset()
		return nil, fmt.Errorf("%w: END_CYCLE while %s", ErrProtocolDesync, from)
	}

	c := p.cur
	p.Reset()

	dark := outlier.FilterInts(c.dark, p.outlier)
	full := outlier.FilterInts(c.full, p.outlier)
	sample := outlier.FilterInts(c.sample, p.outlier)

	res, err := calibration.Reduce(dark.Cleaned, full.Cleaned, sample.Cleaned)
	if err != nil {
		return nil, err
	}

	r := &Reading{
		ID:         uuid.New().String(),
		Timestamp:  c.started,
		Percentage: res.Percentage,
		DarkMean:   res.DarkMean,
		FullMean:   res.FullMean,
		SampleMean: res.SampleMean,
		Removed:    [3]int{dark.Removed(), full.Removed(), sample.Removed()},
		Source:     p.source,
	}
	diagf("cycle: dark=%.0f full=%.0f sample=%.0f calibrated=%.2f%% removed=%v",
		r.DarkMean, r.FullMean, r.SampleMean, r.Percentage, r.Removed)
	return r, nil
}

// DropReason classifies a per-cycle error for counters and diagnostics.
func DropReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrMalformedRecord):
		return "malformed_record"
	case errors.Is(err, ErrProtocolDesync):
		return "protocol_desync"
	case errors.Is(err, calibration.ErrEmptySeries):
		return "empty_series"
	case errors.Is(err, calibration.ErrInvalidMeasurement):
		return "invalid_measurement"
	default:
		return "other"
	}
}
