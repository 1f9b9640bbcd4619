package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/spectrometer/internal/config"
	"github.com/banshee-data/spectrometer/internal/fsutil"
	"github.com/banshee-data/spectrometer/internal/protocol"
	"github.com/banshee-data/spectrometer/internal/timeutil"
)

// PlaybackOptions selects the log to replay and how.
type PlaybackOptions struct {
	Path string
	// Speed scales the recorded gaps: 2.0 replays twice as fast. Must be
	// positive.
	Speed float64
	Loop  bool
}

// PlaybackState is a snapshot of replay progress.
type PlaybackState struct {
	// SimulatedTime is the source timestamp of the most recently emitted line.
	SimulatedTime time.Time `json:"simulated_time"`
	Speed         float64   `json:"speed"`
	Loop          bool      `json:"loop"`
	// Position is the 1-based line number within the file of the most
	// recently emitted line.
	Position int `json:"position"`
	// Pass counts how many times the file has been opened.
	Pass int `json:"pass"`
}

// PlaybackReader replays a timestamped log, sleeping between lines for the
// recorded gap divided by the speed multiplier.
type PlaybackReader struct {
	fs    fsutil.FileSystem
	clock timeutil.Clock
	opts  PlaybackOptions

	file      fs.File
	scanner   *bufio.Scanner
	lastTS    time.Time
	hasLast   bool
	passLines int
	finished  bool

	mu    sync.Mutex
	state PlaybackState
}

// NewPlaybackReader validates opts and checks that the log exists. A
// non-positive speed or missing file is a configuration error.
func NewPlaybackReader(fsys fsutil.FileSystem, clock timeutil.Clock, opts PlaybackOptions) (*PlaybackReader, error) {
	if !(opts.Speed > 0) {
		return nil, fmt.Errorf("%w: playback speed must be positive, got %g", config.ErrConfig, opts.Speed)
	}
	if opts.Path == "" {
		return nil, fmt.Errorf("%w: playback file not set", config.ErrConfig)
	}
	if !fsys.Exists(opts.Path) {
		return nil, fmt.Errorf("%w: playback file %s not found", config.ErrConfig, opts.Path)
	}
	return &PlaybackReader{
		fs:    fsys,
		clock: clock,
		opts:  opts,
		state: PlaybackState{Speed: opts.Speed, Loop: opts.Loop},
	}, nil
}

func (r *PlaybackReader) Name() string { return "playback" }

// State returns a copy of the current playback state.
func (r *PlaybackReader) State() PlaybackState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *PlaybackReader) open() error {
	f, err := r.fs.Open(r.opts.Path)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrSourceIO, r.opts.Path, err)
	}
	r.file = f
	r.scanner = bufio.NewScanner(f)
	r.passLines = 0

	r.mu.Lock()
	r.state.Pass++
	r.state.Position = 0
	pass := r.state.Pass
	r.mu.Unlock()

	diagf("playback pass %d of %s (speed %.2fx, loop %v)", pass, r.opts.Path, r.opts.Speed, r.opts.Loop)
	return nil
}

func (r *PlaybackReader) closeFile() {
	if r.file != nil {
		r.file.Close()
	}
	r.file = nil
	r.scanner = nil
}

// Next returns the next timestamped line once its scheduled emission time
// has been reached. Lines without a timestamp are skipped.
func (r *PlaybackReader) Next(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if r.finished {
			return "", io.EOF
		}

		if r.scanner == nil {
			if err := r.open(); err != nil {
				return "", err
			}
		}

		if !r.scanner.Scan() {
			err := r.scanner.Err()
			r.closeFile()
			if err != nil {
				opsf("playback read of %s failed: %v", r.opts.Path, err)
				return "", fmt.Errorf("%w: read %s: %v", ErrSourceIO, r.opts.Path, err)
			}
			// a file with no timestamped lines would otherwise loop forever
			if !r.opts.Loop || r.passLines == 0 {
				r.finished = true
				diagf("playback of %s finished after pass %d", r.opts.Path, r.State().Pass)
				return "", io.EOF
			}
			continue
		}

		raw := r.scanner.Text()
		r.mu.Lock()
		r.state.Position++
		position := r.state.Position
		r.mu.Unlock()

		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		ts, _, ok := protocol.SplitTimestamp(line)
		if !ok {
			diagf("skipping line %d without timestamp: %q", position, line)
			continue
		}

		if r.hasLast {
			if err := sleep(ctx, r.clock, r.delay(ts)); err != nil {
				return "", err
			}
		}
		r.lastTS = ts
		r.hasLast = true
		r.passLines++

		r.mu.Lock()
		r.state.SimulatedTime = ts
		r.mu.Unlock()

		tracef("line %d at %s", position, ts.Format(time.RFC3339Nano))
		return line, nil
	}
}

// delay is the wall-clock pause before a line stamped ts. Backward steps,
// including the wrap from the last line of one pass to the first line of
// the next, are clamped to zero.
func (r *PlaybackReader) delay(ts time.Time) time.Duration {
	gap := ts.Sub(r.lastTS)
	if gap <= 0 {
		return 0
	}
	return time.Duration(float64(gap) / r.opts.Speed)
}

// Close releases the open log file, if any.
func (r *PlaybackReader) Close() error {
	r.closeFile()
	return nil
}
