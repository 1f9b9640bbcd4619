// Package outlier removes extreme samples from a measurement series before
// the series is reduced to a mean.
package outlier

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid outlier test configuration")

// Method selects the outlier test applied to each series.
type Method int

const (
	MethodDisabled Method = iota
	MethodGrubbs
)

func (m Method) String() string {
	switch m {
	case MethodGrubbs:
		return "grubbs"
	default:
		return "none"
	}
}

// ParseMethod accepts "none"/"disabled" and "grubbs" (case-insensitive).
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "disabled", "off":
		return MethodDisabled, nil
	case "grubbs", "":
		return MethodGrubbs, nil
	default:
		return MethodDisabled, fmt.Errorf("%w: unknown method %q", ErrInvalidConfig, s)
	}
}

// DefaultAlpha is the significance level used when none is configured.
const DefaultAlpha = 0.05

// Config is set once at startup and read-only afterwards.
type Config struct {
	Method Method
	// Alpha is the two-sided significance level, in (0, 1).
	Alpha float64
}

// DefaultConfig returns Grubbs' test at alpha = 0.05.
func DefaultConfig() Config {
	return Config{Method: MethodGrubbs, Alpha: DefaultAlpha}
}

// Validate checks the significance level when the test is enabled.
func (c Config) Validate() error {
	switch c.Method {
	case MethodDisabled:
		return nil
	case MethodGrubbs:
		if !(c.Alpha > 0 && c.Alpha < 1) {
			return fmt.Errorf("%w: alpha must be in (0, 1), got %g", ErrInvalidConfig, c.Alpha)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown method %d", ErrInvalidConfig, int(c.Method))
	}
}

// Result is the outcome of filtering one series.
type Result struct {
	// Cleaned holds the retained samples in their original order.
	Cleaned []float64
	// RemovedIndices are positions in the input, in removal order.
	RemovedIndices []int
}

// Removed returns the number of samples excluded.
func (r Result) Removed() int { return len(r.RemovedIndices) }

// Filter applies the configured test to values. The input slice is never
// modified; Cleaned is always a fresh slice.
func Filter(values []float64, cfg Config) Result {
	var removed []int
	if cfg.Method == MethodGrubbs {
		removed = grubbsOutliers(values, cfg.Alpha)
	}

	skip := make(map[int]bool, len(removed))
	for _, i := range removed {
		skip[i] = true
	}
	cleaned := make([]float64, 0, len(values)-len(removed))
	for i, v := range values {
		if !skip[i] {
			cleaned = append(cleaned, v)
		}
	}
	return Result{Cleaned: cleaned, RemovedIndices: removed}
}

// FilterInts is Filter for raw integer ADC counts.
func FilterInts(values []int64, cfg Config) Result {
	f := make([]float64, len(values))
	for i, v := range values {
		f[i] = float64(v)
	}
	return Filter(f, cfg)
}
