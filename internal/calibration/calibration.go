// Package calibration reduces the three cleaned series of a measurement
// cycle to a single transmission percentage.
package calibration

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"
)

var (
	// ErrEmptySeries means every sample of a series was excluded.
	ErrEmptySeries = errors.New("empty series")
	// ErrInvalidMeasurement means the means violate full > sample > dark.
	ErrInvalidMeasurement = errors.New("invalid measurement")
)

// Mean returns the arithmetic mean of values.
func Mean(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, ErrEmptySeries
	}
	return stat.Mean(values, nil), nil
}

// Validate enforces the strict ordering full > sample > dark. The sample
// must transmit less light than the reference and more than the opaque
// baseline.
func Validate(dark, full, sample float64) error {
	switch {
	case full <= dark:
		return fmt.Errorf("%w: full (%.2f) must be greater than dark (%.2f)", ErrInvalidMeasurement, full, dark)
	case sample <= dark:
		return fmt.Errorf("%w: sample (%.2f) must be greater than dark (%.2f)", ErrInvalidMeasurement, sample, dark)
	case sample >= full:
		return fmt.Errorf("%w: sample (%.2f) must be less than full (%.2f)", ErrInvalidMeasurement, sample, full)
	}
	return nil
}

// Calibrate validates the means and returns
//
//	(sample - dark) / (full - dark) * 100
//
// The result is not clamped. Validation guarantees full > dark so the
// denominator is never zero.
func Calibrate(dark, full, sample float64) (float64, error) {
	if err := Validate(dark, full, sample); err != nil {
		return 0, err
	}
	return (sample - dark) / (full - dark) * 100, nil
}

// Result carries the means alongside the calibrated percentage so callers
// can log or inspect them.
type Result struct {
	DarkMean   float64
	FullMean   float64
	SampleMean float64
	Percentage float64
}

// Reduce computes the mean of each cleaned series and calibrates them. The
// returned Result holds whatever means were computed even when an error is
// returned, which is useful for diagnostics.
func Reduce(dark, full, sample []float64) (Result, error) {
	var res Result
	for _, s := range []struct {
		name   string
		values []float64
		dst    *float64
	}{
		{"dark", dark, &res.DarkMean},
		{"full", full, &res.FullMean},
		{"sample", sample, &res.SampleMean},
	} {
		m, err := Mean(s.values)
		if err != nil {
			return res, fmt.Errorf("%s: %w", s.name, err)
		}
		*s.dst = m
	}

	p, err := Calibrate(res.DarkMean, res.FullMean, res.SampleMean)
	if err != nil {
		return res, err
	}
	res.Percentage = p
	return res, nil
}
