package calibration

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReduce_RoundTrip(t *testing.T) {
	res, err := Reduce(
		[]float64{100, 100, 100},
		[]float64{800, 800, 800},
		[]float64{400, 400, 400},
	)
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.DarkMean)
	assert.Equal(t, 800.0, res.FullMean)
	assert.Equal(t, 400.0, res.SampleMean)
	assert.InDelta(t, 42.857142857, res.Percentage, 1e-6)
}

func TestReduce_FullBelowDarkIsInvalid(t *testing.T) {
	_, err := Reduce([]float64{500}, []float64{400}, []float64{450})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidMeasurement))
}

func TestReduce_EmptySeries(t *testing.T) {
	tests := []struct {
		name               string
		dark, full, sample []float64
		wantName           string
	}{
		{"dark", nil, []float64{1}, []float64{1}, "dark"},
		{"full", []float64{1}, []float64{}, []float64{1}, "full"},
		{"sample", []float64{1}, []float64{3}, nil, "sample"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Reduce(tt.dark, tt.full, tt.sample)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrEmptySeries))
			assert.Contains(t, err.Error(), tt.wantName)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name               string
		dark, full, sample float64
		valid              bool
	}{
		{"ordered", 100, 800, 400, true},
		{"full equals dark", 100, 100, 100, false},
		{"full below dark", 500, 400, 450, false},
		{"sample equals dark", 100, 800, 100, false},
		{"sample below dark", 100, 800, 50, false},
		{"sample equals full", 100, 800, 800, false},
		{"sample above full", 100, 800, 900, false},
		{"barely ordered", 0, 1, 0.5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.dark, tt.full, tt.sample)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrInvalidMeasurement), "got %v", err)
			}
		})
	}
}

func TestCalibrate_Idempotent(t *testing.T) {
	a, errA := Calibrate(1000056.25, 8000112.5, 4000056.25)
	b, errB := Calibrate(1000056.25, 8000112.5, 4000056.25)
	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, a, b)
	assert.InDelta(t, 42.857, a, 0.001)
}

func TestCalibrate_NotClamped(t *testing.T) {
	// Strict ordering holds, values near the ends are reported as computed.
	p, err := Calibrate(0, 1000, 999.9)
	require.NoError(t, err)
	assert.InDelta(t, 99.99, p, 1e-9)

	p, err = Calibrate(-10, 10, -9.99)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, p, 1e-9)
}

func TestMean(t *testing.T) {
	m, err := Mean([]float64{1000000, 1000100, 1000050, 1000075})
	require.NoError(t, err)
	assert.InDelta(t, 1000056.25, m, 1e-9)

	_, err = Mean(nil)
	assert.ErrorIs(t, err, ErrEmptySeries)
}
