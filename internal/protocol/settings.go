package protocol

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidSetting is returned when a device setting is outside the range
// supported by the AD7793 front end.
var ErrInvalidSetting = errors.New("invalid device setting")

// Gain is the ADC programmable gain.
type Gain int

var validGains = []Gain{1, 2, 4, 8, 16, 32, 64, 128}

// ParseGain validates a gain value.
func ParseGain(v int) (Gain, error) {
	for _, g := range validGains {
		if int(g) == v {
			return g, nil
		}
	}
	return 0, fmt.Errorf("%w: gain %d, valid values: 1, 2, 4, 8, 16, 32, 64, 128", ErrInvalidSetting, v)
}

// Command returns the firmware command that applies this gain.
func (g Gain) Command() string { return fmt.Sprintf("GAIN=%d", int(g)) }

// ADCFrequency is the ADC update rate in Hz.
type ADCFrequency float64

var validFrequencies = []ADCFrequency{
	500, 250, 125, 62.5, 50, 39.2, 33.3, 19.6, 16.7, 12.5, 10, 8.33, 6.25, 4.17,
}

// ParseADCFrequency matches v against the supported update rates with a
// tolerance of 0.1 Hz.
func ParseADCFrequency(v float64) (ADCFrequency, error) {
	for _, f := range validFrequencies {
		if math.Abs(float64(f)-v) < 0.1 {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: fadc %g Hz, valid values: 500, 250, 125, 62.5, 50, 39.2, 33.3, 19.6, 16.7, 12.5, 10, 8.33, 6.25, 4.17", ErrInvalidSetting, v)
}

func (f ADCFrequency) Command() string { return fmt.Sprintf("FADC=%g", float64(f)) }

// MeasurementCount is the number of ADC samples taken per series.
type MeasurementCount int

// ParseMeasurementCount validates a per-series sample count (1-12).
func ParseMeasurementCount(v int) (MeasurementCount, error) {
	if v < 1 || v > 12 {
		return 0, fmt.Errorf("%w: count %d, must be 1-12", ErrInvalidSetting, v)
	}
	return MeasurementCount(v), nil
}

func (c MeasurementCount) Command() string { return fmt.Sprintf("COUNT=%d", int(c)) }

// DeviceSettings groups the settings pushed to the firmware when a serial
// session starts.
type DeviceSettings struct {
	Gain      Gain
	Frequency ADCFrequency
	Count     MeasurementCount
}

// Commands returns the initialisation commands in the order the firmware
// expects them.
func (s DeviceSettings) Commands() []string {
	return []string{s.Gain.Command(), s.Frequency.Command(), s.Count.Command()}
}
