// Package protocol parses the line protocol spoken by the spectrometer
// firmware and written to recorded measurement logs.
//
// A log line looks like
//
//	2025-01-15T10:30:00.123Z SERIES1 = [1234567 1234568 1234569]
//	2025-01-15T10:30:00.456Z END_CYCLE
//
// and the live serial stream carries the same content without the leading
// timestamp. Parsing is stateless: each line is classified on its own and
// cycle tracking is left to the caller.
package protocol

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// ErrMalformedRecord is returned for lines that look like a protocol record
// but cannot be decoded.
var ErrMalformedRecord = errors.New("malformed record")

// Kind classifies a parsed line.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindSeries
	KindCycleEnd
	KindGainSet
	KindFADCSet
	KindCountSet
	KindMeasurements
	KindADCReady
	KindCycleMissing
	KindDeviceError
)

func (k Kind) String() string {
	switch k {
	case KindSeries:
		return "series"
	case KindCycleEnd:
		return "cycle_end"
	case KindGainSet:
		return "gain_set"
	case KindFADCSet:
		return "fadc_set"
	case KindCountSet:
		return "count_set"
	case KindMeasurements:
		return "measurements"
	case KindADCReady:
		return "adc_ready"
	case KindCycleMissing:
		return "cycle_missing"
	case KindDeviceError:
		return "device_error"
	default:
		return "unrecognized"
	}
}

// SeriesID identifies the role of a sample series within a cycle.
type SeriesID int

const (
	SeriesDark   SeriesID = 1
	SeriesFull   SeriesID = 2
	SeriesSample SeriesID = 3
)

func (s SeriesID) String() string {
	switch s {
	case SeriesDark:
		return "dark"
	case SeriesFull:
		return "full"
	case SeriesSample:
		return "sample"
	default:
		return fmt.Sprintf("series(%d)", int(s))
	}
}

// Valid reports whether s is one of the three known series.
func (s SeriesID) Valid() bool {
	return s >= SeriesDark && s <= SeriesSample
}

// Record is the result of parsing a single line.
type Record struct {
	Kind Kind

	// Timestamp is set when the line carried a timestamp prefix.
	Timestamp    time.Time
	HasTimestamp bool

	// Series and Values are set for KindSeries; Values is also used by
	// KindMeasurements.
	Series SeriesID
	Values []int64

	// Setting holds the confirmed value for GAIN/FADC/COUNT lines.
	Setting float64

	// Text holds the device message for KindDeviceError and the trimmed
	// content for KindUnrecognized.
	Text string
}

const cycleEndMarker = "END_CYCLE"

var (
	seriesPattern       = regexp.MustCompile(`^SERIES(\d+)\s*=\s*\[([^\]]*)\]$`)
	measurementsPattern = regexp.MustCompile(`^MEASUREMENTS\s*=\s*\[([^\]]*)\]$`)
	gainPattern         = regexp.MustCompile(`^GAIN=(\d+)$`)
	fadcPattern         = regexp.MustCompile(`^FADC=(\d+(?:\.\d+)?)$`)
	countPattern        = regexp.MustCompile(`^COUNT=(\d+)$`)
)

// ParseLine classifies one raw line. A leading ISO-8601 timestamp is
// stripped and recorded on the returned record. Lines that are not part of
// the protocol yield KindUnrecognized with a nil error; only lines that match
// a record shape but fail to decode return ErrMalformedRecord.
func ParseLine(line string) (Record, error) {
	var rec Record

	content := strings.TrimSpace(line)
	if ts, rest, ok := SplitTimestamp(content); ok {
		rec.Timestamp = ts
		rec.HasTimestamp = true
		content = rest
	}

	if content == cycleEndMarker {
		rec.Kind = KindCycleEnd
		return rec, nil
	}

	if m := seriesPattern.FindStringSubmatch(content); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || !SeriesID(n).Valid() {
			return rec, fmt.Errorf("%w: series tag %q out of range 1-3", ErrMalformedRecord, m[1])
		}
		values, err := parseValues(m[2])
		if err != nil {
			return rec, err
		}
		if len(values) == 0 {
			return rec, fmt.Errorf("%w: SERIES%d has no values", ErrMalformedRecord, n)
		}
		rec.Kind = KindSeries
		rec.Series = SeriesID(n)
		rec.Values = values
		return rec, nil
	}

	if m := measurementsPattern.FindStringSubmatch(content); m != nil {
		values, err := parseValues(m[1])
		if err != nil {
			return rec, err
		}
		rec.Kind = KindMeasurements
		rec.Values = values
		return rec, nil
	}

	for _, p := range []struct {
		re   *regexp.Regexp
		kind Kind
	}{
		{gainPattern, KindGainSet},
		{fadcPattern, KindFADCSet},
		{countPattern, KindCountSet},
	} {
		if m := p.re.FindStringSubmatch(content); m != nil {
			v, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				return rec, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
			}
			rec.Kind = p.kind
			rec.Setting = v
			return rec, nil
		}
	}

	switch {
	case content == "ADC ready":
		rec.Kind = KindADCReady
	case content == "Measurement cycle is missing":
		rec.Kind = KindCycleMissing
	case strings.HasPrefix(content, "ERROR "):
		rec.Kind = KindDeviceError
		rec.Text = strings.TrimPrefix(content, "ERROR ")
	default:
		rec.Kind = KindUnrecognized
		rec.Text = content
	}
	return rec, nil
}

// parseValues splits on whitespace; commas are tolerated as separators since
// some recorded logs were written with them.
func parseValues(s string) ([]int64, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	values := make([]int64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: value %q is not an integer", ErrMalformedRecord, f)
		}
		values = append(values, v)
	}
	return values, nil
}
