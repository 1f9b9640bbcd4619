// Package config loads and validates the spectrometer service configuration.
//
// Every field is optional in the JSON file. The Get* accessors supply the
// default for anything left unset, so a partial file is always safe.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/spectrometer/internal/outlier"
	"github.com/banshee-data/spectrometer/internal/protocol"
	"github.com/banshee-data/spectrometer/internal/serialmux"
)

// ErrConfig marks an invalid startup configuration. It is fatal: the
// acquisition loop never starts with a configuration that wraps it.
var ErrConfig = errors.New("invalid configuration")

// DefaultConfigPath is the canonical defaults file shipped with the service.
const DefaultConfigPath = "config/spectrometer.defaults.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Source modes.
const (
	ModeSerial   = "serial"
	ModePlayback = "playback"
)

// ServiceConfig is the root of the JSON configuration file.
type ServiceConfig struct {
	Mode       *string           `json:"mode,omitempty"`
	Listen     *string           `json:"listen,omitempty"`
	DBPath     *string           `json:"db_path,omitempty"`
	Serial     *SerialConfig     `json:"serial,omitempty"`
	Playback   *PlaybackConfig   `json:"playback,omitempty"`
	Outlier    *OutlierConfig    `json:"outlier,omitempty"`
	Monitoring *MonitoringConfig `json:"monitoring,omitempty"`
}

// SerialConfig holds the serial port and firmware acquisition settings.
type SerialConfig struct {
	Device   *string  `json:"device,omitempty"`
	BaudRate *int     `json:"baud_rate,omitempty"`
	DataBits *int     `json:"data_bits,omitempty"`
	StopBits *int     `json:"stop_bits,omitempty"`
	Parity   *string  `json:"parity,omitempty"`
	Gain     *int     `json:"gain,omitempty"`
	FADC     *float64 `json:"fadc,omitempty"`
	Count    *int     `json:"count,omitempty"`
}

// PlaybackConfig selects a recorded log and how to replay it.
type PlaybackConfig struct {
	File  *string  `json:"file,omitempty"`
	Speed *float64 `json:"speed,omitempty"`
	Loop  *bool    `json:"loop,omitempty"`
}

// OutlierConfig selects the outlier exclusion method.
type OutlierConfig struct {
	Method *string  `json:"method,omitempty"`
	Alpha  *float64 `json:"alpha,omitempty"`
}

// MonitoringConfig points the forwarder at a monitoring coordinator. An
// empty URL disables forwarding.
type MonitoringConfig struct {
	URL            *string  `json:"url,omitempty"`
	SpectrometerID *string  `json:"spectrometer_id,omitempty"`
	Wavelength     *float64 `json:"wavelength,omitempty"`
	Timeout        *string  `json:"timeout,omitempty"` // duration string like "5s"
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyServiceConfig returns a ServiceConfig with every field unset.
func EmptyServiceConfig() *ServiceConfig {
	return &ServiceConfig{}
}

// LoadServiceConfig loads a ServiceConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted from
// the file fall back to their defaults.
func LoadServiceConfig(path string) (*ServiceConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("%w: config file must have .json extension, got %q", ErrConfig, ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("%w: config file too large: %d bytes (max %d)", ErrConfig, fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyServiceConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config JSON: %v", ErrConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching upwards from the
// working directory. Panics if the file cannot be loaded; intended for tests.
func MustLoadDefaultConfig() *ServiceConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadServiceConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks every set value and returns an ErrConfig-wrapped error
// describing the first problem found.
func (c *ServiceConfig) Validate() error {
	switch mode := c.GetMode(); mode {
	case ModeSerial:
		if c.GetSerialDevice() == "" {
			return fmt.Errorf("%w: serial mode requires serial.device", ErrConfig)
		}
	case ModePlayback:
		if c.GetPlaybackFile() == "" {
			return fmt.Errorf("%w: playback mode requires playback.file", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: mode must be %q or %q, got %q", ErrConfig, ModeSerial, ModePlayback, mode)
	}

	if _, err := c.PortOptions().Normalise(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if _, err := c.DeviceSettings(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}

	if speed := c.GetPlaybackSpeed(); !(speed > 0) {
		return fmt.Errorf("%w: playback.speed must be positive, got %g", ErrConfig, speed)
	}

	if _, err := c.OutlierConfig(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}

	if m := c.Monitoring; m != nil && m.Timeout != nil && *m.Timeout != "" {
		d, err := time.ParseDuration(*m.Timeout)
		if err != nil {
			return fmt.Errorf("%w: invalid monitoring.timeout '%s': %v", ErrConfig, *m.Timeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("%w: monitoring.timeout must be positive, got %s", ErrConfig, d)
		}
	}
	if c.GetMonitoringURL() != "" && c.GetSpectrometerID() == "" {
		return fmt.Errorf("%w: monitoring.url requires monitoring.spectrometer_id", ErrConfig)
	}

	return nil
}

// GetMode returns the acquisition mode or the default (serial).
func (c *ServiceConfig) GetMode() string {
	if c.Mode == nil || *c.Mode == "" {
		return ModeSerial
	}
	return strings.ToLower(strings.TrimSpace(*c.Mode))
}

// GetListen returns the HTTP listen address or the default.
func (c *ServiceConfig) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return "0.0.0.0:8100"
	}
	return *c.Listen
}

// GetDBPath returns the diagnostics database path or the default.
func (c *ServiceConfig) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "spectrometer.db"
	}
	return *c.DBPath
}

func (c *ServiceConfig) GetSerialDevice() string {
	if c.Serial == nil || c.Serial.Device == nil {
		return ""
	}
	return *c.Serial.Device
}

// PortOptions returns the serial framing with unset values left for
// serialmux to default (38400 8N1).
func (c *ServiceConfig) PortOptions() serialmux.PortOptions {
	var opts serialmux.PortOptions
	s := c.Serial
	if s == nil {
		return opts
	}
	if s.BaudRate != nil {
		opts.BaudRate = *s.BaudRate
	}
	if s.DataBits != nil {
		opts.DataBits = *s.DataBits
	}
	if s.StopBits != nil {
		opts.StopBits = *s.StopBits
	}
	if s.Parity != nil {
		opts.Parity = *s.Parity
	}
	return opts
}

// DeviceSettings returns the validated firmware settings. Defaults are
// gain 2, 250 Hz and 4 samples per series.
func (c *ServiceConfig) DeviceSettings() (protocol.DeviceSettings, error) {
	gain, fadc, count := 2, 250.0, 4
	if s := c.Serial; s != nil {
		if s.Gain != nil {
			gain = *s.Gain
		}
		if s.FADC != nil {
			fadc = *s.FADC
		}
		if s.Count != nil {
			count = *s.Count
		}
	}

	g, err := protocol.ParseGain(gain)
	if err != nil {
		return protocol.DeviceSettings{}, err
	}
	f, err := protocol.ParseADCFrequency(fadc)
	if err != nil {
		return protocol.DeviceSettings{}, err
	}
	n, err := protocol.ParseMeasurementCount(count)
	if err != nil {
		return protocol.DeviceSettings{}, err
	}
	return protocol.DeviceSettings{Gain: g, Frequency: f, Count: n}, nil
}

func (c *ServiceConfig) GetPlaybackFile() string {
	if c.Playback == nil || c.Playback.File == nil {
		return ""
	}
	return *c.Playback.File
}

// GetPlaybackSpeed returns the replay speed multiplier or the default (1.0).
func (c *ServiceConfig) GetPlaybackSpeed() float64 {
	if c.Playback == nil || c.Playback.Speed == nil {
		return 1.0
	}
	return *c.Playback.Speed
}

func (c *ServiceConfig) GetPlaybackLoop() bool {
	if c.Playback == nil || c.Playback.Loop == nil {
		return false
	}
	return *c.Playback.Loop
}

// OutlierConfig returns the validated outlier settings. Defaults to Grubbs'
// test at alpha 0.05.
func (c *ServiceConfig) OutlierConfig() (outlier.Config, error) {
	cfg := outlier.DefaultConfig()
	if o := c.Outlier; o != nil {
		if o.Method != nil {
			m, err := outlier.ParseMethod(*o.Method)
			if err != nil {
				return cfg, err
			}
			cfg.Method = m
		}
		if o.Alpha != nil {
			cfg.Alpha = *o.Alpha
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *ServiceConfig) GetMonitoringURL() string {
	if c.Monitoring == nil || c.Monitoring.URL == nil {
		return ""
	}
	return strings.TrimRight(*c.Monitoring.URL, "/")
}

func (c *ServiceConfig) GetSpectrometerID() string {
	if c.Monitoring == nil || c.Monitoring.SpectrometerID == nil {
		return ""
	}
	return *c.Monitoring.SpectrometerID
}

// GetWavelength returns the control wavelength in nm reported alongside each
// reading, or the default (550).
func (c *ServiceConfig) GetWavelength() float64 {
	if c.Monitoring == nil || c.Monitoring.Wavelength == nil {
		return 550
	}
	return *c.Monitoring.Wavelength
}

// GetMonitoringTimeout parses and returns the coordinator request timeout.
func (c *ServiceConfig) GetMonitoringTimeout() time.Duration {
	if c.Monitoring == nil || c.Monitoring.Timeout == nil || *c.Monitoring.Timeout == "" {
		return 5 * time.Second // default
	}
	d, err := time.ParseDuration(*c.Monitoring.Timeout)
	if err != nil {
		return 5 * time.Second // default on parse error
	}
	return d
}
