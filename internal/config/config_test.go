package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/spectrometer/internal/outlier"
	"github.com/banshee-data/spectrometer/internal/protocol"
	"github.com/banshee-data/spectrometer/internal/serialmux"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()

	assert.Equal(t, ModeSerial, cfg.GetMode())
	assert.Equal(t, "/dev/ttyUSB0", cfg.GetSerialDevice())
	assert.Equal(t, 1.0, cfg.GetPlaybackSpeed())
	assert.Equal(t, 550.0, cfg.GetWavelength())
	assert.Equal(t, 5*time.Second, cfg.GetMonitoringTimeout())

	settings, err := cfg.DeviceSettings()
	require.NoError(t, err)
	assert.Equal(t, protocol.DeviceSettings{Gain: 2, Frequency: 250, Count: 4}, settings)

	oc, err := cfg.OutlierConfig()
	require.NoError(t, err)
	assert.Equal(t, outlier.Config{Method: outlier.MethodGrubbs, Alpha: 0.05}, oc)
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := EmptyServiceConfig()

	assert.Equal(t, ModeSerial, cfg.GetMode())
	assert.Equal(t, "0.0.0.0:8100", cfg.GetListen())
	assert.Equal(t, "spectrometer.db", cfg.GetDBPath())
	assert.Equal(t, "", cfg.GetPlaybackFile())
	assert.False(t, cfg.GetPlaybackLoop())
	assert.Equal(t, "", cfg.GetMonitoringURL())
	assert.Equal(t, serialmux.PortOptions{}, cfg.PortOptions())

	// serial mode without a device is not startable
	err := cfg.Validate()
	assert.ErrorIs(t, err, ErrConfig)
}

func TestLoadServiceConfig_Playback(t *testing.T) {
	path := writeConfig(t, "playback.json", `{
  "mode": "playback",
  "playback": {"file": "testdata/run.log", "speed": 10, "loop": true},
  "outlier": {"method": "none"},
  "monitoring": {"url": "http://coordinator:8000/", "spectrometer_id": "spec-1", "timeout": "2s"}
}`)

	cfg, err := LoadServiceConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ModePlayback, cfg.GetMode())
	assert.Equal(t, "testdata/run.log", cfg.GetPlaybackFile())
	assert.Equal(t, 10.0, cfg.GetPlaybackSpeed())
	assert.True(t, cfg.GetPlaybackLoop())
	assert.Equal(t, "http://coordinator:8000", cfg.GetMonitoringURL())
	assert.Equal(t, "spec-1", cfg.GetSpectrometerID())
	assert.Equal(t, 2*time.Second, cfg.GetMonitoringTimeout())

	oc, err := cfg.OutlierConfig()
	require.NoError(t, err)
	assert.Equal(t, outlier.MethodDisabled, oc.Method)
}

func TestLoadServiceConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
		want string
	}{
		{name: "extension", file: "cfg.yaml", body: `{}`, want: ".json extension"},
		{name: "bad json", file: "cfg.json", body: `{"mode":`, want: "parse config JSON"},
		{name: "unknown mode", file: "cfg.json", body: `{"mode":"usb"}`, want: "mode must be"},
		{name: "playback without file", file: "cfg.json", body: `{"mode":"playback"}`, want: "playback.file"},
		{name: "zero speed", file: "cfg.json", body: `{"mode":"playback","playback":{"file":"a.log","speed":0}}`, want: "speed must be positive"},
		{name: "negative speed", file: "cfg.json", body: `{"mode":"playback","playback":{"file":"a.log","speed":-2}}`, want: "speed must be positive"},
		{name: "alpha out of range", file: "cfg.json", body: `{"serial":{"device":"/dev/ttyS0"},"outlier":{"alpha":1.5}}`, want: "alpha"},
		{name: "unknown method", file: "cfg.json", body: `{"serial":{"device":"/dev/ttyS0"},"outlier":{"method":"dixon"}}`, want: "dixon"},
		{name: "gain", file: "cfg.json", body: `{"serial":{"device":"/dev/ttyS0","gain":3}}`, want: "gain 3"},
		{name: "fadc", file: "cfg.json", body: `{"serial":{"device":"/dev/ttyS0","fadc":100}}`, want: "fadc"},
		{name: "count", file: "cfg.json", body: `{"serial":{"device":"/dev/ttyS0","count":13}}`, want: "count 13"},
		{name: "baud", file: "cfg.json", body: `{"serial":{"device":"/dev/ttyS0","baud_rate":1234}}`, want: "baud rate"},
		{name: "timeout", file: "cfg.json", body: `{"serial":{"device":"/dev/ttyS0"},"monitoring":{"timeout":"soon"}}`, want: "monitoring.timeout"},
		{name: "monitoring id", file: "cfg.json", body: `{"serial":{"device":"/dev/ttyS0"},"monitoring":{"url":"http://x"}}`, want: "spectrometer_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.body)
			_, err := LoadServiceConfig(path)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfig)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadServiceConfig_TooLarge(t *testing.T) {
	body := `{"listen":"` + strings.Repeat("x", maxFileSize) + `"}`
	path := writeConfig(t, "big.json", body)

	_, err := LoadServiceConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestLoadServiceConfig_Missing(t *testing.T) {
	_, err := LoadServiceConfig(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestPortOptionsFromConfig(t *testing.T) {
	cfg := &ServiceConfig{
		Serial: &SerialConfig{
			Device:   ptrString("/dev/ttyACM0"),
			BaudRate: ptrInt(115200),
			StopBits: ptrInt(2),
			Parity:   ptrString("E"),
		},
	}
	require.NoError(t, cfg.Validate())

	opts := cfg.PortOptions()
	assert.Equal(t, serialmux.PortOptions{BaudRate: 115200, StopBits: 2, Parity: "E"}, opts)
}

func TestPointerOverrides(t *testing.T) {
	cfg := &ServiceConfig{
		Mode:     ptrString("Playback"),
		Playback: &PlaybackConfig{File: ptrString("run.log"), Speed: ptrFloat64(0.5), Loop: ptrBool(true)},
		Outlier:  &OutlierConfig{Method: ptrString("grubbs"), Alpha: ptrFloat64(0.01)},
	}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ModePlayback, cfg.GetMode())
	assert.Equal(t, 0.5, cfg.GetPlaybackSpeed())
	assert.True(t, cfg.GetPlaybackLoop())

	oc, err := cfg.OutlierConfig()
	require.NoError(t, err)
	assert.Equal(t, 0.01, oc.Alpha)
}
