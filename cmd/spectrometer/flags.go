package main

import (
	"flag"
	"io"
	"os"

	"github.com/banshee-data/spectrometer/internal/config"
	"github.com/banshee-data/spectrometer/internal/pipeline"
	"github.com/banshee-data/spectrometer/internal/source"
)

type options struct {
	configPath     string
	mode           string
	port           string
	file           string
	speed          float64
	loop           bool
	listen         string
	dbPath         string
	monitoringURL  string
	spectrometerID string
	autostart      bool
	debug          bool
	trace          bool
	listPorts      bool
	showVersion    bool
}

func registerFlags(fs *flag.FlagSet) *options {
	o := &options{}
	fs.StringVar(&o.configPath, "config", config.DefaultConfigPath, "Path to the JSON service configuration")
	fs.StringVar(&o.mode, "mode", "", "Acquisition source: serial or playback (overrides config)")
	fs.StringVar(&o.port, "port", "", "Serial device (overrides config)")
	fs.StringVar(&o.file, "file", "", "Recorded log to replay in playback mode (overrides config)")
	fs.Float64Var(&o.speed, "speed", 1.0, "Playback speed multiplier (overrides config)")
	fs.BoolVar(&o.loop, "loop", false, "Restart playback at end of file (overrides config)")
	fs.StringVar(&o.listen, "listen", "", "HTTP listen address (overrides config)")
	fs.StringVar(&o.dbPath, "db", "", "Diagnostics database path (overrides config)")
	fs.StringVar(&o.monitoringURL, "monitoring-url", "", "Coordinator base URL; empty disables forwarding (overrides config)")
	fs.StringVar(&o.spectrometerID, "spectrometer-id", "", "Identifier registered with the coordinator (overrides config)")
	fs.BoolVar(&o.autostart, "autostart", true, "Start acquisition at boot")
	fs.BoolVar(&o.debug, "debug", false, "Enable diagnostic logging")
	fs.BoolVar(&o.trace, "trace", false, "Enable per-line trace logging")
	fs.BoolVar(&o.listPorts, "list-ports", false, "List serial devices and exit")
	fs.BoolVar(&o.showVersion, "version", false, "Print version and exit")
	return o
}

// apply copies explicitly set flags over the loaded configuration. Flags
// left at their defaults never mask a value from the file.
func (o *options) apply(cfg *config.ServiceConfig, fs *flag.FlagSet) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			cfg.Mode = &o.mode
		case "listen":
			cfg.Listen = &o.listen
		case "db":
			cfg.DBPath = &o.dbPath
		case "port":
			if cfg.Serial == nil {
				cfg.Serial = &config.SerialConfig{}
			}
			cfg.Serial.Device = &o.port
		case "file", "speed", "loop":
			if cfg.Playback == nil {
				cfg.Playback = &config.PlaybackConfig{}
			}
			switch f.Name {
			case "file":
				cfg.Playback.File = &o.file
			case "speed":
				cfg.Playback.Speed = &o.speed
			case "loop":
				cfg.Playback.Loop = &o.loop
			}
		case "monitoring-url", "spectrometer-id":
			if cfg.Monitoring == nil {
				cfg.Monitoring = &config.MonitoringConfig{}
			}
			if f.Name == "monitoring-url" {
				cfg.Monitoring.URL = &o.monitoringURL
			} else {
				cfg.Monitoring.SpectrometerID = &o.spectrometerID
			}
		}
	})
}

// configureLogging routes the ops stream to stderr always and the diag and
// trace streams only when asked.
func configureLogging(debug, trace bool) {
	var diag, tr io.Writer
	if debug || trace {
		diag = os.Stderr
	}
	if trace {
		tr = os.Stderr
	}
	source.SetLogWriters(os.Stderr, diag, tr)
	pipeline.SetLogWriters(os.Stderr, diag, tr)
}
