package main

import (
	"fmt"

	"github.com/banshee-data/spectrometer/internal/config"
	"github.com/banshee-data/spectrometer/internal/fsutil"
	"github.com/banshee-data/spectrometer/internal/pipeline"
	"github.com/banshee-data/spectrometer/internal/serialmux"
	"github.com/banshee-data/spectrometer/internal/source"
	"github.com/banshee-data/spectrometer/internal/timeutil"
)

// openSerialMux opens the configured device in serial mode. Playback has no
// device, so it gets a mux that accepts subscriptions and never emits.
func openSerialMux(cfg *config.ServiceConfig, factory serialmux.SerialPortFactory) (serialmux.SerialMuxInterface, error) {
	if cfg.GetMode() != config.ModeSerial {
		return serialmux.NewDisabledSerialMux(), nil
	}
	return serialmux.OpenSerialMux(factory, cfg.GetSerialDevice(), cfg.PortOptions())
}

// newSourceFactory returns the per-run source constructor for the
// configured mode. Each Start gets a fresh reader.
func newSourceFactory(cfg *config.ServiceConfig, mux serialmux.SerialMuxInterface, fsys fsutil.FileSystem, clock timeutil.Clock) (pipeline.SourceFactory, error) {
	switch cfg.GetMode() {
	case config.ModeSerial:
		settings, err := cfg.DeviceSettings()
		if err != nil {
			return nil, err
		}
		return func() (source.Source, error) {
			return source.NewSerialReader(mux, &settings), nil
		}, nil
	case config.ModePlayback:
		opts := source.PlaybackOptions{
			Path:  cfg.GetPlaybackFile(),
			Speed: cfg.GetPlaybackSpeed(),
			Loop:  cfg.GetPlaybackLoop(),
		}
		return func() (source.Source, error) {
			r, err := source.NewPlaybackReader(fsys, clock, opts)
			if err != nil {
				return nil, err
			}
			return r, nil
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", config.ErrConfig, cfg.GetMode())
	}
}
