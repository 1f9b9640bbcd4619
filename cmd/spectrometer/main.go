package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/spectrometer/internal/api"
	"github.com/banshee-data/spectrometer/internal/config"
	"github.com/banshee-data/spectrometer/internal/db"
	"github.com/banshee-data/spectrometer/internal/fsutil"
	"github.com/banshee-data/spectrometer/internal/httputil"
	"github.com/banshee-data/spectrometer/internal/monitoring"
	"github.com/banshee-data/spectrometer/internal/pipeline"
	"github.com/banshee-data/spectrometer/internal/serialmux"
	"github.com/banshee-data/spectrometer/internal/timeutil"
	"github.com/banshee-data/spectrometer/internal/version"
)

func main() {
	opts := registerFlags(flag.CommandLine)
	flag.Parse()

	if opts.showVersion {
		fmt.Println(version.Info())
		return
	}
	if opts.listPorts {
		ports, err := serialmux.ListPorts()
		if err != nil {
			log.Fatalf("failed to list serial ports: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	cfg, err := config.LoadServiceConfig(opts.configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	opts.apply(cfg, flag.CommandLine)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	if flag.Arg(0) == "migrate" {
		if err := runMigrate(flag.Args()[1:], cfg.GetDBPath(), os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	configureLogging(opts.debug, opts.trace)

	serialMux, err := openSerialMux(cfg, serialmux.NewRealSerialPortFactory())
	if err != nil {
		log.Fatalf("failed to open serial port: %v", err)
	}
	defer serialMux.Close()

	database, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer database.Close()

	factory, err := newSourceFactory(cfg, serialMux, fsutil.OSFileSystem{}, timeutil.RealClock{})
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	outlierCfg, err := cfg.OutlierConfig()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	ctrl := pipeline.NewController(factory, outlierCfg, pipeline.WithRecorder(database))

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// forward readings to the coordinator when one is configured
	if url := cfg.GetMonitoringURL(); url != "" {
		client := monitoring.NewClient(
			httputil.NewStandardClient(cfg.GetMonitoringTimeout()),
			url, cfg.GetSpectrometerID(), cfg.GetWavelength(),
		)
		fwd := monitoring.NewForwarder(client, ctrl)
		wg.Add(1)
		go func() {
			defer wg.Done()
			fwd.Run(ctx)
			log.Printf("forwarder stopped: %d sent, %d failed", fwd.Sent(), fwd.Failed())
		}()
	}

	if opts.autostart {
		if err := ctrl.Start(); err != nil {
			if errors.Is(err, config.ErrConfig) {
				log.Fatalf("failed to start acquisition: %v", err)
			}
			log.Printf("failed to start acquisition: %v", err)
		} else {
			log.Printf("acquisition started (%s mode)", cfg.GetMode())
		}
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(ctrl).ServeMux()
		serialMux.AttachAdminRoutes(mux)
		database.AttachAdminRoutes(mux)

		server := &http.Server{
			Addr:    cfg.GetListen(),
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("listening on %s", cfg.GetListen())
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	<-ctx.Done()
	ctrl.Stop()
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
