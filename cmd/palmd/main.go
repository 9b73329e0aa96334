// palmd: palm scan daemon
// Drives the distance probe and camera, runs enrollment and verification
// sessions, and streams status events to connected listeners.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-palm/internal/config"
	"github.com/teslashibe/go-palm/internal/log"
	"github.com/teslashibe/go-palm/pkg/camera"
	"github.com/teslashibe/go-palm/pkg/capture"
	"github.com/teslashibe/go-palm/pkg/history"
	"github.com/teslashibe/go-palm/pkg/hub"
	"github.com/teslashibe/go-palm/pkg/match"
	"github.com/teslashibe/go-palm/pkg/positioning"
	"github.com/teslashibe/go-palm/pkg/session"
	"github.com/teslashibe/go-palm/pkg/store"
	"github.com/teslashibe/go-palm/pkg/vision"
	"github.com/teslashibe/go-palm/pkg/web"
)

var (
	version    = "1.0.0"
	configPath = flag.String("config", config.DefaultConfigPath(), "Path to TOML config file")
	port       = flag.String("port", "", "HTTP server port (overrides config)")
	probeKind  = flag.String("probe", "", "Probe backend: serial, remote, static, sim (overrides config)")
	debug      = flag.Bool("debug", false, "Enable debug logging and HTTP access log")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		log.Error("palmd failed", log.Err(err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *probeKind != "" {
		cfg.Probe.Kind = *probeKind
	}
	if *debug {
		cfg.LogLevel = "debug"
		cfg.Server.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log.Init(cfg.LogLevel)
	log.Info("starting palmd", "version", version, "probe", cfg.Probe.Kind, "data_dir", cfg.Storage.DataDir)

	refs, err := store.NewFileStore(cfg.ReferenceDir())
	if err != nil {
		return fmt.Errorf("open reference store: %w", err)
	}
	if ids, err := refs.List(); err == nil {
		log.Info("reference store ready", "dir", refs.Dir(), "subjects", len(ids))
	}

	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := history.Open(cfg.HistoryPath())
	if err != nil {
		return err
	}
	defer db.Close()

	backend, err := openProbe(cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	driver := camera.OpenCV
	if cfg.Probe.Kind == config.ProbeSim {
		driver = simDriver()
	}
	cameras, err := camera.NewManager(cfg.Camera, driver)
	if err != nil {
		return fmt.Errorf("camera: %w", err)
	}
	cameras.OnConfigChange = func(c camera.Config) error {
		log.Info("camera config updated", "device", c.Device, "width", c.Width, "height", c.Height)
		return nil
	}

	finder, err := vision.NewHandFinder(cfg.Vision)
	if err != nil {
		return err
	}
	matcher, err := vision.NewORBMatcher(cfg.Vision)
	if err != nil {
		return err
	}
	defer matcher.Close()

	status := hub.New("status")

	controller, err := capture.NewController(cfg.CaptureConfig(), capture.Deps{
		Probe:      backend,
		Cameras:    cameras,
		Pose:       positioning.NewPoseClassifier(finder, positioning.DefaultMinArea),
		Verifier:   match.NewEngine(matcher, refs),
		References: refs,
		Publisher:  status,
	})
	if err != nil {
		return err
	}

	sessions := session.NewManager(backend.runner(controller), session.WithRecorder(db))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go status.Run(ctx)

	server := web.NewServer(cfg.Addr(), web.Options{
		Sessions: sessions,
		Status:   status,
		Subjects: refs,
		History:  db,
		Camera:   cameras,
		Probe:    backend.remote,
		Debug:    cfg.Server.Debug,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	// Release the camera before closing listeners
	sessions.Close()

	done := make(chan error, 1)
	go func() { done <- server.Shutdown() }()
	select {
	case err := <-done:
		if err != nil {
			log.Warn("shutdown error", log.Err(err))
		}
	case <-time.After(5 * time.Second):
		log.Warn("shutdown timed out")
	}

	cancel()
	log.Info("goodbye")
	return nil
}
