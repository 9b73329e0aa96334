package main

import (
	"context"
	"fmt"

	"github.com/teslashibe/go-palm/internal/config"
	"github.com/teslashibe/go-palm/internal/log"
	"github.com/teslashibe/go-palm/pkg/camera"
	"github.com/teslashibe/go-palm/pkg/capture"
	"github.com/teslashibe/go-palm/pkg/probe"
	"github.com/teslashibe/go-palm/pkg/session"
	"github.com/teslashibe/go-palm/pkg/sim"
)

// Simulated hand: starts out of range and settles in the capture band.
const (
	simStartCm  = 35
	simTargetCm = 10
)

// probeBackend is the distance probe selected by config.
type probeBackend struct {
	probe.Probe
	remote *probe.Remote // set for the remote backend
	sim    *sim.Probe    // set for the sim backend
	close  func() error
}

func openProbe(cfg config.Config) (*probeBackend, error) {
	b := &probeBackend{close: func() error { return nil }}

	switch cfg.Probe.Kind {
	case config.ProbeSerial:
		s, err := probe.OpenSerial(cfg.Probe.SerialOptions)
		if err != nil {
			return nil, fmt.Errorf("open serial probe: %w", err)
		}
		b.Probe, b.close = s, s.Close
		log.Info("serial probe ready", "port", cfg.Probe.Path, "baud", cfg.Probe.BaudRate)

	case config.ProbeRemote:
		b.remote = probe.NewRemote(cfg.ProbeMaxAge())
		b.Probe = b.remote
		log.Info("waiting for remote probe on /ws/probe", "max_age", cfg.ProbeMaxAge())

	case config.ProbeStatic:
		b.Probe = probe.Static{Distance: cfg.Probe.Distance}
		if cfg.Probe.Distance <= 0 {
			log.Warn("static probe has no distance; every tick will read as out of range")
		}

	case config.ProbeSim:
		b.sim = sim.NewProbe(simStartCm, simTargetCm, 1)
		b.Probe = b.sim
		log.Info("running with simulated probe and camera")

	default:
		return nil, fmt.Errorf("unknown probe kind %q", cfg.Probe.Kind)
	}

	return b, nil
}

// Close releases the underlying device.
func (b *probeBackend) Close() error {
	return b.close()
}

// runner wraps the controller so the simulated hand approaches again at the
// start of every session.
func (b *probeBackend) runner(c *capture.Controller) session.Runner {
	if b.sim == nil {
		return c
	}
	return simRunner{controller: c, probe: b.sim}
}

type simRunner struct {
	controller *capture.Controller
	probe      *sim.Probe
}

func (r simRunner) Run(ctx context.Context, s *capture.Session) capture.Result {
	r.probe.Reset()
	return r.controller.Run(ctx, s)
}

func simDriver() camera.Driver {
	return sim.Driver(sim.DefaultScene())
}
