package main

import (
	"github.com/KevinKickass/OpenFanCore/internal/arbiter"
	"github.com/KevinKickass/OpenFanCore/internal/daemon"
	"github.com/KevinKickass/OpenFanCore/internal/devices"
	"github.com/KevinKickass/OpenFanCore/internal/fan"
)

// controller is the hardware stack shared by one-shot and daemon mode.
type controller struct {
	device  *devices.Device
	arbiter *arbiter.Arbiter
	engine  *fan.Engine
	handler *daemon.Handler
}

func openController() (*controller, error) {
	mgr, err := devices.NewManager(cfg, logger)
	if err != nil {
		return nil, err
	}

	dev, err := mgr.Open(devices.OpenOptions{Metrics: appMetrics})
	if err != nil {
		return nil, err
	}

	arb := arbiter.New(logger.Named("arbiter"), dev.Transport, dev.Keys, appMetrics, arbiter.Config{
		PollAttempts: cfg.Arbiter.PollAttempts,
		PollInterval: cfg.Arbiter.PollInterval,
	})
	engine := fan.NewEngine(logger.Named("fan"), dev.Transport, dev.Keys, arb, appMetrics)

	return &controller{
		device:  dev,
		arbiter: arb,
		engine:  engine,
		handler: daemon.NewHandler(logger.Named("handler"), engine, dev.Transport, dev.Keys, appMetrics),
	}, nil
}

func (c *controller) Close() error {
	return c.device.Close()
}
