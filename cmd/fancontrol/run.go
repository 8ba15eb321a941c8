package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/KevinKickass/OpenFanCore/internal/arbiter"
	"github.com/KevinKickass/OpenFanCore/internal/daemon"
	"github.com/KevinKickass/OpenFanCore/internal/devices"
	"github.com/KevinKickass/OpenFanCore/internal/fan"
	"github.com/KevinKickass/OpenFanCore/internal/sensors"
	"github.com/KevinKickass/OpenFanCore/internal/system"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func runControl(cmd *cobra.Command, args []string) error {
	if listenAddr != "" {
		cfg.API.Listen = listenAddr
	}
	if profile != "" {
		cfg.Policy.Active = profile
	}

	lock, err := system.AcquireInstanceLock(cfg.Instance.LockFile)
	if err != nil {
		return err
	}
	defer lock.Release()

	dev, err := openDevice(!direct)
	if err != nil {
		return err
	}
	defer dev.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := system.Deps{
		Transport: dev.Transport,
		Metrics:   appMetrics,
		Gatherer:  registry,
		Sensors:   newReader(dev),
	}

	if direct {
		arb := arbiter.New(logger.Named("arbiter"), dev.Transport, dev.Keys, appMetrics, arbiter.Config{
			PollAttempts: cfg.Arbiter.PollAttempts,
			PollInterval: cfg.Arbiter.PollInterval,
		})
		if recovered, err := arb.RecoverStale(ctx); err != nil {
			logger.Warn("Stale control check failed", zap.Error(err))
		} else if recovered {
			logger.Warn("Recovered fan control left behind by a previous run")
		}

		engine := fan.NewEngine(logger.Named("fan"), dev.Transport, dev.Keys, arb, appMetrics)
		deps.Engine = engine
		deps.Actuator = engine
		deps.Arbiter = arb
	} else {
		client := daemon.NewClient(cfg.Daemon.SocketPath, cfg.Daemon.DialTimeout)
		defer client.Close()

		// Start from firmware control whatever a previous run left behind.
		if err := client.Release(ctx); err != nil {
			logger.Warn("Daemon not reachable, fan control unavailable until it is",
				zap.String("socket", cfg.Daemon.SocketPath),
				zap.Error(err))
		}

		deps.Engine = fan.NewEngine(logger.Named("fan"), dev.Transport, dev.Keys, nil, appMetrics)
		deps.Actuator = client
	}

	lm, err := system.NewLifecycleManager(cfg, logger, deps)
	if err != nil {
		return err
	}
	return lm.Run(ctx)
}

func openDevice(readOnly bool) (*devices.Device, error) {
	mgr, err := devices.NewManager(cfg, logger)
	if err != nil {
		return nil, err
	}
	return mgr.Open(devices.OpenOptions{ReadOnly: readOnly, Metrics: appMetrics})
}

func newReader(dev *devices.Device) *sensors.Reader {
	components := cfg.Thermal.Components
	if len(components) == 0 {
		components = sensors.DefaultComponents(dev.Transport.Alternate())
	}
	return sensors.NewReader(logger.Named("sensors"), dev.Transport, dev.Keys, components, appMetrics)
}
