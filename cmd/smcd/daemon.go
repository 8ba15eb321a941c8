package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KevinKickass/OpenFanCore/internal/daemon"
	"github.com/KevinKickass/OpenFanCore/internal/system"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func runDaemon(cmd *cobra.Command, args []string) error {
	mode, err := cfg.Daemon.Mode()
	if err != nil {
		return &exitError{code: daemon.ExitNoEndpoint, err: err}
	}

	lock, err := system.AcquireInstanceLock(cfg.Daemon.SocketPath + ".lock")
	if err != nil {
		return &exitError{code: daemon.ExitNoEndpoint, err: err}
	}
	defer lock.Release()

	ctrl, err := openController()
	if err != nil {
		return &exitError{code: daemon.ExitNoHardware, err: err}
	}
	defer ctrl.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	// A previous instance may have died holding control.
	if recovered, err := ctrl.arbiter.RecoverStale(ctx); err != nil {
		logger.Warn("Stale control check failed", zap.Error(err))
	} else if recovered {
		logger.Warn("Recovered fan control left behind by a previous run")
	}

	server := daemon.NewServer(logger.Named("daemon"), ctrl.handler, cfg.Daemon.SocketPath, mode)
	if err := server.Listen(); err != nil {
		return &exitError{code: daemon.ExitNoEndpoint, err: err}
	}

	if metricsAt != "" {
		stopMetrics := serveMetrics(metricsAt)
		defer stopMetrics()
	}

	serveErr := server.Serve(ctx)

	ctrl.engine.Release(context.Background())
	logger.Info("Daemon stopped")

	if serveErr != nil {
		return &exitError{code: daemon.ExitFailure, err: serveErr}
	}
	return nil
}

func serveMetrics(addr string) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Serving metrics", zap.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}
