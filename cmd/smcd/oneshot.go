package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/KevinKickass/OpenFanCore/internal/daemon"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// oneShot runs a single protocol command against the hardware. Control is
// kept after a normal exit so the fans stay where they were set; a signal
// hands it back.
func oneShot(name string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctrl, err := openController()
		if err != nil {
			return &exitError{code: daemon.ExitNoHardware, err: err}
		}
		defer ctrl.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		code := daemon.RunOneShot(ctx, ctrl.handler, append([]string{name}, args...), cmd.OutOrStdout())

		if ctx.Err() != nil {
			logger.Warn("Interrupted, returning fans to the firmware", zap.String("command", name))
			ctrl.engine.Release(context.Background())
		}

		if code != daemon.ExitOK {
			return &exitError{code: code}
		}
		return nil
	}
}
