package main

import (
	"fmt"

	"github.com/KevinKickass/OpenFanCore/internal/config"
	"github.com/KevinKickass/OpenFanCore/internal/daemon"
	"github.com/KevinKickass/OpenFanCore/internal/logging"
	"github.com/KevinKickass/OpenFanCore/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	simulate   bool
	logLevel   string
	socketPath string
	metricsAt  string

	cfg        *config.Config
	logger     = zap.NewNop()
	registry   = prometheus.NewRegistry()
	appMetrics *metrics.Metrics
)

var (
	rootCmd = &cobra.Command{
		Use:   "smcd",
		Short: "Privileged fan controller helper",
		Long: `smcd is the only process that writes to the system management controller.

Run a single command directly (smcd setfan 0 5779) or start the socket
daemon (smcd daemon) that the unprivileged fancontrol process talks to.
Every command prints one OK: or ERROR: line.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
		Args:              cobra.ArbitraryArgs,
		RunE:              runVerb,
	}

	unlockCmd = &cobra.Command{
		Use:   "unlock",
		Short: "Take fan control from the firmware",
		Args:  cobra.NoArgs,
		RunE:  oneShot(daemon.CmdUnlock),
	}

	setfanCmd = &cobra.Command{
		Use:   "setfan <fan> <rpm>",
		Short: "Force one fan to a target speed",
		Args:  cobra.ArbitraryArgs,
		RunE:  oneShot(daemon.CmdSetFan),
	}

	maxfansCmd = &cobra.Command{
		Use:   "maxfans",
		Short: "Force every fan to its maximum speed",
		Args:  cobra.NoArgs,
		RunE:  oneShot(daemon.CmdMaxFans),
	}

	releaseCmd = &cobra.Command{
		Use:   "release",
		Short: "Hand fan control back to the firmware",
		Args:  cobra.NoArgs,
		RunE:  oneShot(daemon.CmdRelease),
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Print fan speeds and modes",
		Args:  cobra.NoArgs,
		RunE:  oneShot(daemon.CmdStatus),
	}

	diagCmd = &cobra.Command{
		Use:   "diag",
		Short: "Print a diagnostic dump of the controller",
		Args:  cobra.NoArgs,
		RunE:  oneShot(daemon.CmdDiag),
	}

	quitCmd = &cobra.Command{
		Use:   "quit",
		Short: "Release fan control and exit",
		Args:  cobra.NoArgs,
		RunE:  oneShot(daemon.CmdQuit),
	}

	daemonCmd = &cobra.Command{
		Use:   "daemon",
		Short: "Serve the command protocol on a unix socket",
		Args:  cobra.NoArgs,
		RunE:  runDaemon,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (YAML)")
	rootCmd.PersistentFlags().BoolVar(&simulate, "simulate", false, "use the in-memory simulated controller")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	daemonCmd.Flags().StringVar(&socketPath, "socket", "", "socket path (overrides daemon.socket_path)")
	daemonCmd.Flags().StringVar(&metricsAt, "metrics-listen", "", "serve Prometheus metrics on this address")

	rootCmd.AddCommand(unlockCmd, setfanCmd, maxfansCmd, releaseCmd, statusCmd, diagCmd, quitCmd, daemonCmd)
}

func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("simulate") {
		cfg.SMC.Simulate = simulate
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if socketPath != "" {
		cfg.Daemon.SocketPath = socketPath
	}

	logger, err = logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	appMetrics = metrics.New(registry)
	return nil
}

// runVerb hands anything that is not a known subcommand to the protocol
// handler, so a typo gets the same ERROR: line it would over the socket.
func runVerb(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return cmd.Help()
	}
	return oneShot(args[0])(cmd, args[1:])
}

func syncLogger() {
	logger.Sync()
}
