package main

import (
	"fmt"

	"github.com/KevinKickass/OpenFanCore/internal/config"
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

	direct     bool
	listenAddr string
	profile    string

	showAll bool
	jsonOut bool

	cfg        *config.Config
	logger     = zap.NewNop()
	registry   = prometheus.NewRegistry()
	appMetrics *metrics.Metrics
)

var (
	rootCmd = &cobra.Command{
		Use:   "fancontrol",
		Short: "Temperature-driven fan control",
		Long: `fancontrol reads the thermal sensors, evaluates the active fan profile and
asks the privileged smcd daemon to apply the result. With --direct it drives
the controller itself and must run as root.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the control loop and the status API",
		Args:  cobra.NoArgs,
		RunE:  runControl,
	}

	sensorsCmd = &cobra.Command{
		Use:   "sensors",
		Short: "List the temperature sensors",
		Args:  cobra.NoArgs,
		RunE:  listSensors,
	}

	profilesCmd = &cobra.Command{
		Use:   "profiles",
		Short: "List fan profiles",
		Args:  cobra.NoArgs,
		RunE:  listProfiles,
	}

	profilesUseCmd = &cobra.Command{
		Use:   "use <name>",
		Short: "Make a profile active",
		Args:  cobra.ExactArgs(1),
		RunE:  useProfile,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (YAML)")
	rootCmd.PersistentFlags().BoolVar(&simulate, "simulate", false, "use the in-memory simulated controller")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	runCmd.Flags().BoolVar(&direct, "direct", false, "drive the controller in-process instead of through smcd")
	runCmd.Flags().StringVar(&listenAddr, "listen", "", "API listen address (overrides api.listen)")
	runCmd.Flags().StringVar(&profile, "profile", "", "initial profile (overrides policy.active)")

	sensorsCmd.Flags().BoolVarP(&showAll, "all", "a", false, "include powered-down, threshold and raw keys")
	sensorsCmd.Flags().BoolVar(&jsonOut, "json", false, "print JSON")

	profilesCmd.AddCommand(profilesUseCmd)
	rootCmd.AddCommand(runCmd, sensorsCmd, profilesCmd)
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

	logger, err = logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	appMetrics = metrics.New(registry)
	return nil
}
