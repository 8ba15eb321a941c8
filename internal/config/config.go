package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/KevinKickass/OpenFanCore/internal/logging"
	"github.com/KevinKickass/OpenFanCore/internal/sensors"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// FANCORE_DAEMON_SOCKET_PATH.
const EnvPrefix = "FANCORE"

type Config struct {
	Log      logging.Options `mapstructure:"log"`
	SMC      SMCConfig       `mapstructure:"smc"`
	Keymap   KeymapConfig    `mapstructure:"keymap"`
	Daemon   DaemonConfig    `mapstructure:"daemon"`
	Arbiter  ArbiterConfig   `mapstructure:"arbiter"`
	Policy   PolicyConfig    `mapstructure:"policy"`
	Thermal  ThermalConfig   `mapstructure:"thermal"`
	API      APIConfig       `mapstructure:"api"`
	Instance InstanceConfig  `mapstructure:"instance"`
}

// SMCConfig overrides the controller services named by the key map.
type SMCConfig struct {
	ReadService  string `mapstructure:"read_service"`
	WriteService string `mapstructure:"write_service"`
	// Simulate swaps the hardware for an in-memory controller.
	Simulate bool `mapstructure:"simulate"`
}

type KeymapConfig struct {
	// Profile names a key map; empty selects one from the detected platform.
	Profile     string   `mapstructure:"profile"`
	SearchPaths []string `mapstructure:"search_paths"`
}

type DaemonConfig struct {
	SocketPath  string        `mapstructure:"socket_path"`
	SocketMode  string        `mapstructure:"socket_mode"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// Mode parses SocketMode as an octal permission string.
func (d DaemonConfig) Mode() (os.FileMode, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(d.SocketMode, "0o"), 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid socket mode %q: %w", d.SocketMode, err)
	}
	if v > 0o777 {
		return 0, fmt.Errorf("invalid socket mode %q", d.SocketMode)
	}
	return os.FileMode(v), nil
}

type ArbiterConfig struct {
	PollAttempts int           `mapstructure:"poll_attempts"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type PolicyConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	ProfilesFile string        `mapstructure:"profiles_file"`
	Active       string        `mapstructure:"active"`
	Damping      DampingConfig `mapstructure:"damping"`
}

type DampingConfig struct {
	Hold      time.Duration `mapstructure:"hold"`
	StepCap   float64       `mapstructure:"step_cap"`
	Threshold float64       `mapstructure:"threshold"`
}

type ThermalConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// Components replaces the platform defaults when set.
	Components []sensors.Component `mapstructure:"components"`
}

type APIConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Listen          string        `mapstructure:"listen"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type InstanceConfig struct {
	LockFile string `mapstructure:"lock_file"`
}

// DefaultSocketPath is per user. Under sudo the invoking user's uid is
// used so the root daemon and the unprivileged client agree on the path.
func DefaultSocketPath() string {
	return socketPathFor(os.Getenv("SUDO_UID"), os.Getuid())
}

func socketPathFor(sudoUID string, uid int) string {
	owner := strconv.Itoa(uid)
	if _, err := strconv.Atoi(sudoUID); err == nil {
		owner = sudoUID
	}
	return filepath.Join("/tmp", "fancore-"+owner, "smcd.sock")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")

	v.SetDefault("smc.read_service", "")
	v.SetDefault("smc.write_service", "")
	v.SetDefault("smc.simulate", false)

	v.SetDefault("keymap.profile", "")
	v.SetDefault("keymap.search_paths", []string{"/etc/fancore/keymaps"})

	v.SetDefault("daemon.socket_path", DefaultSocketPath())
	v.SetDefault("daemon.socket_mode", "0666")
	v.SetDefault("daemon.dial_timeout", "2s")

	v.SetDefault("arbiter.poll_attempts", 20)
	v.SetDefault("arbiter.poll_interval", "100ms")

	v.SetDefault("policy.interval", "2s")
	v.SetDefault("policy.profiles_file", "")
	v.SetDefault("policy.active", "system")
	v.SetDefault("policy.damping.hold", "10s")
	v.SetDefault("policy.damping.step_cap", 180)
	v.SetDefault("policy.damping.threshold", 75)

	v.SetDefault("thermal.poll_interval", "2s")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen", "127.0.0.1:8089")
	v.SetDefault("api.shutdown_timeout", "5s")

	v.SetDefault("instance.lock_file", filepath.Join(os.TempDir(), "fancontrol.lock"))
}

// Load reads the YAML file at path (optional when empty) and applies
// FANCORE_ environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the components cannot run with.
func (c *Config) Validate() error {
	if c.Daemon.SocketPath == "" {
		return fmt.Errorf("daemon.socket_path must not be empty")
	}
	if _, err := c.Daemon.Mode(); err != nil {
		return err
	}
	if c.Arbiter.PollAttempts < 1 {
		return fmt.Errorf("arbiter.poll_attempts must be at least 1")
	}
	if c.Arbiter.PollInterval <= 0 {
		return fmt.Errorf("arbiter.poll_interval must be positive")
	}
	if c.Policy.Interval <= 0 {
		return fmt.Errorf("policy.interval must be positive")
	}
	if c.Thermal.PollInterval <= 0 {
		return fmt.Errorf("thermal.poll_interval must be positive")
	}
	if c.Policy.Damping.StepCap <= 0 {
		return fmt.Errorf("policy.damping.step_cap must be positive")
	}
	for _, comp := range c.Thermal.Components {
		if comp.Name == "" || comp.Ceiling <= 0 || len(comp.Prefixes) == 0 {
			return fmt.Errorf("thermal component %q needs a ceiling and at least one prefix", comp.Name)
		}
	}
	return nil
}
