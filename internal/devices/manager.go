package devices

import (
	"fmt"

	"github.com/KevinKickass/OpenFanCore/internal/config"
	"github.com/KevinKickass/OpenFanCore/internal/keymap"
	"github.com/KevinKickass/OpenFanCore/internal/metrics"
	"github.com/KevinKickass/OpenFanCore/internal/smc"
	"github.com/KevinKickass/OpenFanCore/internal/smc/smctest"
	"go.uber.org/zap"
)

// SimulatedFans are the fans of the simulated controller.
var SimulatedFans = []smctest.Fan{
	{Min: 1200, Max: 5779, Current: 1310},
	{Min: 1200, Max: 6241, Current: 1345},
}

// Device is an opened controller together with its register map.
type Device struct {
	Transport *smc.Transport
	Keys      *keymap.Map
	// Simulated is set when the controller is the in-memory simulator.
	Simulated *smctest.Controller
}

func (d *Device) Close() error {
	return d.Transport.Close()
}

type OpenOptions struct {
	// ReadOnly opens only the telemetry handle.
	ReadOnly bool
	Metrics  *metrics.Metrics
}

// Manager resolves the register map and opens the controller.
type Manager struct {
	loader *keymap.Loader
	smc    config.SMCConfig
	keymap config.KeymapConfig
	logger *zap.Logger

	// probe is replaced in tests.
	probe func() bool
}

func NewManager(cfg *config.Config, logger *zap.Logger) (*Manager, error) {
	loader, err := keymap.NewLoader(cfg.Keymap.SearchPaths)
	if err != nil {
		return nil, fmt.Errorf("failed to create keymap loader: %w", err)
	}

	return &Manager{
		loader: loader,
		smc:    cfg.SMC,
		keymap: cfg.Keymap,
		logger: logger,
		probe:  smc.ProbeAlternate,
	}, nil
}

// Open connects to the controller and checks that it answers.
func (m *Manager) Open(opts OpenOptions) (*Device, error) {
	alternate := m.probe()

	var (
		sim    *smctest.Controller
		opener smc.Opener
	)
	if m.smc.Simulate {
		sim = m.simulator(alternate)
		alternate = sim.Alternate()
		opener = sim.Opener()
	}

	keys, err := m.loader.Default(m.keymap.Profile, alternate)
	if err != nil {
		return nil, fmt.Errorf("failed to load key map: %w", err)
	}

	readService := firstNonEmpty(m.smc.ReadService, keys.ReadService)
	writeService := firstNonEmpty(m.smc.WriteService, keys.WriteService)

	tr, err := smc.Open(smc.Options{
		ReadService:  readService,
		WriteService: writeService,
		ReadOnly:     opts.ReadOnly,
		Alternate:    alternate,
		Opener:       opener,
		Logger:       m.logger.Named("smc"),
		Metrics:      opts.Metrics,
	})
	if err != nil {
		return nil, err
	}

	fans, err := tr.ReadRawValue(keys.FanCount)
	if err != nil {
		tr.Close()
		return nil, fmt.Errorf("controller not responding: %w", err)
	}

	m.logger.Info("Controller opened",
		zap.String("keymap", keys.ID),
		zap.String("read_service", readService),
		zap.String("write_service", writeService),
		zap.Bool("read_only", opts.ReadOnly),
		zap.Bool("alternate", alternate),
		zap.Bool("simulated", sim != nil),
		zap.Int("fans", int(fans)))

	return &Device{Transport: tr, Keys: keys, Simulated: sim}, nil
}

func (m *Manager) simulator(alternate bool) *smctest.Controller {
	switch m.keymap.Profile {
	case keymap.ProfileIntel:
		return smctest.NewIntel(SimulatedFans...)
	case keymap.ProfileAppleSilicon:
		return smctest.NewAppleSilicon(SimulatedFans...)
	}
	if alternate {
		return smctest.NewAppleSilicon(SimulatedFans...)
	}
	return smctest.NewIntel(SimulatedFans...)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
