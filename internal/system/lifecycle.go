package system

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/KevinKickass/OpenFanCore/internal/api/rest"
	"github.com/KevinKickass/OpenFanCore/internal/api/websocket"
	"github.com/KevinKickass/OpenFanCore/internal/arbiter"
	"github.com/KevinKickass/OpenFanCore/internal/config"
	"github.com/KevinKickass/OpenFanCore/internal/fan"
	"github.com/KevinKickass/OpenFanCore/internal/interfaces"
	"github.com/KevinKickass/OpenFanCore/internal/metrics"
	"github.com/KevinKickass/OpenFanCore/internal/policy"
	"github.com/KevinKickass/OpenFanCore/internal/sensors"
	"github.com/KevinKickass/OpenFanCore/internal/smc"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// statusInterval is how often a full system status is pushed to clients.
const statusInterval = 5 * time.Second

// ErrNoSample means the temperature poller has not produced a reading yet.
var ErrNoSample = errors.New("no temperature sample yet")

// Deps are the hardware-facing pieces built by the caller.
type Deps struct {
	Transport *smc.Transport
	Engine    *fan.Engine
	Actuator  policy.Actuator
	// Arbiter is set only when this process drives the hardware itself.
	Arbiter  *arbiter.Arbiter
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Sensors  *sensors.Reader
}

// LifecycleManager runs the unprivileged coordinator: telemetry polling,
// the policy loop, and the status API.
type LifecycleManager struct {
	config *config.Config
	logger *zap.Logger
	deps   Deps

	poller     *sensors.Poller
	store      *policy.Store
	pressure   *policy.ExternalPressure
	controller *policy.Controller
	hub        *websocket.Hub
	restServer *rest.Server

	stateMu      sync.RWMutex
	currentState SystemState
	lastProfile  string

	cancel       context.CancelFunc
	done         chan struct{}
	shutdownOnce sync.Once
}

func NewLifecycleManager(cfg *config.Config, logger *zap.Logger, deps Deps) (*LifecycleManager, error) {
	if deps.Engine == nil || deps.Actuator == nil || deps.Sensors == nil {
		return nil, fmt.Errorf("engine, actuator and sensor reader are required")
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.NewRegistry()
	}

	store, err := policy.NewStore(logger.Named("profiles"), cfg.Policy.ProfilesFile, cfg.Policy.Active)
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}

	lm := &LifecycleManager{
		config:       cfg,
		logger:       logger,
		deps:         deps,
		store:        store,
		hub:          websocket.NewHub(logger.Named("ws")),
		currentState: StateInitializing,
		done:         make(chan struct{}),
	}

	lm.poller = sensors.NewPoller(deps.Sensors, cfg.Thermal.PollInterval, logger.Named("thermal"))
	lm.pressure = policy.NewExternalPressure(policy.NewTemperaturePressure(lm))

	lm.controller = policy.NewController(
		logger.Named("policy"),
		store,
		deps.Engine,
		deps.Actuator,
		lm.pressure,
		lm,
		policy.Options{
			Interval: cfg.Policy.Interval,
			Damping: policy.DampingConfig{
				Hold:      cfg.Policy.Damping.Hold,
				StepCap:   cfg.Policy.Damping.StepCap,
				Threshold: cfg.Policy.Damping.Threshold,
			},
		},
	)

	lm.poller.OnSample(func(snap sensors.Snapshot) {
		lm.hub.Broadcast(websocket.NewMessage(websocket.MessageTypeTemperatures, snap))
	})
	lm.controller.OnUpdate(lm.onPolicyUpdate)
	if deps.Arbiter != nil {
		deps.Arbiter.OnChange(func(s arbiter.Session) {
			lm.hub.Broadcast(websocket.NewMessage(websocket.MessageTypeControlSession, s))
		})
	}

	if cfg.API.Enabled {
		lm.restServer = rest.NewServer(cfg.API, lm, logger.Named("api"), lm.hub, deps.Gatherer)
	}

	return lm, nil
}

func (lm *LifecycleManager) onPolicyUpdate(st policy.Status) {
	for _, f := range st.Fans {
		if f.Applied > 0 {
			lm.deps.Metrics.ObserveFanTarget(strconv.Itoa(f.Index), f.Applied)
		}
	}

	lm.stateMu.Lock()
	previous := lm.lastProfile
	lm.lastProfile = st.Profile
	lm.stateMu.Unlock()

	if previous != "" && previous != st.Profile {
		lm.hub.Broadcast(websocket.NewProfileChangedMessage(st.Profile, previous))
	}
	lm.hub.Broadcast(websocket.NewMessage(websocket.MessageTypeFanStatus, st))
}

// Headroom serves the last polled headroom so the policy loop never waits
// on a full sensor sweep.
func (lm *LifecycleManager) Headroom() (float64, error) {
	if err := lm.poller.LastError(); err != nil {
		return 0, err
	}
	snap := lm.deps.Sensors.Last()
	if snap.Taken.IsZero() {
		return 0, ErrNoSample
	}
	return snap.Headroom, nil
}

// Run starts every component and blocks until ctx is cancelled or
// Shutdown is called. Fan control is handed back before it returns.
func (lm *LifecycleManager) Run(ctx context.Context) error {
	defer close(lm.done)

	ctx, cancel := context.WithCancel(ctx)
	lm.stateMu.Lock()
	lm.cancel = cancel
	lm.stateMu.Unlock()
	defer cancel()

	lm.logger.Info("Starting fan control",
		zap.String("profile", lm.store.Active().Name),
		zap.Bool("direct", lm.deps.Arbiter != nil))

	if _, err := lm.deps.Sensors.Temperatures(); err != nil {
		lm.logger.Warn("Initial temperature read failed", zap.Error(err))
	}

	if lm.restServer != nil {
		if err := lm.restServer.Start(); err != nil {
			lm.setState(StateError)
			return fmt.Errorf("failed to start REST API: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return lm.hub.Run(gctx)
	})

	if err := lm.poller.Start(); err != nil {
		cancel()
		g.Wait()
		lm.setState(StateError)
		return err
	}
	g.Go(func() error {
		<-gctx.Done()
		lm.poller.Stop()
		return nil
	})

	g.Go(func() error {
		return lm.controller.Run(gctx)
	})

	g.Go(func() error {
		return lm.broadcastStatus(gctx)
	})

	g.Go(func() error {
		if err := lm.store.Watch(gctx); err != nil {
			lm.logger.Warn("Profiles file not watched", zap.Error(err))
		}
		return nil
	})

	if lm.restServer != nil {
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), lm.config.API.ShutdownTimeout)
			defer cancel()
			if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("rest api shutdown failed: %w", err)
			}
			return nil
		})
	}

	lm.setState(StateRunning)
	lm.logger.Info("System started successfully",
		zap.Bool("api_enabled", lm.restServer != nil),
		zap.String("api_address", lm.apiAddr()))

	<-gctx.Done()
	lm.setState(StateStopping)

	err := g.Wait()
	lm.setState(StateStopped)
	lm.logger.Info("Fan control stopped")
	return err
}

func (lm *LifecycleManager) apiAddr() string {
	if lm.restServer == nil {
		return ""
	}
	return lm.restServer.Addr()
}

// Shutdown stops Run and waits for it to finish or ctx to expire.
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	lm.shutdownOnce.Do(func() {
		lm.stateMu.RLock()
		cancel := lm.cancel
		lm.stateMu.RUnlock()
		if cancel != nil {
			cancel()
		}
	})

	select {
	case <-lm.done:
		return nil
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		return fmt.Errorf("shutdown timeout exceeded")
	}
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Debug("Ignoring state change", zap.Error(err))
		return
	}
	lm.currentState = state
}

func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

func (lm *LifecycleManager) Controller() *policy.Controller {
	return lm.controller
}

func (lm *LifecycleManager) Store() *policy.Store {
	return lm.store
}

func (lm *LifecycleManager) Pressure() *policy.ExternalPressure {
	return lm.pressure
}

func (lm *LifecycleManager) Fans() ([]fan.Fan, error) {
	return lm.deps.Engine.Fans()
}

func (lm *LifecycleManager) Sensors() ([]sensors.Sensor, error) {
	return lm.deps.Sensors.Sensors()
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	st := lm.controller.Status()
	snap := lm.deps.Sensors.Last()
	sensorErr := lm.poller.LastError()
	controlErr := lm.controller.LastError()

	status := interfaces.SystemStatus{
		State:            lm.State().String(),
		Profile:          lm.store.Active().Name,
		Mode:             lm.store.Active().Mode,
		Pressure:         lm.pressure.Level(),
		ExternalPressure: lm.pressure.External(),
		Holding:          st.Holding,
		Direct:           lm.deps.Arbiter != nil,
		ControlAvailable: controlErr == nil,
		ControlError:     controlErr,
		SensorsAvailable: sensorErr == nil && !snap.Taken.IsZero(),
		Headroom:         snap.Headroom,
		Temperatures:     snap.Components,
		Fans:             st.Fans,
	}
	if sensorErr != nil {
		status.SensorError = sensorErr.Error()
	}
	if lm.deps.Arbiter != nil {
		session := lm.deps.Arbiter.Session()
		status.Session = &session
	}
	return status
}

func (lm *LifecycleManager) broadcastStatus(ctx context.Context) error {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			lm.hub.Broadcast(websocket.NewMessage(websocket.MessageTypeSystemStatus, lm.GetCurrentStatus()))
		}
	}
}
