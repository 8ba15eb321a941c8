package arbiter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/KevinKickass/OpenFanCore/internal/keymap"
	"github.com/KevinKickass/OpenFanCore/internal/metrics"
	"github.com/KevinKickass/OpenFanCore/internal/smc"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrArbitrationTimeout is logged when the firmware did not hand over fan
// modes within the poll window. It never fails an unlock.
var ErrArbitrationTimeout = errors.New("firmware did not yield fan control in time")

const (
	DefaultPollAttempts = 20
	DefaultPollInterval = 100 * time.Millisecond
)

type Config struct {
	PollAttempts int
	PollInterval time.Duration
}

// Arbiter is the only place that takes fan control away from the firmware
// and gives it back.
type Arbiter struct {
	logger    *zap.Logger
	transport *smc.Transport
	keys      *keymap.Map
	metrics   *metrics.Metrics
	cfg       Config

	mu        sync.Mutex
	session   Session
	fanCount  int
	listeners []func(Session)
	pending   []Session
}

func New(logger *zap.Logger, transport *smc.Transport, keys *keymap.Map, m *metrics.Metrics, cfg Config) *Arbiter {
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = DefaultPollAttempts
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	return &Arbiter{
		logger:    logger,
		transport: transport,
		keys:      keys,
		metrics:   m,
		cfg:       cfg,
		session: Session{
			State:           StateSystemManaged,
			LastStateChange: time.Now(),
		},
	}
}

// OnChange registers fn to be called after every state transition. Calls
// are made in transition order once the operation that caused them has
// released the arbiter, so fn may call back into it.
func (a *Arbiter) OnChange(fn func(Session)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}

func (a *Arbiter) IsUnlocked() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session.State == StateUnlocked
}

func (a *Arbiter) Session() Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// Unlock takes fan control from the firmware. Hardware failures are logged
// and the state still advances: the following mode write reports whether
// control was actually obtained.
func (a *Arbiter) Unlock(ctx context.Context) error {
	a.mu.Lock()
	defer a.unlockAndNotify()

	if a.session.State == StateUnlocked {
		return nil
	}

	a.setState(StateUnlocking)
	a.session.ID = uuid.New().String()
	a.session.LastWarning = ""

	if a.keys.Arbitration {
		a.writeOverride(1)
		if err := a.awaitHandover(ctx); err != nil {
			a.session.LastWarning = err.Error()
			a.metrics.ObserveArbitrationTimeout()
			a.logger.Warn("Proceeding without arbitration confirmation",
				zap.String("session", a.session.ID),
				zap.Error(err))
		}
	}

	a.session.UnlockedAt = time.Now()
	a.setState(StateUnlocked)
	return nil
}

func (a *Arbiter) writeOverride(v uint8) {
	key := a.keys.Override
	data := []byte{v}

	err := a.transport.WriteKey(key, smc.TypeUI8, data)
	if smc.IsKeyNotFound(err) {
		// Some revisions refuse key info for the override but accept
		// blind writes.
		err = a.transport.WriteKeyDirect(key, smc.TypeUI8, data)
	}

	switch {
	case err == nil:
		a.logger.Debug("Override written", zap.Stringer("key", key), zap.Uint8("value", v))
	case smc.IsKeyNotFound(err):
		a.logger.Info("Override register not present on this revision",
			zap.Stringer("key", key))
	default:
		a.session.LastWarning = err.Error()
		a.logger.Warn("Override write failed",
			zap.Stringer("key", key),
			zap.Uint8("value", v),
			zap.Error(err))
	}
}

// awaitHandover polls fan 0's mode until it leaves the firmware-owned value.
func (a *Arbiter) awaitHandover(ctx context.Context) error {
	if !a.keys.HasFirmwareOwned {
		return nil
	}

	modeKey, err := a.keys.FanKey(keymap.FanMode, 0)
	if err != nil {
		return err
	}
	sentinel := float64(a.keys.ModeFirmwareOwned)

	for attempt := 0; attempt < a.cfg.PollAttempts; attempt++ {
		v, err := a.transport.ReadRawValue(modeKey)
		if err == nil && v != sentinel {
			a.logger.Debug("Firmware yielded fan control",
				zap.Int("attempts", attempt+1),
				zap.Float64("mode", v))
			return nil
		}

		timer := time.NewTimer(a.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return ErrArbitrationTimeout
}

// Release hands every fan back to firmware control. Each write is attempted
// regardless of earlier failures and the state always ends SystemManaged.
func (a *Arbiter) Release(ctx context.Context) {
	a.mu.Lock()
	defer a.unlockAndNotify()
	a.release()
}

func (a *Arbiter) release() {
	a.setState(StateReleasing)

	if a.keys.Arbitration {
		a.writeOverride(0)
	}

	if a.keys.HasBitmask {
		if err := a.transport.WriteKey(a.keys.ForceBitmask, smc.TypeUI16, []byte{0, 0}); err != nil {
			a.logger.Warn("Force bitmask reset failed", zap.Error(err))
		}
	}

	auto := []byte{a.keys.ModeAuto}
	for i := 0; i < a.countFans(); i++ {
		key, err := a.keys.FanKey(keymap.FanMode, i)
		if err != nil {
			a.logger.Warn("Invalid mode key", zap.Int("fan", i), zap.Error(err))
			continue
		}
		if err := a.transport.WriteKey(key, smc.TypeUI8, auto); err != nil {
			a.logger.Warn("Fan release failed",
				zap.Int("fan", i),
				zap.Stringer("key", key),
				zap.Error(err))
		}
	}

	a.session.ID = ""
	a.session.UnlockedAt = time.Time{}
	a.setState(StateSystemManaged)
}

// countFans returns the hardware fan count, falling back to the last value
// read, and to one fan when the register has never been readable.
func (a *Arbiter) countFans() int {
	v, err := a.transport.ReadRawValue(a.keys.FanCount)
	if err == nil && v >= 0 {
		a.fanCount = int(v)
		return a.fanCount
	}

	a.logger.Warn("Fan count unavailable during release", zap.Error(err))
	if a.fanCount > 0 {
		return a.fanCount
	}
	return 1
}

// RecoverStale releases control left behind by a process that exited
// without releasing. It reports whether a recovery was performed.
func (a *Arbiter) RecoverStale(ctx context.Context) (bool, error) {
	if !a.keys.HasOverride {
		return false, nil
	}

	v, err := a.transport.ReadRawValue(a.keys.Override)
	if err != nil {
		if smc.IsKeyNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if v == 0 {
		return false, nil
	}

	a.logger.Warn("Override still set from a previous run, releasing",
		zap.Stringer("key", a.keys.Override),
		zap.Float64("value", v))

	a.mu.Lock()
	defer a.unlockAndNotify()
	a.release()
	a.session.Recovered = true
	a.metrics.ObserveStaleRecovery()

	return true, nil
}

// setState must be called with a.mu held.
func (a *Arbiter) setState(state State) {
	previous := a.session.State
	a.session.State = state
	a.session.Unlocked = state == StateUnlocked
	a.session.LastStateChange = time.Now()

	a.metrics.ObserveTransition(string(state), a.session.Unlocked)
	a.logger.Info("Control state changed",
		zap.String("state", string(state)),
		zap.String("previous", string(previous)),
		zap.String("session", a.session.ID))

	a.pending = append(a.pending, a.session)
}

// unlockAndNotify releases a.mu and then delivers queued transitions.
func (a *Arbiter) unlockAndNotify() {
	pending, listeners := a.pending, a.listeners
	a.pending = nil
	a.mu.Unlock()

	for _, s := range pending {
		for _, fn := range listeners {
			fn(s)
		}
	}
}
