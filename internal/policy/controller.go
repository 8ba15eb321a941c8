package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenFanCore/internal/fan"
	"go.uber.org/zap"
)

// FanReader lists fans with their hardware-reported speed range.
type FanReader interface {
	Fans() ([]fan.Fan, error)
}

// Actuator applies fan targets. fan.Engine drives the hardware directly,
// daemon.Client goes through the privileged daemon.
type Actuator interface {
	Apply(ctx context.Context, fan int, rpm float64) error
	Release(ctx context.Context) error
}

// ControlError is the most recent fan write failure. It stays until
// dismissed or until a later cycle applies every fan cleanly.
type ControlError struct {
	Fan     int       `json:"fan"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

type FanState struct {
	Index   int     `json:"index"`
	Current float64 `json:"current"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Applied float64 `json:"applied"`
}

// Status is a snapshot of the last evaluation.
type Status struct {
	Profile   string        `json:"profile"`
	Mode      ModeKind      `json:"mode"`
	Pressure  Level         `json:"pressure"`
	Headroom  float64       `json:"headroom"`
	Percent   float64       `json:"percent"`
	Holding   bool          `json:"holding"`
	Fans      []FanState    `json:"fans"`
	Error     *ControlError `json:"error,omitempty"`
	Evaluated time.Time     `json:"evaluated"`
}

type Options struct {
	Interval time.Duration
	Damping  DampingConfig
	// Now is replaced in tests.
	Now func() time.Time
}

type Controller struct {
	logger   *zap.Logger
	store    *Store
	fans     FanReader
	actuator Actuator
	pressure PressureSource
	headroom HeadroomSource
	opts     Options

	mu        sync.Mutex
	dampers   map[int]*damper
	holding   bool
	lastErr   *ControlError
	status    Status
	listeners []func(Status)
}

func NewController(
	logger *zap.Logger,
	store *Store,
	fans FanReader,
	actuator Actuator,
	pressure PressureSource,
	headroom HeadroomSource,
	opts Options,
) *Controller {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.Damping == (DampingConfig{}) {
		opts.Damping = DefaultDamping
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Controller{
		logger:   logger,
		store:    store,
		fans:     fans,
		actuator: actuator,
		pressure: pressure,
		headroom: headroom,
		opts:     opts,
		dampers:  make(map[int]*damper),
	}
}

// OnUpdate registers fn to receive the status after every tick.
func (c *Controller) OnUpdate(fn func(Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Run ticks until ctx is cancelled, then hands control back if this
// controller still holds it.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	c.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			c.ReleaseControl(context.Background())
			return nil
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick evaluates the active profile once for every fan.
func (c *Controller) Tick(ctx context.Context) Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	profile := c.store.Active()
	in := Inputs{Pressure: LevelNominal}
	if c.pressure != nil {
		in.Pressure = c.pressure.Level()
	}
	if c.headroom != nil {
		if ratio, err := c.headroom.Headroom(); err == nil {
			in.Headroom = ratio
		} else {
			c.logger.Debug("Headroom unavailable", zap.Error(err))
		}
	}

	decision := Evaluate(profile, in)
	st := Status{
		Profile:   profile.Name,
		Mode:      profile.Mode,
		Pressure:  in.Pressure,
		Headroom:  in.Headroom,
		Percent:   decision.Percent,
		Evaluated: c.opts.Now(),
	}

	fans, err := c.fans.Fans()
	if err != nil {
		c.logger.Warn("Fan read failed", zap.Error(err))
	}

	if decision.Release {
		if c.holding {
			c.release(ctx)
		}
	} else if err == nil {
		c.apply(ctx, fans, decision, &st)
	}

	for _, f := range fans {
		fs := FanState{Index: f.Index, Current: f.Current, Min: f.Min, Max: f.Max}
		if d, ok := c.dampers[f.Index]; ok && d.hasApplied {
			fs.Applied = d.applied
		}
		st.Fans = append(st.Fans, fs)
	}

	st.Holding = c.holding
	st.Error = c.lastErr
	c.status = st

	for _, fn := range c.listeners {
		fn(st)
	}
	return st
}

func (c *Controller) apply(ctx context.Context, fans []fan.Fan, decision Decision, st *Status) {
	failed := false
	now := c.opts.Now()

	for _, f := range fans {
		target := f.Max
		if !decision.Max {
			target = fan.PercentToTarget(decision.Percent, f.Min, f.Max)
		}

		d := c.damper(f.Index)
		value, write := d.next(target, decision.Damped, now)
		if !write {
			continue
		}

		if err := c.actuator.Apply(ctx, f.Index, value); err != nil {
			failed = true
			// A failed write leaves the fan where it was.
			d.reset()
			c.lastErr = &ControlError{Fan: f.Index, Message: err.Error(), At: now}
			c.logger.Error("Fan write failed",
				zap.Int("fan", f.Index),
				zap.Float64("target", value),
				zap.Error(err))
			continue
		}
		c.holding = true
	}

	if !failed && c.lastErr != nil && c.holding {
		c.logger.Info("Fan control recovered", zap.String("previous_error", c.lastErr.Message))
		c.lastErr = nil
	}
}

func (c *Controller) damper(i int) *damper {
	d, ok := c.dampers[i]
	if !ok {
		d = &damper{cfg: c.opts.Damping}
		c.dampers[i] = d
	}
	return d
}

func (c *Controller) release(ctx context.Context) {
	if err := c.actuator.Release(ctx); err != nil {
		c.lastErr = &ControlError{Fan: -1, Message: fmt.Sprintf("release: %v", err), At: c.opts.Now()}
		c.logger.Error("Release failed", zap.Error(err))
	}
	c.holding = false
	for _, d := range c.dampers {
		d.reset()
	}
}

// ReleaseControl hands the fans back to the firmware if this controller
// holds them.
func (c *Controller) ReleaseControl(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.holding {
		c.release(ctx)
	}
}

// ReturnToSystem switches to the first system-managed profile and releases
// unconditionally.
func (c *Controller) ReturnToSystem(ctx context.Context) {
	for _, p := range c.store.List() {
		if p.Mode == ModeSystem {
			if _, err := c.store.SetActive(p.Name); err != nil {
				c.logger.Warn("Profile switch failed", zap.Error(err))
			}
			break
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.release(ctx)
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Controller) LastError() *ControlError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// DismissError clears the visible control error.
func (c *Controller) DismissError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = nil
	c.status.Error = nil
}
