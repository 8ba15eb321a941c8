package fan

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/KevinKickass/OpenFanCore/internal/arbiter"
	"github.com/KevinKickass/OpenFanCore/internal/keymap"
	"github.com/KevinKickass/OpenFanCore/internal/metrics"
	"github.com/KevinKickass/OpenFanCore/internal/smc"
	"go.uber.org/zap"
)

// MismatchTolerance is how far a read-back target may drift from the
// requested one before it is reported. Firmware clamps targets to its own
// limits, so a mismatch is a warning.
const MismatchTolerance = 100.0

// ErrControlDenied means the firmware refused to put a fan into forced mode.
var ErrControlDenied = errors.New("fan control denied by firmware")

type Fan struct {
	Index   int     `json:"index"`
	Current float64 `json:"current"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Target  float64 `json:"target"`
	Mode    uint8   `json:"mode"`
}

type SetResult struct {
	Fan         int     `json:"fan"`
	Requested   float64 `json:"requested"`
	Readback    float64 `json:"readback"`
	Mode        uint8   `json:"mode"`
	Mismatch    bool    `json:"mismatch"`
	UsedBitmask bool    `json:"used_bitmask"`
}

// Engine issues fan mode and target writes. Reads work on a read-only
// transport; every write goes through the arbiter first.
type Engine struct {
	logger    *zap.Logger
	transport *smc.Transport
	keys      *keymap.Map
	arbiter   *arbiter.Arbiter
	metrics   *metrics.Metrics
}

func NewEngine(logger *zap.Logger, transport *smc.Transport, keys *keymap.Map, arb *arbiter.Arbiter, m *metrics.Metrics) *Engine {
	return &Engine{
		logger:    logger,
		transport: transport,
		keys:      keys,
		arbiter:   arb,
		metrics:   m,
	}
}

func (e *Engine) Count() (int, error) {
	v, err := e.transport.ReadRawValue(e.keys.FanCount)
	if err != nil {
		return 0, fmt.Errorf("read fan count: %w", err)
	}
	return int(v), nil
}

func (e *Engine) read(r keymap.FanRegister, i int) (float64, error) {
	key, err := e.keys.FanKey(r, i)
	if err != nil {
		return 0, err
	}
	return e.transport.ReadRawValue(key)
}

// Fan reads all registers of fan i.
func (e *Engine) Fan(i int) (Fan, error) {
	f := Fan{Index: i}

	var err error
	if f.Current, err = e.read(keymap.FanCurrent, i); err != nil {
		return f, fmt.Errorf("fan %d current: %w", i, err)
	}
	if f.Min, err = e.read(keymap.FanMin, i); err != nil {
		return f, fmt.Errorf("fan %d min: %w", i, err)
	}
	if f.Max, err = e.read(keymap.FanMax, i); err != nil {
		return f, fmt.Errorf("fan %d max: %w", i, err)
	}

	// Target and mode are informational; not every revision exposes them
	// for reading.
	if v, err := e.read(keymap.FanTarget, i); err == nil {
		f.Target = v
	}
	if v, err := e.read(keymap.FanMode, i); err == nil {
		f.Mode = uint8(v)
	}

	e.metrics.ObserveFan(strconv.Itoa(i), f.Current)
	return f, nil
}

func (e *Engine) Fans() ([]Fan, error) {
	n, err := e.Count()
	if err != nil {
		return nil, err
	}

	fans := make([]Fan, 0, n)
	for i := 0; i < n; i++ {
		f, err := e.Fan(i)
		if err != nil {
			return nil, err
		}
		fans = append(fans, f)
	}
	return fans, nil
}

// SetSpeed forces fan i to rpm. The mode write always completes before the
// target is written.
func (e *Engine) SetSpeed(ctx context.Context, i int, rpm float64) (SetResult, error) {
	res := SetResult{Fan: i, Requested: rpm}
	label := strconv.Itoa(i)

	if err := e.arbiter.Unlock(ctx); err != nil {
		return res, err
	}

	modeKey, err := e.keys.FanKey(keymap.FanMode, i)
	if err != nil {
		return res, err
	}
	targetKey, err := e.keys.FanKey(keymap.FanTarget, i)
	if err != nil {
		return res, err
	}

	if err := e.transport.WriteKey(modeKey, smc.TypeUI8, []byte{e.keys.ModeForced}); err != nil {
		if e.keys.Arbitration || !e.keys.HasBitmask {
			e.metrics.ObserveFanWriteFailure(label)
			e.logger.Error("Fan mode write denied",
				zap.Int("fan", i),
				zap.Stringer("key", modeKey),
				zap.Error(err))
			return res, fmt.Errorf("fan %d: %w: %v", i, ErrControlDenied, err)
		}

		e.logger.Warn("Fan mode write failed, using force bitmask",
			zap.Int("fan", i),
			zap.Error(err))
		if err := e.forceBit(i); err != nil {
			e.metrics.ObserveFanWriteFailure(label)
			return res, fmt.Errorf("fan %d: %w: %v", i, ErrControlDenied, err)
		}
		res.UsedBitmask = true
	}

	data, tag := smc.EncodeTarget(rpm, e.keys.FloatTargets())
	if err := e.transport.WriteKey(targetKey, tag, data); err != nil {
		e.metrics.ObserveFanWriteFailure(label)
		return res, fmt.Errorf("fan %d target: %w", i, err)
	}
	e.metrics.ObserveFanTarget(label, rpm)

	if v, err := e.transport.ReadRawValue(modeKey); err == nil {
		res.Mode = uint8(v)
	}
	readback, err := e.transport.ReadRawValue(targetKey)
	if err != nil {
		e.logger.Warn("Target read-back failed", zap.Int("fan", i), zap.Error(err))
		return res, nil
	}
	res.Readback = readback

	if math.Abs(readback-rpm) > MismatchTolerance {
		res.Mismatch = true
		e.logger.Warn("Fan target mismatch",
			zap.Int("fan", i),
			zap.Float64("requested", rpm),
			zap.Float64("readback", readback))
	}

	return res, nil
}

func (e *Engine) forceBit(i int) error {
	current, err := e.transport.ReadRawValue(e.keys.ForceBitmask)
	if err != nil {
		return err
	}
	mask := uint16(current) | 1<<uint(i)
	return e.transport.WriteKey(e.keys.ForceBitmask, smc.TypeUI16, []byte{byte(mask >> 8), byte(mask)})
}

// MaxAll unlocks and drives every fan to its own maximum. Every fan is
// attempted; failures are joined.
func (e *Engine) MaxAll(ctx context.Context) ([]SetResult, error) {
	if err := e.arbiter.Unlock(ctx); err != nil {
		return nil, err
	}

	fans, err := e.Fans()
	if err != nil {
		return nil, err
	}

	results := make([]SetResult, 0, len(fans))
	var errs []error
	for _, f := range fans {
		res, err := e.SetSpeed(ctx, f.Index, f.Max)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}

	return results, errors.Join(errs...)
}

// Apply sets fan i to rpm, discarding the read-back details.
func (e *Engine) Apply(ctx context.Context, i int, rpm float64) error {
	_, err := e.SetSpeed(ctx, i, rpm)
	return err
}

// Release returns control to the firmware. It never fails.
func (e *Engine) Release(ctx context.Context) error {
	e.arbiter.Release(ctx)
	return nil
}

func (e *Engine) Unlock(ctx context.Context) error {
	return e.arbiter.Unlock(ctx)
}

// Status reads every fan without touching control state.
func (e *Engine) Status() ([]Fan, error) {
	return e.Fans()
}

func (e *Engine) Arbiter() *arbiter.Arbiter {
	return e.arbiter
}

// PercentToTarget maps a 0-100 percentage onto a fan's own speed range.
func PercentToTarget(pct, min, max float64) float64 {
	if math.IsNaN(pct) || pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return min + pct/100*(max-min)
}
