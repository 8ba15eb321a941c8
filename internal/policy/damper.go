package policy

import "time"

type DampingConfig struct {
	Hold      time.Duration
	StepCap   float64
	Threshold float64
}

var DefaultDamping = DampingConfig{
	Hold:      10 * time.Second,
	StepCap:   180,
	Threshold: 75,
}

// damper tracks the last applied target of one fan.
type damper struct {
	cfg          DampingConfig
	applied      float64
	hasApplied   bool
	lastIncrease time.Time
}

// next returns the value to write and whether a write is due. Increases
// pass through; with damped set, decreases wait out the hold window after
// the last increase and then move at most StepCap per call.
func (d *damper) next(target float64, damped bool, now time.Time) (float64, bool) {
	if !d.hasApplied {
		d.applied = target
		d.hasApplied = true
		d.lastIncrease = now
		return target, true
	}

	if target < d.applied && damped {
		if now.Sub(d.lastIncrease) < d.cfg.Hold {
			return d.applied, false
		}
		if d.cfg.StepCap > 0 && d.applied-target > d.cfg.StepCap {
			target = d.applied - d.cfg.StepCap
		}
	}

	delta := target - d.applied
	if delta < 0 {
		delta = -delta
	}
	if delta < d.cfg.Threshold {
		return d.applied, false
	}

	if target > d.applied {
		d.lastIncrease = now
	}
	d.applied = target
	return target, true
}

func (d *damper) reset() {
	d.hasApplied = false
	d.applied = 0
	d.lastIncrease = time.Time{}
}
