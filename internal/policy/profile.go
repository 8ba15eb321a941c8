package policy

import (
	"fmt"
	"math"
)

// ModeKind selects how a profile turns inputs into a fan percentage.
type ModeKind string

const (
	ModeSystem    ModeKind = "system"
	ModeManual    ModeKind = "manual"
	ModeMax       ModeKind = "max"
	ModeSilent    ModeKind = "silent"
	ModeProactive ModeKind = "proactive"
)

// PressureTable maps each pressure level to a percentage.
type PressureTable [5]float64

var (
	SilentTable    = PressureTable{0, 25, 50, 75, 100}
	ProactiveTable = PressureTable{25, 40, 70, 100, 100}
)

func (t PressureTable) Percent(l Level) float64 {
	if l < LevelNominal {
		l = LevelNominal
	}
	if l > LevelSleeping {
		l = LevelSleeping
	}
	return t[l]
}

func (t PressureTable) validate() error {
	for i, v := range t {
		if v < 0 || v > 100 {
			return fmt.Errorf("pressure table entry %d out of range: %v", i, v)
		}
		if i > 0 && v < t[i-1] {
			return fmt.Errorf("pressure table must not decrease (entry %d)", i)
		}
	}
	return nil
}

// Headroom bands: the first ceiling the ratio falls under selects the
// percentage.
var headroomBands = []struct {
	below   float64
	percent float64
}{
	{0.65, 25},
	{0.75, 40},
	{0.85, 55},
	{0.92, 70},
	{0.98, 85},
}

func HeadroomPercent(ratio float64) float64 {
	for _, b := range headroomBands {
		if ratio < b.below {
			return b.percent
		}
	}
	return 100
}

// Profile is a named fan policy.
type Profile struct {
	Name    string         `yaml:"name" json:"name"`
	Mode    ModeKind       `yaml:"mode" json:"mode"`
	Percent float64        `yaml:"percent,omitempty" json:"percent,omitempty"`
	Table   *PressureTable `yaml:"pressure_table,omitempty" json:"pressure_table,omitempty"`
}

func (p Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("profile name is required")
	}
	switch p.Mode {
	case ModeSystem, ModeMax:
	case ModeManual:
		if p.Percent < 0 || p.Percent > 100 || math.IsNaN(p.Percent) {
			return fmt.Errorf("profile %s: percent must be within 0-100", p.Name)
		}
	case ModeSilent, ModeProactive:
		if p.Table != nil {
			if err := p.Table.validate(); err != nil {
				return fmt.Errorf("profile %s: %w", p.Name, err)
			}
		}
	default:
		return fmt.Errorf("profile %s: unknown mode %q", p.Name, p.Mode)
	}
	return nil
}

func (p Profile) table() PressureTable {
	if p.Table != nil {
		return *p.Table
	}
	if p.Mode == ModeSilent {
		return SilentTable
	}
	return ProactiveTable
}

// Inputs are the signals a profile is evaluated against.
type Inputs struct {
	Pressure Level
	Headroom float64
}

// Decision is the result of evaluating a profile. Percent is meaningful
// only when neither Release nor Max is set.
type Decision struct {
	Release bool
	Max     bool
	Percent float64
	Damped  bool
}

// Evaluate maps a profile and its inputs to a decision.
func Evaluate(p Profile, in Inputs) Decision {
	switch p.Mode {
	case ModeSystem:
		return Decision{Release: true}
	case ModeMax:
		return Decision{Max: true}
	case ModeManual:
		return Decision{Percent: p.Percent}
	case ModeSilent:
		return Decision{Percent: p.table().Percent(in.Pressure)}
	case ModeProactive:
		pct := math.Max(p.table().Percent(in.Pressure), HeadroomPercent(in.Headroom))
		return Decision{Percent: pct, Damped: true}
	default:
		return Decision{Release: true}
	}
}

// DefaultProfiles are used when no profiles file exists.
func DefaultProfiles() []Profile {
	return []Profile{
		{Name: "system", Mode: ModeSystem},
		{Name: "silent", Mode: ModeSilent},
		{Name: "balanced", Mode: ModeProactive},
		{Name: "fixed", Mode: ModeManual, Percent: 50},
		{Name: "max", Mode: ModeMax},
	}
}
