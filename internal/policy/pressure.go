package policy

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Level is the system's discrete thermal pressure classification.
type Level int

const (
	LevelNominal Level = iota
	LevelModerate
	LevelHeavy
	LevelTrapping
	LevelSleeping
)

var levelNames = [...]string{"nominal", "moderate", "heavy", "trapping", "sleeping"}

func (l Level) String() string {
	if l < LevelNominal || l > LevelSleeping {
		return "unknown"
	}
	return levelNames[l]
}

func ParseLevel(s string) (Level, error) {
	for i, name := range levelNames {
		if strings.EqualFold(s, name) {
			return Level(i), nil
		}
	}
	return LevelNominal, fmt.Errorf("unknown pressure level %q", s)
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(b []byte) error {
	v, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// PressureSource reports the current thermal pressure level.
type PressureSource interface {
	Level() Level
}

// ManualPressure is fed by an external producer, e.g. the REST API.
type ManualPressure struct {
	level atomic.Int32
}

func NewManualPressure(initial Level) *ManualPressure {
	p := &ManualPressure{}
	p.Set(initial)
	return p
}

func (p *ManualPressure) Set(l Level) {
	p.level.Store(int32(l))
}

func (p *ManualPressure) Level() Level {
	return Level(p.level.Load())
}

// HeadroomSource reports the highest temperature/ceiling ratio across the
// tracked components.
type HeadroomSource interface {
	Headroom() (float64, error)
}

// TemperaturePressure derives a level from component headroom when no
// operating system pressure signal is available.
type TemperaturePressure struct {
	source HeadroomSource
}

func NewTemperaturePressure(source HeadroomSource) *TemperaturePressure {
	return &TemperaturePressure{source: source}
}

func (p *TemperaturePressure) Level() Level {
	ratio, err := p.source.Headroom()
	if err != nil {
		return LevelNominal
	}
	return LevelForRatio(ratio)
}

// LevelForRatio buckets a headroom ratio. Sleeping is never derived from
// temperatures.
func LevelForRatio(ratio float64) Level {
	switch {
	case ratio < 0.75:
		return LevelNominal
	case ratio < 0.85:
		return LevelModerate
	case ratio < 0.95:
		return LevelHeavy
	default:
		return LevelTrapping
	}
}

// ExternalPressure reports a level pushed by an outside producer while one
// is set, and the fallback source otherwise.
type ExternalPressure struct {
	fallback PressureSource
	level    atomic.Int32
	set      atomic.Bool
}

func NewExternalPressure(fallback PressureSource) *ExternalPressure {
	return &ExternalPressure{fallback: fallback}
}

func (p *ExternalPressure) Set(l Level) {
	p.level.Store(int32(l))
	p.set.Store(true)
}

// Clear drops the pushed level.
func (p *ExternalPressure) Clear() {
	p.set.Store(false)
}

// External reports whether a pushed level is in effect.
func (p *ExternalPressure) External() bool {
	return p.set.Load()
}

func (p *ExternalPressure) Level() Level {
	if p.set.Load() {
		return Level(p.level.Load())
	}
	if p.fallback == nil {
		return LevelNominal
	}
	return p.fallback.Level()
}
