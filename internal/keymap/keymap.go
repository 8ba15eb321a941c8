package keymap

import (
	"fmt"

	"github.com/KevinKickass/OpenFanCore/internal/smc"
)

// Definition is the JSON form of a register map profile.
type Definition struct {
	Profile         ProfileInfo `json:"profile"`
	Services        Services    `json:"services"`
	Arbitration     bool        `json:"arbitration"`
	Keys            Keys        `json:"keys"`
	Fan             FanKeys     `json:"fan"`
	Modes           Modes       `json:"modes"`
	TargetType      string      `json:"target_type"`
	TelemetryPrefix string      `json:"telemetry_prefix"`
}

type ProfileInfo struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
}

type Services struct {
	Read  string `json:"read"`
	Write string `json:"write,omitempty"`
}

type Keys struct {
	FanCount     string `json:"fan_count"`
	KeyCount     string `json:"key_count"`
	Override     string `json:"override,omitempty"`
	ForceBitmask string `json:"force_bitmask,omitempty"`
}

// FanKeys are per-fan key templates containing one %d for the fan index.
type FanKeys struct {
	Mode    string `json:"mode"`
	Target  string `json:"target"`
	Current string `json:"current"`
	Min     string `json:"min"`
	Max     string `json:"max"`
}

type Modes struct {
	Auto          uint8  `json:"auto"`
	Forced        uint8  `json:"forced"`
	FirmwareOwned *uint8 `json:"firmware_owned,omitempty"`
}

// FanRegister selects one of the per-fan key templates.
type FanRegister int

const (
	FanMode FanRegister = iota
	FanTarget
	FanCurrent
	FanMin
	FanMax
)

func (r FanRegister) String() string {
	switch r {
	case FanMode:
		return "mode"
	case FanTarget:
		return "target"
	case FanCurrent:
		return "current"
	case FanMin:
		return "min"
	case FanMax:
		return "max"
	default:
		return "unknown"
	}
}

// Map is a resolved register map ready for use by the transport users.
type Map struct {
	ID           string
	Description  string
	ReadService  string
	WriteService string
	// Arbitration is set on hardware where firmware competes for fan control
	// and must be asked to yield through the override key.
	Arbitration bool

	FanCount     smc.Key
	KeyCount     smc.Key
	Override     smc.Key
	HasOverride  bool
	ForceBitmask smc.Key
	HasBitmask   bool

	ModeAuto          uint8
	ModeForced        uint8
	ModeFirmwareOwned uint8
	HasFirmwareOwned  bool

	TargetType      smc.TypeTag
	TelemetryPrefix byte

	templates [5]string
}

// Resolve parses all keys in d.
func Resolve(d *Definition) (*Map, error) {
	m := &Map{
		ID:              d.Profile.ID,
		Description:     d.Profile.Description,
		ReadService:     d.Services.Read,
		WriteService:    d.Services.Write,
		Arbitration:     d.Arbitration,
		ModeAuto:        d.Modes.Auto,
		ModeForced:      d.Modes.Forced,
		TelemetryPrefix: 'T',
		templates:       [5]string{d.Fan.Mode, d.Fan.Target, d.Fan.Current, d.Fan.Min, d.Fan.Max},
	}

	var err error
	if m.FanCount, err = smc.ParseKey(d.Keys.FanCount); err != nil {
		return nil, fmt.Errorf("fan_count: %w", err)
	}
	if m.KeyCount, err = smc.ParseKey(d.Keys.KeyCount); err != nil {
		return nil, fmt.Errorf("key_count: %w", err)
	}
	if d.Keys.Override != "" {
		if m.Override, err = smc.ParseKey(d.Keys.Override); err != nil {
			return nil, fmt.Errorf("override: %w", err)
		}
		m.HasOverride = true
	}
	if d.Keys.ForceBitmask != "" {
		if m.ForceBitmask, err = smc.ParseKey(d.Keys.ForceBitmask); err != nil {
			return nil, fmt.Errorf("force_bitmask: %w", err)
		}
		m.HasBitmask = true
	}
	if d.Modes.FirmwareOwned != nil {
		m.ModeFirmwareOwned = *d.Modes.FirmwareOwned
		m.HasFirmwareOwned = true
	}
	if m.TargetType, err = smc.ParseTypeTag(d.TargetType); err != nil {
		return nil, fmt.Errorf("target_type: %w", err)
	}
	if d.TelemetryPrefix != "" {
		m.TelemetryPrefix = d.TelemetryPrefix[0]
	}
	if m.Arbitration && !m.HasOverride {
		return nil, fmt.Errorf("profile %s: arbitration requires an override key", m.ID)
	}

	for r, tmpl := range m.templates {
		if _, err := smc.ParseKey(fmt.Sprintf(tmpl, 0)); err != nil {
			return nil, fmt.Errorf("fan %s template %q: %w", FanRegister(r), tmpl, err)
		}
	}

	return m, nil
}

// FanKey returns the key of register r for fan index i.
func (m *Map) FanKey(r FanRegister, i int) (smc.Key, error) {
	if r < FanMode || r > FanMax {
		return smc.Key{}, fmt.Errorf("unknown fan register %d", r)
	}
	return smc.ParseKey(fmt.Sprintf(m.templates[r], i))
}

// FloatTargets reports whether fan targets are float32 registers, which is
// the case on the alternate platform variant.
func (m *Map) FloatTargets() bool {
	return m.TargetType == smc.TypeFloat
}
