package sensors

import (
	"github.com/KevinKickass/OpenFanCore/internal/smc"
)

type Class string

const (
	ClassActive      Class = "active"
	ClassPoweredDown Class = "powered_down"
	ClassThreshold   Class = "threshold"
	ClassRaw         Class = "raw"
)

// Sensor is one classified telemetry key.
type Sensor struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Class     Class   `json:"class"`
	Component string  `json:"component"`
	Name      string  `json:"name"`
}

func (s Sensor) Active() bool {
	return s.Class == ClassActive
}

// Keys that live in the telemetry namespace but do not report a live
// temperature.
var wellKnown = map[string]string{
	"TCMz": "CPU max threshold",
	"TCXC": "CPU PECI offset",
	"TPD0": "Power delivery config",
	"TPDX": "Power delivery limit",
	"TW0P": "Wireless raw data",
	"TBXT": "Battery max threshold",
	"TS0C": "Chassis setpoint",
	"TH0x": "Storage max threshold",
}

// Components by the second character of the key.
var components = map[byte]string{
	'A': "Ambient",
	'a': "Ambient",
	'B': "Battery",
	'C': "CPU",
	'c': "CPU",
	'e': "Efficiency cores",
	'p': "Performance cores",
	'G': "GPU",
	'g': "GPU",
	'H': "Storage",
	'h': "Heatpipe",
	'I': "Thunderbolt",
	'M': "Memory",
	'm': "Memory",
	'N': "Northbridge",
	'P': "Platform",
	'S': "Chassis",
	's': "Chassis",
	'W': "Wireless",
	'V': "Voltage regulator",
}

// ComponentOf names the part of the machine a key belongs to.
func ComponentOf(key smc.Key) string {
	if name, ok := components[key[1]]; ok {
		return name
	}
	return "Sensor"
}

// ClassOf buckets a decoded value. Only the open interval between the
// temperature floor and ceiling counts as a live reading.
func ClassOf(v float64) Class {
	switch {
	case smc.IsLiveTemperature(v):
		return ClassActive
	case v <= 0:
		return ClassPoweredDown
	case v <= smc.TemperatureFloor:
		return ClassThreshold
	default:
		return ClassRaw
	}
}

var classLabels = map[Class]string{
	ClassPoweredDown: "powered down",
	ClassThreshold:   "threshold",
	ClassRaw:         "raw data",
}

// Classify builds a Sensor for key with decoded value v.
func Classify(key smc.Key, v float64) Sensor {
	s := Sensor{
		Key:       key.String(),
		Value:     v,
		Class:     ClassOf(v),
		Component: ComponentOf(key),
	}

	switch {
	case s.Class == ClassActive:
		s.Name = s.Component + " " + s.Key
	case wellKnown[s.Key] != "":
		s.Name = wellKnown[s.Key]
	default:
		s.Name = s.Component + " " + classLabels[s.Class]
	}
	return s
}
