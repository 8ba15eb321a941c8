package interfaces

import (
	"context"

	"github.com/KevinKickass/OpenFanCore/internal/arbiter"
	"github.com/KevinKickass/OpenFanCore/internal/fan"
	"github.com/KevinKickass/OpenFanCore/internal/policy"
	"github.com/KevinKickass/OpenFanCore/internal/sensors"
)

// SystemStatus is the coordinator's summary for the UI. Fan control and
// sensor availability are reported separately.
type SystemStatus struct {
	State            string               `json:"state"`
	Profile          string               `json:"profile"`
	Mode             policy.ModeKind      `json:"mode"`
	Pressure         policy.Level         `json:"pressure"`
	ExternalPressure bool                 `json:"external_pressure"`
	Holding          bool                 `json:"holding"`
	Direct           bool                 `json:"direct"`
	ControlAvailable bool                 `json:"control_available"`
	ControlError     *policy.ControlError `json:"control_error,omitempty"`
	SensorsAvailable bool                 `json:"sensors_available"`
	SensorError      string               `json:"sensor_error,omitempty"`
	Headroom         float64              `json:"headroom"`
	Temperatures     []sensors.Reading    `json:"temperatures"`
	Fans             []policy.FanState    `json:"fans"`
	Session          *arbiter.Session     `json:"session,omitempty"`
}

type LifecycleManager interface {
	Controller() *policy.Controller
	Store() *policy.Store
	Pressure() *policy.ExternalPressure
	Fans() ([]fan.Fan, error)
	Sensors() ([]sensors.Sensor, error)
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
