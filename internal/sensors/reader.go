package sensors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/KevinKickass/OpenFanCore/internal/keymap"
	"github.com/KevinKickass/OpenFanCore/internal/metrics"
	"github.com/KevinKickass/OpenFanCore/internal/smc"
	"go.uber.org/zap"
)

// Component groups telemetry keys by prefix under one safety ceiling.
type Component struct {
	Name     string   `mapstructure:"name" json:"name"`
	Ceiling  float64  `mapstructure:"ceiling" json:"ceiling"`
	Prefixes []string `mapstructure:"prefixes" json:"prefixes"`
}

// DefaultComponents returns the tracked components for a platform variant.
func DefaultComponents(alternate bool) []Component {
	if alternate {
		return []Component{
			{Name: "cpu", Ceiling: 105, Prefixes: []string{"Tp", "Te"}},
			{Name: "gpu", Ceiling: 105, Prefixes: []string{"Tg"}},
			{Name: "battery", Ceiling: 60, Prefixes: []string{"TB"}},
		}
	}
	return []Component{
		{Name: "cpu", Ceiling: 100, Prefixes: []string{"TC"}},
		{Name: "gpu", Ceiling: 100, Prefixes: []string{"TG"}},
		{Name: "battery", Ceiling: 60, Prefixes: []string{"TB"}},
	}
}

type Reading struct {
	Component string  `json:"component"`
	Celsius   float64 `json:"celsius"`
	Ceiling   float64 `json:"ceiling"`
	Ratio     float64 `json:"ratio"`
	Sensors   int     `json:"sensors"`
}

type Snapshot struct {
	Components []Reading `json:"components"`
	Headroom   float64   `json:"headroom"`
	Taken      time.Time `json:"taken"`
}

// Reader reads the temperatures of the tracked components.
type Reader struct {
	logger     *zap.Logger
	transport  *smc.Transport
	keys       *keymap.Map
	components []Component
	metrics    *metrics.Metrics

	mu         sync.Mutex
	discovered []smc.Key
	byName     map[string][]smc.Key
	last       Snapshot
}

func NewReader(logger *zap.Logger, tr *smc.Transport, keys *keymap.Map, components []Component, m *metrics.Metrics) *Reader {
	return &Reader{
		logger:     logger,
		transport:  tr,
		keys:       keys,
		components: components,
		metrics:    m,
	}
}

// Refresh re-enumerates the key table and re-assigns keys to components.
func (r *Reader) Refresh() error {
	found, err := DiscoverAll(r.transport, r.keys)
	if err != nil {
		return err
	}

	byName := make(map[string][]smc.Key, len(r.components))
	for _, key := range found {
		name := key.String()
		for _, c := range r.components {
			for _, prefix := range c.Prefixes {
				if strings.HasPrefix(name, prefix) {
					byName[c.Name] = append(byName[c.Name], key)
				}
			}
		}
	}

	r.mu.Lock()
	r.discovered = found
	r.byName = byName
	r.mu.Unlock()

	r.logger.Info("Telemetry keys discovered",
		zap.Int("keys", len(found)),
		zap.Int("components", len(byName)))
	return nil
}

func (r *Reader) ensureDiscovered() error {
	r.mu.Lock()
	done := r.byName != nil
	r.mu.Unlock()
	if done {
		return nil
	}
	return r.Refresh()
}

// Sensors reads and classifies every discovered telemetry key.
func (r *Reader) Sensors() ([]Sensor, error) {
	if err := r.ensureDiscovered(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	keys := append([]smc.Key(nil), r.discovered...)
	r.mu.Unlock()

	out := make([]Sensor, 0, len(keys))
	for _, key := range keys {
		v, err := r.transport.ReadRawValue(key)
		if err != nil {
			if smc.IsRejected(err) {
				continue
			}
			if errors.Is(err, smc.ErrDecode) {
				r.logger.Debug("Skipping undecodable sensor",
					zap.String("key", key.String()),
					zap.Error(err))
				continue
			}
			return nil, err
		}
		out = append(out, Classify(key, v))
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Active() != out[j].Active() {
			return out[i].Active()
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

// Temperatures reads every tracked component and returns the hottest live
// sensor of each together with the highest temperature/ceiling ratio.
func (r *Reader) Temperatures() (Snapshot, error) {
	if err := r.ensureDiscovered(); err != nil {
		return Snapshot{}, err
	}

	r.mu.Lock()
	byName := r.byName
	r.mu.Unlock()

	snap := Snapshot{Taken: time.Now()}
	for _, c := range r.components {
		reading := Reading{Component: c.Name, Ceiling: c.Ceiling}
		for _, key := range byName[c.Name] {
			v, ok, err := r.transport.ReadTemperature(key)
			if err != nil {
				return Snapshot{}, fmt.Errorf("component %s: %w", c.Name, err)
			}
			if !ok {
				continue
			}
			reading.Sensors++
			if v > reading.Celsius {
				reading.Celsius = v
			}
		}
		if reading.Sensors == 0 {
			continue
		}
		if c.Ceiling > 0 {
			reading.Ratio = reading.Celsius / c.Ceiling
		}
		if reading.Ratio > snap.Headroom {
			snap.Headroom = reading.Ratio
		}
		r.metrics.ObserveTemperature(c.Name, reading.Celsius)
		snap.Components = append(snap.Components, reading)
	}
	r.metrics.ObserveHeadroom(snap.Headroom)

	r.mu.Lock()
	r.last = snap
	r.mu.Unlock()
	return snap, nil
}

// Headroom returns the highest temperature/ceiling ratio across components.
func (r *Reader) Headroom() (float64, error) {
	snap, err := r.Temperatures()
	if err != nil {
		return 0, err
	}
	return snap.Headroom, nil
}

// Last returns the most recent snapshot without touching the hardware.
func (r *Reader) Last() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
