package sensors

import (
	"testing"
	"time"

	"github.com/KevinKickass/OpenFanCore/internal/keymap"
	"github.com/KevinKickass/OpenFanCore/internal/metrics"
	"github.com/KevinKickass/OpenFanCore/internal/smc"
	"github.com/KevinKickass/OpenFanCore/internal/smc/smctest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func setup(t *testing.T, c *smctest.Controller) (*smc.Transport, *keymap.Map) {
	t.Helper()

	loader, err := keymap.NewLoader(nil)
	require.NoError(t, err)
	keys, err := loader.Default("", c.Alternate())
	require.NoError(t, err)

	return smc.NewTransport(c, nil, c.Alternate(), zaptest.NewLogger(t), nil), keys
}

func keyNames(keys []smc.Key) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.String())
	}
	return out
}

func TestDiscoverAllKeepsDecodableTelemetryKeys(t *testing.T) {
	c := smctest.New()
	c.SetUI8("FNum", 1)
	c.SetSP78("TC0P", 55.5)
	c.SetSP78("TA0P", -3)
	c.Set("Tbad", "ui32", []byte{0x01, 0x02})
	c.SetRegister("Thid", smctest.Register{Type: smc.TypeUI8, Data: []byte{1}, HideInfo: true})
	c.SetUI8("BNum", 1)
	c.SetUI32("#KEY", 7)

	tr, keys := setup(t, c)
	found, err := DiscoverAll(tr, keys)
	require.NoError(t, err)
	assert.Equal(t, []string{"TC0P", "TA0P"}, keyNames(found))
}

func TestDiscoverAllOnPreset(t *testing.T) {
	tr, keys := setup(t, smctest.NewAppleSilicon(smctest.Fan{Min: 1200, Max: 5779}))

	found, err := DiscoverAll(tr, keys)
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]string{"Tp01", "Tp05", "Tg05", "TB0T", "TCMz", "TPD0", "TW0P"},
		keyNames(found))
}

func TestDiscoverAllPropagatesTransportFailure(t *testing.T) {
	c := smctest.NewIntel()
	c.FailCalls(assert.AnError)
	tr, keys := setup(t, c)

	_, err := DiscoverAll(tr, keys)
	assert.ErrorIs(t, err, smc.ErrTransportUnavailable)
}

func TestClassOf(t *testing.T) {
	tests := []struct {
		v    float64
		want Class
	}{
		{-40, ClassPoweredDown},
		{0, ClassPoweredDown},
		{0.5, ClassThreshold},
		{10, ClassThreshold},
		{10.5, ClassActive},
		{149.99, ClassActive},
		{150, ClassRaw},
		{4000, ClassRaw},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassOf(tt.v), "value %v", tt.v)
	}
}

func TestClassifyNames(t *testing.T) {
	assert.Equal(t, "CPU TC0P", Classify(smc.MustKey("TC0P"), 55).Name)
	assert.Equal(t, "CPU max threshold", Classify(smc.MustKey("TCMz"), 0).Name)
	assert.Equal(t, "GPU powered down", Classify(smc.MustKey("Tg0X"), -1).Name)
	assert.Equal(t, "Memory threshold", Classify(smc.MustKey("Tm02"), 5).Name)
	assert.Equal(t, "Sensor raw data", Classify(smc.MustKey("Tz01"), 300).Name)

	s := Classify(smc.MustKey("Tp01"), 48.5)
	assert.True(t, s.Active())
	assert.Equal(t, "Performance cores", s.Component)
}

func TestSensorsListsActiveFirst(t *testing.T) {
	tr, keys := setup(t, smctest.NewAppleSilicon())
	r := NewReader(zaptest.NewLogger(t), tr, keys, DefaultComponents(true), nil)

	list, err := r.Sensors()
	require.NoError(t, err)
	require.Len(t, list, 7)

	for i, s := range list {
		if i < 4 {
			assert.True(t, s.Active(), s.Key)
		} else {
			assert.False(t, s.Active(), s.Key)
		}
	}
}

func TestSensorsSkipsUndecodableKey(t *testing.T) {
	c := smctest.New()
	c.SetSP78("TC0P", 55.5)
	c.SetSP78("TA0P", 31)
	c.SetUI32("#KEY", 3)
	tr, keys := setup(t, c)
	r := NewReader(zaptest.NewLogger(t), tr, keys, DefaultComponents(false), nil)
	require.NoError(t, r.Refresh())

	// Firmware now reports a 2-byte ui32, which cannot decode.
	c.Set("TA0P", "ui32", []byte{0, 1})

	list, err := r.Sensors()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "TC0P", list[0].Key)
	assert.True(t, list[0].Active())
}

func TestTemperaturesPerComponent(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	tr, keys := setup(t, smctest.NewAppleSilicon())
	r := NewReader(zaptest.NewLogger(t), tr, keys, DefaultComponents(true), m)

	snap, err := r.Temperatures()
	require.NoError(t, err)
	require.Len(t, snap.Components, 3)

	byName := map[string]Reading{}
	for _, c := range snap.Components {
		byName[c.Component] = c
	}
	assert.Equal(t, 52.25, byName["cpu"].Celsius)
	assert.Equal(t, 2, byName["cpu"].Sensors)
	assert.Equal(t, 41.0, byName["gpu"].Celsius)
	assert.InDelta(t, 31.0/60, snap.Headroom, 1e-9)

	assert.Equal(t, 52.25, testutil.ToFloat64(m.Temperature.WithLabelValues("cpu")))
	assert.Equal(t, snap, r.Last())

	h, err := r.Headroom()
	require.NoError(t, err)
	assert.InDelta(t, 31.0/60, h, 1e-9)
}

func TestTemperaturesIntel(t *testing.T) {
	tr, keys := setup(t, smctest.NewIntel(smctest.Fan{Min: 2000, Max: 6000}))
	r := NewReader(zaptest.NewLogger(t), tr, keys, DefaultComponents(false), nil)

	h, err := r.Headroom()
	require.NoError(t, err)
	assert.InDelta(t, 0.555, h, 1e-9)
}

func TestTemperaturesSkipsDeadSensors(t *testing.T) {
	c := smctest.New()
	c.SetSP78("TC0P", 0)
	c.SetFloat("TC1P", 200)
	c.SetUI32("#KEY", 3)
	tr, keys := setup(t, c)
	r := NewReader(zaptest.NewLogger(t), tr, keys, DefaultComponents(false), nil)

	snap, err := r.Temperatures()
	require.NoError(t, err)
	assert.Empty(t, snap.Components)
	assert.Zero(t, snap.Headroom)
}

func TestPollerSamples(t *testing.T) {
	tr, keys := setup(t, smctest.NewAppleSilicon())
	r := NewReader(zaptest.NewLogger(t), tr, keys, DefaultComponents(true), nil)

	samples := make(chan Snapshot, 16)
	p := NewPoller(r, time.Millisecond, zaptest.NewLogger(t))
	p.OnSample(func(s Snapshot) {
		select {
		case samples <- s:
		default:
		}
	})

	require.NoError(t, p.Start())
	assert.True(t, p.IsRunning())

	select {
	case s := <-samples:
		assert.NotZero(t, s.Headroom)
	case <-time.After(time.Second):
		t.Fatal("no sample")
	}

	p.Stop()
	assert.False(t, p.IsRunning())
}
