package devices

import (
	"runtime"
	"testing"

	"github.com/KevinKickass/OpenFanCore/internal/config"
	"github.com/KevinKickass/OpenFanCore/internal/keymap"
	"github.com/KevinKickass/OpenFanCore/internal/smc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newManager(t *testing.T, mutate func(*config.Config), alternate bool) *Manager {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.SMC.Simulate = true
	cfg.Keymap.SearchPaths = nil
	if mutate != nil {
		mutate(cfg)
	}

	m, err := NewManager(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	m.probe = func() bool { return alternate }
	return m
}

func TestOpenSimulatedFollowsProbe(t *testing.T) {
	dev, err := newManager(t, nil, true).Open(OpenOptions{})
	require.NoError(t, err)
	defer dev.Close()

	assert.Equal(t, keymap.ProfileAppleSilicon, dev.Keys.ID)
	assert.True(t, dev.Transport.Alternate())
	require.NotNil(t, dev.Simulated)

	n, err := dev.Transport.ReadRawValue(dev.Keys.FanCount)
	require.NoError(t, err)
	assert.Equal(t, float64(len(SimulatedFans)), n)
}

func TestOpenSimulatedProfileOverridesProbe(t *testing.T) {
	dev, err := newManager(t, func(cfg *config.Config) {
		cfg.Keymap.Profile = keymap.ProfileIntel
	}, true).Open(OpenOptions{})
	require.NoError(t, err)
	defer dev.Close()

	assert.Equal(t, keymap.ProfileIntel, dev.Keys.ID)
	assert.False(t, dev.Transport.Alternate())
}

func TestOpenReadOnlyRefusesWrites(t *testing.T) {
	dev, err := newManager(t, nil, false).Open(OpenOptions{ReadOnly: true})
	require.NoError(t, err)
	defer dev.Close()

	err = dev.Transport.WriteKeyDirect(dev.Keys.FanCount, smc.MustTypeTag("ui8 "), []byte{1})
	assert.ErrorIs(t, err, smc.ErrConnectionNotEstablished)
}

func TestOpenUnknownProfile(t *testing.T) {
	_, err := newManager(t, func(cfg *config.Config) {
		cfg.Keymap.Profile = "pdp11"
	}, false).Open(OpenOptions{})
	assert.Error(t, err)
}

func TestOpenWithoutControllerFails(t *testing.T) {
	if runtime.GOOS == "darwin" {
		t.Skip("a real controller may be present")
	}
	m := newManager(t, nil, true)
	m.smc.Simulate = false

	_, err := m.Open(OpenOptions{})
	assert.ErrorIs(t, err, smc.ErrTransportUnavailable)
}
