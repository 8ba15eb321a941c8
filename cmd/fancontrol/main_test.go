package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/KevinKickass/OpenFanCore/internal/policy"
	"github.com/KevinKickass/OpenFanCore/internal/sensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func runFancontrol(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("FANCORE_KEYMAP_PROFILE", "intel")
	t.Setenv("FANCORE_LOG_LEVEL", "error")
	showAll, jsonOut = false, false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(append([]string{"--simulate"}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestSensorsJSON(t *testing.T) {
	out, err := runFancontrol(t, "sensors", "--json")
	require.NoError(t, err)

	var list []sensors.Sensor
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 3)
	for _, s := range list {
		assert.True(t, s.Active(), s.Key)
	}
}

func TestSensorsTable(t *testing.T) {
	out, err := runFancontrol(t, "sensors")
	require.NoError(t, err)
	assert.Contains(t, out, "KEY")
	assert.Contains(t, out, "TC0P")
	assert.Contains(t, out, "55.5°C")
}

func TestProfilesUsePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	t.Setenv("FANCORE_POLICY_PROFILES_FILE", path)

	out, err := runFancontrol(t, "profiles", "use", "silent")
	require.NoError(t, err)
	assert.Contains(t, out, "Active profile: silent")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var file policy.ProfilesFile
	require.NoError(t, yaml.Unmarshal(data, &file))
	assert.Equal(t, "silent", file.Active)
	assert.Len(t, file.Profiles, 5)

	out, err = runFancontrol(t, "profiles")
	require.NoError(t, err)

	found := false
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[0] == "*" {
			assert.Equal(t, "silent", fields[1])
			found = true
		}
	}
	assert.True(t, found, out)
}

func TestProfilesUseNeedsFile(t *testing.T) {
	t.Setenv("FANCORE_POLICY_PROFILES_FILE", "")
	_, err := runFancontrol(t, "profiles", "use", "silent")
	assert.Error(t, err)
}

func TestProfilesUseUnknown(t *testing.T) {
	t.Setenv("FANCORE_POLICY_PROFILES_FILE", filepath.Join(t.TempDir(), "profiles.yaml"))
	_, err := runFancontrol(t, "profiles", "use", "turbo")
	assert.Error(t, err)
}
