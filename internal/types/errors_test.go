package types

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromError(t *testing.T) {
	resp := FromError(CodeSensorsUnavailable, "Sensors unavailable", errors.New("transport down"))
	assert.Equal(t, CodeSensorsUnavailable, resp.Error.Code)
	assert.Equal(t, "transport down", resp.Error.Details)

	raw, err := json.Marshal(FromError(CodeReleaseFailed, "Release failed", nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":{"code":"CONTROL_502","message":"Release failed"}}`, string(raw))
}
