package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/KevinKickass/OpenFanCore/internal/api/rest"
	"github.com/KevinKickass/OpenFanCore/internal/api/websocket"
	"github.com/KevinKickass/OpenFanCore/internal/arbiter"
	"github.com/KevinKickass/OpenFanCore/internal/config"
	"github.com/KevinKickass/OpenFanCore/internal/fan"
	"github.com/KevinKickass/OpenFanCore/internal/keymap"
	"github.com/KevinKickass/OpenFanCore/internal/metrics"
	"github.com/KevinKickass/OpenFanCore/internal/policy"
	"github.com/KevinKickass/OpenFanCore/internal/sensors"
	"github.com/KevinKickass/OpenFanCore/internal/smc"
	"github.com/KevinKickass/OpenFanCore/internal/smc/smctest"
	"github.com/KevinKickass/OpenFanCore/internal/system"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	hw      *smctest.Controller
	lm      *system.LifecycleManager
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	hw := smctest.NewAppleSilicon(
		smctest.Fan{Min: 1200, Max: 5779, Current: 1300},
		smctest.Fan{Min: 1200, Max: 6241, Current: 1350},
	)

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.API.Enabled = false

	loader, err := keymap.NewLoader(nil)
	require.NoError(t, err)
	keys, err := loader.Default("", true)
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	tr := smc.NewTransport(hw, hw, true, logger, m)
	arb := arbiter.New(logger, tr, keys, m, arbiter.Config{PollInterval: time.Millisecond})
	engine := fan.NewEngine(logger, tr, keys, arb, m)
	reader := sensors.NewReader(logger, tr, keys, sensors.DefaultComponents(true), m)

	lm, err := system.NewLifecycleManager(cfg, logger, system.Deps{
		Transport: tr,
		Engine:    engine,
		Actuator:  engine,
		Arbiter:   arb,
		Metrics:   m,
		Gatherer:  reg,
		Sensors:   reader,
	})
	require.NoError(t, err)

	srv := rest.NewServer(cfg.API, lm, logger, websocket.NewHub(logger), reg)
	return &fixture{hw: hw, lm: lm, handler: srv.Handler()}
}

func (f *fixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "INITIALIZING", body["state"])
	assert.Equal(t, "system", body["profile"])
	assert.Equal(t, "nominal", body["pressure"])
	assert.Equal(t, true, body["direct"])
	assert.Equal(t, true, body["control_available"])
	assert.Equal(t, false, body["sensors_available"])
}

func TestFans(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/api/v1/fans", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Fans []fan.Fan `json:"fans"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Fans, 2)
	assert.Equal(t, 5779.0, body.Fans[0].Max)
	assert.Equal(t, 6241.0, body.Fans[1].Max)
}

func TestFansUnavailable(t *testing.T) {
	f := newFixture(t)
	f.hw.FailCalls(errors.New("service gone"))

	w := f.do(http.MethodGet, "/api/v1/fans", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "FAN_503")
}

func TestSensors(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/api/v1/sensors", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Sensors []sensors.Sensor `json:"sensors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotEmpty(t, body.Sensors)
	assert.True(t, body.Sensors[0].Active())
}

func TestProfileSwitch(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/api/v1/profile", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Len(t, body["profiles"], 5)

	w = f.do(http.MethodPut, "/api/v1/profile", map[string]any{"active": "silent"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "silent", f.lm.Store().Active().Name)

	w = f.do(http.MethodPut, "/api/v1/profile", map[string]any{"active": "turbo"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "silent", f.lm.Store().Active().Name)

	w = f.do(http.MethodPut, "/api/v1/profile", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProfileUpsert(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPut, "/api/v1/profile", map[string]any{
		"profile": map[string]any{"name": "quiet", "mode": "manual", "percent": 20},
	})
	require.Equal(t, http.StatusOK, w.Code)

	active := f.lm.Store().Active()
	assert.Equal(t, "quiet", active.Name)
	assert.Equal(t, policy.ModeManual, active.Mode)
	assert.Equal(t, 20.0, active.Percent)

	w = f.do(http.MethodPut, "/api/v1/profile", map[string]any{
		"profile": map[string]any{"name": "loud", "mode": "manual", "percent": 150},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPressure(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/api/v1/pressure", map[string]any{"level": "heavy"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, policy.LevelHeavy, f.lm.Pressure().Level())
	assert.True(t, f.lm.Pressure().External())

	w = f.do(http.MethodPost, "/api/v1/pressure", map[string]any{"level": "auto"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, f.lm.Pressure().External())

	w = f.do(http.MethodPost, "/api/v1/pressure", map[string]any{"level": "boiling"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/api/v1/pressure", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReleaseReturnsToSystem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.lm.Store().SetActive("max")
	require.NoError(t, err)
	st := f.lm.Controller().Tick(ctx)
	require.True(t, st.Holding)
	assert.Equal(t, []byte{1}, f.hw.Bytes("Ftst"))

	w := f.do(http.MethodPost, "/api/v1/control/release", nil)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "system", f.lm.Store().Active().Name)
	assert.Equal(t, []byte{0}, f.hw.Bytes("Ftst"))
	assert.Equal(t, []byte{smctest.ModeAuto}, f.hw.Bytes("F0md"))
}

func TestDismissError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.lm.Store().SetActive("max")
	require.NoError(t, err)
	f.hw.RejectWrites("F0Tg", 0x86)
	f.lm.Controller().Tick(ctx)
	require.NotNil(t, f.lm.Controller().LastError())

	w := f.do(http.MethodGet, "/api/v1/status", nil)
	assert.Equal(t, false, decode(t, w)["control_available"])

	w = f.do(http.MethodDelete, "/api/v1/control/error", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Nil(t, f.lm.Controller().LastError())
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodGet, "/api/v1/fans", nil)

	w := f.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "fancore_smc_exchanges_total"))
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodOptions, "/api/v1/status", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
