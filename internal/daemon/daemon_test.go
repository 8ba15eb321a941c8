package daemon

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/KevinKickass/OpenFanCore/internal/arbiter"
	"github.com/KevinKickass/OpenFanCore/internal/fan"
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

func twoFans() []smctest.Fan {
	return []smctest.Fan{
		{Min: 1200, Max: 5779, Current: 1300},
		{Min: 1200, Max: 6241, Current: 1350},
	}
}

func newHandler(t *testing.T, c *smctest.Controller, m *metrics.Metrics) *Handler {
	t.Helper()

	loader, err := keymap.NewLoader(nil)
	require.NoError(t, err)
	keys, err := loader.Default("", c.Alternate())
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	tr := smc.NewTransport(c, c, c.Alternate(), logger, m)
	arb := arbiter.New(logger, tr, keys, m, arbiter.Config{PollInterval: time.Millisecond})
	engine := fan.NewEngine(logger, tr, keys, arb, m)
	return NewHandler(logger, engine, tr, keys, m)
}

func TestStatusBeforeUnlockIsReadOnly(t *testing.T) {
	c := smctest.NewAppleSilicon(twoFans()...)
	h := newHandler(t, c, nil)

	resp, quit := h.Handle(context.Background(), "status")
	assert.False(t, quit)
	assert.Equal(t, "OK:Status Fan0:1300/5779 Fan1:1350/6241", resp.String())
	assert.Empty(t, c.Writes())
	assert.Equal(t, []byte{0}, c.Bytes("Ftst"))
}

func TestSetFanScenario(t *testing.T) {
	c := smctest.NewAppleSilicon(twoFans()...)
	h := newHandler(t, c, nil)

	resp, _ := h.Handle(context.Background(), "setfan 0 5779")
	assert.Equal(t, "OK:Fan 0 set to 5779 RPM", resp.String())

	modes := c.WritesTo("F0md")
	require.Len(t, modes, 1)
	assert.Equal(t, []byte{1}, modes[0].Data)

	targets := c.WritesTo("F0Tg")
	require.Len(t, targets, 1)
	assert.Equal(t, smc.EncodeFloat32LE(5779), targets[0].Data)
}

func TestSetFanIntelEncoding(t *testing.T) {
	c := smctest.NewIntel(twoFans()...)
	h := newHandler(t, c, nil)

	resp, _ := h.Handle(context.Background(), "SetFan 1 5779")
	assert.Equal(t, "OK:Fan 1 set to 5779 RPM", resp.String())

	targets := c.WritesTo("F1Tg")
	require.Len(t, targets, 1)
	assert.Equal(t, []byte{0x5a, 0x4c}, targets[0].Data)
}

func TestMaxFansScenario(t *testing.T) {
	c := smctest.NewAppleSilicon(twoFans()...)
	h := newHandler(t, c, nil)

	resp, _ := h.Handle(context.Background(), "maxfans")
	assert.Equal(t, "OK:MaxFans Fan0=5779 Fan1=6241", resp.String())
}

func TestProtocolErrors(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	c := smctest.NewAppleSilicon(twoFans()...)
	h := newHandler(t, c, m)

	tests := []struct {
		line string
		want string
	}{
		{"frobnicate", "ERROR:Unknown command 'frobnicate'"},
		{"Frob now", "ERROR:Unknown command 'Frob'"},
		{"", "ERROR:Empty command"},
		{"   ", "ERROR:Empty command"},
		{"setfan", "ERROR:Usage: setfan <index> <rpm>"},
		{"setfan 0", "ERROR:Usage: setfan <index> <rpm>"},
		{"setfan x 100", "ERROR:Usage: setfan <index> <rpm>"},
		{"setfan 0 fast", "ERROR:Usage: setfan <index> <rpm>"},
		{"setfan -1 100", "ERROR:Usage: setfan <index> <rpm>"},
		{"setfan 0 NaN", "ERROR:Usage: setfan <index> <rpm>"},
		{"setfan 5 2000", "ERROR:Fan 5 out of range (fans: 2)"},
	}

	for _, tt := range tests {
		resp, quit := h.Handle(context.Background(), tt.line)
		assert.False(t, quit, tt.line)
		assert.Equal(t, tt.want, resp.String(), tt.line)
	}

	assert.Empty(t, c.Writes())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DaemonCommands.WithLabelValues("unknown", "error")))
}

func TestSetFanDeniedIsError(t *testing.T) {
	c := smctest.NewAppleSilicon(twoFans()...)
	c.RejectWrites("F0md", 0x86)
	h := newHandler(t, c, nil)

	resp, _ := h.Handle(context.Background(), "setfan 0 3000")
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Message, "denied")
}

func TestReleaseAndQuit(t *testing.T) {
	c := smctest.NewAppleSilicon(twoFans()...)
	h := newHandler(t, c, nil)

	resp, _ := h.Handle(context.Background(), "unlock")
	assert.Equal(t, "OK:Unlocked", resp.String())
	assert.Equal(t, []byte{1}, c.Bytes("Ftst"))

	resp, _ = h.Handle(context.Background(), "release")
	assert.Equal(t, "OK:Released", resp.String())
	assert.Equal(t, []byte{0}, c.Bytes("Ftst"))

	h.Handle(context.Background(), "setfan 1 4000")
	resp, quit := h.Handle(context.Background(), "QUIT")
	assert.True(t, quit)
	assert.Equal(t, "OK:Quit", resp.String())
	assert.Equal(t, []byte{0}, c.Bytes("Ftst"))
	assert.Equal(t, []byte{0}, c.Bytes("F1md"))
}

func TestDiag(t *testing.T) {
	c := smctest.NewAppleSilicon(twoFans()...)
	h := newHandler(t, c, nil)

	resp, _ := h.Handle(context.Background(), "diag")
	require.True(t, resp.OK)
	assert.Contains(t, resp.Message, "Arch=arm64")
	assert.Contains(t, resp.Message, "Profile=apple-silicon")
	assert.Contains(t, resp.Message, "Unlocked=false")
	assert.Contains(t, resp.Message, "Override=0")
	assert.Contains(t, resp.Message, "Fan0:1300/1200/5779/1200/3")
	assert.Empty(t, c.Writes())
}

func TestRunOneShotExitCodes(t *testing.T) {
	c := smctest.NewAppleSilicon(twoFans()...)
	h := newHandler(t, c, nil)

	var out bytes.Buffer
	code := RunOneShot(context.Background(), h, []string{"setfan", "0", "5779"}, &out)
	assert.Equal(t, ExitOK, code)
	assert.Equal(t, "OK:Fan 0 set to 5779 RPM\n", out.String())

	out.Reset()
	code = RunOneShot(context.Background(), h, []string{"bogus"}, &out)
	assert.Equal(t, ExitFailure, code)
	assert.Equal(t, "ERROR:Unknown command 'bogus'\n", out.String())
}

func TestParseResponse(t *testing.T) {
	r, err := ParseResponse("OK:Status Fan0:1300/5779 extra text\n")
	require.NoError(t, err)
	assert.True(t, r.OK)
	assert.Equal(t, "Status Fan0:1300/5779 extra text", r.Message)
	assert.NoError(t, r.Err())

	r, err = ParseResponse("ERROR:nope")
	require.NoError(t, err)
	assert.False(t, r.OK)
	var remote *RemoteError
	assert.ErrorAs(t, r.Err(), &remote)
	assert.NotErrorIs(t, r.Err(), ErrUnknownCommand)

	r, err = ParseResponse("ERROR:Unknown command 'spin'")
	require.NoError(t, err)
	assert.ErrorIs(t, r.Err(), ErrUnknownCommand)

	_, err = ParseResponse("hello")
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func socketPath(t *testing.T) string {
	t.Helper()
	// Unix socket paths are limited to about 100 bytes.
	dir, err := os.MkdirTemp("", "fcd")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "smcd.sock")
}

func startServer(t *testing.T, h *Handler) (*Server, chan error, context.CancelFunc) {
	t.Helper()

	srv := NewServer(zaptest.NewLogger(t), h, socketPath(t), 0o666)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		<-done
	})
	return srv, done, cancel
}

func TestServerConnectionSurvivesBadCommands(t *testing.T) {
	c := smctest.NewAppleSilicon(twoFans()...)
	srv, _, _ := startServer(t, newHandler(t, c, nil))

	info, err := os.Stat(srv.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o666), info.Mode().Perm())

	conn, err := net.Dial("unix", srv.Path())
	require.NoError(t, err)
	defer conn.Close()
	r := bufio.NewReader(conn)

	send := func(line string) string {
		_, err := conn.Write([]byte(line + "\n"))
		require.NoError(t, err)
		reply, err := r.ReadString('\n')
		require.NoError(t, err)
		return reply
	}

	assert.Equal(t, "ERROR:Unknown command 'hello'\n", send("hello"))
	assert.Equal(t, "ERROR:Empty command\n", send(""))
	assert.Equal(t, "OK:Status Fan0:1300/5779 Fan1:1350/6241\n", send("status"))
	assert.Equal(t, "OK:MaxFans Fan0=5779 Fan1=6241\n", send("maxfans"))
}

func TestServerOverlongLineKeepsConnection(t *testing.T) {
	c := smctest.NewAppleSilicon(twoFans()...)
	srv, _, _ := startServer(t, newHandler(t, c, nil))

	conn, err := net.Dial("unix", srv.Path())
	require.NoError(t, err)
	defer conn.Close()
	r := bufio.NewReader(conn)

	long := "setfan 0 " + strings.Repeat("9", 4992) + "\n"
	require.Greater(t, len(long), MaxLineLength)
	_, err = conn.Write([]byte(long))
	require.NoError(t, err)
	reply, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "ERROR:Line too long\n", reply)

	_, err = conn.Write([]byte("status\n"))
	require.NoError(t, err)
	reply, err = r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "OK:Status Fan0:1300/5779 Fan1:1350/6241\n", reply)
	assert.Empty(t, c.WritesTo("F0Tg"))
}

func TestServerQuitStopsAndRemovesSocket(t *testing.T) {
	c := smctest.NewAppleSilicon(twoFans()...)
	srv, done, _ := startServer(t, newHandler(t, c, nil))

	client, err := Dial(srv.Path(), time.Second)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.SetSpeed(context.Background(), 0, 3000))
	assert.Equal(t, 3000.0, c.Float("F0Tg"))

	resp, err := client.Do(context.Background(), "quit")
	require.NoError(t, err)
	assert.Equal(t, "OK:Quit", resp.String())

	select {
	case err := <-done:
		assert.NoError(t, err)
		// Hand the result back for the cleanup hook.
		done <- err
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}

	_, err = os.Stat(srv.Path())
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, []byte{0}, c.Bytes("Ftst"))
}

func TestServerRemovesStaleSocket(t *testing.T) {
	path := socketPath(t)
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o600))

	srv := NewServer(zaptest.NewLogger(t), newHandler(t, smctest.NewIntel(), nil), path, 0o666)
	require.NoError(t, srv.Listen())
	require.NoError(t, srv.Close())

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestServerCancelClosesEndpoint(t *testing.T) {
	srv := NewServer(zaptest.NewLogger(t), newHandler(t, smctest.NewIntel(), nil), socketPath(t), 0o666)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	conn, err := net.Dial("unix", srv.Path())
	require.NoError(t, err)
	defer conn.Close()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}

	_, err = os.Stat(srv.Path())
	assert.True(t, os.IsNotExist(err))
}

func TestClientTypedHelpers(t *testing.T) {
	c := smctest.NewIntel(twoFans()...)
	srv, _, _ := startServer(t, newHandler(t, c, nil))

	client := NewClient(srv.Path(), time.Second)
	defer client.Close()
	ctx := context.Background()

	status, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Status Fan0:1300/5779 Fan1:1350/6241", status)

	require.NoError(t, client.Unlock(ctx))
	max, err := client.MaxFans(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Fan0=5779 Fan1=6241", max)

	require.NoError(t, client.Apply(ctx, 1, 2500))
	require.NoError(t, client.Release(ctx))
	assert.Equal(t, []byte{0}, c.Bytes("F1Md"))

	err = client.SetSpeed(ctx, 9, 2500)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Message, "out of range")
}
