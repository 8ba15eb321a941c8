package daemon

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"strconv"
	"strings"

	"github.com/KevinKickass/OpenFanCore/internal/fan"
	"github.com/KevinKickass/OpenFanCore/internal/keymap"
	"github.com/KevinKickass/OpenFanCore/internal/metrics"
	"github.com/KevinKickass/OpenFanCore/internal/smc"
	"go.uber.org/zap"
)

// Handler executes protocol commands against the hardware. It is shared by
// the one-shot and daemon modes.
type Handler struct {
	logger    *zap.Logger
	engine    *fan.Engine
	transport *smc.Transport
	keys      *keymap.Map
	metrics   *metrics.Metrics
}

func NewHandler(logger *zap.Logger, engine *fan.Engine, transport *smc.Transport, keys *keymap.Map, m *metrics.Metrics) *Handler {
	return &Handler{
		logger:    logger,
		engine:    engine,
		transport: transport,
		keys:      keys,
		metrics:   m,
	}
}

// Handle runs one command line. quit reports that the caller should stop
// serving after sending the response.
func (h *Handler) Handle(ctx context.Context, line string) (resp Response, quit bool) {
	req, ok := ParseRequest(line)
	if !ok {
		h.metrics.ObserveCommand("empty", "error")
		return Error("Empty command"), false
	}

	label := req.Name
	switch req.Name {
	case CmdUnlock:
		resp = h.unlock(ctx)
	case CmdSetFan:
		resp = h.setFan(ctx, req.Args)
	case CmdMaxFans:
		resp = h.maxFans(ctx)
	case CmdRelease:
		resp = h.release(ctx)
	case CmdStatus:
		resp = h.status()
	case CmdDiag:
		resp = h.diag()
	case CmdQuit:
		h.engine.Release(ctx)
		resp, quit = OK("Quit"), true
	default:
		label = "unknown"
		resp = Error(unknownCommandPrefix+"'%s'", req.Raw)
	}

	result := "ok"
	if !resp.OK {
		result = "error"
		h.logger.Warn("Command failed",
			zap.String("command", req.Name),
			zap.String("response", resp.Message))
	} else {
		h.logger.Debug("Command handled",
			zap.String("command", req.Name),
			zap.String("response", resp.Message))
	}
	h.metrics.ObserveCommand(label, result)

	return resp, quit
}

func (h *Handler) unlock(ctx context.Context) Response {
	if err := h.engine.Unlock(ctx); err != nil {
		return Error("%v", err)
	}
	return OK("Unlocked")
}

func (h *Handler) setFan(ctx context.Context, args []string) Response {
	usage := Error("Usage: setfan <index> <rpm>")
	if len(args) != 2 {
		return usage
	}

	index, err := strconv.Atoi(args[0])
	if err != nil || index < 0 {
		return usage
	}
	rpm, err := strconv.ParseFloat(args[1], 64)
	if err != nil || rpm < 0 || math.IsNaN(rpm) || math.IsInf(rpm, 0) {
		return usage
	}

	count, err := h.engine.Count()
	if err != nil {
		return Error("%v", err)
	}
	if index >= count {
		return Error("Fan %d out of range (fans: %d)", index, count)
	}

	res, err := h.engine.SetSpeed(ctx, index, rpm)
	if err != nil {
		return Error("%v", err)
	}
	if res.Mismatch {
		h.logger.Warn("Firmware adjusted target",
			zap.Int("fan", index),
			zap.Float64("requested", rpm),
			zap.Float64("readback", res.Readback))
	}

	return OK("Fan %d set to %s RPM", index, formatRPM(rpm))
}

func (h *Handler) maxFans(ctx context.Context) Response {
	results, err := h.engine.MaxAll(ctx)
	if err != nil {
		return Error("%v", err)
	}

	var b strings.Builder
	b.WriteString("MaxFans")
	for _, r := range results {
		fmt.Fprintf(&b, " Fan%d=%s", r.Fan, formatRPM(r.Requested))
	}
	return OK("%s", b.String())
}

func (h *Handler) release(ctx context.Context) Response {
	h.engine.Release(ctx)
	return OK("Released")
}

// status reads fan registers only and never unlocks.
func (h *Handler) status() Response {
	fans, err := h.engine.Status()
	if err != nil {
		return Error("%v", err)
	}

	var b strings.Builder
	b.WriteString("Status")
	for _, f := range fans {
		fmt.Fprintf(&b, " Fan%d:%s/%s", f.Index, formatRPM(f.Current), formatRPM(f.Max))
	}
	return OK("%s", b.String())
}

func (h *Handler) diag() Response {
	arch := "x86"
	if h.transport.Alternate() {
		arch = "arm64"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Diag Arch=%s Go=%s/%s Profile=%s Unlocked=%t",
		arch, runtime.GOOS, runtime.GOARCH, h.keys.ID, h.engine.Arbiter().IsUnlocked())

	if h.keys.HasOverride {
		if v, err := h.transport.ReadRawValue(h.keys.Override); err == nil {
			fmt.Fprintf(&b, " Override=%s", formatValue(v))
		} else {
			b.WriteString(" Override=n/a")
		}
	}
	if v, err := h.transport.ReadRawValue(h.keys.KeyCount); err == nil {
		fmt.Fprintf(&b, " Keys=%s", formatValue(v))
	}

	fans, err := h.engine.Fans()
	if err != nil {
		fmt.Fprintf(&b, " Fans=error(%v)", err)
		return OK("%s", b.String())
	}
	for _, f := range fans {
		fmt.Fprintf(&b, " Fan%d:%s/%s/%s/%s/%d", f.Index,
			formatRPM(f.Current), formatRPM(f.Min), formatRPM(f.Max), formatRPM(f.Target), f.Mode)
	}
	return OK("%s", b.String())
}

func formatRPM(v float64) string {
	return strconv.FormatFloat(math.Round(v), 'f', 0, 64)
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
