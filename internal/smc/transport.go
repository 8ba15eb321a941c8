package smc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/KevinKickass/OpenFanCore/internal/metrics"
	"go.uber.org/zap"
)

// Sanity window for temperature readings, exclusive on both ends.
const (
	TemperatureFloor   = 10.0
	TemperatureCeiling = 150.0
)

// IsLiveTemperature reports whether v looks like a real sensor reading.
func IsLiveTemperature(v float64) bool {
	return v > TemperatureFloor && v < TemperatureCeiling
}

// handle serialises exchanges on one Conn. The request struct carries no
// correlation ID, so two interleaved exchanges would corrupt each other.
type handle struct {
	name string
	mu   sync.Mutex
	conn Conn
}

// Options configure Open.
type Options struct {
	ReadService  string
	WriteService string // empty: writes share the read handle
	ReadOnly     bool   // do not open a write path at all
	Alternate    bool
	Opener       Opener
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
}

// Transport owns the read and write handles to the controller.
type Transport struct {
	read      *handle
	write     *handle
	alternate bool
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// Open connects to the controller service(s) described by opts.
func Open(opts Options) (*Transport, error) {
	if opts.Opener == nil {
		opts.Opener = OpenIOKit
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	readConn, err := opts.Opener(opts.ReadService)
	if err != nil {
		return nil, fmt.Errorf("failed to open read handle: %w", err)
	}

	var writeConn Conn
	switch {
	case opts.ReadOnly:
	case opts.WriteService == "" || opts.WriteService == opts.ReadService:
		writeConn = readConn
	default:
		writeConn, err = opts.Opener(opts.WriteService)
		if err != nil {
			// Some revisions serve writes on the primary endpoint.
			opts.Logger.Warn("Write endpoint unavailable, using read handle for writes",
				zap.String("service", opts.WriteService),
				zap.Error(err))
			writeConn = readConn
		}
	}

	return NewTransport(readConn, writeConn, opts.Alternate, opts.Logger, opts.Metrics), nil
}

// NewTransport wraps already-open connections. write may be nil (read-only)
// or the same Conn as read.
func NewTransport(read, write Conn, alternate bool, logger *zap.Logger, m *metrics.Metrics) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &Transport{
		read:      &handle{name: "read", conn: read},
		alternate: alternate,
		logger:    logger,
		metrics:   m,
	}

	switch {
	case write == nil:
		t.write = &handle{name: "write"}
	case write == read:
		t.write = t.read
	default:
		t.write = &handle{name: "write", conn: write}
	}

	return t
}

// Alternate reports the platform variant selected at startup.
func (t *Transport) Alternate() bool {
	return t.alternate
}

// Close releases both handles. Further calls fail with
// ErrConnectionNotEstablished.
func (t *Transport) Close() error {
	var errs []error

	for _, h := range t.handles() {
		h.mu.Lock()
		if h.conn != nil {
			if err := h.conn.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s handle: %w", h.name, err))
			}
			h.conn = nil
		}
		h.mu.Unlock()
	}

	return errors.Join(errs...)
}

func (t *Transport) handles() []*handle {
	if t.write == t.read {
		return []*handle{t.read}
	}
	return []*handle{t.read, t.write}
}

// exchange sends one request and checks both failure channels: the call
// itself and the firmware result byte.
func (t *Transport) exchange(h *handle, op Op, req *Frame) (*Frame, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conn == nil {
		return nil, ErrConnectionNotEstablished
	}

	out, err := h.conn.Call(SelectorEvent, req.Encode())
	if err != nil {
		t.metrics.ObserveExchange(string(op), "transport_error")
		return nil, fmt.Errorf("%w: %s %q: %v", ErrTransportUnavailable, op, req.Key.String(), err)
	}

	resp, err := DecodeFrame(out)
	if err != nil {
		t.metrics.ObserveExchange(string(op), "transport_error")
		return nil, fmt.Errorf("%w: %s %q: %v", ErrTransportUnavailable, op, req.Key.String(), err)
	}

	if resp.Result != ResultSuccess {
		t.metrics.ObserveExchange(string(op), "rejected")
		return nil, &RegisterError{Key: req.Key, Op: op, Code: resp.Result}
	}

	t.metrics.ObserveExchange(string(op), "ok")
	return resp, nil
}

// KeyInfo asks the controller for a key's size and type.
func (t *Transport) KeyInfo(key Key) (KeyInfo, error) {
	return t.keyInfo(t.read, key)
}

func (t *Transport) keyInfo(h *handle, key Key) (KeyInfo, error) {
	resp, err := t.exchange(h, OpKeyInfo, KeyInfoRequest(key))
	if err != nil {
		return KeyInfo{}, err
	}
	return resp.Info, nil
}

// ReadKey returns the raw bytes of a register, truncated to its reported size.
func (t *Transport) ReadKey(key Key) ([]byte, TypeTag, error) {
	info, err := t.keyInfo(t.read, key)
	if err != nil {
		return nil, TypeTag{}, err
	}

	resp, err := t.exchange(t.read, OpRead, ReadKeyRequest(key, info))
	if err != nil {
		return nil, info.Type, err
	}

	size := int(info.Size)
	if size > MaxPayload {
		size = MaxPayload
	}
	data := make([]byte, size)
	copy(data, resp.Bytes[:size])

	return data, info.Type, nil
}

// WriteKey writes data to a register after confirming through key info
// that the key exists and has the expected size.
func (t *Transport) WriteKey(key Key, tag TypeTag, data []byte) error {
	info, err := t.keyInfo(t.write, key)
	if err != nil {
		return err
	}

	if int(info.Size) != len(data) {
		return fmt.Errorf("write %q: size mismatch: register holds %d bytes, got %d", key.String(), info.Size, len(data))
	}
	if info.Type != tag {
		t.logger.Debug("Write type differs from register type",
			zap.String("key", key.String()),
			zap.String("register_type", info.Type.String()),
			zap.String("write_type", tag.String()))
	}

	return t.writeRaw(key, data)
}

// WriteKeyDirect writes without the key info step. Some registers refuse
// the info query but accept blind writes.
func (t *Transport) WriteKeyDirect(key Key, tag TypeTag, data []byte) error {
	t.logger.Debug("Direct register write",
		zap.String("key", key.String()),
		zap.String("type", tag.String()),
		zap.Int("size", len(data)))
	return t.writeRaw(key, data)
}

func (t *Transport) writeRaw(key Key, data []byte) error {
	if len(data) > MaxPayload {
		return fmt.Errorf("write %q: payload of %d bytes exceeds %d", key.String(), len(data), MaxPayload)
	}
	_, err := t.exchange(t.write, OpWrite, WriteKeyRequest(key, uint32(len(data)), data))
	return err
}

// KeyAtIndex returns the key at position i of the controller's key table.
func (t *Transport) KeyAtIndex(i uint32) (Key, error) {
	resp, err := t.exchange(t.read, OpKeyAtIndex, KeyAtIndexRequest(i))
	if err != nil {
		return Key{}, err
	}
	return resp.Key, nil
}

// ReadValue reads and decodes a register.
func (t *Transport) ReadValue(key Key) (Value, error) {
	data, tag, err := t.ReadKey(key)
	if err != nil {
		return Value{Key: key, Type: tag}, err
	}

	v, err := Decode(data, tag)
	v.Key = key
	if err != nil {
		var decErr *DecodeError
		if errors.As(err, &decErr) {
			decErr.Key = key
		}
		return v, err
	}

	if v.Fallback {
		t.logger.Debug("Unknown type tag, used fallback decode",
			zap.String("key", key.String()),
			zap.String("type", tag.String()))
	}

	return v, nil
}

// ReadRawValue decodes a register without the temperature sanity filter.
func (t *Transport) ReadRawValue(key Key) (float64, error) {
	v, err := t.ReadValue(key)
	if err != nil {
		return 0, err
	}
	return v.Float, nil
}

// ReadTemperature returns ok=false when the key is absent, undecodable or
// outside the live sensor window. Only transport failures are errors.
func (t *Transport) ReadTemperature(key Key) (float64, bool, error) {
	v, err := t.ReadValue(key)
	if err != nil {
		if IsRejected(err) || errors.Is(err, ErrDecode) {
			return 0, false, nil
		}
		return 0, false, err
	}

	if !IsLiveTemperature(v.Float) {
		return v.Float, false, nil
	}
	return v.Float, true, nil
}
