// Package smctest provides an in-memory controller that speaks the 80-byte
// key data protocol, for tests and for running the binaries without
// hardware.
package smctest

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/KevinKickass/OpenFanCore/internal/smc"
)

// Register is one simulated key.
type Register struct {
	Type smc.TypeTag
	Data []byte
	// HideInfo makes the key info query fail while reads of the raw table
	// and blind writes still succeed.
	HideInfo bool
}

// Write records one accepted write.
type Write struct {
	Key  smc.Key
	Data []byte
}

// WriteHook runs after a write has been stored, outside the controller lock.
type WriteHook func(c *Controller, key smc.Key, data []byte)

// Controller implements smc.Conn.
type Controller struct {
	mu        sync.Mutex
	regs      map[smc.Key]*Register
	order     []smc.Key
	writes    []Write
	rejects   map[smc.Key]byte
	callErr   error
	hooks     []WriteHook
	calls     int
	closed    bool
	alternate bool
}

func New() *Controller {
	return &Controller{
		regs:    make(map[smc.Key]*Register),
		rejects: make(map[smc.Key]byte),
	}
}

// Alternate reports which platform variant the preset models.
func (c *Controller) Alternate() bool {
	return c.alternate
}

// Set creates or replaces a register. New keys are appended to the key table.
func (c *Controller) Set(key, tag string, data []byte) {
	c.SetRegister(key, Register{Type: smc.MustTypeTag(tag), Data: data})
}

func (c *Controller) SetRegister(key string, reg Register) {
	k := smc.MustKey(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.regs[k]; !exists {
		c.order = append(c.order, k)
	}
	r := reg
	r.Data = append([]byte(nil), reg.Data...)
	c.regs[k] = &r
}

func (c *Controller) SetUI8(key string, v uint8) {
	c.Set(key, "ui8 ", []byte{v})
}

func (c *Controller) SetUI16(key string, v uint16) {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, v)
	c.Set(key, "ui16", buf)
}

func (c *Controller) SetUI32(key string, v uint32) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	c.Set(key, "ui32", buf)
}

func (c *Controller) SetFloat(key string, v float64) {
	c.Set(key, "flt ", smc.EncodeFloat32LE(v))
}

func (c *Controller) SetFPE2(key string, v float64) {
	c.Set(key, "fpe2", smc.EncodeFPE2(v))
}

func (c *Controller) SetSP78(key string, v float64) {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(int16(v*256)))
	c.Set(key, "sp78", buf)
}

// Remove deletes a key.
func (c *Controller) Remove(key string) {
	k := smc.MustKey(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.regs, k)
	for i, o := range c.order {
		if o == k {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Bytes returns a copy of a register's current data.
func (c *Controller) Bytes(key string) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.regs[smc.MustKey(key)]
	if !ok {
		return nil
	}
	return append([]byte(nil), r.Data...)
}

// Float decodes a register's current value.
func (c *Controller) Float(key string) float64 {
	c.mu.Lock()
	r, ok := c.regs[smc.MustKey(key)]
	c.mu.Unlock()
	if !ok {
		return 0
	}
	v, err := smc.Decode(r.Data, r.Type)
	if err != nil {
		return 0
	}
	return v.Float
}

// RejectWrites makes writes to key fail with the given firmware code.
func (c *Controller) RejectWrites(key string, code byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejects[smc.MustKey(key)] = code
}

// RejectAllWrites makes every write fail with ResultError.
func (c *Controller) RejectAllWrites() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.regs {
		c.rejects[k] = smc.ResultError
	}
}

// FailCalls makes every exchange fail at the channel level.
func (c *Controller) FailCalls(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callErr = err
}

func (c *Controller) OnWrite(hook WriteHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, hook)
}

// Writes returns all accepted writes in order.
func (c *Controller) Writes() []Write {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Write(nil), c.writes...)
}

// WritesTo returns the accepted writes to one key.
func (c *Controller) WritesTo(key string) []Write {
	k := smc.MustKey(key)
	var out []Write
	for _, w := range c.Writes() {
		if w.Key == k {
			out = append(out, w)
		}
	}
	return out
}

func (c *Controller) ResetWrites() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = nil
}

// Calls returns the number of exchanges served.
func (c *Controller) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *Controller) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Call implements smc.Conn.
func (c *Controller) Call(selector uint32, in []byte) ([]byte, error) {
	if selector != smc.SelectorEvent {
		return nil, fmt.Errorf("unsupported selector %d", selector)
	}

	req, err := smc.DecodeFrame(in)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.calls++
	if c.callErr != nil {
		err := c.callErr
		c.mu.Unlock()
		return nil, err
	}
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("connection closed")
	}

	resp := &smc.Frame{Key: req.Key, Command: req.Command}
	var written *Write
	var hooks []WriteHook

	switch req.Command {
	case smc.CmdKeyInfo:
		r, ok := c.regs[req.Key]
		if !ok || r.HideInfo {
			resp.Result = smc.ResultKeyNotFound
			break
		}
		resp.Info = smc.KeyInfo{Size: uint32(len(r.Data)), Type: r.Type}

	case smc.CmdReadKey:
		r, ok := c.regs[req.Key]
		if !ok {
			resp.Result = smc.ResultKeyNotFound
			break
		}
		copy(resp.Bytes[:], r.Data)

	case smc.CmdWriteKey:
		r, ok := c.regs[req.Key]
		if !ok {
			resp.Result = smc.ResultKeyNotFound
			break
		}
		if code, reject := c.rejects[req.Key]; reject {
			resp.Result = code
			break
		}
		size := int(req.Info.Size)
		if size > smc.MaxPayload {
			size = smc.MaxPayload
		}
		r.Data = append([]byte(nil), req.Bytes[:size]...)
		w := Write{Key: req.Key, Data: append([]byte(nil), r.Data...)}
		c.writes = append(c.writes, w)
		written = &w
		hooks = append(hooks, c.hooks...)

	case smc.CmdKeyAtIndex:
		if int(req.Data32) >= len(c.order) {
			resp.Result = smc.ResultError
			break
		}
		resp.Key = c.order[req.Data32]

	default:
		resp.Result = smc.ResultError
	}
	c.mu.Unlock()

	if written != nil {
		for _, hook := range hooks {
			hook(c, written.Key, written.Data)
		}
	}

	return resp.Encode(), nil
}
