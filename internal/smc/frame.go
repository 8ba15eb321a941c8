package smc

import (
	"encoding/binary"
	"fmt"
)

// Frame layout of the controller's key data struct. Requests and responses
// share the same fixed 80-byte layout; multi-byte integers are host order
// (little-endian on every supported machine).
const (
	FrameSize = 80

	offKey        = 0  // uint32
	offVers       = 4  // 6 bytes + padding
	offPLimit     = 12 // 16 bytes
	offInfoSize   = 28 // uint32
	offInfoType   = 32 // uint32
	offInfoAttr   = 36 // uint8
	offResult     = 40 // uint8
	offStatus     = 41 // uint8
	offCommand    = 42 // uint8 (data8)
	offData32     = 44 // uint32
	offBytes      = 48 // 32 bytes
	MaxPayload    = 32
	SelectorEvent = 2 // "handle event" struct method
)

// Command bytes
const (
	CmdReadKey    byte = 5
	CmdWriteKey   byte = 6
	CmdKeyAtIndex byte = 8
	CmdKeyInfo    byte = 9
)

// KeyInfo is the size and encoding the controller reports for a key.
type KeyInfo struct {
	Size       uint32
	Type       TypeTag
	Attributes uint8
}

// Frame is the decoded form of one request or response.
type Frame struct {
	Key     Key
	Info    KeyInfo
	Result  byte
	Status  byte
	Command byte
	Data32  uint32
	Bytes   [MaxPayload]byte
}

// Encode serialises the frame into the 80-byte wire struct.
func (f *Frame) Encode() []byte {
	buf := make([]byte, FrameSize)

	binary.LittleEndian.PutUint32(buf[offKey:], f.Key.Uint32())
	binary.LittleEndian.PutUint32(buf[offInfoSize:], f.Info.Size)
	binary.LittleEndian.PutUint32(buf[offInfoType:], f.Info.Type.Uint32())
	buf[offInfoAttr] = f.Info.Attributes
	buf[offResult] = f.Result
	buf[offStatus] = f.Status
	buf[offCommand] = f.Command
	binary.LittleEndian.PutUint32(buf[offData32:], f.Data32)
	copy(buf[offBytes:], f.Bytes[:])

	return buf
}

// DecodeFrame parses a response struct.
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) < FrameSize {
		return nil, fmt.Errorf("frame too short: %d bytes", len(data))
	}

	f := &Frame{
		Key: KeyFromUint32(binary.LittleEndian.Uint32(data[offKey:])),
		Info: KeyInfo{
			Size:       binary.LittleEndian.Uint32(data[offInfoSize:]),
			Type:       TypeTagFromUint32(binary.LittleEndian.Uint32(data[offInfoType:])),
			Attributes: data[offInfoAttr],
		},
		Result:  data[offResult],
		Status:  data[offStatus],
		Command: data[offCommand],
		Data32:  binary.LittleEndian.Uint32(data[offData32:]),
	}
	copy(f.Bytes[:], data[offBytes:offBytes+MaxPayload])

	return f, nil
}

// KeyInfoRequest builds a request for command 9.
func KeyInfoRequest(key Key) *Frame {
	return &Frame{Key: key, Command: CmdKeyInfo}
}

// ReadKeyRequest builds a request for command 5 with the size learned from
// a preceding key info exchange.
func ReadKeyRequest(key Key, info KeyInfo) *Frame {
	return &Frame{Key: key, Info: KeyInfo{Size: info.Size}, Command: CmdReadKey}
}

// WriteKeyRequest builds a request for command 6.
func WriteKeyRequest(key Key, size uint32, data []byte) *Frame {
	f := &Frame{Key: key, Info: KeyInfo{Size: size}, Command: CmdWriteKey}
	copy(f.Bytes[:], data)
	return f
}

// KeyAtIndexRequest builds a request for command 8.
func KeyAtIndexRequest(index uint32) *Frame {
	return &Frame{Command: CmdKeyAtIndex, Data32: index}
}
