package smc

import (
	"errors"
	"fmt"
)

var (
	// ErrTransportUnavailable means the privileged channel call itself failed.
	ErrTransportUnavailable = errors.New("smc transport unavailable")

	// ErrConnectionNotEstablished is returned by a closed or unopened Transport.
	ErrConnectionNotEstablished = errors.New("smc connection not established")

	ErrDecode = errors.New("smc decode failed")
)

// Firmware result codes
const (
	ResultSuccess     byte = 0x00
	ResultError       byte = 0x01
	ResultKeyNotFound byte = 0x84
)

// Op names the exchange a RegisterError belongs to.
type Op string

const (
	OpKeyInfo    Op = "key_info"
	OpRead       Op = "read"
	OpWrite      Op = "write"
	OpKeyAtIndex Op = "key_at_index"
)

// RegisterError is returned when the channel call succeeded but the firmware
// rejected the operation for this key.
type RegisterError struct {
	Key  Key
	Op   Op
	Code byte
}

func (e *RegisterError) Error() string {
	return fmt.Sprintf("smc %s %q rejected by firmware: code 0x%02x", e.Op, e.Key.String(), e.Code)
}

// KeyNotFound reports whether the firmware said the key does not exist.
func (e *RegisterError) KeyNotFound() bool {
	return e.Code == ResultKeyNotFound
}

// IsKeyNotFound reports whether err carries a key-not-found firmware result.
func IsKeyNotFound(err error) bool {
	var regErr *RegisterError
	return errors.As(err, &regErr) && regErr.KeyNotFound()
}

// IsRejected reports whether err is any firmware rejection.
func IsRejected(err error) bool {
	var regErr *RegisterError
	return errors.As(err, &regErr)
}

// DecodeError means fewer bytes were available than the type tag requires.
type DecodeError struct {
	Key  Key
	Type TypeTag
	Need int
	Have int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %q as %q: need %d bytes, have %d", e.Key.String(), e.Type.String(), e.Need, e.Have)
}

func (e *DecodeError) Unwrap() error {
	return ErrDecode
}
