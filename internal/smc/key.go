package smc

import (
	"encoding/binary"
	"fmt"
)

// Key addresses one SMC register, e.g. "FNum" or "F0Tg".
type Key [4]byte

// TypeTag names the wire encoding of a register, e.g. "flt " or "fpe2".
type TypeTag [4]byte

// Well-known type tags
var (
	TypeUI8   = MustTypeTag("ui8 ")
	TypeUI16  = MustTypeTag("ui16")
	TypeUI32  = MustTypeTag("ui32")
	TypeSI16  = MustTypeTag("si16")
	TypeFlag  = MustTypeTag("flag")
	TypeFloat = MustTypeTag("flt ")
	TypeIOFT  = MustTypeTag("ioft")
	TypeFPE2  = MustTypeTag("fpe2")
)

// ParseKey builds a Key from up to four ASCII characters, padding short
// names with spaces.
func ParseKey(s string) (Key, error) {
	var k Key
	if len(s) == 0 || len(s) > 4 {
		return k, fmt.Errorf("invalid key %q: must be 1-4 characters", s)
	}
	for i := range k {
		k[i] = ' '
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return k, fmt.Errorf("invalid key %q: non-printable character", s)
		}
		k[i] = s[i]
	}
	return k, nil
}

// MustKey is ParseKey for constants. It panics on invalid input.
func MustKey(s string) Key {
	k, err := ParseKey(s)
	if err != nil {
		panic(err)
	}
	return k
}

// KeyFromUint32 decodes the numeric form used inside the request struct.
func KeyFromUint32(v uint32) Key {
	var k Key
	binary.BigEndian.PutUint32(k[:], v)
	return k
}

// Uint32 returns the key as the controller expects it: the four characters
// read as a big-endian integer.
func (k Key) Uint32() uint32 {
	return binary.BigEndian.Uint32(k[:])
}

func (k Key) String() string {
	return string(k[:])
}

// ParseTypeTag works like ParseKey for type tags.
func ParseTypeTag(s string) (TypeTag, error) {
	k, err := ParseKey(s)
	if err != nil {
		return TypeTag{}, fmt.Errorf("invalid type tag: %w", err)
	}
	return TypeTag(k), nil
}

func MustTypeTag(s string) TypeTag {
	t, err := ParseTypeTag(s)
	if err != nil {
		panic(err)
	}
	return t
}

func TypeTagFromUint32(v uint32) TypeTag {
	return TypeTag(KeyFromUint32(v))
}

func (t TypeTag) Uint32() uint32 {
	return binary.BigEndian.Uint32(t[:])
}

func (t TypeTag) String() string {
	return string(t[:])
}
