package smc

import (
	"encoding/binary"
	"math"
)

// Value is one decoded register reading.
type Value struct {
	Key   Key
	Type  TypeTag
	Size  int
	Float float64
	// Fallback is set when the type tag was not recognised and the value was
	// produced by the best-effort default decode.
	Fallback bool
}

// Decode converts raw register bytes into a float according to the type tag.
// It fails only when data is shorter than the width the tag implies.
func Decode(data []byte, tag TypeTag) (Value, error) {
	v := Value{Type: tag, Size: len(data)}

	if frac, signed, ok := fixedPoint(tag); ok {
		if len(data) < 2 {
			return v, &DecodeError{Type: tag, Need: 2, Have: len(data)}
		}
		raw := binary.BigEndian.Uint16(data[0:2])
		if signed {
			v.Float = float64(int16(raw)) / math.Pow(2, float64(frac))
		} else {
			v.Float = float64(raw) / math.Pow(2, float64(frac))
		}
		return v, nil
	}

	switch tag {
	case TypeUI8, TypeFlag:
		if len(data) < 1 {
			return v, &DecodeError{Type: tag, Need: 1, Have: len(data)}
		}
		if tag == TypeFlag {
			if data[0] != 0 {
				v.Float = 1
			}
			return v, nil
		}
		v.Float = float64(data[0])
		return v, nil

	case TypeUI16, TypeSI16:
		if len(data) < 2 {
			return v, &DecodeError{Type: tag, Need: 2, Have: len(data)}
		}
		raw := binary.BigEndian.Uint16(data[0:2])
		if tag == TypeSI16 {
			v.Float = float64(int16(raw))
		} else {
			v.Float = float64(raw)
		}
		return v, nil

	case TypeUI32:
		if len(data) < 4 {
			return v, &DecodeError{Type: tag, Need: 4, Have: len(data)}
		}
		v.Float = float64(binary.BigEndian.Uint32(data[0:4]))
		return v, nil

	case TypeFloat:
		if len(data) < 4 {
			return v, &DecodeError{Type: tag, Need: 4, Have: len(data)}
		}
		v.Float = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[0:4])))
		return v, nil

	case TypeIOFT:
		if len(data) < 8 {
			return v, &DecodeError{Type: tag, Need: 8, Have: len(data)}
		}
		v.Float = math.Float64frombits(binary.LittleEndian.Uint64(data[0:8]))
		return v, nil
	}

	// Unknown tag: keep the historical signed 8.8 interpretation.
	switch {
	case len(data) >= 2:
		v.Float = float64(int16(binary.BigEndian.Uint16(data[0:2]))) / 256.0
	case len(data) == 1:
		v.Float = float64(data[0])
	default:
		return v, &DecodeError{Type: tag, Need: 1, Have: 0}
	}
	v.Fallback = true
	return v, nil
}

// fixedPoint matches "spXY" and "fpXY" where X and Y are hex digits. Y is the
// number of fractional bits; X (integer bits) does not enter the arithmetic.
func fixedPoint(tag TypeTag) (frac int, signed bool, ok bool) {
	switch {
	case tag[0] == 's' && tag[1] == 'p':
		signed = true
	case tag[0] == 'f' && tag[1] == 'p':
		signed = false
	default:
		return 0, false, false
	}
	if _, ok := hexDigit(tag[2]); !ok {
		return 0, false, false
	}
	frac, ok = hexDigit(tag[3])
	if !ok {
		return 0, false, false
	}
	return frac, signed, true
}

func hexDigit(c byte) (int, bool) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), true
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10, true
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10, true
	}
	return 0, false
}

// FPE2Max is the largest value representable by EncodeFPE2.
const FPE2Max = 16383

// EncodeFloat32LE reinterprets v as a little-endian IEEE-754 float32.
func EncodeFloat32LE(v float64) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v)))
	return buf
}

// EncodeFPE2 encodes v as big-endian unsigned 14.2 fixed point, clamped to
// [0, FPE2Max].
func EncodeFPE2(v float64) []byte {
	if v < 0 || math.IsNaN(v) {
		v = 0
	}
	if v > FPE2Max {
		v = FPE2Max
	}
	raw := uint16(math.Round(v * 4))
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, raw)
	return buf
}

// EncodeTarget picks the fan target encoding for the platform variant:
// float32 LE on the alternate architecture, fpe2 elsewhere.
func EncodeTarget(v float64, alternate bool) ([]byte, TypeTag) {
	if alternate {
		return EncodeFloat32LE(v), TypeFloat
	}
	return EncodeFPE2(v), TypeFPE2
}
