package smc

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFixedPoint(t *testing.T) {
	tests := []struct {
		name string
		tag  string
		data []byte
		want float64
	}{
		{"sp78 positive", "sp78", []byte{0x30, 0x80}, 48.5},
		{"sp78 negative", "sp78", []byte{0xff, 0x00}, -1},
		{"sp4b", "sp4b", []byte{0x10, 0x00}, 2},
		{"fpe2", "fpe2", []byte{0x5a, 0x4c}, 5779},
		{"fp88 unsigned high bit", "fp88", []byte{0xff, 0x00}, 255},
		{"uppercase hex digits", "spB4", []byte{0x00, 0x30}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Decode(tt.data, MustTypeTag(tt.tag))
			require.NoError(t, err)
			assert.InDelta(t, tt.want, v.Float, 1e-9)
			assert.False(t, v.Fallback)
		})
	}
}

func TestDecodeFixedPointMatchesRawDivision(t *testing.T) {
	digits := "0123456789abcdef"
	samples := [][]byte{{0x00, 0x00}, {0x12, 0x34}, {0x7f, 0xff}, {0x80, 0x00}, {0xff, 0xff}}

	for _, x := range digits {
		for _, y := range digits {
			for _, data := range samples {
				raw := uint16(data[0])<<8 | uint16(data[1])
				scale := math.Pow(2, float64(hexValue(byte(y))))

				sp, err := Decode(data, MustTypeTag("sp"+string(x)+string(y)))
				require.NoError(t, err)
				assert.Equal(t, float64(int16(raw))/scale, sp.Float)

				fp, err := Decode(data, MustTypeTag("fp"+string(x)+string(y)))
				require.NoError(t, err)
				assert.Equal(t, float64(raw)/scale, fp.Float)
			}
		}
	}
}

func hexValue(c byte) int {
	v, _ := hexDigit(c)
	return v
}

func TestDecodeIntegers(t *testing.T) {
	tests := []struct {
		tag  string
		data []byte
		want float64
	}{
		{"ui8 ", []byte{0x02}, 2},
		{"ui16", []byte{0x01, 0x00}, 256},
		{"ui32", []byte{0x00, 0x00, 0x0a, 0x0b}, 2571},
		{"si16", []byte{0xff, 0xfe}, -2},
		{"flag", []byte{0x00}, 0},
		{"flag", []byte{0x07}, 1},
	}

	for _, tt := range tests {
		v, err := Decode(tt.data, MustTypeTag(tt.tag))
		require.NoError(t, err, tt.tag)
		assert.Equal(t, tt.want, v.Float, tt.tag)
	}
}

func TestDecodeFloats(t *testing.T) {
	v, err := Decode([]byte{0x00, 0x98, 0xb4, 0x45}, TypeFloat)
	require.NoError(t, err)
	assert.Equal(t, 5779.0, v.Float)

	buf := make([]byte, 8)
	for i, b := range []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x40, 0x4a, 0x40} {
		buf[i] = b
	}
	v, err = Decode(buf, TypeIOFT)
	require.NoError(t, err)
	assert.Equal(t, 52.5, v.Float)
}

func TestDecodeUnknownTagFallback(t *testing.T) {
	v, err := Decode([]byte{0x19, 0x80, 0xaa}, MustTypeTag("{abc"))
	require.NoError(t, err)
	assert.Equal(t, 25.5, v.Float)
	assert.True(t, v.Fallback)

	v, err = Decode([]byte{0x42}, MustTypeTag("ch8*"))
	require.NoError(t, err)
	assert.Equal(t, 66.0, v.Float)
	assert.True(t, v.Fallback)

	_, err = Decode(nil, MustTypeTag("ch8*"))
	assert.ErrorIs(t, err, ErrDecode)
}

func TestDecodeShortInput(t *testing.T) {
	tests := []struct {
		tag  string
		data []byte
	}{
		{"sp78", []byte{0x01}},
		{"fpe2", nil},
		{"ui16", []byte{0x01}},
		{"ui32", []byte{0x01, 0x02, 0x03}},
		{"flt ", []byte{0x01, 0x02}},
		{"ioft", []byte{0x01, 0x02, 0x03, 0x04}},
		{"ui8 ", nil},
	}

	for _, tt := range tests {
		_, err := Decode(tt.data, MustTypeTag(tt.tag))
		require.Error(t, err, tt.tag)

		var decErr *DecodeError
		require.True(t, errors.As(err, &decErr), tt.tag)
		assert.Equal(t, len(tt.data), decErr.Have)
	}
}

func TestFloat32RoundTrip(t *testing.T) {
	values := []float64{0, 1, -1, 1200, 5779, 6241.5, 1e-3, 123456.789, -98765.4321}

	for _, want := range values {
		first, err := Decode(EncodeFloat32LE(want), TypeFloat)
		require.NoError(t, err)

		second, err := Decode(EncodeFloat32LE(first.Float), TypeFloat)
		require.NoError(t, err)

		assert.Equal(t, first.Float, second.Float)
		if want != 0 {
			assert.Less(t, math.Abs(first.Float-want)/math.Abs(want), 1e-6, "value %v", want)
		}
	}
}

func TestEncodeFPE2(t *testing.T) {
	assert.Equal(t, []byte{0x5a, 0x4c}, EncodeFPE2(5779))
	assert.Equal(t, []byte{0x00, 0x00}, EncodeFPE2(-50))
	assert.Equal(t, []byte{0x00, 0x01}, EncodeFPE2(0.25))

	max, err := Decode(EncodeFPE2(FPE2Max), TypeFPE2)
	require.NoError(t, err)

	for _, v := range []float64{16383.5, 20000, 1e9, math.Inf(1)} {
		got, err := Decode(EncodeFPE2(v), TypeFPE2)
		require.NoError(t, err)
		assert.Equal(t, max.Float, got.Float, "value %v", v)
	}
}

func TestEncodeTargetSelectsByVariant(t *testing.T) {
	data, tag := EncodeTarget(5779, true)
	assert.Equal(t, TypeFloat, tag)
	assert.Len(t, data, 4)

	data, tag = EncodeTarget(5779, false)
	assert.Equal(t, TypeFPE2, tag)
	assert.Equal(t, []byte{0x5a, 0x4c}, data)
}

func TestParseKey(t *testing.T) {
	k, err := ParseKey("FS!")
	require.NoError(t, err)
	assert.Equal(t, "FS! ", k.String())
	assert.Equal(t, uint32(0x46532120), k.Uint32())
	assert.Equal(t, k, KeyFromUint32(k.Uint32()))

	_, err = ParseKey("")
	assert.Error(t, err)
	_, err = ParseKey("TOOLONG")
	assert.Error(t, err)
	_, err = ParseKey("F\x00Md")
	assert.Error(t, err)
}
