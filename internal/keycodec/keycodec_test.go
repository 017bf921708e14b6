package keycodec

import (
	"math/bits"
	"regexp"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keyShape = regexp.MustCompile(`^[0-9A-F]{12}$`)

func TestEncodeKnownValues(t *testing.T) {
	cases := []struct {
		in   uint32
		want string
	}{
		{0, "000000000000"},          // no ones, even parity
		{1, "000000000003"},          // 1<<1 | 1
		{3, "000000000006"},          // two ones → parity 0
		{100, "0000000000C9"},        // 0b1100100 has three ones
		{999, "0000000007CE"},        // 0b1111100111 has eight ones
		{0xFFFFFFFF, "0001FFFFFFFE"}, // 32 ones → parity 0, 33 bits used
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Encode(tc.in), "Encode(%d)", tc.in)
	}
}

func TestEncodeDeterministicAndWidth(t *testing.T) {
	for _, v := range []uint32{0, 7, 100, 555, 1 << 31, 0xDEADBEEF} {
		a, b := Encode(v), Encode(v)
		require.Equal(t, a, b)
		require.Regexp(t, keyShape, a)
	}
}

func TestEncodeParityBitMatchesPopcount(t *testing.T) {
	for v := uint32(0); v < 5000; v += 7 {
		key := Encode(v)
		n, err := strconv.ParseUint(key, 16, 64)
		require.NoError(t, err)

		assert.Equal(t, uint64(bits.OnesCount32(v)%2), n&1, "parity of %d", v)
		assert.Equal(t, uint64(v), n>>1, "payload of %d", v)
	}
}

func TestEncodeAdjacentValuesDiffer(t *testing.T) {
	for _, v := range []uint32{0, 1, 2, 127, 128, 0xFFFFFFFE} {
		assert.NotEqual(t, Encode(v), Encode(v+1))
	}
}

func TestDisplayCodeRange(t *testing.T) {
	for digits := 1; digits <= 6; digits++ {
		lo, hi := pow10(digits-1), pow10(digits)-1
		for i := 0; i < 200; i++ {
			code, err := DisplayCode(digits)
			require.NoError(t, err)
			require.GreaterOrEqual(t, code, lo)
			require.LessOrEqual(t, code, hi)
		}
	}
}

func TestDisplayCodeFallbackAndLimit(t *testing.T) {
	code, err := DisplayCode(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(999), code)

	_, err = DisplayCode(MaxDigits + 1)
	assert.ErrorIs(t, err, ErrDigits)
}
