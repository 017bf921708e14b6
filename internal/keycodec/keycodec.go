// internal/keycodec/keycodec.go
//
// Parity-encoded access keys.
//
// Context
// -------
// Turnstile controllers read a 12-digit hex key from the personnel row.
// The key is the identifier shifted left one bit with a parity bit in the
// low position:
//
//	key = (v << 1) | (popcount(v) mod 2)
//
// rendered upper-case and zero-padded to 12 hex digits.  A 32-bit input
// needs at most 33 bits, so the padding never truncates.
//
// The value shown to a person (the display code) is a separate random
// number; only its encoding is persisted.
package keycodec

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"math/bits"
)

// Width is the number of hex digits in an encoded key.
const Width = 12

// MaxDigits bounds DisplayCode so the code always fits in 32 bits.
const MaxDigits = 9

// fallbackCode is returned for a non-positive digit width.
const fallbackCode = 999

// ErrDigits is returned when DisplayCode is asked for too many digits.
var ErrDigits = errors.New("keycodec: digit width out of range")

// Parity returns popcount(v) mod 2.
func Parity(v uint32) uint32 {
	return uint32(bits.OnesCount32(v) & 1)
}

// Encode maps v to its fixed-width parity key.
func Encode(v uint32) string {
	shifted := uint64(v)<<1 | uint64(Parity(v))
	return fmt.Sprintf("%0*X", Width, shifted)
}

// DisplayCode returns a uniformly random integer with exactly digits
// decimal digits, e.g. 3 → [100, 999].  digits < 1 yields 999.
func DisplayCode(digits int) (uint32, error) {
	if digits < 1 {
		return fallbackCode, nil
	}
	if digits > MaxDigits {
		return 0, fmt.Errorf("%w: %d", ErrDigits, digits)
	}

	lo := pow10(digits - 1)
	hi := pow10(digits) - 1

	n, err := rand.Int(rand.Reader, big.NewInt(int64(hi-lo+1)))
	if err != nil {
		return 0, fmt.Errorf("keycodec: random source: %w", err)
	}
	return uint32(n.Int64()) + lo, nil
}

func pow10(n int) uint32 {
	p := uint32(1)
	for i := 0; i < n; i++ {
		p *= 10
	}
	return p
}
