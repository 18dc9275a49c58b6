package domain

import "math/bits"

// MulU64 multiplies two amounts, reporting ok=false on overflow. The
// engine rejects any operation whose accounting would overflow instead of
// wrapping silently.
func MulU64(a, b uint64) (uint64, bool) {
	hi, lo := bits.Mul64(a, b)
	return lo, hi == 0
}
