// SPDX-License-Identifier: MIT

/*
Package bitint provides power-of-two helpers used to size FFT buffers for
frequency response measurement.

NextPowerOfTwo subtracts one before taking the bit length so that exact
powers of two are preserved:

	NextPowerOfTwo(8)    == 8     bits.Len(7) = 3, 1<<3 = 8
	NextPowerOfTwo(1000) == 1024
	NextPowerOfTwo(0)    == 1
*/
package bitint

import "math/bits"

// NextPowerOfTwo returns the next power of 2 >= size. Non-positive sizes
// return 1.
func NextPowerOfTwo(size int) int {
	if size <= 0 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// IsPowerOfTwo checks if n is a power of 2. Powers of two have exactly one
// bit set, so n & (n-1) clears it to zero.
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}
