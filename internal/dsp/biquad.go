// SPDX-License-Identifier: MIT
package dsp

import "math"

const (
	// identityEpsilon is the band gain below which a band is a pass-through.
	identityEpsilon = 1e-4

	minCenterHz   = 20.0
	nyquistMargin = 0.98
)

// Coefficients of a normalized second-order section (a0 == 1).
type Coefficients struct {
	B0, B1, B2 float64
	A1, A2     float64
}

// Identity is the pass-through section.
var Identity = Coefficients{B0: 1}

// IsIdentity reports whether the section passes input through unchanged.
func (c Coefficients) IsIdentity() bool {
	return c == Identity
}

// Stable reports whether both poles lie strictly inside the unit circle
// (stability triangle for a normalized biquad).
func (c Coefficients) Stable() bool {
	return math.Abs(c.A2) < 1 && math.Abs(c.A1) < 1+c.A2
}

// Peaking designs a peaking (bell) filter at centerHz with the given gain and
// Q for sampleRate. Invalid input and gains under identityEpsilon yield the
// identity section. The centre frequency is clamped to
// [20 Hz, 0.98 * Nyquist] so boosts near Nyquist cannot blow up.
func Peaking(centerHz, gainDB, q, sampleRate float64) Coefficients {
	if math.IsNaN(gainDB) || math.Abs(gainDB) < identityEpsilon {
		return Identity
	}
	if !(sampleRate > 0) || !(centerHz > 0) || !(q > 0) {
		return Identity
	}

	maxHz := nyquistMargin * sampleRate / 2
	if maxHz <= minCenterHz {
		return Identity
	}
	f := min(max(centerHz, minCenterHz), maxHz)

	w := 2 * math.Pi * f / sampleRate
	sinW, cosW := math.Sincos(w)
	alpha := sinW / (2 * q)
	a := math.Pow(10, gainDB/40)

	b0 := 1 + alpha*a
	b1 := -2 * cosW
	b2 := 1 - alpha*a
	a0 := 1 + alpha/a
	a1 := -2 * cosW
	a2 := 1 - alpha/a

	return Coefficients{
		B0: b0 / a0,
		B1: b1 / a0,
		B2: b2 / a0,
		A1: a1 / a0,
		A2: a2 / a0,
	}
}

// biquadState is the transposed direct form II memory of one section on one
// channel.
type biquadState struct {
	z1, z2 float64
}

// tick advances one section by one sample.
func (s *biquadState) tick(c *Coefficients, x float64) float64 {
	y := c.B0*x + s.z1
	s.z1 = c.B1*x - c.A1*y + s.z2
	s.z2 = c.B2*x - c.A2*y
	return y
}

// Magnitude evaluates |H(e^jw)| of the section at freqHz.
func (c Coefficients) Magnitude(freqHz, sampleRate float64) float64 {
	w := 2 * math.Pi * freqHz / sampleRate
	// z^-1 = e^{-jw}
	c1, s1 := math.Cos(w), -math.Sin(w)
	c2, s2 := math.Cos(2*w), -math.Sin(2*w)

	numRe := c.B0 + c.B1*c1 + c.B2*c2
	numIm := c.B1*s1 + c.B2*s2
	denRe := 1 + c.A1*c1 + c.A2*c2
	denIm := c.A1*s1 + c.A2*s2

	return math.Hypot(numRe, numIm) / math.Hypot(denRe, denIm)
}
