// SPDX-License-Identifier: MIT
package dsp

import "math"

// DefaultQ is the bandwidth used for every peaking band.
const DefaultQ = 1.0

// DefaultFrequencies are the centre frequencies of the five standard bands.
var DefaultFrequencies = []float64{60, 230, 910, 3600, 14000}

const (
	lowestSpreadHz  = 31.25
	highestSpreadHz = 16000.0
)

// BandFrequencies returns n centre frequencies. Five bands use
// DefaultFrequencies; any other count is log-spaced between 31.25 Hz and
// 16 kHz.
func BandFrequencies(n int) []float64 {
	switch {
	case n <= 0:
		return nil
	case n == len(DefaultFrequencies):
		out := make([]float64, n)
		copy(out, DefaultFrequencies)
		return out
	case n == 1:
		return []float64{1000}
	}

	out := make([]float64, n)
	ratio := math.Log(highestSpreadHz / lowestSpreadHz)
	for i := range n {
		out[i] = lowestSpreadHz * math.Exp(ratio*float64(i)/float64(n-1))
	}
	return out
}
