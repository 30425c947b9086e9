// SPDX-License-Identifier: MIT

// Package analysis measures the frequency response of a processed impulse
// with a gonum FFT. It backs the response command and the EQ tests; it is
// never used on the real-time path.
package analysis

import (
	"errors"
	"math"
	"math/cmplx"

	"appmix/pkg/bitint"
	"appmix/pkg/utils"

	"gonum.org/v1/gonum/dsp/fourier"
)

// ErrEmptyResponse is returned for an empty impulse response.
var ErrEmptyResponse = errors.New("empty impulse response")

// Response is the magnitude spectrum of an impulse response.
type Response struct {
	sampleRate float64
	fft        *fourier.FFT
	magnitude  []float64
}

// NewResponse zero-pads the impulse response to the next power of two and
// computes its magnitude spectrum. No window is applied: the input is
// expected to have decayed to silence.
func NewResponse(impulse []float64, sampleRate float64) (*Response, error) {
	if len(impulse) == 0 {
		return nil, ErrEmptyResponse
	}
	if !(sampleRate > 0) {
		return nil, errors.New("sample rate must be positive")
	}

	size := max(bitint.NextPowerOfTwo(len(impulse)), 2)
	input := make([]float64, size)
	copy(input, impulse)

	fft := fourier.NewFFT(size)
	coeffs := fft.Coefficients(nil, input)

	magnitude := make([]float64, len(coeffs))
	for i, c := range coeffs {
		magnitude[i] = cmplx.Abs(c)
	}

	return &Response{sampleRate: sampleRate, fft: fft, magnitude: magnitude}, nil
}

// Bins returns the number of magnitude bins (N/2 + 1).
func (r *Response) Bins() int {
	return len(r.magnitude)
}

// FrequencyOfBin returns the frequency in Hz for a given bin index.
func (r *Response) FrequencyOfBin(i int) float64 {
	if i < 0 || i >= len(r.magnitude) {
		return 0
	}
	return r.fft.Freq(i) * r.sampleRate
}

// BinOf returns the bin closest to freqHz.
func (r *Response) BinOf(freqHz float64) int {
	width := r.sampleRate / float64(2*(len(r.magnitude)-1))
	bin := int(math.Round(freqHz / width))
	return min(max(bin, 0), len(r.magnitude)-1)
}

// MagnitudeAt returns the linear magnitude at the bin closest to freqHz.
func (r *Response) MagnitudeAt(freqHz float64) float64 {
	return r.magnitude[r.BinOf(freqHz)]
}

// DecibelsAt returns the magnitude at freqHz in dB relative to unity.
func (r *Response) DecibelsAt(freqHz float64) float64 {
	return ToDecibels(r.MagnitudeAt(freqHz))
}

// PeakFrequency returns the frequency of the largest magnitude between lowHz
// and highHz.
func (r *Response) PeakFrequency(lowHz, highHz float64) float64 {
	bin := utils.FindPeakBin(r.magnitude, r.BinOf(lowHz), r.BinOf(highHz))
	return r.FrequencyOfBin(bin)
}

// ToDecibels converts a linear magnitude to dB. Silence maps to -Inf.
func ToDecibels(mag float64) float64 {
	if mag <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(mag)
}
