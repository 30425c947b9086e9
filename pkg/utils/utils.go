// SPDX-License-Identifier: MIT

// Package utils holds signal generators and test doubles shared by the DSP,
// analysis and routing tests and by the response command.
package utils

import (
	"math"
	"sync"
)

// MockTransport implements the Transport interface for testing.
type MockTransport struct {
	mu       sync.Mutex
	Messages []any
}

// Send stores the message for later inspection instead of transmitting.
func (m *MockTransport) Send(data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = append(m.Messages, data)
	return nil
}

// Close is a no-op.
func (m *MockTransport) Close() error { return nil }

// Sent returns a copy of every message received so far.
func (m *MockTransport) Sent() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]any, len(m.Messages))
	copy(out, m.Messages)
	return out
}

// GenerateSineWave returns size samples of a sine at frequency with the
// given peak amplitude.
func GenerateSineWave(size int, sampleRate, frequency, amplitude float64) []float32 {
	buffer := make([]float32, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = float32(math.Sin(2*math.Pi*frequency*t) * amplitude)
	}
	return buffer
}

// GenerateComplexWave returns a 440 Hz tone plus two harmonics peaking
// below full scale.
func GenerateComplexWave(size int, sampleRate float64) []float32 {
	buffer := make([]float32, size)
	for i := range buffer {
		tm := float64(i) / sampleRate
		signal := math.Sin(2*math.Pi*440*tm)*0.5 +
			math.Sin(2*math.Pi*880*tm)*0.3 +
			math.Sin(2*math.Pi*1320*tm)*0.2
		buffer[i] = float32(signal * 0.9)
	}
	return buffer
}

// GenerateImpulse returns an interleaved buffer of frames*channels samples
// with a full-scale unit impulse on every channel of the first frame.
func GenerateImpulse(frames, channels int) []float32 {
	buffer := make([]float32, frames*channels)
	for ch := 0; ch < channels && ch < len(buffer); ch++ {
		buffer[ch] = 1
	}
	return buffer
}

// Deinterleave extracts one channel of an interleaved buffer as float64.
func Deinterleave(buffer []float32, channels, channel int) []float64 {
	if channels <= 0 || channel < 0 || channel >= channels {
		return nil
	}
	out := make([]float64, 0, len(buffer)/channels)
	for i := channel; i < len(buffer); i += channels {
		out = append(out, float64(buffer[i]))
	}
	return out
}

// FindPeakBin returns the index of the largest magnitude in
// [startBin, endBin].
func FindPeakBin(magnitudes []float64, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}

	if startBin < 0 {
		startBin = 0
	}

	if endBin >= len(magnitudes) {
		endBin = len(magnitudes) - 1
	}

	peakBin := startBin
	peakValue := magnitudes[startBin]

	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > peakValue {
			peakValue = magnitudes[bin]
			peakBin = bin
		}
	}

	return peakBin
}
