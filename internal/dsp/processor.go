// SPDX-License-Identifier: MIT

/*
Package dsp implements the per-session gain, mute and peaking-EQ cascade that
runs inside the real-time audio callback.

Thread Safety:
  - Configure is called from the control path, Process/ProcessPlanar from the
    audio thread. Both take the same mutex for their whole duration.
  - Process never logs and never allocates once channel state covers the
    observed channel count. Channel state for two channels is preallocated.
*/
package dsp

import (
	"math"
	"slices"
	"sync"
)

const defaultChannelHint = 2

// Params is one complete parameter set for a Processor.
type Params struct {
	Volume     float64   // linear gain, 1.0 = unity
	Muted      bool      // forces the effective gain to 0
	GainsDB    []float64 // one entry per band, clamped to [-12, +12]
	SampleRate float64   // Hz
}

// Option configures a Processor at construction.
type Option func(*Processor)

// WithFrequencies fixes the band centre frequencies. They are used whenever
// the configured band count matches len(freqs).
func WithFrequencies(freqs []float64) Option {
	return func(p *Processor) {
		p.fixedFreqs = slices.Clone(freqs)
	}
}

// WithQ sets the Q factor of every band.
func WithQ(q float64) Option {
	return func(p *Processor) {
		if q > 0 {
			p.q = q
		}
	}
}

// WithChannelHint preallocates filter state for n channels.
func WithChannelHint(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.channelHint = n
		}
	}
}

// Processor is the stateful per-session transform.
type Processor struct {
	mu sync.Mutex

	q           float64
	fixedFreqs  []float64
	channelHint int

	params Params
	freqs  []float64
	coeffs []Coefficients
	bypass []bool
	gain   float64

	// passthrough is set when every band is identity and gain is exactly 1.
	passthrough bool

	// peak is the largest absolute output sample since the last TakePeak.
	peak float32

	// state[channel][band]
	state [][]biquadState
}

// New returns a Processor configured with unity gain and a flat five band EQ
// at 48 kHz.
func New(opts ...Option) *Processor {
	p := &Processor{
		q:           DefaultQ,
		channelHint: defaultChannelHint,
	}
	for _, opt := range opts {
		opt(p)
	}
	n := len(DefaultFrequencies)
	if len(p.fixedFreqs) > 0 {
		n = len(p.fixedFreqs)
	}
	p.Configure(Params{Volume: 1, GainsDB: make([]float64, n), SampleRate: 48000})
	return p
}

// Configure replaces every parameter. A change in band count or sample rate
// resets all filter memory.
func (p *Processor) Configure(params Params) {
	gains := make([]float64, len(params.GainsDB))
	for i, g := range params.GainsDB {
		gains[i] = clampGainDB(g)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	reset := len(gains) != len(p.coeffs) || params.SampleRate != p.params.SampleRate
	if len(gains) != len(p.coeffs) {
		p.freqs = p.frequencies(len(gains))
		p.coeffs = make([]Coefficients, len(gains))
		p.bypass = make([]bool, len(gains))
	}

	passthrough := true
	for i, g := range gains {
		p.coeffs[i] = Peaking(p.freqs[i], g, p.q, params.SampleRate)
		p.bypass[i] = p.coeffs[i].IsIdentity()
		passthrough = passthrough && p.bypass[i]
	}

	gain := params.Volume
	if params.Muted || math.IsNaN(gain) || gain < 0 {
		gain = 0
	}
	p.gain = gain
	p.passthrough = passthrough && gain == 1.0

	p.params = Params{
		Volume:     params.Volume,
		Muted:      params.Muted,
		GainsDB:    gains,
		SampleRate: params.SampleRate,
	}

	if reset || p.state == nil {
		p.state = p.newState(max(len(p.state), p.channelHint), len(gains))
	}
}

// Params returns a copy of the current parameters (gains clamped).
func (p *Processor) Params() Params {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.params
	out.GainsDB = slices.Clone(p.params.GainsDB)
	return out
}

// Bands returns the current cascade width.
func (p *Processor) Bands() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.coeffs)
}

// Channels returns how many channels currently have filter state.
func (p *Processor) Channels() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.state)
}

// Reset clears all filter memory.
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.state {
		clear(ch)
	}
}

// TakePeak returns the largest absolute output sample produced since the
// previous call and starts a new measurement.
func (p *Processor) TakePeak() float32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	peak := p.peak
	p.peak = 0
	return peak
}

// Process transforms interleaved samples from in to out. Samples of out
// beyond len(in) are silenced. in and out may alias.
func (p *Processor) Process(in, out []float32, channels int) {
	if channels <= 0 {
		channels = 1
	}
	n := min(len(in), len(out))
	n -= n % channels

	p.mu.Lock()
	p.ensureChannels(channels)

	if p.passthrough {
		copy(out[:n], in[:n])
		clampBuffer(out[:n])
	} else {
		for i := 0; i < n; i += channels {
			for ch := range channels {
				out[i+ch] = p.tick(ch, in[i+ch])
			}
		}
	}
	p.peak = max(p.peak, peakOf(out[:n]))
	p.mu.Unlock()

	clear(out[n:])
}

// ProcessPlanar transforms non-interleaved buffers, one slice per channel.
func (p *Processor) ProcessPlanar(in, out [][]float32) {
	channels := min(len(in), len(out))

	p.mu.Lock()
	p.ensureChannels(channels)

	for ch := range channels {
		src, dst := in[ch], out[ch]
		n := min(len(src), len(dst))
		if p.passthrough {
			copy(dst[:n], src[:n])
			clampBuffer(dst[:n])
		} else {
			for i := range n {
				dst[i] = p.tick(ch, src[i])
			}
		}
		p.peak = max(p.peak, peakOf(dst[:n]))
		clear(dst[n:])
	}
	p.mu.Unlock()

	for ch := channels; ch < len(out); ch++ {
		clear(out[ch])
	}
}

// tick runs one sample of one channel through the cascade, gain and clamp.
// Caller holds p.mu.
func (p *Processor) tick(ch int, sample float32) float32 {
	x := float64(sample)
	st := p.state[ch]
	for b := range p.coeffs {
		if p.bypass[b] {
			continue
		}
		x = st[b].tick(&p.coeffs[b], x)
	}
	return clampSample(x * p.gain)
}

// ensureChannels grows channel state lazily. Caller holds p.mu.
func (p *Processor) ensureChannels(channels int) {
	if channels <= len(p.state) {
		return
	}
	grown := p.newState(channels, len(p.coeffs))
	copy(grown, p.state)
	p.state = grown
}

func (p *Processor) newState(channels, bands int) [][]biquadState {
	state := make([][]biquadState, channels)
	for ch := range state {
		state[ch] = make([]biquadState, bands)
	}
	return state
}

func (p *Processor) frequencies(n int) []float64 {
	if len(p.fixedFreqs) == n {
		return slices.Clone(p.fixedFreqs)
	}
	return BandFrequencies(n)
}

func clampGainDB(g float64) float64 {
	if math.IsNaN(g) {
		return 0
	}
	return min(max(g, -12), 12)
}

// clampSample maps x into [-1, 1]; NaN becomes silence.
func clampSample(x float64) float32 {
	switch {
	case x > 1:
		return 1
	case x < -1:
		return -1
	case x != x:
		return 0
	}
	return float32(x)
}

func peakOf(buf []float32) float32 {
	var peak float32
	for _, v := range buf {
		peak = max(peak, float32(math.Abs(float64(v))))
	}
	return peak
}

func clampBuffer(buf []float32) {
	for i, v := range buf {
		buf[i] = clampSample(float64(v))
	}
}
