// SPDX-License-Identifier: MIT
package dsp

import (
	"math"
	"math/rand/v2"
	"testing"

	"appmix/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSampleRate = 48000
	testFrames     = 512
)

func randomBuffer(r *rand.Rand, n int) []float32 {
	buf := make([]float32, n)
	for i := range buf {
		buf[i] = float32(r.Float64()*2 - 1)
	}
	return buf
}

func TestProcessOutputAlwaysClamped(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))

	settings := []Params{
		{Volume: 1, GainsDB: []float64{12, 12, 12, 12, 12}},
		{Volume: 1, GainsDB: []float64{-12, 12, -12, 12, -12}},
		{Volume: 0.25, GainsDB: []float64{2.5, -1.5, 0, 3, -2}},
		{Volume: 1, Muted: true, GainsDB: []float64{12, 0, 0, 0, 12}},
		{Volume: 1, GainsDB: []float64{40, 40, 40}},
		{Volume: 1, GainsDB: make([]float64, 5)},
		{Volume: 0, GainsDB: []float64{6}},
	}

	for _, params := range settings {
		p := New()
		params.SampleRate = testSampleRate
		p.Configure(params)

		for range 20 {
			in := randomBuffer(r, testFrames*2)
			out := make([]float32, len(in))
			p.Process(in, out, 2)
			for i, v := range out {
				require.LessOrEqual(t, v, float32(1), "sample %d params %+v", i, params)
				require.GreaterOrEqual(t, v, float32(-1), "sample %d params %+v", i, params)
			}
		}
	}
}

func TestFastPathMatchesGeneralPath(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 5))
	in := randomBuffer(r, testFrames*2)
	negZero := float32(math.Copysign(0, -1))
	in = append(in, 0, negZero, 1, -1, 1.5, -3, float32(math.NaN()), float32(math.Inf(1)))

	fast := New()
	fast.Configure(Params{Volume: 1, GainsDB: make([]float64, 5), SampleRate: testSampleRate})
	require.True(t, fast.passthrough)

	general := New()
	general.Configure(Params{Volume: 1, GainsDB: make([]float64, 5), SampleRate: testSampleRate})
	general.passthrough = false

	outFast := make([]float32, len(in))
	outGeneral := make([]float32, len(in))
	fast.Process(in, outFast, 2)
	general.Process(in, outGeneral, 2)

	for i := range in {
		assert.Equal(t, math.Float32bits(outGeneral[i]), math.Float32bits(outFast[i]), "sample %d (%v)", i, in[i])
	}
}

func TestPassthroughRequiresExactUnity(t *testing.T) {
	p := New()

	p.Configure(Params{Volume: 1, GainsDB: []float64{0, 0, 0}, SampleRate: testSampleRate})
	assert.True(t, p.passthrough)

	p.Configure(Params{Volume: 0.99999, GainsDB: []float64{0, 0, 0}, SampleRate: testSampleRate})
	assert.False(t, p.passthrough)

	p.Configure(Params{Volume: 1, GainsDB: []float64{0, 1, 0}, SampleRate: testSampleRate})
	assert.False(t, p.passthrough)

	p.Configure(Params{Volume: 1, Muted: true, SampleRate: testSampleRate})
	assert.False(t, p.passthrough)
}

func TestMuteSilences(t *testing.T) {
	p := New()
	p.Configure(Params{Volume: 1, Muted: true, GainsDB: []float64{6, 0, 0, 0, 0}, SampleRate: testSampleRate})

	in := utils.GenerateComplexWave(testFrames, testSampleRate)
	out := make([]float32, len(in))
	p.Process(in, out, 1)

	for _, v := range out {
		assert.Zero(t, v)
	}
}

func TestVolumeScalesFlatSignal(t *testing.T) {
	p := New()
	p.Configure(Params{Volume: 0.5, GainsDB: make([]float64, 5), SampleRate: testSampleRate})

	in := utils.GenerateSineWave(testFrames, testSampleRate, 1000, 0.8)
	out := make([]float32, len(in))
	p.Process(in, out, 1)

	for i := range in {
		assert.InDelta(t, float64(in[i])*0.5, float64(out[i]), 1e-7)
	}
}

func TestConfigureClampsGains(t *testing.T) {
	p := New()
	p.Configure(Params{Volume: 1, GainsDB: []float64{30, -30, math.NaN()}, SampleRate: testSampleRate})

	got := p.Params()
	assert.Equal(t, []float64{12, -12, 0}, got.GainsDB)

	got.GainsDB[0] = 0
	assert.Equal(t, 12.0, p.Params().GainsDB[0])
}

func TestBandCountChangeResetsState(t *testing.T) {
	p := New()
	p.Configure(Params{Volume: 1, GainsDB: []float64{6, 6, 6, 6, 6}, SampleRate: testSampleRate})

	in := utils.GenerateComplexWave(testFrames*2, testSampleRate)
	out := make([]float32, len(in))
	p.Process(in, out, 2)
	require.NotZero(t, p.state[0][0])

	// Same band count keeps filter memory.
	p.Configure(Params{Volume: 1, GainsDB: []float64{3, 3, 3, 3, 3}, SampleRate: testSampleRate})
	assert.NotZero(t, p.state[0][0])

	p.Configure(Params{Volume: 1, GainsDB: []float64{3, 3, 3}, SampleRate: testSampleRate})
	assert.Equal(t, 3, p.Bands())
	require.Len(t, p.state, 2)
	for _, ch := range p.state {
		require.Len(t, ch, 3)
		for _, s := range ch {
			assert.Zero(t, s)
		}
	}
}

func TestChannelStateGrowsLazily(t *testing.T) {
	p := New()
	assert.Equal(t, defaultChannelHint, p.Channels())

	in := make([]float32, 6*testFrames)
	out := make([]float32, len(in))
	p.Process(in, out, 6)

	assert.Equal(t, 6, p.Channels())
	for _, ch := range p.state {
		assert.Len(t, ch, p.Bands())
	}

	// Fewer channels never shrink state.
	p.Process(in[:testFrames], out[:testFrames], 1)
	assert.Equal(t, 6, p.Channels())
}

func TestProcessSilencesUnfilledOutput(t *testing.T) {
	p := New()
	in := []float32{0.5, 0.5, 0.5}
	out := []float32{9, 9, 9, 9, 9, 9}

	p.Process(in, out, 2)
	assert.Equal(t, []float32{0.5, 0.5, 0, 0, 0, 0}, out)
}

func TestProcessPlanarMatchesInterleaved(t *testing.T) {
	params := Params{Volume: 0.7, GainsDB: []float64{4, -3, 2, 5, -6}, SampleRate: testSampleRate}

	left := utils.GenerateSineWave(testFrames, testSampleRate, 440, 0.6)
	right := utils.GenerateComplexWave(testFrames, testSampleRate)

	interleaved := make([]float32, 2*testFrames)
	for i := range testFrames {
		interleaved[2*i] = left[i]
		interleaved[2*i+1] = right[i]
	}

	pi := New()
	pi.Configure(params)
	outInterleaved := make([]float32, len(interleaved))
	pi.Process(interleaved, outInterleaved, 2)

	pp := New()
	pp.Configure(params)
	outPlanar := [][]float32{make([]float32, testFrames), make([]float32, testFrames), {7, 7}}
	pp.ProcessPlanar([][]float32{left, right}, outPlanar)

	for i := range testFrames {
		assert.Equal(t, outInterleaved[2*i], outPlanar[0][i])
		assert.Equal(t, outInterleaved[2*i+1], outPlanar[1][i])
	}
	assert.Equal(t, []float32{0, 0}, outPlanar[2])
}

func TestResetClearsMemory(t *testing.T) {
	p := New()
	p.Configure(Params{Volume: 1, GainsDB: []float64{6, 0, 0, 0, 0}, SampleRate: testSampleRate})
	in := utils.GenerateSineWave(testFrames, testSampleRate, 60, 0.5)
	p.Process(in, make([]float32, len(in)), 1)
	require.NotZero(t, p.state[0][0])

	p.Reset()
	assert.Zero(t, p.state[0][0])
}

func TestWithFrequencies(t *testing.T) {
	p := New(WithFrequencies([]float64{100, 1000, 10000}), WithQ(2), WithChannelHint(4))
	assert.Equal(t, 3, p.Bands())
	assert.Equal(t, 4, p.Channels())
	assert.Equal(t, []float64{100, 1000, 10000}, p.freqs)
	assert.Equal(t, 2.0, p.q)

	// A different band count falls back to the spread layout.
	p.Configure(Params{Volume: 1, GainsDB: make([]float64, 5), SampleRate: testSampleRate})
	assert.Equal(t, DefaultFrequencies, p.freqs)
}

func TestProcessZeroAllocs(t *testing.T) {
	p := New()
	p.Configure(Params{Volume: 0.8, GainsDB: []float64{3, -2, 1, 4, -1}, SampleRate: testSampleRate})

	in := utils.GenerateComplexWave(testFrames*2, testSampleRate)
	out := make([]float32, len(in))
	p.Process(in, out, 2)

	allocs := testing.AllocsPerRun(100, func() {
		p.Process(in, out, 2)
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in Process, got %.1f", allocs)
	}

	p.Configure(Params{Volume: 1, GainsDB: make([]float64, 5), SampleRate: testSampleRate})
	allocs = testing.AllocsPerRun(100, func() {
		p.Process(in, out, 2)
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in fast path, got %.1f", allocs)
	}
}

func BenchmarkProcessHotPath(b *testing.B) {
	benchmarks := []struct {
		name   string
		params Params
	}{
		{"Passthrough", Params{Volume: 1, GainsDB: make([]float64, 5), SampleRate: testSampleRate}},
		{"Gain only", Params{Volume: 0.5, GainsDB: make([]float64, 5), SampleRate: testSampleRate}},
		{"Five bands", Params{Volume: 0.8, GainsDB: []float64{3, -2, 1, 4, -1}, SampleRate: testSampleRate}},
	}

	in := utils.GenerateComplexWave(testFrames*2, testSampleRate)
	out := make([]float32, len(in))

	for _, bm := range benchmarks {
		b.Run(bm.name, func(b *testing.B) {
			p := New()
			p.Configure(bm.params)
			b.ReportAllocs()
			b.ResetTimer()
			for b.Loop() {
				p.Process(in, out, 2)
			}
		})
	}
}

func TestTakePeakTracksOutputLevel(t *testing.T) {
	p := New()
	p.Configure(Params{Volume: 0.5, GainsDB: make([]float64, 5), SampleRate: testSampleRate})

	in := []float32{0.2, -0.8, 0.4, 0.1}
	out := make([]float32, len(in))
	p.Process(in, out, 2)

	assert.InDelta(t, 0.4, p.TakePeak(), 1e-6)
	assert.Zero(t, p.TakePeak())

	p.Configure(Params{Volume: 1, Muted: true, GainsDB: make([]float64, 5), SampleRate: testSampleRate})
	p.Process(in, out, 2)
	assert.Zero(t, p.TakePeak())
}
