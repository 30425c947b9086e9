// SPDX-License-Identifier: MIT

// Package render applies a routing profile's DSP to a WAV file offline, so an
// EQ setting can be auditioned or checked without a live session.
package render

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"appmix/internal/dsp"
	applog "appmix/internal/log"
	"appmix/internal/types"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	defaultBlockFrames = 4096

	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

// ErrUnsupportedFormat is returned for inputs that are not integer PCM WAV.
var ErrUnsupportedFormat = errors.New("unsupported wav format")

// Stats summarises one render.
type Stats struct {
	Frames     int
	Channels   int
	SampleRate int
	BitDepth   int
	InputPeak  float32
	OutputPeak float32
}

// Option configures a render.
type Option func(*options)

type options struct {
	dsp         []dsp.Option
	blockFrames int
}

// WithDSPOptions passes options to the processor.
func WithDSPOptions(opts ...dsp.Option) Option {
	return func(o *options) { o.dsp = opts }
}

// WithBlockFrames sets how many frames are processed per block.
func WithBlockFrames(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.blockFrames = n
		}
	}
}

// File renders inPath through profile into outPath, keeping the input's
// sample rate, channel count and bit depth.
func File(inPath, outPath string, profile types.AudioProfile, opts ...Option) (Stats, error) {
	in, err := os.Open(inPath)
	if err != nil {
		return Stats{}, err
	}
	defer in.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return Stats{}, err
	}

	stats, err := Render(in, out, profile, opts...)
	if cerr := out.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return stats, err
	}

	applog.WithFields(applog.Fields{
		"component":   "render",
		"input":       inPath,
		"output":      outPath,
		"frames":      stats.Frames,
		"output_peak": stats.OutputPeak,
	}).Info("Render complete")
	return stats, nil
}

// Render decodes PCM WAV from r, processes it block by block and encodes the
// result to w.
func Render(r io.ReadSeeker, w io.WriteSeeker, profile types.AudioProfile, opts ...Option) (Stats, error) {
	o := options{blockFrames: defaultBlockFrames}
	for _, opt := range opts {
		opt(&o)
	}

	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Stats{}, fmt.Errorf("%w: not a valid wav file", ErrUnsupportedFormat)
	}
	if dec.WavAudioFormat != wavFormatPCM && dec.WavAudioFormat != wavFormatExtensible {
		return Stats{}, fmt.Errorf("%w: audio format %d", ErrUnsupportedFormat, dec.WavAudioFormat)
	}

	format := dec.Format()
	bitDepth := int(dec.BitDepth)
	if format == nil || format.NumChannels < 1 || bitDepth < 8 || bitDepth > 32 {
		return Stats{}, fmt.Errorf("%w: %d-bit", ErrUnsupportedFormat, bitDepth)
	}
	channels := format.NumChannels

	stats := Stats{Channels: channels, SampleRate: format.SampleRate, BitDepth: bitDepth}

	p := profile.Snapshot()
	proc := dsp.New(append([]dsp.Option{dsp.WithChannelHint(channels)}, o.dsp...)...)
	proc.Configure(dsp.Params{
		Volume:     p.Volume,
		Muted:      p.Muted,
		GainsDB:    p.EQ.GainsDB,
		SampleRate: float64(format.SampleRate),
	})

	enc := wav.NewEncoder(w, format.SampleRate, bitDepth, channels, wavFormatPCM)

	scale := math.Ldexp(1, bitDepth-1)
	// 8-bit PCM is unsigned with silence at 128.
	bias := 0
	if bitDepth == 8 {
		bias = 128
	}
	samples := o.blockFrames * channels
	in := &audio.IntBuffer{Format: format, Data: make([]int, samples), SourceBitDepth: bitDepth}
	outBuf := &audio.IntBuffer{Format: format, Data: make([]int, samples), SourceBitDepth: bitDepth}
	fin := make([]float32, samples)
	fout := make([]float32, samples)

	for {
		n, err := dec.PCMBuffer(in)
		if err != nil && !errors.Is(err, io.EOF) {
			return stats, fmt.Errorf("decode: %w", err)
		}
		n -= n % channels
		if n == 0 {
			break
		}

		for i, v := range in.Data[:n] {
			fin[i] = float32(float64(v-bias) / scale)
		}
		stats.InputPeak = max(stats.InputPeak, peak(fin[:n]))

		proc.Process(fin[:n], fout[:n], channels)
		stats.OutputPeak = max(stats.OutputPeak, peak(fout[:n]))

		outBuf.Data = outBuf.Data[:n]
		for i, v := range fout[:n] {
			outBuf.Data[i] = toInt(v, scale) + bias
		}
		if err := enc.Write(outBuf); err != nil {
			return stats, fmt.Errorf("encode: %w", err)
		}
		stats.Frames += n / channels

		if errors.Is(err, io.EOF) {
			break
		}
	}

	if err := enc.Close(); err != nil {
		return stats, fmt.Errorf("finalize wav: %w", err)
	}
	return stats, nil
}

// toInt maps a sample in [-1, 1] back to the integer range, so that integer
// input rendered flat comes back unchanged.
func toInt(v float32, scale float64) int {
	x := math.Round(float64(v) * scale)
	return int(min(max(x, -scale), scale-1))
}

func peak(buf []float32) float32 {
	var p float32
	for _, v := range buf {
		p = max(p, float32(math.Abs(float64(v))))
	}
	return p
}
