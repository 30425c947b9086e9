// SPDX-License-Identifier: MIT
package cmd

import (
	"fmt"
	"slices"

	"appmix/internal/analysis"
	"appmix/internal/audio"
	"appmix/internal/dsp"
	"appmix/internal/render"
	"appmix/pkg/utils"

	"github.com/spf13/cobra"
)

func newRenderCommand(opts *options) *cobra.Command {
	pf := &profileFlags{}
	cmd := &cobra.Command{
		Use:   "render <input.wav> <output.wav>",
		Short: "Apply a profile's volume and EQ to a WAV file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			profile, err := pf.profile()
			if err != nil {
				return err
			}
			stats, err := render.File(args[0], args[1], profile, render.WithDSPOptions(cfg.DSPOptions()...))
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "%d frames, %d ch, %d Hz, %d-bit\n",
				stats.Frames, stats.Channels, stats.SampleRate, stats.BitDepth)
			printf(cmd.OutOrStdout(), "peak in %.2f dBFS, out %.2f dBFS\n",
				analysis.ToDecibels(float64(stats.InputPeak)), analysis.ToDecibels(float64(stats.OutputPeak)))
			return nil
		},
	}
	pf.register(cmd)
	return cmd
}

type responseFlags struct {
	profileFlags
	sampleRate float64
	frames     int
	q          float64
}

func newResponseCommand() *cobra.Command {
	rf := &responseFlags{}
	cmd := &cobra.Command{
		Use:   "response",
		Short: "Print the frequency response of a profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := rf.profile()
			if err != nil {
				return err
			}
			points, err := frequencyResponse(profile.Volume, profile.Muted, profile.EQ.GainsDB, rf.sampleRate, rf.frames, rf.q)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			printf(w, "%10s  %8s\n", "Hz", "dB")
			for _, p := range points {
				printf(w, "%10.1f  %8.2f\n", p.hz, p.db)
			}
			return nil
		},
	}
	rf.register(cmd)
	cmd.Flags().Float64Var(&rf.sampleRate, "sample-rate", 48000, "Sample rate, measured in Hertz (Hz)")
	cmd.Flags().IntVar(&rf.frames, "frames", 8192, "Impulse response length in frames")
	cmd.Flags().Float64Var(&rf.q, "q", dsp.DefaultQ, "Q factor of every band")
	return cmd
}

type responsePoint struct {
	hz float64
	db float64
}

// frequencyResponse measures the processor's impulse response at every band
// centre and at octave points from 31.25 Hz up to Nyquist.
func frequencyResponse(volume float64, muted bool, gains []float64, sampleRate float64, frames int, q float64) ([]responsePoint, error) {
	if !(sampleRate > 0) || frames < 2 {
		return nil, fmt.Errorf("invalid sample rate %.0f or frame count %d", sampleRate, frames)
	}

	proc := dsp.New(dsp.WithQ(q), dsp.WithChannelHint(1))
	proc.Configure(dsp.Params{Volume: volume, Muted: muted, GainsDB: gains, SampleRate: sampleRate})

	impulse := utils.GenerateImpulse(frames, 1)
	out := make([]float32, len(impulse))
	proc.Process(impulse, out, 1)

	resp, err := analysis.NewResponse(utils.Deinterleave(out, 1, 0), sampleRate)
	if err != nil {
		return nil, err
	}

	var freqs []float64
	for f := 31.25; f < sampleRate/2; f *= 2 {
		freqs = append(freqs, f)
	}
	freqs = append(freqs, dsp.BandFrequencies(len(gains))...)
	slices.Sort(freqs)
	freqs = slices.Compact(freqs)

	points := make([]responsePoint, 0, len(freqs))
	for _, f := range freqs {
		if f >= sampleRate/2 {
			continue
		}
		points = append(points, responsePoint{hz: f, db: resp.DecibelsAt(f)})
	}
	return points, nil
}

func newDevicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List available audio devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := audio.Initialize(); err != nil {
				return err
			}
			defer audio.Terminate()
			return audio.ListDevices(cmd.OutOrStdout())
		},
	}
}
