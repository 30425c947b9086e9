// SPDX-License-Identifier: MIT

// Package cmd wires configuration, logging and the routing stack into the
// appmix command line.
package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"appmix/internal/config"
	applog "appmix/internal/log"
	"appmix/internal/types"
	"appmix/pkg/build"

	"github.com/spf13/cobra"
)

// options are the persistent flags shared by every command.
type options struct {
	configPath string
	logLevel   string
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}
	info := build.GetBuildInfo()

	rootCmd := &cobra.Command{
		Use:           info.Name,
		Short:         build.Description,
		Version:       info.String(),
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
	}
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"Path to the YAML configuration file (default: appmix.yaml or config.yaml if present)")
	rootCmd.PersistentFlags().StringVarP(&opts.logLevel, "log-level", "l", "",
		"Override the configured log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newServeCommand(opts),
		newRenderCommand(opts),
		newResponseCommand(),
		newDevicesCommand(),
	)
	return rootCmd
}

// Execute runs the command line with args.
func Execute(args []string) error {
	rootCmd := NewRootCommand()
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

// loadConfig reads the configuration and applies its logging settings.
func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	level, ok := applog.ParseLevel(cfg.LogLevel)
	if !ok {
		return nil, fmt.Errorf("unknown log level %q", cfg.LogLevel)
	}
	applog.SetLevel(level)
	if cfg.LogFormat == "json" {
		applog.UseJSON()
	}
	return cfg, nil
}

// profileFlags are the flags describing one profile on the command line.
type profileFlags struct {
	volume float64
	muted  bool
	eq     string
}

func (p *profileFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&p.volume, "volume", 1.0, "Linear volume, 0 to 1")
	cmd.Flags().BoolVar(&p.muted, "mute", false, "Mute the output")
	cmd.Flags().StringVar(&p.eq, "eq", "", "Comma separated band gains in dB, e.g. 2.5,-1.5,0,3,-2")
}

func (p *profileFlags) profile() (types.AudioProfile, error) {
	gains, err := parseGains(p.eq)
	if err != nil {
		return types.AudioProfile{}, err
	}
	if gains == nil {
		gains = types.FlatEQ(types.DefaultBands).GainsDB
	}
	return types.AudioProfile{
		Volume: p.volume,
		Muted:  p.muted,
		EQ:     types.EQSetting{GainsDB: gains},
	}, nil
}

// parseGains parses a comma separated list of band gains. Empty input yields
// nil.
func parseGains(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	gains := make([]float64, len(parts))
	for i, part := range parts {
		g, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("band %d: %w", i+1, err)
		}
		gains[i] = g
	}
	return gains, nil
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
