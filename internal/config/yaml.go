// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	applog "appmix/internal/log"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "APPMIX_"

// DefaultPaths are searched in order when no path is given.
var DefaultPaths = []string{"appmix.yaml", "config.yaml"}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadConfig loads configuration from a YAML file specified by path. If path is empty,
// it searches DefaultPaths. If no file is found, it uses built-in defaults.
// Environment overrides are applied after the file, then the result is
// validated.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		for _, candidate := range DefaultPaths {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks every field against its constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

// applyEnvOverrides reads APPMIX_* variables. Malformed values are an error
// rather than silently ignored.
func (c *Config) applyEnvOverrides() error {
	str := func(name string, dst *string) {
		if val, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = strings.TrimSpace(val)
			applog.Debugf("configuration: overriding %s from env: %s", name, *dst)
		}
	}
	var errs []error
	parsed := func(name string, parse func(string) error) {
		if val, ok := os.LookupEnv(EnvPrefix + name); ok {
			if err := parse(strings.TrimSpace(val)); err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			applog.Debugf("configuration: overriding %s from env: %s", name, val)
		}
	}

	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("BACKEND", &c.Backend)
	str("CONTROL_ADDRESS", &c.Control.Address)
	str("METERS_TARGET", &c.Meters.Target)

	parsed("SAMPLE_RATE", func(v string) (err error) {
		c.Audio.SampleRate, err = strconv.ParseFloat(v, 64)
		return err
	})
	parsed("FRAMES_PER_BUFFER", func(v string) (err error) {
		c.Audio.FramesPerBuffer, err = strconv.Atoi(v)
		return err
	})
	parsed("CONTROL_ENABLED", func(v string) (err error) {
		c.Control.Enabled, err = strconv.ParseBool(v)
		return err
	})
	parsed("METERS_ENABLED", func(v string) (err error) {
		c.Meters.Enabled, err = strconv.ParseBool(v)
		return err
	})
	parsed("METERS_INTERVAL", func(v string) (err error) {
		c.Meters.Interval, err = time.ParseDuration(v)
		return err
	})

	return errors.Join(errs...)
}
