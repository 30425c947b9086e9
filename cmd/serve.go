// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"

	"appmix/internal/audio"
	"appmix/internal/config"
	"appmix/internal/intercept"
	applog "appmix/internal/log"
	"appmix/internal/resolver"
	"appmix/internal/routing"
	"appmix/internal/transport"
	"appmix/internal/transport/udp"
	"appmix/internal/types"

	"github.com/spf13/cobra"
)

func newServeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the routing daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

// daemon holds everything serve starts, in start order.
type daemon struct {
	facade    *routing.Facade
	control   *transport.WebSocketTransport
	meters    *udp.UDPPublisher
	sender    *udp.UDPSender
	events    transport.Transport
	terminate func() error
}

// serve runs until ctx is done.
//
// Startup (cold path): backend, router, facade, control and meters.
// Running: the facade worker and the audio callbacks.
// Shutdown (cold path): stop meters, tear down sessions, close transports,
// terminate PortAudio.
func serve(ctx context.Context, cfg *config.Config) error {
	log := applog.Component("serve")

	d, err := start(cfg)
	if err != nil {
		return err
	}
	defer d.shutdown()

	applyStartupProfiles(d.facade, cfg.Profiles)

	log.WithField("backend", cfg.Backend).Info("Routing daemon running")
	<-ctx.Done()
	log.Info("Shutting down")
	return nil
}

func start(cfg *config.Config) (*daemon, error) {
	d := &daemon{}
	sinks := transport.Multi{transport.NewLoggingTransport()}

	if cfg.Control.Enabled {
		d.control = transport.NewWebSocketTransport(nil)
		if err := d.control.Start(cfg.Control.Address); err != nil {
			d.control.Close()
			return nil, err
		}
		sinks = append(sinks, d.control)
	}
	d.events = sinks

	platform, inventory, devices, terminate, err := selectBackend(cfg)
	if err != nil {
		d.shutdown()
		return nil, err
	}
	d.terminate = terminate

	routerOpts := []intercept.Option{
		intercept.WithEvents(d.events),
		intercept.WithDSPOptions(cfg.DSPOptions()...),
		intercept.WithFallbackSampleRate(cfg.Audio.SampleRate),
	}
	if devices != nil {
		routerOpts = append(routerOpts, intercept.WithDevices(devices))
	}
	d.facade = routing.New(intercept.NewRouter(platform, inventory, routerOpts...))
	if d.control != nil {
		d.control.SetController(d.facade)
	}

	if cfg.Meters.Enabled {
		sender, err := udp.NewUDPSender(cfg.Meters.Target)
		if err != nil {
			d.shutdown()
			return nil, err
		}
		d.sender = sender
		meters, err := udp.NewUDPPublisher(cfg.Meters.Interval, sender, d.facade)
		if err != nil {
			d.shutdown()
			return nil, err
		}
		d.meters = meters
		d.meters.Start()
	}
	return d, nil
}

// selectBackend picks the platform once. With backend "auto" a loopback
// backend that cannot start degrades to the stub router.
func selectBackend(cfg *config.Config) (intercept.Platform, resolver.Inventory, intercept.DeviceInventory, func() error, error) {
	log := applog.Component("serve")
	if cfg.Backend == config.BackendStub {
		return nil, nil, nil, nil, nil
	}

	if err := audio.Initialize(); err != nil {
		if cfg.Backend == config.BackendLoopback {
			return nil, nil, nil, nil, err
		}
		log.WithError(err).Warn("Audio backend unavailable")
		return nil, nil, nil, nil, nil
	}

	l := audio.NewLoopback(cfg)
	if err := l.Available(); err != nil && cfg.Backend == config.BackendLoopback {
		_ = audio.Terminate()
		return nil, nil, nil, nil, fmt.Errorf("loopback backend: %w", err)
	}
	return l, l, l, audio.Terminate, nil
}

// applyStartupProfiles routes every configured profile. Keys are bundle
// identifiers, or "pid:<n>" for a bare process.
func applyStartupProfiles(f *routing.Facade, profiles map[string]config.ProfileConfig) {
	log := applog.Component("serve")
	keys := make([]string, 0, len(profiles))
	for k := range profiles {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, key := range keys {
		session := sessionForKey(key)
		if err := f.Apply(profiles[key].Profile(), session); err != nil {
			log.WithError(err).WithField("app_id", key).Warn("Startup profile not applied")
		}
	}
}

func sessionForKey(key string) types.ApplicationSession {
	key = strings.TrimSpace(key)
	if rest, ok := strings.CutPrefix(key, "pid:"); ok {
		if pid, err := strconv.Atoi(rest); err == nil {
			return types.ApplicationSession{PID: pid}
		}
	}
	return types.ApplicationSession{BundleID: key}
}

func (d *daemon) shutdown() {
	log := applog.Component("serve")
	if d.meters != nil {
		_ = d.meters.Close()
	}
	if d.sender != nil {
		_ = d.sender.Close()
	}
	if d.facade != nil {
		d.facade.Close()
	}
	if d.events != nil {
		if err := d.events.Close(); err != nil {
			log.WithError(err).Warn("Closing event transports")
		}
		d.events = nil
	}
	if d.terminate != nil {
		if err := d.terminate(); err != nil {
			log.WithError(err).Warn("Terminating audio backend")
		}
		d.terminate = nil
	}
}
