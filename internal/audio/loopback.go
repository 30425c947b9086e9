// SPDX-License-Identifier: MIT
/*
Package audio implements a PortAudio loopback backend for per-application
routing.

Hosts without a per-process tap API can still route an application when its
audio is delivered to a dedicated capture device (a virtual loopback driver,
or an application configured to play into one). Each configured source maps
an application identity to such a device. A session then becomes:

  - tap: the capture device carrying the application's audio
  - aggregate: that device paired with the session's output device
  - I/O proc: a duplex PortAudio stream whose callback drives the session's
    DSP processor

Thread Safety:
  - Object bookkeeping is guarded by a mutex; callers are expected to be the
    single routing worker anyway.
  - The stream callback only calls dsp.Processor.Process, which never
    allocates or logs.
*/
package audio

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"appmix/internal/config"
	"appmix/internal/dsp"
	"appmix/internal/intercept"
	applog "appmix/internal/log"
	"appmix/internal/resolver"

	"github.com/gordonklaus/portaudio"
	"github.com/sirupsen/logrus"
)

var (
	// ErrMixedSources is returned when one tap would need several capture
	// devices.
	ErrMixedSources = errors.New("sources span more than one capture device")
	// ErrUnknownObject is returned for ids this backend never created.
	ErrUnknownObject = errors.New("unknown audio object")
)

// stream is the part of *portaudio.Stream the backend uses.
type stream interface {
	Start() error
	Stop() error
	Close() error
}

func openPortAudioStream(p portaudio.StreamParameters, cb func(in, out []float32)) (stream, error) {
	s, err := portaudio.OpenStream(p, cb)
	if err != nil {
		return nil, err
	}
	return s, nil
}

type aggregate struct {
	input    *portaudio.DeviceInfo
	output   *portaudio.DeviceInfo
	channels int
}

type ioProc struct {
	stream    stream
	aggregate intercept.ObjectID
	running   bool
}

// Loopback implements intercept.Platform, resolver.Inventory and
// intercept.DeviceInventory on top of PortAudio.
type Loopback struct {
	audio   config.AudioConfig
	sources []config.SourceConfig

	mu         sync.Mutex
	next       intercept.ObjectID
	taps       map[intercept.ObjectID]*portaudio.DeviceInfo
	aggregates map[intercept.ObjectID]*aggregate
	procs      map[intercept.ObjectID]*ioProc

	log *logrus.Entry
}

// NewLoopback creates a backend for the sources and stream settings in cfg.
// PortAudio must already be initialized.
func NewLoopback(cfg *config.Config) *Loopback {
	return &Loopback{
		audio:      cfg.Audio,
		sources:    cfg.Sources,
		taps:       make(map[intercept.ObjectID]*portaudio.DeviceInfo),
		aggregates: make(map[intercept.ObjectID]*aggregate),
		procs:      make(map[intercept.ObjectID]*ioProc),
		log:        applog.Component("loopback"),
	}
}

// Available implements intercept.Platform.
func (l *Loopback) Available() error {
	if len(l.sources) == 0 {
		return fmt.Errorf("%w: no loopback sources configured", intercept.ErrUnsupported)
	}
	if _, err := paDevices(); err != nil {
		return fmt.Errorf("%w: %v", intercept.ErrUnsupported, err)
	}
	return nil
}

// handleOf maps a source index to its handle. Handle 0 is never used.
func handleOf(i int) resolver.Handle { return resolver.Handle(i + 1) }

func (l *Loopback) sourceOf(h resolver.Handle) (config.SourceConfig, bool) {
	i := int(h) - 1
	if i < 0 || i >= len(l.sources) {
		return config.SourceConfig{}, false
	}
	return l.sources[i], true
}

// HandleForPID implements resolver.Inventory for sources pinned to a pid.
func (l *Loopback) HandleForPID(pid int) (resolver.Handle, bool) {
	if pid <= 0 {
		return 0, false
	}
	for i, s := range l.sources {
		if s.PID == pid {
			return handleOf(i), true
		}
	}
	return 0, false
}

// Processes implements resolver.Inventory. A source is producing output
// while its capture device is present.
func (l *Loopback) Processes() ([]resolver.Process, error) {
	infos, err := paDevices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	present := make(map[string]bool, len(infos))
	for _, info := range infos {
		if info.MaxInputChannels > 0 {
			present[strings.ToLower(strings.TrimSpace(info.Name))] = true
		}
	}

	procs := make([]resolver.Process, len(l.sources))
	for i, s := range l.sources {
		procs[i] = resolver.Process{
			Handle:        handleOf(i),
			PID:           s.PID,
			BundleID:      s.BundleID,
			Name:          s.Name,
			RunningOutput: present[strings.ToLower(strings.TrimSpace(s.Device))],
		}
	}
	return procs, nil
}

// DefaultOutput implements intercept.DeviceInventory.
func (l *Loopback) DefaultOutput() (string, error) {
	dev, err := paLibDefaultOutputDeviceFunc()
	if err != nil {
		return "", err
	}
	return dev.Name, nil
}

// CreateTap implements intercept.Platform.
func (l *Loopback) CreateTap(sources []resolver.Handle) (intercept.ObjectID, error) {
	var device string
	for _, h := range sources {
		s, ok := l.sourceOf(h)
		if !ok {
			return 0, fmt.Errorf("%w: source handle %d", ErrUnknownObject, h)
		}
		if device != "" && !strings.EqualFold(device, s.Device) {
			return 0, fmt.Errorf("%w: %q and %q", ErrMixedSources, device, s.Device)
		}
		device = s.Device
	}
	if device == "" {
		return 0, fmt.Errorf("no sources to tap")
	}

	info, err := findDevice(device, true)
	if err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.allocLocked()
	l.taps[id] = info
	l.log.WithFields(logrus.Fields{"tap": id, "device": info.Name}).Debug("Tap created")
	return id, nil
}

// CreateAggregate implements intercept.Platform. outputUID is a device name.
func (l *Loopback) CreateAggregate(tap intercept.ObjectID, outputUID string) (intercept.Aggregate, error) {
	l.mu.Lock()
	input, ok := l.taps[tap]
	l.mu.Unlock()
	if !ok {
		return intercept.Aggregate{}, fmt.Errorf("%w: tap %d", ErrUnknownObject, tap)
	}

	output, err := outputDevice(outputUID)
	if err != nil {
		return intercept.Aggregate{}, err
	}

	channels := min(l.audio.Channels, input.MaxInputChannels, output.MaxOutputChannels)
	if channels < 1 {
		return intercept.Aggregate{}, fmt.Errorf("no common channels between %q and %q", input.Name, output.Name)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.allocLocked()
	l.aggregates[id] = &aggregate{input: input, output: output, channels: channels}
	l.log.WithFields(logrus.Fields{
		"aggregate": id,
		"input":     input.Name,
		"output":    output.Name,
		"channels":  channels,
	}).Debug("Aggregate created")
	return intercept.Aggregate{ID: id, SampleRate: l.audio.SampleRate, Channels: channels}, nil
}

// CreateIOProc implements intercept.Platform by opening a duplex stream.
// The stream is not started.
func (l *Loopback) CreateIOProc(aggID intercept.ObjectID, proc *dsp.Processor) (intercept.ObjectID, error) {
	l.mu.Lock()
	agg, ok := l.aggregates[aggID]
	l.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: aggregate %d", ErrUnknownObject, aggID)
	}

	inLatency, outLatency := agg.input.DefaultHighInputLatency, agg.output.DefaultHighOutputLatency
	if l.audio.LowLatency {
		inLatency, outLatency = agg.input.DefaultLowInputLatency, agg.output.DefaultLowOutputLatency
	}
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   agg.input,
			Channels: agg.channels,
			Latency:  inLatency,
		},
		Output: portaudio.StreamDeviceParameters{
			Device:   agg.output,
			Channels: agg.channels,
			Latency:  outLatency,
		},
		SampleRate:      l.audio.SampleRate,
		FramesPerBuffer: l.audio.FramesPerBuffer,
	}

	channels := agg.channels
	s, err := paLibOpenStream(params, func(in, out []float32) {
		proc.Process(in, out, channels)
	})
	if err != nil {
		return 0, fmt.Errorf("open stream: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.allocLocked()
	l.procs[id] = &ioProc{stream: s, aggregate: aggID}
	return id, nil
}

// Start implements intercept.Platform.
func (l *Loopback) Start(_, io intercept.ObjectID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.procs[io]
	if !ok {
		return fmt.Errorf("%w: io proc %d", ErrUnknownObject, io)
	}
	if p.running {
		return nil
	}
	if err := p.stream.Start(); err != nil {
		return fmt.Errorf("start stream: %w", err)
	}
	p.running = true
	return nil
}

// Stop implements intercept.Platform.
func (l *Loopback) Stop(_, io intercept.ObjectID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.procs[io]
	if !ok {
		return fmt.Errorf("%w: io proc %d", ErrUnknownObject, io)
	}
	if !p.running {
		return nil
	}
	p.running = false
	if err := p.stream.Stop(); err != nil {
		return fmt.Errorf("stop stream: %w", err)
	}
	return nil
}

// DestroyIOProc implements intercept.Platform.
func (l *Loopback) DestroyIOProc(_, io intercept.ObjectID) error {
	l.mu.Lock()
	p, ok := l.procs[io]
	delete(l.procs, io)
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: io proc %d", ErrUnknownObject, io)
	}
	if p.running {
		_ = p.stream.Stop()
	}
	if err := p.stream.Close(); err != nil {
		return fmt.Errorf("close stream: %w", err)
	}
	return nil
}

// DestroyAggregate implements intercept.Platform.
func (l *Loopback) DestroyAggregate(agg intercept.ObjectID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.aggregates[agg]; !ok {
		return fmt.Errorf("%w: aggregate %d", ErrUnknownObject, agg)
	}
	delete(l.aggregates, agg)
	return nil
}

// DestroyTap implements intercept.Platform.
func (l *Loopback) DestroyTap(tap intercept.ObjectID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.taps[tap]; !ok {
		return fmt.Errorf("%w: tap %d", ErrUnknownObject, tap)
	}
	delete(l.taps, tap)
	return nil
}

// Live returns how many taps, aggregates and I/O procs currently exist.
func (l *Loopback) Live() (taps, aggregates, procs int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.taps), len(l.aggregates), len(l.procs)
}

func (l *Loopback) allocLocked() intercept.ObjectID {
	l.next++
	return l.next
}

var (
	_ intercept.Platform        = (*Loopback)(nil)
	_ intercept.DeviceInventory = (*Loopback)(nil)
	_ resolver.Inventory        = (*Loopback)(nil)
)
