// SPDX-License-Identifier: MIT

// Package intercept owns the lifecycle of per-application intercept
// sessions: one tap, one private aggregate device and one registered I/O
// callback per routed application, plus the DSP processor that callback
// drives.
//
// Per application the state machine is
//
//	Absent → Resolving → Active → (Active | Rebuilding) → Destroyed
//
// Parameter-only changes update the processor in place. A changed source set
// or output target tears the session down and builds a new one. A failed
// build leaves the application unrouted, never half-routed.
package intercept

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"appmix/internal/dsp"
	applog "appmix/internal/log"
	"appmix/internal/resolver"
	"appmix/internal/types"

	"github.com/sirupsen/logrus"
)

const (
	defaultEmptyLogWindow = 10 * time.Second
	defaultSampleRate     = 48000.0
	maxEmptyLogEntries    = 256
)

// Option configures a Manager.
type Option func(*Manager)

// WithDevices sets the default-output collaborator.
func WithDevices(d DeviceInventory) Option {
	return func(m *Manager) { m.devices = d }
}

// WithEvents sets the sink for lifecycle events.
func WithEvents(sink EventSink) Option {
	return func(m *Manager) { m.events = sink }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithEmptyLogWindow sets how long an identical empty-resolution diagnostic
// stays suppressed.
func WithEmptyLogWindow(d time.Duration) Option {
	return func(m *Manager) { m.emptyWindow = d }
}

// WithDSPOptions passes options to every processor the Manager creates.
func WithDSPOptions(opts ...dsp.Option) Option {
	return func(m *Manager) { m.dspOptions = opts }
}

// WithFallbackSampleRate is used when a platform aggregate reports none.
func WithFallbackSampleRate(hz float64) Option {
	return func(m *Manager) {
		if hz > 0 {
			m.sampleRate = hz
		}
	}
}

// session is one live intercept. It is never mutated apart from DSP
// parameters and the candidate pid set; any other change rebuilds it.
type session struct {
	appID     string
	tap       ObjectID
	aggregate Aggregate
	ioProc    ObjectID
	output    string
	sources   []resolver.Handle
	pids      []int
	processor *dsp.Processor
}

// SessionInfo is a read-only view of a live session.
type SessionInfo struct {
	AppID      string
	Tap        ObjectID
	Aggregate  ObjectID
	IOProc     ObjectID
	Output     string
	SampleRate float64
	Sources    []resolver.Handle
	PIDs       []int
	Params     dsp.Params
}

// Manager is the arena of intercept sessions keyed by application id. It is
// touched only from the routing worker and needs no locking of its own; the
// processors it hands to the platform carry their own lock.
type Manager struct {
	platform   Platform
	inventory  resolver.Inventory
	devices    DeviceInventory
	events     EventSink
	dspOptions []dsp.Option
	sampleRate float64

	sessions map[string]*session

	now         func() time.Time
	emptyWindow time.Duration
	emptyLogged map[string]time.Time

	log *logrus.Entry
}

// NewManager returns a Manager using p for OS resources and inv for process
// resolution.
func NewManager(p Platform, inv resolver.Inventory, opts ...Option) *Manager {
	m := &Manager{
		platform:    p,
		inventory:   inv,
		sampleRate:  defaultSampleRate,
		sessions:    make(map[string]*session),
		now:         time.Now,
		emptyWindow: defaultEmptyLogWindow,
		emptyLogged: make(map[string]time.Time),
		log:         applog.Component("intercept"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Apply moves the application's state machine toward the requested profile.
func (m *Manager) Apply(req types.RoutingRequest) {
	log := m.log.WithField("app_id", req.AppID)
	existing := m.sessions[req.AppID]

	if !types.NeedsSession(req.Profile) {
		if existing != nil {
			m.destroy(existing, "profile is default")
		}
		return
	}

	output := m.outputTarget(req.Profile)
	res := resolver.Resolve(m.inventory, req.PIDs, req.BundleID, req.DisplayName)

	if res.Status != resolver.Resolved {
		if existing != nil {
			if existing.output == output {
				// Termination is reported by the app monitor, not by a miss here.
				m.update(existing, req)
				return
			}
			// An output change always rebuilds; with nothing to rebuild onto
			// the application is left unrouted.
			m.destroy(existing, "rebuild")
		}
		if m.logEmpty(req, res) {
			m.emit(Event{Kind: EventResolutionEmpty, AppID: req.AppID, Reason: res.Status.String()})
		}
		return
	}

	if existing != nil {
		if existing.output == output && slices.Equal(existing.sources, res.Handles) {
			m.update(existing, req)
			return
		}
		log.WithFields(logrus.Fields{
			"old_output": existing.output,
			"new_output": output,
			"sources":    len(res.Handles),
		}).Info("Rebuilding intercept session")
		m.destroy(existing, "rebuild")
	}

	s, err := m.create(req, res.Handles, output)
	if err != nil {
		log.WithError(err).Warn("Intercept session not created")
		m.emit(Event{Kind: EventFailed, AppID: req.AppID, Output: output, Reason: err.Error()})
		return
	}

	m.sessions[req.AppID] = s
	delete(m.emptyLogged, emptySignature(req))
	log.WithFields(logrus.Fields{
		"tap":       s.tap,
		"aggregate": s.aggregate.ID,
		"io_proc":   s.ioProc,
		"output":    s.output,
		"sources":   s.sources,
	}).Info("Intercept session active")
	m.emit(Event{Kind: EventCreated, AppID: req.AppID, Output: output, Sources: s.sources})
}

// Clear destroys the application's session, if any.
func (m *Manager) Clear(appID string) {
	if s := m.sessions[appID]; s != nil {
		m.destroy(s, "cleared")
	}
}

// Active returns the ids of every routed application, sorted.
func (m *Manager) Active() []string {
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Session returns a view of the application's session.
func (m *Manager) Session(appID string) (SessionInfo, bool) {
	s := m.sessions[appID]
	if s == nil {
		return SessionInfo{}, false
	}
	return SessionInfo{
		AppID:      s.appID,
		Tap:        s.tap,
		Aggregate:  s.aggregate.ID,
		IOProc:     s.ioProc,
		Output:     s.output,
		SampleRate: s.aggregate.SampleRate,
		Sources:    slices.Clone(s.sources),
		PIDs:       slices.Clone(s.pids),
		Params:     s.processor.Params(),
	}, true
}

// Level is the output peak of one session since the previous Levels call.
type Level struct {
	AppID string
	Peak  float32
}

// Levels samples and resets the output peak of every session, sorted by
// application id.
func (m *Manager) Levels() []Level {
	ids := m.Active()
	levels := make([]Level, 0, len(ids))
	for _, id := range ids {
		levels = append(levels, Level{AppID: id, Peak: m.sessions[id].processor.TakePeak()})
	}
	return levels
}

// Close destroys every session.
func (m *Manager) Close() {
	for _, id := range m.Active() {
		m.destroy(m.sessions[id], "shutdown")
	}
}

func (m *Manager) outputTarget(p types.AudioProfile) string {
	if p.OutputDeviceID != "" {
		return p.OutputDeviceID
	}
	if m.devices == nil {
		return ""
	}
	uid, err := m.devices.DefaultOutput()
	if err != nil {
		m.log.WithError(err).Debug("Default output unknown, using system default")
		return ""
	}
	return uid
}

func (m *Manager) update(s *session, req types.RoutingRequest) {
	s.processor.Configure(m.params(req.Profile, s.aggregate.SampleRate))
	s.pids = req.PIDs
	m.log.WithFields(logrus.Fields{
		"app_id": req.AppID,
		"volume": req.Profile.Volume,
		"muted":  req.Profile.Muted,
	}).Debug("Intercept session updated in place")
	m.emit(Event{Kind: EventUpdated, AppID: req.AppID, Output: s.output, Sources: s.sources})
}

// create builds tap → aggregate → I/O proc → start. On any failure the
// resources created so far are released in reverse order.
func (m *Manager) create(req types.RoutingRequest, sources []resolver.Handle, output string) (*session, error) {
	var undo []func() error
	rollback := func() {
		for i := len(undo) - 1; i >= 0; i-- {
			if err := undo[i](); err != nil {
				m.log.WithField("app_id", req.AppID).WithError(err).Warn("Rollback step failed")
			}
		}
	}

	tap, err := m.platform.CreateTap(sources)
	if err != nil {
		return nil, fmt.Errorf("create tap: %w", err)
	}
	undo = append(undo, func() error { return m.platform.DestroyTap(tap) })

	agg, err := m.platform.CreateAggregate(tap, output)
	if err != nil {
		rollback()
		return nil, fmt.Errorf("create aggregate device: %w", err)
	}
	undo = append(undo, func() error { return m.platform.DestroyAggregate(agg.ID) })

	proc := dsp.New(m.dspOptions...)
	proc.Configure(m.params(req.Profile, agg.SampleRate))

	io, err := m.platform.CreateIOProc(agg.ID, proc)
	if err != nil {
		rollback()
		return nil, fmt.Errorf("register io proc: %w", err)
	}
	undo = append(undo, func() error { return m.platform.DestroyIOProc(agg.ID, io) })

	if err := m.platform.Start(agg.ID, io); err != nil {
		rollback()
		return nil, fmt.Errorf("start io proc: %w", err)
	}

	return &session{
		appID:     req.AppID,
		tap:       tap,
		aggregate: agg,
		ioProc:    io,
		output:    output,
		sources:   slices.Clone(sources),
		pids:      slices.Clone(req.PIDs),
		processor: proc,
	}, nil
}

// destroy releases a session in strict reverse-creation order and removes
// it from the arena. Failing steps are logged and the rest still run.
func (m *Manager) destroy(s *session, reason string) {
	log := m.log.WithFields(logrus.Fields{"app_id": s.appID, "reason": reason})

	steps := []struct {
		name string
		fn   func() error
	}{
		{"stop io proc", func() error { return m.platform.Stop(s.aggregate.ID, s.ioProc) }},
		{"destroy io proc", func() error { return m.platform.DestroyIOProc(s.aggregate.ID, s.ioProc) }},
		{"destroy aggregate device", func() error { return m.platform.DestroyAggregate(s.aggregate.ID) }},
		{"destroy tap", func() error { return m.platform.DestroyTap(s.tap) }},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			log.WithError(err).Warnf("Teardown: %s failed", step.name)
		}
	}

	delete(m.sessions, s.appID)
	log.Info("Intercept session destroyed")
	m.emit(Event{Kind: EventDestroyed, AppID: s.appID, Output: s.output, Reason: reason})
}

func (m *Manager) params(p types.AudioProfile, sampleRate float64) dsp.Params {
	if !(sampleRate > 0) {
		sampleRate = m.sampleRate
	}
	return dsp.Params{
		Volume:     p.Volume,
		Muted:      p.Muted,
		GainsDB:    p.EQ.GainsDB,
		SampleRate: sampleRate,
	}
}

// logEmpty logs a resolution miss at most once per candidate signature per
// window and reports whether it logged.
func (m *Manager) logEmpty(req types.RoutingRequest, res resolver.Result) bool {
	now := m.now()
	sig := emptySignature(req)
	if last, ok := m.emptyLogged[sig]; ok && now.Sub(last) < m.emptyWindow {
		return false
	}

	if len(m.emptyLogged) >= maxEmptyLogEntries {
		for k, t := range m.emptyLogged {
			if now.Sub(t) >= m.emptyWindow {
				delete(m.emptyLogged, k)
			}
		}
	}
	m.emptyLogged[sig] = now

	entry := m.log.WithFields(logrus.Fields{
		"app_id": req.AppID,
		"pids":   req.PIDs,
		"status": res.Status.String(),
	})
	if res.Err != nil {
		entry = entry.WithError(res.Err)
	}
	entry.Info("No audio-producing process for application yet")
	return true
}

func emptySignature(req types.RoutingRequest) string {
	var b strings.Builder
	b.WriteString(req.AppID)
	b.WriteByte('|')
	for _, pid := range req.PIDs {
		b.WriteString(strconv.Itoa(pid))
		b.WriteByte(',')
	}
	return b.String()
}

func (m *Manager) emit(ev Event) {
	if m.events == nil {
		return
	}
	ev.Time = m.now()
	if err := m.events.Send(ev); err != nil {
		m.log.WithError(err).Debug("Routing event dropped")
	}
}
