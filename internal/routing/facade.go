// SPDX-License-Identifier: MIT

// Package routing is the entry point used by the UI and the app monitor.
// Every call snapshots its inputs, enqueues the work on one background
// worker and returns immediately; the worker drives the intercept state
// machine strictly in submission order.
package routing

import (
	"context"
	"strings"
	"sync"

	"appmix/internal/intercept"
	applog "appmix/internal/log"
	"appmix/internal/types"

	"github.com/sirupsen/logrus"
)

// Option configures a Facade.
type Option func(*Facade)

// WithQueueSize sets the submission buffer.
func WithQueueSize(n int) Option {
	return func(f *Facade) { f.queueSize = n }
}

// Facade serializes routing work for an intercept.Router.
type Facade struct {
	router    intercept.Router
	queue     *Queue
	queueSize int
	log       *logrus.Entry
	closeOnce sync.Once
}

// New starts the routing worker around router.
func New(router intercept.Router, opts ...Option) *Facade {
	f := &Facade{
		router: router,
		log:    applog.Component("routing"),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.queue = NewQueue(f.queueSize, f.log)
	f.queue.Start()
	return f
}

// Apply asks for the application's audio to follow profile. The profile is
// snapshotted before this returns, so the caller may keep mutating it.
func (f *Facade) Apply(profile types.AudioProfile, session types.ApplicationSession) error {
	if !hasIdentity(session) {
		f.log.WithField("pid", session.PID).Debug("Dropping apply for session without identity")
		return types.ErrEmptyAppID
	}
	req := types.NewRoutingRequest(profile, session)
	return f.submit(func(context.Context) error {
		f.router.Apply(req)
		return nil
	})
}

// ClearRouting tears down the application's session, if any.
func (f *Facade) ClearRouting(session types.ApplicationSession) error {
	if !hasIdentity(session) {
		return types.ErrEmptyAppID
	}
	id := session.ID()
	return f.submit(func(context.Context) error {
		f.router.Clear(id)
		return nil
	})
}

// SessionsChanged is called by the app monitor with the current set of live
// applications. Routed applications missing from live are torn down.
func (f *Facade) SessionsChanged(live []types.ApplicationSession) error {
	alive := make(map[string]struct{}, len(live))
	for _, s := range live {
		if hasIdentity(s) {
			alive[s.ID()] = struct{}{}
		}
	}
	return f.submit(func(context.Context) error {
		for _, id := range f.router.Active() {
			if _, ok := alive[id]; !ok {
				f.log.WithField("app_id", id).Info("Application gone, clearing routing")
				f.router.Clear(id)
			}
		}
		return nil
	})
}

// Active returns the routed application ids once all earlier work has run.
func (f *Facade) Active() ([]string, error) {
	var ids []string
	err := f.wait(func() { ids = f.router.Active() })
	return ids, err
}

// Levels samples the output peak of every routed application. Routers
// without metering report none.
func (f *Facade) Levels() ([]intercept.Level, error) {
	var levels []intercept.Level
	err := f.wait(func() {
		if m, ok := f.router.(interface{ Levels() []intercept.Level }); ok {
			levels = m.Levels()
		}
	})
	return levels, err
}

// Flush blocks until every previously submitted call has been processed.
func (f *Facade) Flush() error {
	return f.wait(func() {})
}

// Close processes pending work, tears down every session and stops the
// worker. Later calls fail with types.ErrClosed.
func (f *Facade) Close() {
	f.closeOnce.Do(func() {
		if err := f.submit(func(context.Context) error {
			f.router.Close()
			return nil
		}); err != nil {
			f.log.WithError(err).Warn("Routing shutdown not queued")
		}
		f.queue.Close()
		f.log.Debug("Routing worker stopped")
	})
}

func (f *Facade) wait(fn func()) error {
	done := make(chan struct{})
	err := f.submit(func(context.Context) error {
		defer close(done)
		fn()
		return nil
	})
	if err != nil {
		return err
	}
	<-done
	return nil
}

func (f *Facade) submit(fn Func) error {
	if err := f.queue.Enqueue(fn); err != nil {
		f.log.WithError(err).Debug("Routing call rejected")
		return err
	}
	return nil
}

func hasIdentity(s types.ApplicationSession) bool {
	return strings.TrimSpace(s.BundleID) != "" || s.PID > 0
}
