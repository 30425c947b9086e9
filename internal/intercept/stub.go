// SPDX-License-Identifier: MIT
package intercept

import (
	"sync"

	applog "appmix/internal/log"
	"appmix/internal/resolver"
	"appmix/internal/types"
)

// Router is the session-state-machine surface driven by the routing facade.
// Implementations are not safe for concurrent use; the facade serializes
// every call onto one worker.
type Router interface {
	Apply(req types.RoutingRequest)
	Clear(appID string)
	Active() []string
	Close()
}

var unsupportedOnce sync.Once

// NewRouter selects the routing strategy once, at construction: a Manager
// when the platform supports per-application taps, otherwise a stub that
// intercepts nothing.
func NewRouter(p Platform, inv resolver.Inventory, opts ...Option) Router {
	err := ErrUnsupported
	if p != nil {
		err = p.Available()
	}
	if err != nil {
		unsupportedOnce.Do(func() {
			applog.Component("intercept").WithError(err).
				Warn("Per-application routing unavailable, falling back to pass-through")
		})
		return stubRouter{}
	}
	return NewManager(p, inv, opts...)
}

// stubRouter performs no interception.
type stubRouter struct{}

func (stubRouter) Apply(types.RoutingRequest) {}
func (stubRouter) Clear(string)               {}
func (stubRouter) Active() []string           { return nil }
func (stubRouter) Close()                     {}
