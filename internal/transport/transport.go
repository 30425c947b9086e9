// SPDX-License-Identifier: MIT

// Package transport carries routing events and meter data out of the daemon
// and control commands into it.
package transport

import (
	"appmix/internal/intercept"
	"appmix/internal/types"
)

// Transport defines a generic interface for sending events.
// Implementations should be thread-safe.
type Transport interface {
	Send(data any) error
	Close() error
}

// Controller is the routing surface driven by remote clients. The routing
// facade satisfies it.
type Controller interface {
	Apply(profile types.AudioProfile, session types.ApplicationSession) error
	ClearRouting(session types.ApplicationSession) error
	SessionsChanged(live []types.ApplicationSession) error
	Active() ([]string, error)
}

// Multi fans every message out to several transports. Send and Close report
// the first error but always reach every transport.
type Multi []Transport

// Send implements Transport.
func (m Multi) Send(data any) error {
	var first error
	for _, t := range m {
		if err := t.Send(data); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close implements Transport.
func (m Multi) Close() error {
	var first error
	for _, t := range m {
		if err := t.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var _ intercept.EventSink = Multi(nil)
