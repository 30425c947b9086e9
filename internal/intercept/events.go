// SPDX-License-Identifier: MIT
package intercept

import (
	"time"

	"appmix/internal/resolver"
)

// EventKind names a routing lifecycle event.
type EventKind string

const (
	EventCreated         EventKind = "session_created"
	EventUpdated         EventKind = "session_updated"
	EventDestroyed       EventKind = "session_destroyed"
	EventFailed          EventKind = "session_failed"
	EventResolutionEmpty EventKind = "resolution_empty"
)

// Event is published to the EventSink on every state transition.
type Event struct {
	Kind    EventKind         `json:"kind"`
	AppID   string            `json:"app_id"`
	Output  string            `json:"output,omitempty"`
	Sources []resolver.Handle `json:"sources,omitempty"`
	Reason  string            `json:"reason,omitempty"`
	Time    time.Time         `json:"time"`
}
