// SPDX-License-Identifier: MIT
package intercept

import (
	"errors"

	"appmix/internal/dsp"
	"appmix/internal/resolver"
)

// ErrUnsupported indicates the running system has no per-application tap
// mechanism. It is reported once per process lifetime.
var ErrUnsupported = errors.New("per-application audio tap unsupported")

// ObjectID identifies a platform audio object (tap, aggregate device or
// registered I/O callback).
type ObjectID uint32

// Aggregate describes a private mix device created around a tap.
type Aggregate struct {
	ID         ObjectID
	SampleRate float64
	Channels   int
}

// Platform is the privileged OS surface. Every call may fail independently;
// the Manager rolls back whatever was created before a failure. Calls are
// made only from the routing worker, never concurrently.
type Platform interface {
	// Available reports whether per-application taps work on this system.
	Available() error

	CreateTap(sources []resolver.Handle) (ObjectID, error)
	// CreateAggregate combines the tap with the output device identified by
	// outputUID. An empty outputUID selects the system default output.
	CreateAggregate(tap ObjectID, outputUID string) (Aggregate, error)
	// CreateIOProc registers the real-time callback that drives proc.
	CreateIOProc(aggregate ObjectID, proc *dsp.Processor) (ObjectID, error)
	Start(aggregate, ioProc ObjectID) error

	Stop(aggregate, ioProc ObjectID) error
	DestroyIOProc(aggregate, ioProc ObjectID) error
	DestroyAggregate(aggregate ObjectID) error
	DestroyTap(tap ObjectID) error
}

// DeviceInventory supplies the current default output device, used when a
// profile has no explicit output preference.
type DeviceInventory interface {
	DefaultOutput() (string, error)
}

// EventSink receives routing events. transport.Transport satisfies it.
type EventSink interface {
	Send(data any) error
}
