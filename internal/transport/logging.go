// SPDX-License-Identifier: MIT
package transport

import (
	"appmix/internal/intercept"
	applog "appmix/internal/log"

	"github.com/sirupsen/logrus"
)

// LoggingTransport implements the Transport interface by writing events to
// the structured log.
type LoggingTransport struct {
	log *logrus.Entry
}

// NewLoggingTransport creates a new LoggingTransport instance.
func NewLoggingTransport() *LoggingTransport {
	lt := &LoggingTransport{log: applog.Component("events")}
	lt.log.Debug("Using logging transport")
	return lt
}

// Send logs the received data at debug level.
func (lt *LoggingTransport) Send(data any) error {
	switch ev := data.(type) {
	case intercept.Event:
		lt.log.WithFields(logrus.Fields{
			"kind":    ev.Kind,
			"app_id":  ev.AppID,
			"output":  ev.Output,
			"sources": ev.Sources,
			"reason":  ev.Reason,
		}).Debug("Routing event")
	default:
		lt.log.Debugf("Message (%T): %+v", data, data)
	}
	return nil
}

// Close is a no-op for LoggingTransport.
func (lt *LoggingTransport) Close() error {
	return nil
}

// Ensure LoggingTransport satisfies the interface at compile time.
var _ Transport = (*LoggingTransport)(nil)
