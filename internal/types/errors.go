// SPDX-License-Identifier: MIT
package types

import "errors"

// Sentinel errors shared across routing packages. Match with errors.Is.
var (
	// ErrEmptyAppID indicates a session without pid or bundle identifier.
	ErrEmptyAppID = errors.New("application session has no identity")

	// ErrClosed indicates the routing facade has been closed.
	ErrClosed = errors.New("routing closed")
)
