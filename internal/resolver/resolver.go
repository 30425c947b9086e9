// SPDX-License-Identifier: MIT

// Package resolver maps a logical application to the low-level audio
// process handles that belong to it right now.
//
// A single application often spans a main process plus renderer or helper
// subprocesses whose pids are not known in advance. Pure pid matching
// under-resolves and pure name matching over-resolves, so both are combined
// with OR semantics and the name sweep is limited to processes that are
// currently producing output.
package resolver

import (
	"slices"
	"strings"
)

// Handle identifies one audio-capable process to the platform.
type Handle uint32

// Process is one entry of the live audio process inventory.
type Process struct {
	Handle        Handle
	PID           int
	BundleID      string
	Name          string
	RunningOutput bool
}

// Inventory is the platform view of audio-capable processes.
type Inventory interface {
	// HandleForPID translates a process id into its audio process handle.
	HandleForPID(pid int) (Handle, bool)
	// Processes lists every audio-capable process currently known.
	Processes() ([]Process, error)
}

// Status classifies a resolution.
type Status int

const (
	// Resolved means at least one handle was found.
	Resolved Status = iota
	// Empty means the inventory answered but nothing matches yet.
	Empty
	// Unavailable means the inventory could not be read and no pid resolved.
	Unavailable
)

func (s Status) String() string {
	switch s {
	case Resolved:
		return "resolved"
	case Empty:
		return "empty"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Result is the outcome of one resolution.
type Result struct {
	Handles []Handle
	Status  Status
	// Err carries the inventory failure for diagnostics; it is set only when
	// the sweep could not run.
	Err error
}

// Resolve returns the sorted, deduplicated set of handles for an application.
// It never panics and never fails; an empty result means retry later.
func Resolve(inv Inventory, pids []int, bundleID, displayName string) Result {
	if inv == nil {
		return Result{Status: Unavailable}
	}

	var handles []Handle
	for _, pid := range pids {
		if pid <= 0 {
			continue
		}
		if h, ok := inv.HandleForPID(pid); ok {
			handles = append(handles, h)
		}
	}

	procs, err := inv.Processes()
	if err == nil {
		for _, p := range procs {
			if Matches(p, bundleID, displayName) {
				handles = append(handles, p.Handle)
			}
		}
	}

	slices.Sort(handles)
	handles = slices.Compact(handles)

	switch {
	case len(handles) > 0:
		return Result{Handles: handles, Status: Resolved, Err: err}
	case err != nil:
		return Result{Status: Unavailable, Err: err}
	default:
		return Result{Status: Empty}
	}
}

// Matches reports whether a live process belongs to the application in the
// fallback sweep: identity matches by bundle or by name, and the process is
// producing output.
func Matches(p Process, bundleID, displayName string) bool {
	if !p.RunningOutput {
		return false
	}
	return BundleMatches(p.BundleID, bundleID) || NameMatches(p.Name, displayName)
}

// BundleMatches reports equality or a dotted child relationship, e.g.
// "com.example.app.helper" belongs to "com.example.app".
func BundleMatches(processBundle, appBundle string) bool {
	pb := normalize(processBundle)
	ab := normalize(appBundle)
	if pb == "" || ab == "" {
		return false
	}
	return pb == ab || strings.HasPrefix(pb, ab+".")
}

// NameMatches reports equality or a mutual prefix, e.g. "Chrome" and
// "Chrome Helper (Renderer)".
func NameMatches(processName, displayName string) bool {
	pn := normalize(processName)
	dn := normalize(displayName)
	if pn == "" || dn == "" {
		return false
	}
	return strings.HasPrefix(pn, dn) || strings.HasPrefix(dn, pn)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// StaticInventory is a fixed process list, used by tests and by backends
// whose process set is declared up front.
type StaticInventory []Process

// HandleForPID implements Inventory.
func (s StaticInventory) HandleForPID(pid int) (Handle, bool) {
	for _, p := range s {
		if p.PID == pid && pid > 0 {
			return p.Handle, true
		}
	}
	return 0, false
}

// Processes implements Inventory.
func (s StaticInventory) Processes() ([]Process, error) {
	return slices.Clone(s), nil
}
