// SPDX-License-Identifier: MIT

// Package types provides the value types shared by the resolver, the
// intercept manager and the routing facade.
package types

import (
	"math"
	"slices"
	"strconv"
	"strings"
)

// EQ and volume limits.
const (
	MinBandGainDB = -12.0
	MaxBandGainDB = 12.0
	DefaultBands  = 5

	// Epsilon is the fixed tolerance used when comparing a profile against
	// the default profile. Volumes within Epsilon of unity count as unity.
	Epsilon = 1e-4
)

// ApplicationSession is one logical running application as reported by the
// app inventory. It may span several OS processes.
type ApplicationSession struct {
	PID         int    `json:"pid"`
	MemberPIDs  []int  `json:"member_pids,omitempty"`
	BundleID    string `json:"bundle_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// ID returns the identifier used to key routing state across refreshes.
func (s ApplicationSession) ID() string {
	if id := strings.TrimSpace(s.BundleID); id != "" {
		return id
	}
	return "pid:" + strconv.Itoa(s.PID)
}

// PIDs returns the primary and member process ids, normalized.
func (s ApplicationSession) PIDs() []int {
	pids := make([]int, 0, len(s.MemberPIDs)+1)
	pids = append(pids, s.PID)
	pids = append(pids, s.MemberPIDs...)
	return NormalizePIDs(pids)
}

// EQSetting is an ordered list of band gains in dB.
type EQSetting struct {
	GainsDB []float64 `json:"gains_db" yaml:"gains_db"`
}

// FlatEQ returns a flat setting with n bands.
func FlatEQ(n int) EQSetting {
	return EQSetting{GainsDB: make([]float64, n)}
}

// Clamped returns a copy with every gain clamped into the supported range.
// NaN gains are treated as flat.
func (e EQSetting) Clamped() EQSetting {
	out := make([]float64, len(e.GainsDB))
	for i, g := range e.GainsDB {
		out[i] = ClampGainDB(g)
	}
	return EQSetting{GainsDB: out}
}

// IsFlat reports whether every band is within Epsilon of 0 dB.
func (e EQSetting) IsFlat() bool {
	for _, g := range e.GainsDB {
		if math.Abs(ClampGainDB(g)) > Epsilon {
			return false
		}
	}
	return true
}

// ClampGainDB clamps a band gain into [MinBandGainDB, MaxBandGainDB].
func ClampGainDB(g float64) float64 {
	if math.IsNaN(g) {
		return 0
	}
	return min(max(g, MinBandGainDB), MaxBandGainDB)
}

// AudioProfile is the per-application runtime state read from the profile
// store. The core never writes it back.
type AudioProfile struct {
	Volume         float64   `json:"volume" yaml:"volume"`
	Muted          bool      `json:"muted" yaml:"muted"`
	OutputDeviceID string    `json:"output_device_id,omitempty" yaml:"output_device_id"`
	EQ             EQSetting `json:"eq" yaml:"eq"`
}

// DefaultProfile returns unity volume, unmuted, default output, flat EQ.
func DefaultProfile() AudioProfile {
	return AudioProfile{Volume: 1.0, EQ: FlatEQ(DefaultBands)}
}

// Snapshot returns a deep copy with volume and EQ clamped.
func (p AudioProfile) Snapshot() AudioProfile {
	vol := p.Volume
	if math.IsNaN(vol) {
		vol = 1.0
	}
	return AudioProfile{
		Volume:         min(max(vol, 0), 1),
		Muted:          p.Muted,
		OutputDeviceID: strings.TrimSpace(p.OutputDeviceID),
		EQ:             p.EQ.Clamped(),
	}
}

// NeedsSession reports whether a profile requires an intercept session.
// Default profiles keep the application off the real-time path entirely.
func NeedsSession(p AudioProfile) bool {
	switch {
	case strings.TrimSpace(p.OutputDeviceID) != "":
		return true
	case p.Muted:
		return true
	case math.Abs(p.Volume-1.0) > Epsilon:
		return true
	case !p.EQ.IsFlat():
		return true
	}
	return false
}

// RoutingRequest is built by the facade for every apply call and consumed by
// exactly one resolution/apply cycle.
type RoutingRequest struct {
	AppID       string
	BundleID    string
	DisplayName string
	PIDs        []int
	Profile     AudioProfile
}

// NewRoutingRequest snapshots the profile and normalizes the session pids.
func NewRoutingRequest(profile AudioProfile, session ApplicationSession) RoutingRequest {
	return RoutingRequest{
		AppID:       session.ID(),
		BundleID:    strings.TrimSpace(session.BundleID),
		DisplayName: strings.TrimSpace(session.DisplayName),
		PIDs:        session.PIDs(),
		Profile:     profile.Snapshot(),
	}
}

// NormalizePIDs drops non-positive ids, deduplicates and sorts.
func NormalizePIDs(pids []int) []int {
	out := make([]int, 0, len(pids))
	for _, pid := range pids {
		if pid > 0 {
			out = append(out, pid)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
