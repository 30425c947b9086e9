// SPDX-License-Identifier: MIT
package types

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNeedsSession(t *testing.T) {
	tests := []struct {
		name    string
		profile AudioProfile
		want    bool
	}{
		{"Default", DefaultProfile(), false},
		{"Empty EQ", AudioProfile{Volume: 1}, false},
		{"Volume within epsilon", AudioProfile{Volume: 1 - Epsilon/2}, false},
		{"Volume reduced", AudioProfile{Volume: 0.5}, true},
		{"Muted", AudioProfile{Volume: 1, Muted: true}, true},
		{"Output override", AudioProfile{Volume: 1, OutputDeviceID: "Speakers"}, true},
		{"Blank output override", AudioProfile{Volume: 1, OutputDeviceID: "  "}, false},
		{"EQ boost", AudioProfile{Volume: 1, EQ: EQSetting{GainsDB: []float64{0, 0, 3, 0, 0}}}, true},
		{"EQ tiny", AudioProfile{Volume: 1, EQ: EQSetting{GainsDB: []float64{Epsilon / 10}}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NeedsSession(tt.profile))
		})
	}
}

func TestClampGainDB(t *testing.T) {
	assert.Equal(t, MaxBandGainDB, ClampGainDB(40))
	assert.Equal(t, MinBandGainDB, ClampGainDB(-40))
	assert.Equal(t, 2.5, ClampGainDB(2.5))
	assert.Equal(t, 0.0, ClampGainDB(math.NaN()))
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	p := AudioProfile{Volume: 1.7, EQ: EQSetting{GainsDB: []float64{20, -1}}}
	snap := p.Snapshot()

	assert.Equal(t, 1.0, snap.Volume)
	assert.Equal(t, []float64{12, -1}, snap.EQ.GainsDB)

	p.EQ.GainsDB[1] = 5
	assert.Equal(t, -1.0, snap.EQ.GainsDB[1])
}

func TestNewRoutingRequest(t *testing.T) {
	session := ApplicationSession{
		PID:         300,
		MemberPIDs:  []int{301, 300, -1, 0, 299, 301},
		BundleID:    " com.example.player ",
		DisplayName: "Player",
	}

	req := NewRoutingRequest(AudioProfile{Volume: 0.4}, session)

	assert.Equal(t, "com.example.player", req.AppID)
	assert.Equal(t, []int{299, 300, 301}, req.PIDs)
	assert.Equal(t, 0.4, req.Profile.Volume)
}

func TestSessionIDFallsBackToPID(t *testing.T) {
	assert.Equal(t, "pid:42", ApplicationSession{PID: 42}.ID())
}
