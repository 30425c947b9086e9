// SPDX-License-Identifier: MIT
package routing

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"appmix/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRouter struct {
	mu       sync.Mutex
	calls    []string
	requests []types.RoutingRequest
	active   map[string]bool
	closed   bool
	block    chan struct{}
}

func newRecordingRouter() *recordingRouter {
	return &recordingRouter{active: make(map[string]bool)}
}

func (r *recordingRouter) Apply(req types.RoutingRequest) {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "apply:"+req.AppID)
	r.requests = append(r.requests, req)
	if types.NeedsSession(req.Profile) {
		r.active[req.AppID] = true
	} else {
		delete(r.active, req.AppID)
	}
}

func (r *recordingRouter) Clear(appID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "clear:"+appID)
	delete(r.active, appID)
}

func (r *recordingRouter) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id := range r.active {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (r *recordingRouter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "close")
	r.closed = true
	clear(r.active)
}

func (r *recordingRouter) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

var (
	browser = types.ApplicationSession{PID: 10, BundleID: "com.example.browser", DisplayName: "Browser"}
	chat    = types.ApplicationSession{PID: 20, BundleID: "com.example.chat", DisplayName: "Chat"}
	tool    = types.ApplicationSession{PID: 30, DisplayName: "cli-tool"}
)

func halfVolume() types.AudioProfile {
	return types.AudioProfile{Volume: 0.5, EQ: types.FlatEQ(types.DefaultBands)}
}

func TestCallsRunInSubmissionOrder(t *testing.T) {
	r := newRecordingRouter()
	f := New(r)
	defer f.Close()

	require.NoError(t, f.Apply(halfVolume(), browser))
	require.NoError(t, f.Apply(halfVolume(), chat))
	require.NoError(t, f.ClearRouting(browser))
	require.NoError(t, f.Apply(halfVolume(), tool))
	require.NoError(t, f.Flush())

	assert.Equal(t, []string{
		"apply:com.example.browser",
		"apply:com.example.chat",
		"clear:com.example.browser",
		"apply:pid:30",
	}, r.snapshot())
}

func TestApplyReturnsBeforeWorkRuns(t *testing.T) {
	r := newRecordingRouter()
	r.block = make(chan struct{})
	f := New(r)

	returned := make(chan struct{})
	go func() {
		_ = f.Apply(halfVolume(), browser)
		_ = f.Apply(halfVolume(), chat)
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Apply blocked on the router")
	}
	assert.Empty(t, r.snapshot())

	close(r.block)
	require.NoError(t, f.Flush())
	assert.Len(t, r.snapshot(), 2)
	f.Close()
}

func TestProfileIsSnapshotAtSubmission(t *testing.T) {
	r := newRecordingRouter()
	r.block = make(chan struct{})
	f := New(r)
	defer f.Close()

	profile := types.AudioProfile{Volume: 0.5, EQ: types.EQSetting{GainsDB: []float64{1, 2, 3, 4, 5}}}
	require.NoError(t, f.Apply(profile, browser))

	profile.Volume = 0.1
	profile.EQ.GainsDB[0] = -9

	close(r.block)
	require.NoError(t, f.Flush())

	require.Len(t, r.requests, 1)
	assert.Equal(t, 0.5, r.requests[0].Profile.Volume)
	assert.Equal(t, []float64{1, 2, 3, 4, 5}, r.requests[0].Profile.EQ.GainsDB)
}

func TestSessionWithoutIdentityIsDropped(t *testing.T) {
	r := newRecordingRouter()
	f := New(r)
	defer f.Close()

	anonymous := types.ApplicationSession{PID: 0, BundleID: "  "}
	assert.ErrorIs(t, f.Apply(halfVolume(), anonymous), types.ErrEmptyAppID)
	assert.ErrorIs(t, f.ClearRouting(anonymous), types.ErrEmptyAppID)
	require.NoError(t, f.Flush())
	assert.Empty(t, r.snapshot())
}

func TestSessionsChangedClearsGoneApplications(t *testing.T) {
	r := newRecordingRouter()
	f := New(r)
	defer f.Close()

	require.NoError(t, f.Apply(halfVolume(), browser))
	require.NoError(t, f.Apply(halfVolume(), chat))
	require.NoError(t, f.Apply(halfVolume(), tool))
	require.NoError(t, f.SessionsChanged([]types.ApplicationSession{chat}))

	active, err := f.Active()
	require.NoError(t, err)
	assert.Equal(t, []string{"com.example.chat"}, active)

	calls := r.snapshot()
	assert.Contains(t, calls, "clear:com.example.browser")
	assert.Contains(t, calls, "clear:pid:30")
	assert.NotContains(t, calls, "clear:com.example.chat")
}

func TestCloseTearsDownAndRejectsLaterCalls(t *testing.T) {
	r := newRecordingRouter()
	f := New(r)

	require.NoError(t, f.Apply(halfVolume(), browser))
	f.Close()
	f.Close()

	calls := r.snapshot()
	assert.Equal(t, []string{"apply:com.example.browser", "close"}, calls)
	assert.True(t, r.closed)

	assert.ErrorIs(t, f.Apply(halfVolume(), chat), types.ErrClosed)
	assert.ErrorIs(t, f.ClearRouting(chat), types.ErrClosed)
	assert.ErrorIs(t, f.Flush(), types.ErrClosed)
	_, err := f.Active()
	assert.ErrorIs(t, err, types.ErrClosed)
}

func TestQueueSurvivesFailingAndPanickingOps(t *testing.T) {
	q := NewQueue(4, newTestEntry())
	q.Start()

	var ran []int
	require.NoError(t, q.Enqueue(Func(func(context.Context) error {
		ran = append(ran, 1)
		return errors.New("boom")
	})))
	require.NoError(t, q.Enqueue(Func(func(context.Context) error {
		ran = append(ran, 2)
		panic("bad op")
	})))
	require.NoError(t, q.Enqueue(Func(func(context.Context) error {
		ran = append(ran, 3)
		return nil
	})))
	q.Close()

	assert.Equal(t, []int{1, 2, 3}, ran)
	assert.ErrorIs(t, q.Enqueue(Func(func(context.Context) error { return nil })), types.ErrClosed)
}

func TestQueueCloseDrainsWithoutStart(t *testing.T) {
	q := NewQueue(2, newTestEntry())

	ran := false
	require.NoError(t, q.Enqueue(Func(func(context.Context) error {
		ran = true
		return nil
	})))
	q.Close()
	assert.True(t, ran)
}

func TestQueueContextCanceledAfterClose(t *testing.T) {
	q := NewQueue(1, newTestEntry())
	q.Start()

	var got context.Context
	require.NoError(t, q.Enqueue(Func(func(ctx context.Context) error {
		got = ctx
		return nil
	})))
	q.Close()

	require.NotNil(t, got)
	assert.ErrorIs(t, got.Err(), context.Canceled)
}

func TestLevelsWithoutMeteringRouter(t *testing.T) {
	f := New(newRecordingRouter())
	defer f.Close()

	levels, err := f.Levels()
	require.NoError(t, err)
	assert.Empty(t, levels)
}
