// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"testing"

	"appmix/internal/config"
	"appmix/internal/dsp"
	"appmix/internal/intercept"
	"appmix/internal/resolver"
	"appmix/internal/types"

	"github.com/gordonklaus/portaudio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	params   portaudio.StreamParameters
	callback func(in, out []float32)
	calls    []string
	startErr error
}

func (s *fakeStream) Start() error {
	s.calls = append(s.calls, "start")
	return s.startErr
}

func (s *fakeStream) Stop() error {
	s.calls = append(s.calls, "stop")
	return nil
}

func (s *fakeStream) Close() error {
	s.calls = append(s.calls, "close")
	return nil
}

// withStreams captures every stream the backend opens.
func withStreams(t *testing.T) *[]*fakeStream {
	t.Helper()
	var opened []*fakeStream
	orig := paLibOpenStream
	t.Cleanup(func() { paLibOpenStream = orig })
	paLibOpenStream = func(p portaudio.StreamParameters, cb func(in, out []float32)) (stream, error) {
		s := &fakeStream{params: p, callback: cb}
		opened = append(opened, s)
		return s, nil
	}
	return &opened
}

func testConfig(sources ...config.SourceConfig) *config.Config {
	cfg := config.Default()
	cfg.Sources = sources
	return &cfg
}

var (
	browserSource = config.SourceConfig{Device: "BlackHole 2ch", BundleID: "com.example.browser", Name: "Browser"}
	chatSource    = config.SourceConfig{Device: "Microphone", Name: "Chat", PID: 77}
)

func TestLoopbackAvailable(t *testing.T) {
	withDevices(t, speakers, loopbackIn)

	assert.ErrorIs(t, NewLoopback(testConfig()).Available(), intercept.ErrUnsupported)
	assert.NoError(t, NewLoopback(testConfig(browserSource)).Available())

	paLibDevicesFunc = func() ([]*portaudio.DeviceInfo, error) { return nil, errors.New("not initialized") }
	assert.ErrorIs(t, NewLoopback(testConfig(browserSource)).Available(), intercept.ErrUnsupported)
}

func TestLoopbackInventory(t *testing.T) {
	withDevices(t, speakers, loopbackIn)
	l := NewLoopback(testConfig(browserSource, chatSource))

	h, ok := l.HandleForPID(77)
	assert.True(t, ok)
	assert.Equal(t, resolver.Handle(2), h)
	_, ok = l.HandleForPID(0)
	assert.False(t, ok)

	procs, err := l.Processes()
	require.NoError(t, err)
	require.Len(t, procs, 2)
	assert.True(t, procs[0].RunningOutput)
	// The chat device is not plugged in.
	assert.False(t, procs[1].RunningOutput)

	res := resolver.Resolve(l, nil, "com.example.browser", "")
	assert.Equal(t, []resolver.Handle{1}, res.Handles)

	out, err := l.DefaultOutput()
	require.NoError(t, err)
	assert.Equal(t, "Built-in Output", out)
}

func TestLoopbackSessionLifecycle(t *testing.T) {
	withDevices(t, speakers, headphones, loopbackIn)
	opened := withStreams(t)
	cfg := testConfig(browserSource)
	cfg.Audio.LowLatency = true
	l := NewLoopback(cfg)

	tap, err := l.CreateTap([]resolver.Handle{1})
	require.NoError(t, err)
	agg, err := l.CreateAggregate(tap, "USB Headphones")
	require.NoError(t, err)
	assert.Equal(t, 2, agg.Channels)
	assert.Equal(t, 48000.0, agg.SampleRate)

	proc := dsp.New()
	proc.Configure(dsp.Params{Volume: 0.5, GainsDB: make([]float64, 5), SampleRate: agg.SampleRate})
	io, err := l.CreateIOProc(agg.ID, proc)
	require.NoError(t, err)
	require.Len(t, *opened, 1)

	s := (*opened)[0]
	assert.Same(t, loopbackIn, s.params.Input.Device)
	assert.Same(t, headphones, s.params.Output.Device)
	assert.Equal(t, loopbackIn.DefaultLowInputLatency, s.params.Input.Latency)
	assert.Equal(t, 512, s.params.FramesPerBuffer)

	out := make([]float32, 4)
	s.callback([]float32{0.8, -0.8, 0.4, -0.4}, out)
	assert.Equal(t, []float32{0.4, -0.4, 0.2, -0.2}, out)

	require.NoError(t, l.Start(agg.ID, io))
	require.NoError(t, l.Start(agg.ID, io))
	require.NoError(t, l.Stop(agg.ID, io))
	require.NoError(t, l.DestroyIOProc(agg.ID, io))
	require.NoError(t, l.DestroyAggregate(agg.ID))
	require.NoError(t, l.DestroyTap(tap))
	assert.Equal(t, []string{"start", "stop", "close"}, s.calls)

	taps, aggs, procs := l.Live()
	assert.Zero(t, taps+aggs+procs)

	assert.ErrorIs(t, l.DestroyTap(tap), ErrUnknownObject)
	assert.ErrorIs(t, l.Start(agg.ID, io), ErrUnknownObject)
}

func TestLoopbackCreateErrors(t *testing.T) {
	withDevices(t, speakers, loopbackIn, mic)
	withStreams(t)
	l := NewLoopback(testConfig(browserSource, chatSource))

	_, err := l.CreateTap(nil)
	assert.Error(t, err)
	_, err = l.CreateTap([]resolver.Handle{9})
	assert.ErrorIs(t, err, ErrUnknownObject)
	_, err = l.CreateTap([]resolver.Handle{1, 2})
	assert.ErrorIs(t, err, ErrMixedSources)

	_, err = l.CreateAggregate(42, "")
	assert.ErrorIs(t, err, ErrUnknownObject)

	tap, err := l.CreateTap([]resolver.Handle{1})
	require.NoError(t, err)
	_, err = l.CreateAggregate(tap, "Missing Speakers")
	assert.ErrorIs(t, err, ErrDeviceNotFound)

	_, err = l.CreateIOProc(42, dsp.New())
	assert.ErrorIs(t, err, ErrUnknownObject)
}

func TestLoopbackDrivesManager(t *testing.T) {
	withDevices(t, speakers, loopbackIn)
	opened := withStreams(t)
	l := NewLoopback(testConfig(browserSource))

	router := intercept.NewRouter(l, l, intercept.WithDevices(l))
	m, ok := router.(*intercept.Manager)
	require.True(t, ok)

	session := types.ApplicationSession{PID: 500, BundleID: "com.example.browser", DisplayName: "Browser"}
	m.Apply(types.NewRoutingRequest(types.AudioProfile{Volume: 0.25, EQ: types.FlatEQ(5)}, session))
	require.Equal(t, []string{"com.example.browser"}, m.Active())

	info, _ := m.Session("com.example.browser")
	assert.Equal(t, "Built-in Output", info.Output)
	require.Len(t, *opened, 1)
	assert.Equal(t, []string{"start"}, (*opened)[0].calls)

	m.Close()
	assert.Equal(t, []string{"start", "stop", "close"}, (*opened)[0].calls)
	taps, aggs, procs := l.Live()
	assert.Zero(t, taps+aggs+procs)
}

func TestLoopbackStartFailureRollsBack(t *testing.T) {
	withDevices(t, speakers, loopbackIn)
	orig := paLibOpenStream
	t.Cleanup(func() { paLibOpenStream = orig })
	paLibOpenStream = func(p portaudio.StreamParameters, cb func(in, out []float32)) (stream, error) {
		return &fakeStream{startErr: errors.New("device busy")}, nil
	}

	l := NewLoopback(testConfig(browserSource))
	m := intercept.NewManager(l, l, intercept.WithDevices(l))
	m.Apply(types.NewRoutingRequest(types.AudioProfile{Volume: 0.5}, types.ApplicationSession{BundleID: "com.example.browser"}))

	assert.Empty(t, m.Active())
	taps, aggs, procs := l.Live()
	assert.Zero(t, taps+aggs+procs)
}
