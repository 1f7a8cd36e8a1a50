// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/rapidaai/whep-viewer/api/viewer-api/internal/replay"
	internal_type "github.com/rapidaai/whep-viewer/api/viewer-api/internal/type"
	"github.com/rapidaai/whep-viewer/pkg/commons"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// ============================================================================
// Fakes
// ============================================================================

type fakeSession struct {
	id     string
	events internal_type.SessionEvents

	mu     sync.Mutex
	closed int
	answer string
	addErr error
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) AddRecvOnlyVideo() error { return s.addErr }

func (s *fakeSession) CreateOffer(ctx context.Context) (string, error) {
	return "v=0 offer " + s.id, nil
}

func (s *fakeSession) SetAnswer(sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answer = sdp
	return nil
}

func (s *fakeSession) PeerState() internal_type.PeerState { return internal_type.PeerStateNew }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Helpers that play the role of pion callbacks.
func (s *fakeSession) track(stream internal_type.MediaStream) { s.events.OnTrack(stream) }
func (s *fakeSession) connection(state internal_type.PeerState) {
	s.events.OnConnectionStateChange(state)
}
func (s *fakeSession) ice(state internal_type.PeerState) { s.events.OnICEStateChange(state) }

type fakeTransport struct {
	mu       sync.Mutex
	sessions []*fakeSession
	// handshake, when set, replaces the default immediate answer.
	handshake func(ctx context.Context, offer string) (string, error)
	// addErr is returned by AddRecvOnlyVideo of every new session.
	addErr error
}

func (f *fakeTransport) NewSession(events internal_type.SessionEvents) (internal_type.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeSession{id: fmt.Sprintf("session-%d", len(f.sessions)+1), events: events, addErr: f.addErr}
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fakeTransport) Handshake(ctx context.Context, _ internal_type.Session, offer string) (string, error) {
	f.mu.Lock()
	hs := f.handshake
	f.mu.Unlock()
	if hs != nil {
		return hs(ctx, offer)
	}
	return "v=0 answer", nil
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeTransport) last() *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[len(f.sessions)-1]
}

type fakeStream struct {
	ch chan *rtp.Packet
}

func newFakeStream() *fakeStream { return &fakeStream{ch: make(chan *rtp.Packet, 16)} }

func (s *fakeStream) ID() string        { return "origin/video" }
func (s *fakeStream) MimeType() string  { return "video/VP8" }
func (s *fakeStream) ClockRate() uint32 { return 90000 }
func (s *fakeStream) Subscribe(int) (<-chan *rtp.Packet, func()) {
	return s.ch, func() {}
}
func (s *fakeStream) RequestKeyframe() error { return nil }

type fakeSink struct {
	attached atomic.Int32
	detached atomic.Int32
}

func (s *fakeSink) Attach(internal_type.MediaStream) { s.attached.Add(1) }
func (s *fakeSink) Detach()                          { s.detached.Add(1) }

type countingObserver struct {
	reconnects atomic.Int32
	handshakes atomic.Int32
}

func (o *countingObserver) StateChanged(State)                     {}
func (o *countingObserver) ReconnectScheduled(int)                 { o.reconnects.Add(1) }
func (o *countingObserver) HandshakeFinished(time.Duration, error) { o.handshakes.Add(1) }

type harness struct {
	manager   *Manager
	transport *fakeTransport
	sink      *fakeSink
	observer  *countingObserver
	cancel    context.CancelFunc
	stopped   chan struct{}
}

func newTestLogger(t *testing.T) commons.Logger {
	t.Helper()
	logger, err := commons.NewApplicationLogger(
		commons.Name("test-connection"),
		commons.Path(t.TempDir()),
		commons.Level("debug"),
	)
	require.NoError(t, err)
	return logger
}

func newHarness(t *testing.T, transport *fakeTransport, opts ...Option) *harness {
	t.Helper()
	logger := newTestLogger(t)
	h := &harness{
		transport: transport,
		sink:      &fakeSink{},
		observer:  &countingObserver{},
		stopped:   make(chan struct{}),
	}
	buffer := replay.NewBuffer(logger, replay.WithSegmentInterval(time.Hour))
	opts = append([]Option{WithRenderSink(h.sink), WithObserver(h.observer)}, opts...)
	h.manager = NewManager(logger, transport, buffer, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		_ = h.manager.Run(ctx)
		close(h.stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-h.stopped
	})
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, h.manager.StartStream(ctx))
}

func (h *harness) eventuallyState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.manager.Status().State == want
	}, waitFor, tick, "state never became %s", want)
}

// ============================================================================
// Tests
// ============================================================================

func TestManager_StartsIdle(t *testing.T) {
	h := newHarness(t, &fakeTransport{})

	st := h.manager.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.True(t, st.Visible)
	assert.False(t, h.manager.IsConnected())
	assert.NotNil(t, h.manager.Replay())
}

func TestManager_StartStreamHandshakesOnce(t *testing.T) {
	h := newHarness(t, &fakeTransport{})
	h.start(t)

	require.Equal(t, 1, h.transport.count())
	sess := h.transport.last()
	sess.mu.Lock()
	assert.Equal(t, "v=0 answer", sess.answer)
	sess.mu.Unlock()

	st := h.manager.Status()
	assert.Equal(t, StateConnecting, st.State, "no track yet")
	assert.Equal(t, sess.ID(), st.SessionID)
	assert.Equal(t, int32(1), h.observer.handshakes.Load())
}

func TestManager_ConcurrentStartCreatesOneSession(t *testing.T) {
	release := make(chan struct{})
	transport := &fakeTransport{handshake: func(ctx context.Context, _ string) (string, error) {
		select {
		case <-release:
			return "v=0 answer", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}}
	h := newHarness(t, transport, WithHandshakeTimeout(waitFor))

	first := make(chan error, 1)
	go func() { first <- h.manager.StartStream(context.Background()) }()
	require.Eventually(t, func() bool { return transport.count() == 1 }, waitFor, tick)

	// A second start while the first is in flight returns immediately.
	h.start(t)
	assert.Equal(t, 1, transport.count())

	close(release)
	require.NoError(t, <-first)
	assert.Equal(t, 1, transport.count())
}

func TestManager_TrackArrivalConnects(t *testing.T) {
	h := newHarness(t, &fakeTransport{})
	h.start(t)
	sess := h.transport.last()

	sess.track(newFakeStream())
	h.eventuallyState(t, StateConnected)
	assert.True(t, h.manager.Replay().IsRecording())
	assert.Equal(t, int32(1), h.sink.attached.Load())
	assert.False(t, h.manager.IsConnected(), "peer connection not yet connected")

	sess.connection(internal_type.PeerStateConnected)
	require.Eventually(t, h.manager.IsConnected, waitFor, tick)
	assert.Equal(t, 0, h.manager.Status().ReconnectAttempts)
}

func TestManager_SecondTrackIgnored(t *testing.T) {
	h := newHarness(t, &fakeTransport{})
	h.start(t)
	sess := h.transport.last()

	sess.track(newFakeStream())
	sess.track(newFakeStream())
	h.eventuallyState(t, StateConnected)
	require.Eventually(t, func() bool { return h.sink.attached.Load() == 1 }, waitFor, tick)
	assert.Equal(t, int32(1), h.sink.attached.Load())
}

func TestManager_TransportFailureReconnects(t *testing.T) {
	tests := []struct {
		name string
		fire func(s *fakeSession)
	}{
		{"connection failed", func(s *fakeSession) { s.connection(internal_type.PeerStateFailed) }},
		{"connection disconnected", func(s *fakeSession) { s.connection(internal_type.PeerStateDisconnected) }},
		{"ice failed", func(s *fakeSession) { s.ice(internal_type.PeerStateFailed) }},
		{"ice disconnected", func(s *fakeSession) { s.ice(internal_type.PeerStateDisconnected) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, &fakeTransport{})
			h.start(t)
			first := h.transport.last()
			first.track(newFakeStream())
			h.eventuallyState(t, StateConnected)

			tt.fire(first)

			require.Eventually(t, func() bool { return h.transport.count() == 2 }, waitFor, tick)
			assert.Equal(t, 1, first.closeCount())
			assert.Equal(t, int32(1), h.sink.detached.Load())
			assert.Equal(t, 1, h.manager.Status().ReconnectAttempts)
			assert.False(t, h.manager.Replay().IsRecording())
		})
	}
}

func TestManager_TrackResetsReconnectCounter(t *testing.T) {
	h := newHarness(t, &fakeTransport{})
	h.start(t)
	h.transport.last().connection(internal_type.PeerStateFailed)
	require.Eventually(t, func() bool { return h.transport.count() == 2 }, waitFor, tick)
	require.Eventually(t, func() bool { return h.manager.Status().ReconnectAttempts == 1 }, waitFor, tick)

	h.transport.last().track(newFakeStream())
	h.eventuallyState(t, StateConnected)
	assert.Equal(t, 0, h.manager.Status().ReconnectAttempts)
}

func TestManager_HiddenFailureWaitsForVisibility(t *testing.T) {
	h := newHarness(t, &fakeTransport{}, WithHiddenRecheck(10*time.Millisecond))
	h.start(t)
	h.transport.last().track(newFakeStream())
	h.eventuallyState(t, StateConnected)

	h.manager.SetVisible(false)
	require.Eventually(t, func() bool { return !h.manager.Status().Visible }, waitFor, tick)

	h.transport.last().connection(internal_type.PeerStateFailed)
	h.eventuallyState(t, StateReconnecting)

	// Several recheck periods pass with no new attempt.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, h.transport.count())
	assert.Equal(t, StateReconnecting, h.manager.Status().State)

	h.manager.SetVisible(true)
	require.Eventually(t, func() bool { return h.transport.count() == 2 }, waitFor, tick)
}

func TestManager_HidingKeepsEstablishedSession(t *testing.T) {
	h := newHarness(t, &fakeTransport{})
	h.start(t)
	sess := h.transport.last()
	sess.track(newFakeStream())
	h.eventuallyState(t, StateConnected)

	h.manager.SetVisible(false)
	require.Eventually(t, func() bool { return !h.manager.Status().Visible }, waitFor, tick)

	assert.Equal(t, 0, sess.closeCount())
	assert.Equal(t, StateConnected, h.manager.Status().State)
}

func TestManager_VisibleWithActiveTrackDoesNotRestart(t *testing.T) {
	h := newHarness(t, &fakeTransport{})
	h.start(t)
	h.transport.last().track(newFakeStream())
	h.eventuallyState(t, StateConnected)

	h.manager.SetVisible(false)
	h.manager.SetVisible(true)
	require.Eventually(t, func() bool { return h.manager.Status().Visible }, waitFor, tick)
	assert.Equal(t, 1, h.transport.count())
}

func TestManager_HandshakeFailureReconnects(t *testing.T) {
	transport := &fakeTransport{handshake: func(context.Context, string) (string, error) {
		return "", fmt.Errorf("%w: HTTP 404 Not Found", internal_type.ErrHandshakeFailure)
	}}
	h := newHarness(t, transport, WithReconnectDelay(time.Hour))

	h.start(t)
	h.eventuallyState(t, StateReconnecting)
	assert.Equal(t, 1, h.manager.Status().ReconnectAttempts)
	assert.Equal(t, 1, transport.last().closeCount())
	assert.Equal(t, int32(1), h.observer.reconnects.Load())
}

func TestManager_HandshakeTimeout(t *testing.T) {
	var deadlineSeen atomic.Bool
	transport := &fakeTransport{handshake: func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		deadlineSeen.Store(errors.Is(ctx.Err(), context.DeadlineExceeded))
		return "", ctx.Err()
	}}
	h := newHarness(t, transport, WithHandshakeTimeout(20*time.Millisecond), WithReconnectDelay(time.Hour))

	start := time.Now()
	h.start(t)
	assert.Less(t, time.Since(start), waitFor)
	assert.True(t, deadlineSeen.Load())
	h.eventuallyState(t, StateReconnecting)
}

func TestManager_IgnoresStaleSessionEvents(t *testing.T) {
	h := newHarness(t, &fakeTransport{})
	h.start(t)
	stale := h.transport.last()
	stale.connection(internal_type.PeerStateFailed)
	require.Eventually(t, func() bool { return h.transport.count() == 2 }, waitFor, tick)

	h.transport.last().track(newFakeStream())
	h.eventuallyState(t, StateConnected)

	stale.connection(internal_type.PeerStateFailed)
	stale.track(newFakeStream())
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 2, h.transport.count())
	assert.Equal(t, StateConnected, h.manager.Status().State)
	assert.Equal(t, int32(1), h.sink.attached.Load())
}

func TestManager_StopTearsDown(t *testing.T) {
	h := newHarness(t, &fakeTransport{})
	h.start(t)
	sess := h.transport.last()
	sess.track(newFakeStream())
	h.eventuallyState(t, StateConnected)

	require.NoError(t, h.manager.Stop(context.Background()))

	st := h.manager.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.Empty(t, st.SessionID)
	assert.Equal(t, 1, sess.closeCount())
	assert.Equal(t, int32(1), h.sink.detached.Load())
	assert.False(t, h.manager.Replay().IsRecording())

	// A stopped viewer is not revived by visibility changes.
	h.manager.SetVisible(false)
	h.manager.SetVisible(true)
	require.Eventually(t, func() bool { return h.manager.Status().Visible }, waitFor, tick)
	assert.Equal(t, 1, h.transport.count())
}

func TestManager_StartWhileConnectedReplacesSession(t *testing.T) {
	h := newHarness(t, &fakeTransport{})
	h.start(t)
	first := h.transport.last()
	first.track(newFakeStream())
	h.eventuallyState(t, StateConnected)

	h.start(t)
	assert.Equal(t, 2, h.transport.count())
	assert.Equal(t, 1, first.closeCount())
	assert.Equal(t, StateConnecting, h.manager.Status().State)
}

func TestManager_AddTransceiverFailure(t *testing.T) {
	transport := &fakeTransport{addErr: errors.New("no codecs")}
	h := newHarness(t, transport, WithReconnectDelay(time.Hour))

	h.start(t)
	h.eventuallyState(t, StateReconnecting)
	assert.Equal(t, 1, transport.last().closeCount())
	assert.Equal(t, int32(0), h.observer.handshakes.Load())
}

func TestManager_ChangeCallbackMayQuery(t *testing.T) {
	h := newHarness(t, &fakeTransport{})

	var calls atomic.Int32
	var sawConnected atomic.Bool
	h.manager.OnConnectionStateChange(func() {
		calls.Add(1)
		if h.manager.IsConnected() {
			sawConnected.Store(true)
		}
	})

	h.start(t)
	sess := h.transport.last()
	sess.track(newFakeStream())
	sess.connection(internal_type.PeerStateConnected)

	require.Eventually(t, sawConnected.Load, waitFor, tick)
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestManager_RunOnlyOnce(t *testing.T) {
	h := newHarness(t, &fakeTransport{})
	// The harness already started Run.
	time.Sleep(10 * time.Millisecond)
	assert.Error(t, h.manager.Run(context.Background()))
}

func TestManager_ShutdownClosesSession(t *testing.T) {
	h := newHarness(t, &fakeTransport{})
	h.start(t)
	sess := h.transport.last()

	h.cancel()
	<-h.stopped

	assert.Equal(t, 1, sess.closeCount())
	assert.Equal(t, StateIdle, h.manager.Status().State)
	assert.ErrorIs(t, h.manager.StartStream(context.Background()), errManagerStopped)
}
