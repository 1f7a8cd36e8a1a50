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
	"time"

	connection_internal "github.com/rapidaai/whep-viewer/api/viewer-api/internal/connection/internal"
	"github.com/rapidaai/whep-viewer/api/viewer-api/internal/replay"
	internal_type "github.com/rapidaai/whep-viewer/api/viewer-api/internal/type"
	"github.com/rapidaai/whep-viewer/pkg/commons"
)

var errManagerStopped = errors.New("connection manager stopped")

// Manager owns the single viewing session. It starts sessions, moves between
// Idle, Connecting, Connected and Reconnecting, retries on failure while the
// viewer is visible, and drives the replay buffer from the session's track.
//
// Every transition runs on one dispatch goroutine (Run). Public methods and
// transport callbacks only post events to it.
type Manager struct {
	logger    commons.Logger
	transport internal_type.Transport
	replay    *replay.Buffer
	sink      internal_type.RenderSink
	observer  Observer

	handshakeTimeout time.Duration
	reconnectDelay   time.Duration
	hiddenRecheck    time.Duration

	events  chan event
	done    chan struct{}
	running sync.Once

	// Owned by the dispatch loop.
	runCtx          context.Context
	state           State
	session         internal_type.Session
	generation      uint64
	handshakeCancel context.CancelFunc
	waiters         []chan struct{}
	isConnecting    bool
	hasTrack        bool
	visible         bool
	wanted          bool
	attempts        int
	peerState       internal_type.PeerState
	retryTimer      *time.Timer
	retryGeneration uint64

	statusMu sync.RWMutex
	status   Status

	callbackMu sync.RWMutex
	callbacks  []func()
}

// Option configures a Manager.
type Option func(*Manager)

func WithRenderSink(sink internal_type.RenderSink) Option {
	return func(m *Manager) { m.sink = sink }
}

func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.handshakeTimeout = d
		}
	}
}

// WithReconnectDelay sets the wait between a failure and the next attempt.
func WithReconnectDelay(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.reconnectDelay = d
		}
	}
}

func WithHiddenRecheck(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.hiddenRecheck = d
		}
	}
}

// NewManager returns an idle manager. The viewer starts visible.
func NewManager(logger commons.Logger, transport internal_type.Transport, buffer *replay.Buffer, opts ...Option) *Manager {
	m := &Manager{
		logger:           logger,
		transport:        transport,
		replay:           buffer,
		handshakeTimeout: connection_internal.HandshakeTimeout,
		reconnectDelay:   connection_internal.ReconnectDelay,
		hiddenRecheck:    connection_internal.HiddenRecheck,
		events:           make(chan event, connection_internal.EventQueueSize),
		done:             make(chan struct{}),
		state:            StateIdle,
		visible:          true,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.sink == nil {
		m.sink = noopSink{}
	}
	if m.observer == nil {
		m.observer = noopObserver{}
	}
	m.status = Status{State: StateIdle, Visible: true}
	return m
}

// ============================================================================
// Public API
// ============================================================================

// Run processes events until ctx is cancelled, then tears the session down.
// It must be called exactly once; later calls return immediately.
func (m *Manager) Run(ctx context.Context) error {
	started := false
	m.running.Do(func() { started = true })
	if !started {
		return fmt.Errorf("run: already started")
	}

	m.runCtx = ctx
	defer close(m.done)
	m.logger.Infow("Connection manager started")

	for {
		select {
		case <-ctx.Done():
			m.teardown()
			m.setState(StateIdle)
			m.publish()
			m.logger.Infow("Connection manager stopped")
			return nil
		case ev := <-m.events:
			m.dispatch(ev)
		}
	}
}

// StartStream opens a new session and returns once its handshake completed or
// failed. A call while an attempt is in flight returns immediately. Handshake
// errors are not returned; they move the manager to Reconnecting.
func (m *Manager) StartStream(ctx context.Context) error {
	reply := make(chan struct{})
	if err := m.post(ctx, startEvent{reply: reply}); err != nil {
		return err
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return errManagerStopped
	}
}

// Stop tears the session down and leaves the manager Idle. Visibility changes
// do not restart a stopped manager.
func (m *Manager) Stop(ctx context.Context) error {
	reply := make(chan struct{})
	if err := m.post(ctx, stopEvent{reply: reply}); err != nil {
		return err
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return nil
	}
}

// SetVisible reports a visibility change of the viewer.
func (m *Manager) SetVisible(visible bool) {
	if err := m.post(context.Background(), visibilityEvent{visible: visible}); err != nil {
		m.logger.Debugw("Dropping visibility change", "visible", visible, "error", err)
	}
}

// IsConnected is true when a track has arrived and the peer connection
// reports connected.
func (m *Manager) IsConnected() bool {
	m.statusMu.RLock()
	defer m.statusMu.RUnlock()
	return m.status.Connected
}

// Replay returns the replay buffer fed by this manager.
func (m *Manager) Replay() *replay.Buffer {
	return m.replay
}

// OnConnectionStateChange registers fn to run after every state-affecting
// event. fn runs on the dispatch goroutine and may query the manager but
// must not block.
func (m *Manager) OnConnectionStateChange(fn func()) {
	if fn == nil {
		return
	}
	m.callbackMu.Lock()
	defer m.callbackMu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// Status returns a snapshot of the lifecycle and the replay buffer.
func (m *Manager) Status() Status {
	m.statusMu.RLock()
	st := m.status
	m.statusMu.RUnlock()
	st.Replay = m.replay.Status()
	return st
}

func (m *Manager) post(ctx context.Context, ev event) error {
	select {
	case m.events <- ev:
		return nil
	case <-m.done:
		return errManagerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// postFromTransport is used by pion callbacks and background goroutines,
// which must never block on a stopped manager.
func (m *Manager) postFromTransport(ev event) {
	select {
	case m.events <- ev:
	case <-m.done:
	}
}

// ============================================================================
// Dispatch loop
// ============================================================================

func (m *Manager) dispatch(ev event) {
	switch e := ev.(type) {
	case startEvent:
		m.onStart(e)
	case stopEvent:
		m.onStop(e)
	case visibilityEvent:
		m.onVisibility(e)
	case handshakeEvent:
		m.onHandshake(e)
	case trackEvent:
		m.onTrack(e)
	case peerStateEvent:
		m.onPeerState(e)
	case retryEvent:
		m.onRetry(e)
	}
}

func (m *Manager) onStart(e startEvent) {
	m.wanted = true
	if m.isConnecting {
		m.logger.Debugw("Connection attempt already in flight, ignoring start")
		close(e.reply)
		return
	}
	m.startStream()
	if !m.isConnecting {
		// Failed before the handshake was launched.
		close(e.reply)
		return
	}
	m.waiters = append(m.waiters, e.reply)
}

func (m *Manager) onStop(e stopEvent) {
	m.wanted = false
	m.teardown()
	m.setState(StateIdle)
	m.logger.Infow("Stream stopped")
	m.publish()
	close(e.reply)
}

func (m *Manager) onVisibility(e visibilityEvent) {
	prev := m.visible
	m.visible = e.visible
	m.logger.Infow("Visibility changed", "visible", e.visible)

	switch {
	case !prev && e.visible:
		if m.wanted && !m.hasTrack && !m.isConnecting {
			m.startStream()
		}
	case prev && !e.visible:
		// Established sessions stay open; only pending retries are dropped.
		m.cancelRetry()
	}
	m.publish()
}

func (m *Manager) onHandshake(e handshakeEvent) {
	if e.generation != m.generation {
		return
	}
	m.isConnecting = false
	m.observer.HandshakeFinished(e.took, e.err)

	if e.err != nil {
		m.logger.Errorw("Error starting stream", "error", e.err, "took", e.took)
		m.fail(e.err)
		m.releaseWaiters()
		return
	}
	m.logger.Infow("Handshake completed", "took", e.took, "session", m.sessionID())
	m.releaseWaiters()
	m.publish()
}

func (m *Manager) onTrack(e trackEvent) {
	if e.generation != m.generation || m.hasTrack {
		return
	}
	m.hasTrack = true
	m.attempts = 0
	m.setState(StateConnected)
	m.logger.Infow("Video track received", "stream", e.stream.ID(), "codec", e.stream.MimeType())

	m.sink.Attach(e.stream)
	m.replay.StartRecording(e.stream)
	m.publish()
}

func (m *Manager) onPeerState(e peerStateEvent) {
	if e.generation != m.generation {
		return
	}
	if !e.ice {
		m.peerState = e.state
	}
	if e.state.IsTerminal() {
		kind := "connection"
		if e.ice {
			kind = "ice"
		}
		m.logger.Warnw("Transport failure", "source", kind, "state", e.state)
		m.fail(fmt.Errorf("%w: %s %s", internal_type.ErrTransportFailure, kind, e.state))
		return
	}
	m.publish()
}

func (m *Manager) onRetry(e retryEvent) {
	if e.generation != m.retryGeneration {
		return
	}
	m.retryTimer = nil
	if m.state != StateReconnecting {
		return
	}
	if !m.visible {
		m.logger.Debugw("Viewer hidden, deferring reconnect")
		m.scheduleRetry(m.hiddenRecheck)
		return
	}
	m.logger.Infow("Reconnecting", "attempt", m.attempts)
	m.startStream()
}

// ============================================================================
// Transitions (dispatch goroutine only)
// ============================================================================

func (m *Manager) startStream() {
	m.teardown()

	m.isConnecting = true
	m.setState(StateConnecting)
	m.generation++
	generation := m.generation

	session, err := m.transport.NewSession(internal_type.SessionEvents{
		OnTrack: func(stream internal_type.MediaStream) {
			m.postFromTransport(trackEvent{generation: generation, stream: stream})
		},
		OnConnectionStateChange: func(state internal_type.PeerState) {
			m.postFromTransport(peerStateEvent{generation: generation, state: state})
		},
		OnICEStateChange: func(state internal_type.PeerState) {
			m.postFromTransport(peerStateEvent{generation: generation, state: state, ice: true})
		},
	})
	if err != nil {
		m.isConnecting = false
		m.logger.Errorw("Error creating session", "error", err)
		m.fail(err)
		m.releaseWaiters()
		return
	}
	m.session = session

	if err := session.AddRecvOnlyVideo(); err != nil {
		m.isConnecting = false
		m.logger.Errorw("Error adding video transceiver", "error", err)
		m.fail(err)
		m.releaseWaiters()
		return
	}

	base := m.runCtx
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)
	m.handshakeCancel = cancel
	m.logger.Infow("Starting stream", "session", session.ID())
	m.publish()

	go m.handshake(ctx, generation, session)
}

// handshake runs the offer/answer exchange off the dispatch goroutine and
// posts its outcome back.
func (m *Manager) handshake(ctx context.Context, generation uint64, session internal_type.Session) {
	start := time.Now()
	err := m.negotiate(ctx, session)
	m.postFromTransport(handshakeEvent{generation: generation, took: time.Since(start), err: err})
}

func (m *Manager) negotiate(ctx context.Context, session internal_type.Session) error {
	offer, err := session.CreateOffer(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", internal_type.ErrHandshakeFailure, err)
	}

	hsCtx, cancel := context.WithTimeout(ctx, m.handshakeTimeout)
	defer cancel()
	answer, err := m.transport.Handshake(hsCtx, session, offer)
	if err != nil {
		if errors.Is(err, internal_type.ErrHandshakeFailure) {
			return err
		}
		return fmt.Errorf("%w: %v", internal_type.ErrHandshakeFailure, err)
	}
	return session.SetAnswer(answer)
}

// fail is the single failure path for handshake and transport failures.
func (m *Manager) fail(err error) {
	m.teardown()
	m.attempts++
	m.setState(StateReconnecting)
	m.observer.ReconnectScheduled(m.attempts)
	m.logger.Warnw("Connection lost, scheduling reconnect",
		"error", err,
		"attempt", m.attempts,
		"delay", m.reconnectDelay,
		"visible", m.visible)
	m.scheduleRetry(m.reconnectDelay)
	m.publish()
}

// teardown closes the session and resets everything bound to it. Events of
// the closed session are ignored from here on.
func (m *Manager) teardown() {
	m.cancelRetry()
	if m.handshakeCancel != nil {
		m.handshakeCancel()
		m.handshakeCancel = nil
	}
	if m.session != nil {
		if err := m.session.Close(); err != nil {
			m.logger.Warnw("Error closing session", "error", err, "session", m.session.ID())
		}
		m.session = nil
	}
	m.generation++
	m.isConnecting = false
	m.releaseWaiters()

	if m.hasTrack {
		m.sink.Detach()
	}
	m.hasTrack = false
	m.peerState = ""
	m.replay.Cleanup()
}

// scheduleRetry replaces any pending retry; at most one timer exists.
func (m *Manager) scheduleRetry(delay time.Duration) {
	m.cancelRetry()
	m.retryGeneration++
	generation := m.retryGeneration
	m.retryTimer = time.AfterFunc(delay, func() {
		m.postFromTransport(retryEvent{generation: generation})
	})
}

func (m *Manager) cancelRetry() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	// A timer that already fired may have queued its event.
	m.retryGeneration++
}

func (m *Manager) releaseWaiters() {
	for _, w := range m.waiters {
		close(w)
	}
	m.waiters = nil
}

func (m *Manager) setState(state State) {
	if m.state == state {
		return
	}
	m.logger.Debugw("Connection state transition", "from", m.state, "to", state)
	m.state = state
	m.observer.StateChanged(state)
}

func (m *Manager) sessionID() string {
	if m.session == nil {
		return ""
	}
	return m.session.ID()
}

// publish refreshes the status snapshot and notifies observers.
func (m *Manager) publish() {
	m.statusMu.Lock()
	m.status = Status{
		State:             m.state,
		Connected:         m.hasTrack && m.peerState == internal_type.PeerStateConnected,
		Visible:           m.visible,
		HasTrack:          m.hasTrack,
		ReconnectAttempts: m.attempts,
		SessionID:         m.sessionID(),
		PeerState:         m.peerState,
	}
	m.statusMu.Unlock()

	m.callbackMu.RLock()
	callbacks := make([]func(), len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.callbackMu.RUnlock()
	for _, fn := range callbacks {
		fn()
	}
}
