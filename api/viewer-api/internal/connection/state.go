// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package connection

import (
	"time"

	"github.com/rapidaai/whep-viewer/api/viewer-api/internal/replay"
	internal_type "github.com/rapidaai/whep-viewer/api/viewer-api/internal/type"
)

// State is the connection lifecycle state.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

func (s State) String() string { return string(s) }

// Status is a snapshot of the manager, safe to read from any goroutine.
type Status struct {
	State             State                   `json:"state"`
	Connected         bool                    `json:"connected"`
	Visible           bool                    `json:"visible"`
	HasTrack          bool                    `json:"hasTrack"`
	ReconnectAttempts int                     `json:"reconnectAttempts"`
	SessionID         string                  `json:"sessionId,omitempty"`
	PeerState         internal_type.PeerState `json:"peerState,omitempty"`
	Replay            replay.Status           `json:"replay"`
}

// Observer receives lifecycle activity, e.g. for metrics.
type Observer interface {
	StateChanged(state State)
	ReconnectScheduled(attempt int)
	HandshakeFinished(took time.Duration, err error)
}

type noopObserver struct{}

func (noopObserver) StateChanged(State)                     {}
func (noopObserver) ReconnectScheduled(int)                 {}
func (noopObserver) HandshakeFinished(time.Duration, error) {}

type noopSink struct{}

func (noopSink) Attach(internal_type.MediaStream) {}
func (noopSink) Detach()                          {}

// ============================================================================
// Events consumed by the dispatch loop
// ============================================================================

type event interface{ isEvent() }

type startEvent struct{ reply chan struct{} }

type stopEvent struct{ reply chan struct{} }

type visibilityEvent struct{ visible bool }

type handshakeEvent struct {
	generation uint64
	took       time.Duration
	err        error
}

type trackEvent struct {
	generation uint64
	stream     internal_type.MediaStream
}

type peerStateEvent struct {
	generation uint64
	state      internal_type.PeerState
	ice        bool
}

type retryEvent struct{ generation uint64 }

func (startEvent) isEvent()      {}
func (stopEvent) isEvent()       {}
func (visibilityEvent) isEvent() {}
func (handshakeEvent) isEvent()  {}
func (trackEvent) isEvent()      {}
func (peerStateEvent) isEvent()  {}
func (retryEvent) isEvent()      {}
