// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_type

import (
	"context"

	"github.com/pion/rtp"
)

// PeerState mirrors the WebRTC peer connection / ICE connection state without
// tying callers to a concrete WebRTC stack.
type PeerState string

const (
	PeerStateNew          PeerState = "new"
	PeerStateChecking     PeerState = "checking"
	PeerStateConnecting   PeerState = "connecting"
	PeerStateConnected    PeerState = "connected"
	PeerStateCompleted    PeerState = "completed"
	PeerStateDisconnected PeerState = "disconnected"
	PeerStateFailed       PeerState = "failed"
	PeerStateClosed       PeerState = "closed"
	PeerStateUnknown      PeerState = "unknown"
)

// IsTerminal reports whether the state must be treated as a transport failure.
func (s PeerState) IsTerminal() bool {
	return s == PeerStateFailed || s == PeerStateDisconnected
}

// MediaStream is a playable handle on an inbound track. A track can only be
// read by one goroutine, so consumers subscribe and receive their own copy
// of every RTP packet.
type MediaStream interface {
	ID() string
	MimeType() string
	ClockRate() uint32
	// Subscribe returns a packet channel and a cancel func. The channel is
	// closed when cancel is called or the track ends.
	Subscribe(size int) (<-chan *rtp.Packet, func())
	// RequestKeyframe asks the sender for a fresh keyframe.
	RequestKeyframe() error
}

// SessionEvents are invoked from transport goroutines. Implementations must
// not block.
type SessionEvents struct {
	OnTrack                 func(stream MediaStream)
	OnConnectionStateChange func(state PeerState)
	OnICEStateChange        func(state PeerState)
}

// Session is one negotiated, receive-only media session.
type Session interface {
	ID() string
	AddRecvOnlyVideo() error
	// CreateOffer creates the local description and returns its SDP once
	// candidate gathering has finished.
	CreateOffer(ctx context.Context) (string, error)
	SetAnswer(sdp string) error
	PeerState() PeerState
	Close() error
}

// Transport opens sessions and performs the signaling exchange for them.
type Transport interface {
	NewSession(events SessionEvents) (Session, error)
	// Handshake posts the offer and returns the remote answer.
	Handshake(ctx context.Context, session Session, offer string) (string, error)
}
