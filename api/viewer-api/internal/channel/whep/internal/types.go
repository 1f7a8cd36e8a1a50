// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package whep_internal

import "time"

// Signaling constants (WHEP: one offer/answer exchange per POST).
const (
	ContentTypeSDP   = "application/sdp"
	HandshakeTimeout = 2 * time.Second // hard bound on the signaling round trip
	DeleteTimeout    = 2 * time.Second // best-effort resource teardown
)

// Track reader limits
const (
	MaxConsecutiveErrors = 50 // Max read errors before stopping
	DefaultSubscriberBuf = 256
)

// Config holds WebRTC configuration
type Config struct {
	ICEServers         []ICEServer
	ICETransportPolicy string // "all" or "relay"
}

// ICEServer represents a STUN/TURN server
type ICEServer struct {
	URLs       []string
	Username   string
	Credential string
}

// DefaultConfig returns default WebRTC configuration
func DefaultConfig() *Config {
	return &Config{
		ICEServers: []ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
		ICETransportPolicy: "all",
	}
}
