// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_type

import "errors"

var (
	// ErrHandshakeFailure covers non-2xx signaling responses, malformed
	// answers, transport errors and the signaling timeout.
	ErrHandshakeFailure = errors.New("handshake failure")
	// ErrTransportFailure is raised when an established session reports
	// failed or disconnected.
	ErrTransportFailure = errors.New("transport failure")
	ErrNoReplayData     = errors.New("no replay data available")
	ErrPlaybackFailure  = errors.New("playback failure")
)
