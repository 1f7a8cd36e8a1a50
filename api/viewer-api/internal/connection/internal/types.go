// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package connection_internal

import "time"

const (
	// HandshakeTimeout bounds the signaling POST of one attempt.
	HandshakeTimeout = 2 * time.Second
	// ReconnectDelay between a failure and the next attempt. Zero retries
	// immediately.
	ReconnectDelay = 0 * time.Second
	// HiddenRecheck is how often a retry suppressed by a hidden viewer is
	// re-evaluated.
	HiddenRecheck = time.Second
	// EventQueueSize is the dispatch loop backlog.
	EventQueueSize = 128
)
