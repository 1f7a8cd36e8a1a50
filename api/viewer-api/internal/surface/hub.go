// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_surface

import (
	"sync"

	"github.com/rapidaai/whep-viewer/pkg/commons"
)

// Event types pushed to viewer UIs.
const (
	EventChanged      = "changed"
	EventNotice       = "notice"
	EventReplayOpened = "replay_opened"
	EventReplayClosed = "replay_closed"
	EventRecording    = "recording"
)

// Event is one frame of the status feed. UIs re-query status on "changed".
type Event struct {
	Type      string  `json:"type"`
	Message   string  `json:"message,omitempty"`
	Recording *bool   `json:"recording,omitempty"`
	StartAt   float64 `json:"startAt,omitempty"`
	Artifact  string  `json:"artifact,omitempty"`
}

// Hub fans events out to every subscribed UI. Publishing never blocks: a
// subscriber that falls behind loses events.
type Hub struct {
	mu     sync.Mutex
	logger commons.Logger
	subs   map[chan Event]struct{}
	closed bool
}

func NewHub(logger commons.Logger) *Hub {
	return &Hub{logger: logger, subs: make(map[chan Event]struct{})}
}

// Subscribe returns an event channel and its cancel func.
func (h *Hub) Subscribe(size int) (<-chan Event, func()) {
	if size <= 0 {
		size = 16
	}
	ch := make(chan Event, size)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
}

func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.logger.Warnw("Status subscriber full, dropping event", "type", ev.Type)
		}
	}
}

// Subscribers returns the number of connected UIs.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription. Idempotent.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		close(ch)
	}
	h.subs = make(map[chan Event]struct{})
}
