// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_surface

import (
	"sync/atomic"

	"github.com/rapidaai/whep-viewer/pkg/commons"
)

// Indicator shows the recording badge by publishing to the hub.
type Indicator struct {
	logger  commons.Logger
	hub     *Hub
	visible atomic.Bool
}

func NewIndicator(logger commons.Logger, hub *Hub) *Indicator {
	return &Indicator{logger: logger, hub: hub}
}

func (i *Indicator) Show() { i.set(true) }
func (i *Indicator) Hide() { i.set(false) }

func (i *Indicator) Visible() bool { return i.visible.Load() }

func (i *Indicator) set(v bool) {
	if i.visible.Swap(v) == v {
		return
	}
	i.hub.Publish(Event{Type: EventRecording, Recording: &v})
}

// Notifier delivers user-facing notices.
type Notifier struct {
	logger commons.Logger
	hub    *Hub
}

func NewNotifier(logger commons.Logger, hub *Hub) *Notifier {
	return &Notifier{logger: logger, hub: hub}
}

func (n *Notifier) Notice(message string) {
	n.logger.Infow("Notice", "message", message)
	n.hub.Publish(Event{Type: EventNotice, Message: message})
}
