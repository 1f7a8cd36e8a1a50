// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package channel_whep

import (
	"context"
	"fmt"

	whep_internal "github.com/rapidaai/whep-viewer/api/viewer-api/internal/channel/whep/internal"
	internal_type "github.com/rapidaai/whep-viewer/api/viewer-api/internal/type"
	"github.com/rapidaai/whep-viewer/pkg/commons"
)

// Config is the WebRTC configuration used for every session.
type Config = whep_internal.Config

// ICEServer is a STUN/TURN server entry.
type ICEServer = whep_internal.ICEServer

// DefaultConfig returns the default WebRTC configuration.
func DefaultConfig() *Config {
	return whep_internal.DefaultConfig()
}

type whepTransport struct {
	logger   commons.Logger
	config   *Config
	signaler *Signaler
}

// NewTransport returns a Transport creating pion sessions and signaling them
// through signaler.
func NewTransport(logger commons.Logger, config *Config, signaler *Signaler) internal_type.Transport {
	if config == nil {
		config = DefaultConfig()
	}
	return &whepTransport{
		logger:   logger,
		config:   config,
		signaler: signaler,
	}
}

func (t *whepTransport) NewSession(events internal_type.SessionEvents) (internal_type.Session, error) {
	return newSession(t.logger, t.config, t.signaler, events)
}

// Handshake posts the offer and records the returned session resource so the
// session can delete it on Close.
func (t *whepTransport) Handshake(ctx context.Context, s internal_type.Session, offer string) (string, error) {
	answer, err := t.signaler.Exchange(ctx, offer)
	if err != nil {
		return "", err
	}
	if ws, ok := s.(*session); ok {
		ws.setResource(answer.ResourceURL)
	}
	t.logger.Debugw("WHEP answer received", "session", s.ID(), "resource", answer.ResourceURL, "bytes", len(answer.SDP))
	return answer.SDP, nil
}

// String is used in logs.
func (t *whepTransport) String() string {
	return fmt.Sprintf("whep(%s)", t.signaler.endpoint)
}
