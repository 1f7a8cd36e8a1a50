// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package channel_whep

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	pionwebrtc "github.com/pion/webrtc/v4"
	whep_internal "github.com/rapidaai/whep-viewer/api/viewer-api/internal/channel/whep/internal"
	internal_type "github.com/rapidaai/whep-viewer/api/viewer-api/internal/type"
	"github.com/rapidaai/whep-viewer/pkg/commons"
)

var errSessionClosed = errors.New("session closed")

// ============================================================================
// session - one receive-only WHEP peer connection
// ============================================================================

type session struct {
	mu sync.Mutex

	logger commons.Logger
	config *whep_internal.Config
	id     string
	events internal_type.SessionEvents

	pc      *pionwebrtc.PeerConnection
	streams []*trackStream
	closed  bool

	// resourceURL is the WHEP session resource; deleted on Close.
	resourceURL string
	signaler    *Signaler
}

func newSession(
	logger commons.Logger,
	config *whep_internal.Config,
	signaler *Signaler,
	events internal_type.SessionEvents,
) (*session, error) {
	s := &session{
		config:   config,
		id:       uuid.New().String(),
		events:   events,
		signaler: signaler,
	}
	s.logger = logger.With("session", s.id)
	if err := s.createPeerConnection(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *session) createPeerConnection() error {
	mediaEngine := &pionwebrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return fmt.Errorf("failed to register codecs: %w", err)
	}

	// Interceptors (default includes NACK and RTCP reports)
	registry := &interceptor.Registry{}
	if err := pionwebrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return fmt.Errorf("failed to register interceptors: %w", err)
	}

	api := pionwebrtc.NewAPI(
		pionwebrtc.WithMediaEngine(mediaEngine),
		pionwebrtc.WithInterceptorRegistry(registry),
	)

	iceServers := make([]pionwebrtc.ICEServer, len(s.config.ICEServers))
	for i, srv := range s.config.ICEServers {
		iceServers[i] = pionwebrtc.ICEServer{
			URLs:       srv.URLs,
			Username:   srv.Username,
			Credential: srv.Credential,
		}
	}

	pcConfig := pionwebrtc.Configuration{ICEServers: iceServers}
	if s.config.ICETransportPolicy == "relay" {
		pcConfig.ICETransportPolicy = pionwebrtc.ICETransportPolicyRelay
	}

	pc, err := api.NewPeerConnection(pcConfig)
	if err != nil {
		return fmt.Errorf("failed to create peer connection: %w", err)
	}

	s.mu.Lock()
	s.pc = pc
	s.mu.Unlock()

	s.setupPeerEventHandlers(pc)
	return nil
}

func (s *session) setupPeerEventHandlers(pc *pionwebrtc.PeerConnection) {
	pc.OnConnectionStateChange(func(state pionwebrtc.PeerConnectionState) {
		s.logger.Infow("Connection state changed", "state", state.String())
		if s.events.OnConnectionStateChange != nil {
			s.events.OnConnectionStateChange(peerStateFromConnection(state))
		}
	})

	pc.OnICEConnectionStateChange(func(state pionwebrtc.ICEConnectionState) {
		s.logger.Infow("ICE connection state changed", "state", state.String())
		if s.events.OnICEStateChange != nil {
			s.events.OnICEStateChange(peerStateFromICE(state))
		}
	})

	// Remote track (incoming video)
	pc.OnTrack(func(track *pionwebrtc.TrackRemote, _ *pionwebrtc.RTPReceiver) {
		if track.Kind() != pionwebrtc.RTPCodecTypeVideo {
			return
		}
		codec := track.Codec()
		s.logger.Infow("Remote video track received", "codec", codec.MimeType, "ssrc", track.SSRC())

		stream := newTrackStream(
			s.logger,
			track.StreamID()+"/"+track.ID(),
			codec.MimeType,
			codec.ClockRate,
			uint32(track.SSRC()),
			trackReader{track},
			pc,
		)

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.streams = append(s.streams, stream)
		s.mu.Unlock()

		go stream.run()
		if s.events.OnTrack != nil {
			s.events.OnTrack(stream)
		}
	})
}

func (s *session) ID() string {
	return s.id
}

// AddRecvOnlyVideo adds the single receive-only video transceiver.
func (s *session) AddRecvOnlyVideo() error {
	pc, err := s.peer()
	if err != nil {
		return err
	}
	if _, err := pc.AddTransceiverFromKind(pionwebrtc.RTPCodecTypeVideo, pionwebrtc.RTPTransceiverInit{
		Direction: pionwebrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return fmt.Errorf("failed to add video transceiver: %w", err)
	}
	return nil
}

// CreateOffer creates and applies the local offer, then waits for ICE
// gathering so the SDP carries every candidate (WHEP has no trickle here).
func (s *session) CreateOffer(ctx context.Context) (string, error) {
	pc, err := s.peer()
	if err != nil {
		return "", err
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}

	gatherComplete := pionwebrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return "", fmt.Errorf("ice gathering: %w", ctx.Err())
	}

	local := pc.LocalDescription()
	if local == nil {
		return "", errors.New("local description missing after gathering")
	}
	return local.SDP, nil
}

// SetAnswer applies the remote answer.
func (s *session) SetAnswer(sdp string) error {
	pc, err := s.peer()
	if err != nil {
		return err
	}
	if err := pc.SetRemoteDescription(pionwebrtc.SessionDescription{
		Type: pionwebrtc.SDPTypeAnswer,
		SDP:  sdp,
	}); err != nil {
		return fmt.Errorf("%w: failed to set remote description: %v", internal_type.ErrHandshakeFailure, err)
	}
	return nil
}

func (s *session) PeerState() internal_type.PeerState {
	s.mu.Lock()
	pc := s.pc
	s.mu.Unlock()
	if pc == nil {
		return internal_type.PeerStateClosed
	}
	return peerStateFromConnection(pc.ConnectionState())
}

func (s *session) setResource(resourceURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resourceURL = resourceURL
}

// Close tears down the peer connection and deletes the WHEP resource in the
// background. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pc := s.pc
	s.pc = nil
	resourceURL := s.resourceURL
	s.mu.Unlock()

	var err error
	if pc != nil {
		if cErr := pc.Close(); cErr != nil {
			err = fmt.Errorf("failed to close peer connection: %w", cErr)
		}
	}

	if resourceURL != "" && s.signaler != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), whep_internal.DeleteTimeout)
			defer cancel()
			if dErr := s.signaler.Delete(ctx, resourceURL); dErr != nil {
				s.logger.Debugw("WHEP resource delete failed", "resource", resourceURL, "error", dErr)
			}
		}()
	}

	s.logger.Infow("Session closed")
	return err
}

func (s *session) peer() (*pionwebrtc.PeerConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.pc == nil {
		return nil, errSessionClosed
	}
	return s.pc, nil
}

// trackReader drops interceptor attributes from TrackRemote.ReadRTP.
type trackReader struct {
	track *pionwebrtc.TrackRemote
}

func (r trackReader) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := r.track.ReadRTP()
	return pkt, err
}

// ============================================================================
// State mapping
// ============================================================================

func peerStateFromConnection(state pionwebrtc.PeerConnectionState) internal_type.PeerState {
	switch state {
	case pionwebrtc.PeerConnectionStateNew:
		return internal_type.PeerStateNew
	case pionwebrtc.PeerConnectionStateConnecting:
		return internal_type.PeerStateConnecting
	case pionwebrtc.PeerConnectionStateConnected:
		return internal_type.PeerStateConnected
	case pionwebrtc.PeerConnectionStateDisconnected:
		return internal_type.PeerStateDisconnected
	case pionwebrtc.PeerConnectionStateFailed:
		return internal_type.PeerStateFailed
	case pionwebrtc.PeerConnectionStateClosed:
		return internal_type.PeerStateClosed
	}
	return internal_type.PeerStateUnknown
}

func peerStateFromICE(state pionwebrtc.ICEConnectionState) internal_type.PeerState {
	switch state {
	case pionwebrtc.ICEConnectionStateNew:
		return internal_type.PeerStateNew
	case pionwebrtc.ICEConnectionStateChecking:
		return internal_type.PeerStateChecking
	case pionwebrtc.ICEConnectionStateConnected:
		return internal_type.PeerStateConnected
	case pionwebrtc.ICEConnectionStateCompleted:
		return internal_type.PeerStateCompleted
	case pionwebrtc.ICEConnectionStateDisconnected:
		return internal_type.PeerStateDisconnected
	case pionwebrtc.ICEConnectionStateFailed:
		return internal_type.PeerStateFailed
	case pionwebrtc.ICEConnectionStateClosed:
		return internal_type.PeerStateClosed
	}
	return internal_type.PeerStateUnknown
}
