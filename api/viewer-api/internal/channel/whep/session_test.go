// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package channel_whep

import (
	"context"
	"strings"
	"testing"
	"time"

	pionwebrtc "github.com/pion/webrtc/v4"
	"github.com/rapidaai/whep-viewer/api/viewer-api/internal/replay"
	internal_type "github.com/rapidaai/whep-viewer/api/viewer-api/internal/type"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// localOnlyConfig avoids STUN lookups so gathering completes offline.
func localOnlyConfig() *Config {
	return &Config{ICETransportPolicy: "all"}
}

func TestSession_OfferIsRecvOnlyVideo(t *testing.T) {
	s, err := newSession(newTestLogger(t), localOnlyConfig(), nil, internal_type.SessionEvents{})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.AddRecvOnlyVideo())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	offer, err := s.CreateOffer(ctx)
	require.NoError(t, err)

	assert.True(t, strings.Contains(offer, "m=video"))
	assert.True(t, strings.Contains(offer, "a=recvonly"))
	assert.False(t, strings.Contains(offer, "m=audio"))
	assert.NotEmpty(t, s.ID())
}

// offeredVideoCodecs returns the mime types of the media codecs in an offer's
// rtpmap lines, skipping retransmission and FEC entries.
func offeredVideoCodecs(offer string) []string {
	var mimes []string
	for _, line := range strings.Split(offer, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "a=rtpmap:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		name := strings.SplitN(fields[1], "/", 2)[0]
		switch strings.ToLower(name) {
		case "rtx", "red", "ulpfec", "flexfec", "flexfec-03":
			continue
		}
		mimes = append(mimes, "video/"+name)
	}
	return mimes
}

func TestSession_EveryOfferedCodecIsReplayable(t *testing.T) {
	s, err := newSession(newTestLogger(t), localOnlyConfig(), nil, internal_type.SessionEvents{})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.AddRecvOnlyVideo())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	offer, err := s.CreateOffer(ctx)
	require.NoError(t, err)

	codecs := offeredVideoCodecs(offer)
	require.NotEmpty(t, codecs)
	assert.Contains(t, codecs, pionwebrtc.MimeTypeVP9)
	for _, mime := range codecs {
		assert.True(t, replay.SupportsCodec(mime), "no replay writer for offered codec %s", mime)
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	s, err := newSession(newTestLogger(t), localOnlyConfig(), nil, internal_type.SessionEvents{})
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.Equal(t, internal_type.PeerStateClosed, s.PeerState())
	assert.ErrorIs(t, s.AddRecvOnlyVideo(), errSessionClosed)
	_, err = s.CreateOffer(context.Background())
	assert.ErrorIs(t, err, errSessionClosed)
	assert.ErrorIs(t, s.SetAnswer("v=0"), errSessionClosed)
}

func TestSession_InvalidAnswerIsHandshakeFailure(t *testing.T) {
	s, err := newSession(newTestLogger(t), localOnlyConfig(), nil, internal_type.SessionEvents{})
	require.NoError(t, err)
	defer s.Close()

	// No local offer yet, so any answer is rejected.
	err = s.SetAnswer(testAnswer)
	assert.ErrorIs(t, err, internal_type.ErrHandshakeFailure)
}

func TestSession_NewPeerStateIsNew(t *testing.T) {
	s, err := newSession(newTestLogger(t), localOnlyConfig(), nil, internal_type.SessionEvents{})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, internal_type.PeerStateNew, s.PeerState())
}

func TestPeerStateFromConnection(t *testing.T) {
	tests := []struct {
		in  pionwebrtc.PeerConnectionState
		out internal_type.PeerState
	}{
		{pionwebrtc.PeerConnectionStateNew, internal_type.PeerStateNew},
		{pionwebrtc.PeerConnectionStateConnecting, internal_type.PeerStateConnecting},
		{pionwebrtc.PeerConnectionStateConnected, internal_type.PeerStateConnected},
		{pionwebrtc.PeerConnectionStateDisconnected, internal_type.PeerStateDisconnected},
		{pionwebrtc.PeerConnectionStateFailed, internal_type.PeerStateFailed},
		{pionwebrtc.PeerConnectionStateClosed, internal_type.PeerStateClosed},
		{pionwebrtc.PeerConnectionStateUnknown, internal_type.PeerStateUnknown},
	}
	for _, tt := range tests {
		t.Run(string(tt.out), func(t *testing.T) {
			assert.Equal(t, tt.out, peerStateFromConnection(tt.in))
		})
	}
}

func TestPeerStateFromICE(t *testing.T) {
	tests := []struct {
		in       pionwebrtc.ICEConnectionState
		out      internal_type.PeerState
		terminal bool
	}{
		{pionwebrtc.ICEConnectionStateChecking, internal_type.PeerStateChecking, false},
		{pionwebrtc.ICEConnectionStateCompleted, internal_type.PeerStateCompleted, false},
		{pionwebrtc.ICEConnectionStateDisconnected, internal_type.PeerStateDisconnected, true},
		{pionwebrtc.ICEConnectionStateFailed, internal_type.PeerStateFailed, true},
		{pionwebrtc.ICEConnectionStateClosed, internal_type.PeerStateClosed, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.out), func(t *testing.T) {
			got := peerStateFromICE(tt.in)
			assert.Equal(t, tt.out, got)
			assert.Equal(t, tt.terminal, got.IsTerminal())
		})
	}
}

func TestTransport_HandshakeRecordsResource(t *testing.T) {
	srv := newAnswerServer(t)
	defer srv.Close()

	logger := newTestLogger(t)
	tr := NewTransport(logger, localOnlyConfig(), NewSignaler(logger, srv.URL+"/whep", "", time.Second))

	sess, err := tr.NewSession(internal_type.SessionEvents{})
	require.NoError(t, err)
	defer sess.Close()

	answer, err := tr.Handshake(context.Background(), sess, "v=0 offer")
	require.NoError(t, err)
	assert.Equal(t, testAnswer, answer)

	ws := sess.(*session)
	ws.mu.Lock()
	assert.Equal(t, srv.URL+"/whep/res", ws.resourceURL)
	ws.mu.Unlock()
}
