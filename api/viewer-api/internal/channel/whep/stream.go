// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package channel_whep

import (
	"errors"
	"io"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	whep_internal "github.com/rapidaai/whep-viewer/api/viewer-api/internal/channel/whep/internal"
	"github.com/rapidaai/whep-viewer/pkg/commons"
)

// packetSource is the subset of *webrtc.TrackRemote the stream reads from.
type packetSource interface {
	ReadRTP() (*rtp.Packet, error)
}

// rtcpWriter is the subset of *webrtc.PeerConnection used for feedback.
type rtcpWriter interface {
	WriteRTCP(pkts []rtcp.Packet) error
}

// trackStream fans a single remote track out to any number of subscribers.
// A remote track can only be read by one goroutine; run is that reader.
type trackStream struct {
	mu     sync.Mutex
	logger commons.Logger

	id        string
	mimeType  string
	clockRate uint32
	ssrc      uint32

	source packetSource
	rtcp   rtcpWriter

	subs  map[chan *rtp.Packet]struct{}
	ended bool
	done  chan struct{}
}

func newTrackStream(
	logger commons.Logger,
	id, mimeType string,
	clockRate, ssrc uint32,
	source packetSource,
	feedback rtcpWriter,
) *trackStream {
	return &trackStream{
		logger:    logger,
		id:        id,
		mimeType:  mimeType,
		clockRate: clockRate,
		ssrc:      ssrc,
		source:    source,
		rtcp:      feedback,
		subs:      make(map[chan *rtp.Packet]struct{}),
		done:      make(chan struct{}),
	}
}

func (s *trackStream) ID() string        { return s.id }
func (s *trackStream) MimeType() string  { return s.mimeType }
func (s *trackStream) ClockRate() uint32 { return s.clockRate }

// Subscribe registers a new packet consumer. Slow consumers lose packets
// rather than stalling the reader.
func (s *trackStream) Subscribe(size int) (<-chan *rtp.Packet, func()) {
	if size <= 0 {
		size = whep_internal.DefaultSubscriberBuf
	}
	ch := make(chan *rtp.Packet, size)

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}
	n := len(s.subs)
	s.mu.Unlock()

	s.logger.Debugw("Track subscriber added", "stream", s.id, "total", n)
	return ch, func() {
		s.mu.Lock()
		_, ok := s.subs[ch]
		delete(s.subs, ch)
		n := len(s.subs)
		s.mu.Unlock()
		if ok {
			close(ch)
			s.logger.Debugw("Track subscriber removed", "stream", s.id, "total", n)
		}
	}
}

// RequestKeyframe sends a Picture Loss Indication for the track.
func (s *trackStream) RequestKeyframe() error {
	if s.rtcp == nil {
		return nil
	}
	return s.rtcp.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: s.ssrc}})
}

// Done is closed once the reader has stopped.
func (s *trackStream) Done() <-chan struct{} {
	return s.done
}

// run reads the track until EOF or too many consecutive errors, then closes
// every subscriber channel.
func (s *trackStream) run() {
	defer s.end()

	consecutiveErrors := 0
	for {
		pkt, err := s.source.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			consecutiveErrors++
			if consecutiveErrors >= whep_internal.MaxConsecutiveErrors {
				s.logger.Errorw("Too many consecutive read errors, stopping track reader", "stream", s.id, "lastError", err)
				return
			}
			continue
		}
		consecutiveErrors = 0
		if len(pkt.Payload) == 0 {
			continue
		}
		s.broadcast(pkt)
	}
}

func (s *trackStream) broadcast(pkt *rtp.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	shared := len(s.subs) > 1
	for ch := range s.subs {
		out := pkt
		if shared {
			out = pkt.Clone()
		}
		select {
		case ch <- out:
		default:
			s.logger.Warnw("Subscriber channel full, dropping packet", "stream", s.id, "seq", pkt.SequenceNumber)
		}
	}
}

func (s *trackStream) end() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	subs := s.subs
	s.subs = make(map[chan *rtp.Packet]struct{})
	s.mu.Unlock()

	for ch := range subs {
		close(ch)
	}
	close(s.done)
	s.logger.Infow("Track reader stopped", "stream", s.id)
}
