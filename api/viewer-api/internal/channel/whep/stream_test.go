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
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chanSource feeds packets from a channel; a closed channel reads as EOF.
type chanSource struct {
	ch chan *rtp.Packet
}

func (c *chanSource) ReadRTP() (*rtp.Packet, error) {
	pkt, ok := <-c.ch
	if !ok {
		return nil, io.EOF
	}
	return pkt, nil
}

type errSource struct{}

func (errSource) ReadRTP() (*rtp.Packet, error) { return nil, errors.New("srtp: bad auth tag") }

type recordingRTCP struct {
	mu   sync.Mutex
	pkts []rtcp.Packet
}

func (r *recordingRTCP) WriteRTCP(pkts []rtcp.Packet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pkts = append(r.pkts, pkts...)
	return nil
}

func testPacket(seq uint16) *rtp.Packet {
	return &rtp.Packet{Header: rtp.Header{Version: 2, SequenceNumber: seq}, Payload: []byte{1, 2, 3}}
}

func TestTrackStream_FansOutToSubscribers(t *testing.T) {
	src := &chanSource{ch: make(chan *rtp.Packet)}
	s := newTrackStream(newTestLogger(t), "s/v", "video/VP8", 90000, 1234, src, nil)

	a, cancelA := s.Subscribe(8)
	b, cancelB := s.Subscribe(8)
	defer cancelA()
	defer cancelB()
	go s.run()

	src.ch <- testPacket(7)

	for _, ch := range []<-chan *rtp.Packet{a, b} {
		select {
		case pkt := <-ch:
			assert.Equal(t, uint16(7), pkt.SequenceNumber)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive packet")
		}
	}
	close(src.ch)
	<-s.Done()
}

func TestTrackStream_SkipsEmptyPayload(t *testing.T) {
	src := &chanSource{ch: make(chan *rtp.Packet, 2)}
	s := newTrackStream(newTestLogger(t), "s/v", "video/VP8", 90000, 1, src, nil)
	ch, cancel := s.Subscribe(4)
	defer cancel()

	src.ch <- &rtp.Packet{Header: rtp.Header{SequenceNumber: 1}}
	src.ch <- testPacket(2)
	close(src.ch)
	s.run()

	pkt, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, uint16(2), pkt.SequenceNumber)
	_, ok = <-ch
	assert.False(t, ok, "channel closed once the track ends")
}

func TestTrackStream_EndClosesSubscribers(t *testing.T) {
	src := &chanSource{ch: make(chan *rtp.Packet)}
	s := newTrackStream(newTestLogger(t), "s/v", "video/H264", 90000, 1, src, nil)
	ch, cancel := s.Subscribe(1)
	go s.run()

	close(src.ch)
	<-s.Done()

	_, ok := <-ch
	assert.False(t, ok)
	assert.NotPanics(t, cancel, "cancel after end must not double close")

	late, _ := s.Subscribe(1)
	_, ok = <-late
	assert.False(t, ok, "subscribing to an ended stream yields a closed channel")
}

func TestTrackStream_StopsAfterConsecutiveErrors(t *testing.T) {
	s := newTrackStream(newTestLogger(t), "s/v", "video/VP8", 90000, 1, errSource{}, nil)
	done := make(chan struct{})
	go func() {
		s.run()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reader did not stop")
	}
}

func TestTrackStream_UnsubscribeStopsDelivery(t *testing.T) {
	src := &chanSource{ch: make(chan *rtp.Packet)}
	s := newTrackStream(newTestLogger(t), "s/v", "video/VP8", 90000, 1, src, nil)
	ch, cancel := s.Subscribe(1)
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	s.mu.Lock()
	assert.Empty(t, s.subs)
	s.mu.Unlock()
}

func TestTrackStream_SlowSubscriberDropsPackets(t *testing.T) {
	src := &chanSource{ch: make(chan *rtp.Packet, 3)}
	s := newTrackStream(newTestLogger(t), "s/v", "video/VP8", 90000, 1, src, nil)
	ch, cancel := s.Subscribe(1)
	defer cancel()

	src.ch <- testPacket(1)
	src.ch <- testPacket(2)
	src.ch <- testPacket(3)
	close(src.ch)
	s.run()

	pkt := <-ch
	assert.Equal(t, uint16(1), pkt.SequenceNumber, "reader never blocks on a full subscriber")
}

func TestTrackStream_RequestKeyframeSendsPLI(t *testing.T) {
	feedback := &recordingRTCP{}
	s := newTrackStream(newTestLogger(t), "s/v", "video/VP8", 90000, 4242, &chanSource{}, feedback)

	require.NoError(t, s.RequestKeyframe())

	require.Len(t, feedback.pkts, 1)
	pli, ok := feedback.pkts[0].(*rtcp.PictureLossIndication)
	require.True(t, ok)
	assert.Equal(t, uint32(4242), pli.MediaSSRC)
}

func TestTrackStream_Accessors(t *testing.T) {
	s := newTrackStream(newTestLogger(t), "stream/video", "video/AV1", 90000, 1, &chanSource{}, nil)
	assert.Equal(t, "stream/video", s.ID())
	assert.Equal(t, "video/AV1", s.MimeType())
	assert.Equal(t, uint32(90000), s.ClockRate())
	assert.NoError(t, s.RequestKeyframe(), "no feedback channel is not an error")
}
