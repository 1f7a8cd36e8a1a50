// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_surface

import (
	"sync"
	"sync/atomic"

	internal_type "github.com/rapidaai/whep-viewer/api/viewer-api/internal/type"
	"github.com/rapidaai/whep-viewer/pkg/commons"
)

const sinkBufferSize = 512

// SinkStats counts what reached the render sink.
type SinkStats struct {
	Attached bool   `json:"attached"`
	Stream   string `json:"stream,omitempty"`
	Codec    string `json:"codec,omitempty"`
	Packets  uint64 `json:"packets"`
	Bytes    uint64 `json:"bytes"`
	Frames   uint64 `json:"frames"`
}

// CountingSink is a headless render sink: it consumes the live track and
// keeps counters instead of drawing pixels.
type CountingSink struct {
	mu     sync.Mutex
	logger commons.Logger

	stream internal_type.MediaStream
	cancel func()
	done   chan struct{}

	packets atomic.Uint64
	bytes   atomic.Uint64
	frames  atomic.Uint64
}

func NewCountingSink(logger commons.Logger) *CountingSink {
	return &CountingSink{logger: logger}
}

// Attach starts consuming stream, replacing any previously attached one.
func (s *CountingSink) Attach(stream internal_type.MediaStream) {
	s.Detach()

	packets, cancel := stream.Subscribe(sinkBufferSize)
	done := make(chan struct{})

	s.mu.Lock()
	s.stream = stream
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	s.packets.Store(0)
	s.bytes.Store(0)
	s.frames.Store(0)

	go func() {
		defer close(done)
		for pkt := range packets {
			s.packets.Add(1)
			s.bytes.Add(uint64(len(pkt.Payload)))
			if pkt.Marker {
				s.frames.Add(1)
			}
		}
	}()
	s.logger.Infow("Render sink attached", "stream", stream.ID(), "codec", stream.MimeType())
}

// Detach stops consuming. Safe when nothing is attached.
func (s *CountingSink) Detach() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	attached := s.stream != nil
	s.stream, s.cancel, s.done = nil, nil, nil
	s.mu.Unlock()

	if !attached {
		return
	}
	cancel()
	<-done
	s.logger.Infow("Render sink detached", "packets", s.packets.Load(), "frames", s.frames.Load())
}

func (s *CountingSink) Stats() SinkStats {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()

	st := SinkStats{
		Attached: stream != nil,
		Packets:  s.packets.Load(),
		Bytes:    s.bytes.Load(),
		Frames:   s.frames.Load(),
	}
	if stream != nil {
		st.Stream = stream.ID()
		st.Codec = stream.MimeType()
	}
	return st
}
