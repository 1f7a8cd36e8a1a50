// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package replay

import (
	"context"
	"time"

	"github.com/pion/rtp"
	internal_type "github.com/rapidaai/whep-viewer/api/viewer-api/internal/type"
)

// runRecorder accumulates packets and cuts one Segment per interval:
//
//	stream -> packets -> pending -> (tick) -> appendSegment
//
// A keyframe is requested at every cut so each retained slice can start a
// decodable replay. On cancellation the partial slice is flushed, matching a
// recorder that emits its remaining data when stopped.
func (b *Buffer) runRecorder(
	ctx context.Context,
	generation uint64,
	stream internal_type.MediaStream,
	packets <-chan *rtp.Packet,
	unsubscribe func(),
	done chan struct{},
) {
	defer close(done)
	defer unsubscribe()

	ticker := time.NewTicker(b.segmentInterval)
	defer ticker.Stop()

	var pending []*rtp.Packet
	cut := func() {
		if len(pending) == 0 {
			return
		}
		b.appendSegment(generation, newSegment(pending))
		pending = nil
	}

	if err := stream.RequestKeyframe(); err != nil {
		b.logger.Debugw("Keyframe request failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			cut()
			return

		case pkt, ok := <-packets:
			if !ok {
				// Track ended; keep what was collected.
				cut()
				b.recorderStopped(generation)
				return
			}
			pending = append(pending, pkt)

		case <-ticker.C:
			cut()
			if err := stream.RequestKeyframe(); err != nil {
				b.logger.Debugw("Keyframe request failed", "error", err)
			}
		}
	}
}

// recorderStopped marks the recording finished when the source went away on
// its own.
func (b *Buffer) recorderStopped(generation uint64) {
	b.mu.Lock()
	if generation != b.generation || !b.recording {
		b.mu.Unlock()
		return
	}
	b.recording = false
	b.recorderCancel = nil
	b.recorderDone = nil
	b.mu.Unlock()

	b.indicator.Hide()
	b.observer.RecordingChanged(false)
	b.logger.Infow("Instant replay source ended, recording stopped")
}
