// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package replay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	replay_internal "github.com/rapidaai/whep-viewer/api/viewer-api/internal/replay/internal"
	internal_type "github.com/rapidaai/whep-viewer/api/viewer-api/internal/type"
	"github.com/rapidaai/whep-viewer/pkg/commons"
)

// ErrReplayNotOpen is returned by OpenArtifact when no replay is open.
var ErrReplayNotOpen = errors.New("no replay open")

var errReplaySuperseded = errors.New("replay superseded")

// Observer receives buffer activity, e.g. for metrics.
type Observer interface {
	RecordingChanged(recording bool)
	SegmentsRetained(n int)
	ReplayServed(window time.Duration)
}

// Status is a point-in-time view of the buffer.
type Status struct {
	Recording       bool          `json:"recording"`
	Segments        int           `json:"segments"`
	Elapsed         uint64        `json:"elapsed"`
	Capacity        int           `json:"capacity"`
	ReplayOpen      bool          `json:"replayOpen"`
	RetainedSeconds float64       `json:"retainedSeconds"`
	SegmentInterval time.Duration `json:"segmentInterval"`
}

// Buffer is the instant replay ring buffer. It records fixed time slices of
// the live track while connected, keeps at most capacity of them (oldest
// evicted first) and serves the most recent window as a playable artifact.
//
// elapsed counts every segment appended since the recording started and is
// used as the replay timeline, not wall-clock time.
type Buffer struct {
	mu     sync.Mutex
	logger commons.Logger

	capacity        int
	segmentInterval time.Duration
	defaultSeconds  int

	indicator internal_type.Indicator
	view      internal_type.ReplayView
	notifier  internal_type.Notifier
	observer  Observer
	builder   ArtifactBuilder

	segments []Segment
	elapsed  uint64
	mimeType string

	// Recorder lifecycle. generation is bumped on every start so a late
	// segment from a previous recording is dropped.
	recording      bool
	generation     uint64
	recorderCancel context.CancelFunc
	recorderDone   chan struct{}

	artifact ScopedArtifact
	// replaySeq identifies the latest PlayReplay call.
	replaySeq uint64
}

// Option configures a Buffer.
type Option func(*Buffer)

func WithCapacity(n int) Option {
	return func(b *Buffer) {
		if n > 0 {
			b.capacity = n
		}
	}
}

func WithSegmentInterval(d time.Duration) Option {
	return func(b *Buffer) {
		if d > 0 {
			b.segmentInterval = d
		}
	}
}

func WithDefaultReplaySeconds(n int) Option {
	return func(b *Buffer) {
		if n > 0 {
			b.defaultSeconds = n
		}
	}
}

func WithIndicator(i internal_type.Indicator) Option {
	return func(b *Buffer) { b.indicator = i }
}

func WithView(v internal_type.ReplayView) Option {
	return func(b *Buffer) { b.view = v }
}

func WithNotifier(n internal_type.Notifier) Option {
	return func(b *Buffer) { b.notifier = n }
}

func WithObserver(o Observer) Option {
	return func(b *Buffer) { b.observer = o }
}

func WithArtifactBuilder(ab ArtifactBuilder) Option {
	return func(b *Buffer) { b.builder = ab }
}

// NewBuffer creates an empty, idle buffer.
func NewBuffer(logger commons.Logger, opts ...Option) *Buffer {
	b := &Buffer{
		logger:          logger,
		capacity:        replay_internal.DefaultCapacity,
		segmentInterval: replay_internal.DefaultSegmentInterval,
		defaultSeconds:  replay_internal.DefaultReplaySeconds,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.indicator == nil {
		b.indicator = noopIndicator{}
	}
	if b.view == nil {
		b.view = &noopView{}
	}
	if b.notifier == nil {
		b.notifier = noopNotifier{}
	}
	if b.observer == nil {
		b.observer = noopObserver{}
	}
	if b.builder == nil {
		b.builder = NewFileArtifactBuilder("", b.segmentInterval)
	}
	return b
}

// ============================================================================
// Recording
// ============================================================================

// StartRecording begins cutting segments from stream. It is a no-op while a
// recording is already running.
func (b *Buffer) StartRecording(stream internal_type.MediaStream) {
	b.mu.Lock()
	if b.recording {
		b.mu.Unlock()
		return
	}
	b.recording = true
	b.generation++
	b.segments = nil
	b.elapsed = 0
	b.mimeType = stream.MimeType()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	b.recorderCancel = cancel
	b.recorderDone = done
	generation := b.generation
	b.mu.Unlock()

	b.indicator.Show()
	b.observer.RecordingChanged(true)
	b.observer.SegmentsRetained(0)

	packets, unsubscribe := stream.Subscribe(replay_internal.SubscriberBufferSize)
	go b.runRecorder(ctx, generation, stream, packets, unsubscribe, done)

	b.logger.Infow("Instant replay recording started",
		"stream", stream.ID(),
		"codec", stream.MimeType(),
		"interval", b.segmentInterval)
}

// StopRecording halts segment production. Collected segments stay playable
// until Cleanup. Safe to call when not recording.
func (b *Buffer) StopRecording() {
	b.mu.Lock()
	if !b.recording {
		b.mu.Unlock()
		return
	}
	b.recording = false
	cancel := b.recorderCancel
	done := b.recorderDone
	b.recorderCancel = nil
	b.recorderDone = nil
	b.mu.Unlock()

	// Wait outside the lock: the recorder flushes its last slice through
	// appendSegment, which takes mu.
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	b.indicator.Hide()
	b.observer.RecordingChanged(false)
	b.logger.Infow("Instant replay recording stopped")
}

// IsRecording reports whether segments are currently being produced.
func (b *Buffer) IsRecording() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.recording
}

// appendSegment is the segment arrival handler. Empty segments are ignored.
// Eviction is strict FIFO: the oldest segments are dropped until the buffer
// holds exactly capacity entries.
func (b *Buffer) appendSegment(generation uint64, seg Segment) {
	if seg.Empty() {
		return
	}
	b.mu.Lock()
	if generation != b.generation {
		b.mu.Unlock()
		return
	}
	b.elapsed++
	seg.Seq = b.elapsed
	b.segments = append(b.segments, seg)
	if over := len(b.segments) - b.capacity; over > 0 {
		// Copy down so the evicted segments' packets can be collected.
		kept := make([]Segment, b.capacity)
		copy(kept, b.segments[over:])
		b.segments = kept
	}
	retained := len(b.segments)
	b.mu.Unlock()

	b.observer.SegmentsRetained(retained)
}

// ============================================================================
// Playback
// ============================================================================

// PlayReplay opens the replay view on the most recent seconds of retained
// media. seconds <= 0 uses the configured default window.
//
// With no retained segments a notice is shown and ErrNoReplayData returned
// without touching any state. A rejected playback start is logged and
// returned wrapped in ErrPlaybackFailure; the view stays open until dismissed.
//
// The artifact is written without holding the buffer lock so recording keeps
// draining the live track. A build that is overtaken by Cleanup, a new
// recording or a later PlayReplay is discarded.
func (b *Buffer) PlayReplay(seconds int) error {
	b.mu.Lock()
	if len(b.segments) == 0 {
		b.mu.Unlock()
		b.notifier.Notice(replay_internal.NoticeNoReplayData)
		return internal_type.ErrNoReplayData
	}
	if seconds <= 0 {
		seconds = b.defaultSeconds
	}

	available := seconds
	if len(b.segments) < available {
		available = len(b.segments)
	}
	startAt := b.startOffset(available)
	timelineStart := time.Duration(b.elapsed-uint64(len(b.segments))) * b.segmentInterval
	elapsed := b.elapsed
	mimeType := b.mimeType
	snapshot := make([]Segment, len(b.segments))
	copy(snapshot, b.segments)

	b.replaySeq++
	seq := b.replaySeq
	generation := b.generation
	b.mu.Unlock()

	artifact, err := b.builder.Build(mimeType, snapshot, timelineStart)
	if err != nil {
		b.logger.Errorw("Failed to build replay artifact", "error", err, "codec", mimeType)
		return fmt.Errorf("%w: %v", internal_type.ErrPlaybackFailure, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if generation != b.generation || seq != b.replaySeq {
		if rErr := artifact.Release(); rErr != nil {
			b.logger.Warnw("Failed to release discarded replay artifact", "error", rErr, "artifact", artifact.Path())
		}
		b.logger.Infow("Replay superseded while building, discarding artifact")
		return fmt.Errorf("%w: %v", internal_type.ErrPlaybackFailure, errReplaySuperseded)
	}

	// A new replay replaces any open one.
	b.releaseArtifactLocked()
	b.artifact = artifact

	b.view.Open(artifact, startAt)
	b.observer.ReplayServed(time.Duration(available) * b.segmentInterval)
	b.logger.Infow("Instant replay opened",
		replay_internal.MetricWindow, available,
		replay_internal.MetricSegments, len(snapshot),
		replay_internal.MetricElapsed, elapsed,
		replay_internal.MetricStartAt, startAt,
		"artifact", artifact.Path())

	if err := b.view.Play(); err != nil {
		b.logger.Errorw("Error playing replay", "error", err)
		return fmt.Errorf("%w: %v", internal_type.ErrPlaybackFailure, err)
	}
	return nil
}

// startOffset returns where playback starts on the recording timeline so the
// last available slices are shown.
func (b *Buffer) startOffset(available int) time.Duration {
	if b.elapsed > uint64(available) {
		return time.Duration(b.elapsed-uint64(available)) * b.segmentInterval
	}
	return 0
}

// PlaybackEnded handles the natural end of a replay: the artifact is released
// and the view closed.
func (b *Buffer) PlaybackEnded() {
	b.HideReplay()
}

// HideReplay stops playback, releases the artifact and hides the view. It is
// a no-op when no replay is open.
func (b *Buffer) HideReplay() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.artifact == nil && !b.view.IsOpen() {
		return
	}
	b.releaseArtifactLocked()
}

// releaseArtifactLocked closes the view and releases the current artifact.
// Caller holds mu.
func (b *Buffer) releaseArtifactLocked() {
	if b.view.IsOpen() {
		b.view.Stop()
		b.view.Close()
	}
	if b.artifact == nil {
		return
	}
	if err := b.artifact.Release(); err != nil {
		b.logger.Warnw("Failed to release replay artifact", "error", err, "artifact", b.artifact.Path())
	}
	b.artifact = nil
}

// Artifact returns the artifact of the open replay, if any.
func (b *Buffer) Artifact() (internal_type.PlaybackArtifact, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.artifact == nil {
		return nil, false
	}
	return b.artifact, true
}

// OpenArtifact opens the file of the open replay for reading. The handle is
// taken under the buffer lock, so it stays readable even if the replay is
// dismissed and the file removed before the caller is done. The caller
// closes the file.
func (b *Buffer) OpenArtifact() (*os.File, internal_type.PlaybackArtifact, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.artifact == nil {
		return nil, nil, ErrReplayNotOpen
	}
	file, err := os.Open(b.artifact.Path())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open replay artifact: %w", err)
	}
	return file, b.artifact, nil
}

// Cleanup stops recording, discards every segment, resets elapsed and
// releases any outstanding artifact. Called on every connection teardown.
func (b *Buffer) Cleanup() {
	b.StopRecording()

	b.mu.Lock()
	b.generation++
	b.segments = nil
	b.elapsed = 0
	b.releaseArtifactLocked()
	b.mu.Unlock()

	b.observer.SegmentsRetained(0)
}

// Status returns a snapshot of the buffer.
func (b *Buffer) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		Recording:       b.recording,
		Segments:        len(b.segments),
		Elapsed:         b.elapsed,
		Capacity:        b.capacity,
		ReplayOpen:      b.artifact != nil,
		RetainedSeconds: (time.Duration(len(b.segments)) * b.segmentInterval).Seconds(),
		SegmentInterval: b.segmentInterval,
	}
}
