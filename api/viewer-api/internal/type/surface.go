// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_type

import "time"

// RenderSink displays the live stream. The viewer never renders pixels.
type RenderSink interface {
	Attach(stream MediaStream)
	Detach()
}

// PlaybackArtifact is a playable clip built from retained segments.
type PlaybackArtifact interface {
	Path() string
	MimeType() string
	Duration() time.Duration
	// TimelineStart is the recording-timeline position of the first frame in
	// the artifact. Replay start offsets are expressed on that timeline.
	TimelineStart() time.Duration
}

// ReplayView is the modal/player surface showing an instant replay.
type ReplayView interface {
	Open(artifact PlaybackArtifact, startAt time.Duration)
	// Play starts playback of the opened artifact.
	Play() error
	Stop()
	Close()
	IsOpen() bool
}

// Indicator is the "recording" badge shown while the replay buffer records.
type Indicator interface {
	Show()
	Hide()
}

// Notifier surfaces short user-facing notices.
type Notifier interface {
	Notice(message string)
}
