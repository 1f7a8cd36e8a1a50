// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package replay_internal

import "time"

// Buffer sizing. One segment is one recording time slice.
const (
	DefaultCapacity        = 120         // ~2 minutes at 1s per segment
	DefaultSegmentInterval = time.Second // recording time slice
	DefaultReplaySeconds   = 15          // replay window when none is requested
	SubscriberBufferSize   = 1024        // ~1s of 1080p video packets
)

// Notices shown to the viewer.
const (
	NoticeNoReplayData = "No replay data available"
)

// Artifact naming.
const (
	ArtifactPrefix  = "replay-"
	ArtifactExtIVF  = ".ivf"
	ArtifactExtH264 = ".h264"
	ArtifactExtH265 = ".h265"
)

// Metric name constants for replay-level log fields.
const (
	MetricSegments = "SEGMENTS"
	MetricElapsed  = "ELAPSED"
	MetricStartAt  = "START_AT"
	MetricWindow   = "WINDOW_SECONDS"
)
