// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package replay

import "github.com/pion/rtp"

// Segment is one recording time slice of RTP packets. It is never modified
// after it has been appended to a Buffer.
type Segment struct {
	// Seq is the ordinal of the segment since the recording started (1-based).
	Seq     uint64
	Packets []*rtp.Packet
	// Size is the total payload size in bytes.
	Size int
}

// Empty reports whether the segment carries no media.
func (s Segment) Empty() bool {
	return len(s.Packets) == 0
}

func newSegment(packets []*rtp.Packet) Segment {
	size := 0
	for _, p := range packets {
		size += len(p.Payload)
	}
	return Segment{Packets: packets, Size: size}
}
