// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package replay

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	pionwebrtc "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/h264writer"
	"github.com/pion/webrtc/v4/pkg/media/h265writer"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	replay_internal "github.com/rapidaai/whep-viewer/api/viewer-api/internal/replay/internal"
	internal_type "github.com/rapidaai/whep-viewer/api/viewer-api/internal/type"
)

var errUnsupportedCodec = errors.New("unsupported codec for replay")

// ScopedArtifact is a playback artifact whose underlying resource must be
// released exactly once. Release is idempotent.
type ScopedArtifact interface {
	internal_type.PlaybackArtifact
	Release() error
}

// ArtifactBuilder turns retained segments into one playable artifact.
type ArtifactBuilder interface {
	Build(mimeType string, segments []Segment, timelineStart time.Duration) (ScopedArtifact, error)
}

// rtpWriter is satisfied by pion's ivfwriter, h264writer and h265writer.
type rtpWriter interface {
	WriteRTP(packet *rtp.Packet) error
	Close() error
}

// fileArtifact is a temp file holding the concatenated segments. The file is
// removed on Release.
type fileArtifact struct {
	path          string
	mimeType      string
	duration      time.Duration
	timelineStart time.Duration

	once       sync.Once
	releaseErr error
}

func (a *fileArtifact) Path() string                 { return a.path }
func (a *fileArtifact) MimeType() string             { return a.mimeType }
func (a *fileArtifact) Duration() time.Duration      { return a.duration }
func (a *fileArtifact) TimelineStart() time.Duration { return a.timelineStart }

func (a *fileArtifact) Release() error {
	a.once.Do(func() {
		if err := os.Remove(a.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			a.releaseErr = err
		}
	})
	return a.releaseErr
}

// fileArtifactBuilder writes artifacts into dir using pion's media writers:
// IVF for VP8/VP9/AV1 and Annex-B for H264/H265.
type fileArtifactBuilder struct {
	dir             string
	segmentInterval time.Duration
}

// NewFileArtifactBuilder returns a builder writing into dir. An empty dir
// uses the OS temp directory.
func NewFileArtifactBuilder(dir string, segmentInterval time.Duration) ArtifactBuilder {
	if dir == "" {
		dir = os.TempDir()
	}
	return &fileArtifactBuilder{dir: dir, segmentInterval: segmentInterval}
}

func (b *fileArtifactBuilder) Build(mimeType string, segments []Segment, timelineStart time.Duration) (ScopedArtifact, error) {
	ext, err := artifactExtension(mimeType)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	file, err := os.CreateTemp(b.dir, replay_internal.ArtifactPrefix+uuid.NewString()+"-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact file: %w", err)
	}
	artifact := &fileArtifact{
		path:          file.Name(),
		mimeType:      mimeType,
		duration:      time.Duration(len(segments)) * b.segmentInterval,
		timelineStart: timelineStart,
	}

	if err := writeSegments(file, mimeType, segments); err != nil {
		file.Close()
		artifact.Release()
		return nil, err
	}
	if err := file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		artifact.Release()
		return nil, fmt.Errorf("failed to close artifact file: %w", err)
	}
	return artifact, nil
}

func writeSegments(out io.Writer, mimeType string, segments []Segment) error {
	w, err := newRTPWriter(out, mimeType)
	if err != nil {
		return err
	}
	for _, seg := range segments {
		for _, pkt := range seg.Packets {
			if err := w.WriteRTP(pkt); err != nil {
				w.Close()
				return fmt.Errorf("failed to write segment %d: %w", seg.Seq, err)
			}
		}
	}
	// The writers close the underlying file when it is an io.Closer; the
	// caller tolerates the resulting os.ErrClosed.
	if err := w.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("failed to finalise artifact: %w", err)
	}
	return nil
}

// replayCodec describes how one negotiated video codec is written to disk.
type replayCodec struct {
	mimeType  string
	extension string
	newWriter func(out io.Writer, mimeType string) (rtpWriter, error)
}

func newIVFWriter(out io.Writer, mimeType string) (rtpWriter, error) {
	w, err := ivfwriter.NewWith(out, ivfwriter.WithCodec(mimeType))
	if err != nil {
		return nil, fmt.Errorf("failed to create ivf writer: %w", err)
	}
	return w, nil
}

// replayCodecs lists every video codec a replay can be rendered from.
var replayCodecs = []replayCodec{
	{pionwebrtc.MimeTypeH264, replay_internal.ArtifactExtH264, func(out io.Writer, _ string) (rtpWriter, error) {
		return h264writer.NewWith(out), nil
	}},
	{pionwebrtc.MimeTypeH265, replay_internal.ArtifactExtH265, func(out io.Writer, _ string) (rtpWriter, error) {
		return h265writer.NewWith(out), nil
	}},
	{pionwebrtc.MimeTypeVP8, replay_internal.ArtifactExtIVF, newIVFWriter},
	{pionwebrtc.MimeTypeVP9, replay_internal.ArtifactExtIVF, newIVFWriter},
	{pionwebrtc.MimeTypeAV1, replay_internal.ArtifactExtIVF, newIVFWriter},
}

func lookupCodec(mimeType string) (replayCodec, error) {
	for _, c := range replayCodecs {
		if strings.EqualFold(c.mimeType, mimeType) {
			return c, nil
		}
	}
	return replayCodec{}, fmt.Errorf("%w: %s", errUnsupportedCodec, mimeType)
}

// SupportsCodec reports whether a replay can be built from media of the
// given mime type.
func SupportsCodec(mimeType string) bool {
	_, err := lookupCodec(mimeType)
	return err == nil
}

// newRTPWriter passes the canonical mime type on; the ivf writer matches it
// case-sensitively.
func newRTPWriter(out io.Writer, mimeType string) (rtpWriter, error) {
	c, err := lookupCodec(mimeType)
	if err != nil {
		return nil, err
	}
	return c.newWriter(out, c.mimeType)
}

func artifactExtension(mimeType string) (string, error) {
	c, err := lookupCodec(mimeType)
	if err != nil {
		return "", err
	}
	return c.extension, nil
}
