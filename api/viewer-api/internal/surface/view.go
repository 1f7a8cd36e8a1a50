// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_surface

import (
	"fmt"
	"os"
	"sync"
	"time"

	internal_type "github.com/rapidaai/whep-viewer/api/viewer-api/internal/type"
	"github.com/rapidaai/whep-viewer/pkg/commons"
)

// ViewState is what a UI needs to render the open replay.
type ViewState struct {
	Open          bool          `json:"open"`
	Playing       bool          `json:"playing"`
	Path          string        `json:"-"`
	MimeType      string        `json:"mimeType,omitempty"`
	StartAt       time.Duration `json:"startAt"`
	TimelineStart time.Duration `json:"timelineStart"`
	Duration      time.Duration `json:"duration"`
}

// Seek is the offset into the artifact file where playback begins.
func (v ViewState) Seek() time.Duration {
	if v.StartAt <= v.TimelineStart {
		return 0
	}
	return v.StartAt - v.TimelineStart
}

// HeadlessView is a replay view with no player of its own. It publishes
// open and close to the hub; the control API serves the artifact to whatever
// UI renders it.
type HeadlessView struct {
	mu     sync.Mutex
	logger commons.Logger
	hub    *Hub
	state  ViewState
}

func NewHeadlessView(logger commons.Logger, hub *Hub) *HeadlessView {
	return &HeadlessView{logger: logger, hub: hub}
}

func (v *HeadlessView) Open(artifact internal_type.PlaybackArtifact, startAt time.Duration) {
	v.mu.Lock()
	v.state = ViewState{
		Open:          true,
		Path:          artifact.Path(),
		MimeType:      artifact.MimeType(),
		StartAt:       startAt,
		TimelineStart: artifact.TimelineStart(),
		Duration:      artifact.Duration(),
	}
	v.mu.Unlock()
}

// Play fails when the artifact is gone or the start offset lies past its end.
func (v *HeadlessView) Play() error {
	v.mu.Lock()
	if !v.state.Open {
		v.mu.Unlock()
		return fmt.Errorf("no replay open")
	}
	st := v.state
	v.mu.Unlock()

	info, err := os.Stat(st.Path)
	if err != nil {
		return fmt.Errorf("artifact unavailable: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("artifact is empty")
	}
	if st.Duration > 0 && st.Seek() > st.Duration {
		return fmt.Errorf("start offset %s beyond artifact duration %s", st.Seek(), st.Duration)
	}

	v.mu.Lock()
	v.state.Playing = true
	v.mu.Unlock()

	v.hub.Publish(Event{Type: EventReplayOpened, StartAt: st.Seek().Seconds(), Artifact: st.MimeType})
	return nil
}

func (v *HeadlessView) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state.Playing = false
}

func (v *HeadlessView) Close() {
	v.mu.Lock()
	wasOpen := v.state.Open
	v.state = ViewState{}
	v.mu.Unlock()
	if wasOpen {
		v.hub.Publish(Event{Type: EventReplayClosed})
	}
}

func (v *HeadlessView) IsOpen() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state.Open
}

func (v *HeadlessView) State() ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}
