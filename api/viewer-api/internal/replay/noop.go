// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package replay

import (
	"time"

	internal_type "github.com/rapidaai/whep-viewer/api/viewer-api/internal/type"
)

type noopIndicator struct{}

func (noopIndicator) Show() {}
func (noopIndicator) Hide() {}

type noopNotifier struct{}

func (noopNotifier) Notice(string) {}

type noopObserver struct{}

func (noopObserver) RecordingChanged(bool)      {}
func (noopObserver) SegmentsRetained(int)       {}
func (noopObserver) ReplayServed(time.Duration) {}

// noopView tracks open/closed only.
type noopView struct{ open bool }

func (v *noopView) Open(internal_type.PlaybackArtifact, time.Duration) { v.open = true }
func (v *noopView) Play() error                                        { return nil }
func (v *noopView) Stop()                                              {}
func (v *noopView) Close()                                             { v.open = false }
func (v *noopView) IsOpen() bool                                       { return v.open }
