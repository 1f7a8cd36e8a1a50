// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package viewer_api

import (
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rapidaai/whep-viewer/api/viewer-api/config"
	"github.com/rapidaai/whep-viewer/api/viewer-api/internal/connection"
	"github.com/rapidaai/whep-viewer/api/viewer-api/internal/replay"
	internal_surface "github.com/rapidaai/whep-viewer/api/viewer-api/internal/surface"
	internal_type "github.com/rapidaai/whep-viewer/api/viewer-api/internal/type"
	"github.com/rapidaai/whep-viewer/pkg/commons"
)

type viewerApi struct {
	cfg     *config.AppConfig
	logger  commons.Logger
	manager *connection.Manager
	hub     *internal_surface.Hub
	view    *internal_surface.HeadlessView
	sink    *internal_surface.CountingSink
}

// ViewerApi is the HTTP control surface of the viewer.
type ViewerApi struct {
	viewerApi
}

func NewViewerApi(
	cfg *config.AppConfig,
	logger commons.Logger,
	manager *connection.Manager,
	hub *internal_surface.Hub,
	view *internal_surface.HeadlessView,
	sink *internal_surface.CountingSink,
) *ViewerApi {
	return &ViewerApi{viewerApi{
		cfg:     cfg,
		logger:  logger,
		manager: manager,
		hub:     hub,
		view:    view,
		sink:    sink,
	}}
}

type visibilityRequest struct {
	Visible *bool `json:"visible" binding:"required"`
}

type statusResponse struct {
	connection.Status
	Sink       internal_surface.SinkStats `json:"sink"`
	ReplayView internal_surface.ViewState `json:"replayView"`
}

func (api *viewerApi) status() statusResponse {
	return statusResponse{
		Status:     api.manager.Status(),
		Sink:       api.sink.Stats(),
		ReplayView: api.view.State(),
	}
}

// StartStream opens a new session and answers once its handshake finished.
//
// @Router /v1/stream/start [post]
func (api *viewerApi) StartStream(c *gin.Context) {
	if err := api.manager.StartStream(c.Request.Context()); err != nil {
		api.logger.Errorw("Failed to start stream", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, api.status())
}

// @Router /v1/stream/stop [post]
func (api *viewerApi) StopStream(c *gin.Context) {
	if err := api.manager.Stop(c.Request.Context()); err != nil {
		api.logger.Errorw("Failed to stop stream", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, api.status())
}

// @Router /v1/visibility [post]
func (api *viewerApi) SetVisibility(c *gin.Context) {
	var req visibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be {\"visible\": bool}"})
		return
	}
	api.manager.SetVisible(*req.Visible)
	c.Status(http.StatusAccepted)
}

// PlayReplay opens the last ?seconds=N of the live stream.
//
// @Router /v1/replay [post]
func (api *viewerApi) PlayReplay(c *gin.Context) {
	seconds := 0
	if raw := c.Query("seconds"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "seconds must be a non-negative integer"})
			return
		}
		seconds = n
	}

	err := api.manager.Replay().PlayReplay(seconds)
	switch {
	case errors.Is(err, internal_type.ErrNoReplayData):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "replayView": api.view.State()})
		return
	}
	c.JSON(http.StatusOK, api.view.State())
}

// @Router /v1/replay/hide [post]
func (api *viewerApi) HideReplay(c *gin.Context) {
	api.manager.Replay().HideReplay()
	c.Status(http.StatusNoContent)
}

// @Router /v1/replay/ended [post]
func (api *viewerApi) ReplayEnded(c *gin.Context) {
	api.manager.Replay().PlaybackEnded()
	c.Status(http.StatusNoContent)
}

// ReplayArtifact serves the file of the open replay. X-Replay-Seek carries
// the playback start offset within the file, in seconds.
//
// @Router /v1/replay/artifact [get]
func (api *viewerApi) ReplayArtifact(c *gin.Context) {
	file, artifact, err := api.manager.Replay().OpenArtifact()
	if err != nil {
		if errors.Is(err, replay.ErrReplayNotOpen) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no replay open"})
			return
		}
		api.logger.Errorw("Failed to open replay artifact", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	// The open handle keeps the content readable if the replay is dismissed
	// while the response is written.
	defer file.Close()

	c.Header("Content-Type", artifactContentType(artifact.MimeType()))
	c.Header("X-Replay-Seek", strconv.FormatFloat(api.view.State().Seek().Seconds(), 'f', 3, 64))
	http.ServeContent(c.Writer, c.Request, filepath.Base(artifact.Path()), time.Time{}, file)
}

// @Router /v1/status [get]
func (api *viewerApi) Status(c *gin.Context) {
	c.JSON(http.StatusOK, api.status())
}

func artifactContentType(mimeType string) string {
	switch {
	case strings.EqualFold(mimeType, "video/H264"):
		return "video/h264"
	case strings.EqualFold(mimeType, "video/H265"):
		return "video/h265"
	}
	return "video/x-ivf"
}
