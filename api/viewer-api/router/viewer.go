// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package viewer_routers

import (
	"github.com/gin-gonic/gin"
	viewerApi "github.com/rapidaai/whep-viewer/api/viewer-api/api/viewer"
	"github.com/rapidaai/whep-viewer/api/viewer-api/config"
	"github.com/rapidaai/whep-viewer/api/viewer-api/internal/connection"
	internal_surface "github.com/rapidaai/whep-viewer/api/viewer-api/internal/surface"
	"github.com/rapidaai/whep-viewer/pkg/commons"
)

func ViewerApiRoute(
	cfg *config.AppConfig,
	engine *gin.Engine,
	logger commons.Logger,
	manager *connection.Manager,
	hub *internal_surface.Hub,
	view *internal_surface.HeadlessView,
	sink *internal_surface.CountingSink,
) {
	logger.Info("Viewer routes added to engine.")
	apiv1 := engine.Group("v1")
	api := viewerApi.NewViewerApi(cfg, logger, manager, hub, view, sink)
	{
		apiv1.POST("/stream/start", api.StartStream)
		apiv1.POST("/stream/stop", api.StopStream)
		apiv1.POST("/visibility", api.SetVisibility)

		apiv1.POST("/replay", api.PlayReplay)
		apiv1.POST("/replay/hide", api.HideReplay)
		apiv1.POST("/replay/ended", api.ReplayEnded)
		apiv1.GET("/replay/artifact", api.ReplayArtifact)

		apiv1.GET("/status", api.Status)
		apiv1.GET("/events", api.Events)
	}
}
