// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package viewer_routers

import (
	"github.com/gin-gonic/gin"
	internal_telemetry "github.com/rapidaai/whep-viewer/api/viewer-api/internal/telemetry"
	"github.com/rapidaai/whep-viewer/pkg/commons"
)

func MetricsRoutes(engine *gin.Engine, logger commons.Logger, metrics *internal_telemetry.Metrics) {
	logger.Info("Metrics route added to engine.")
	engine.GET("/metrics", gin.WrapH(metrics.Handler()))
}
