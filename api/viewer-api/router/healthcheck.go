// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package viewer_routers

import (
	"github.com/gin-gonic/gin"
	healthCheckApi "github.com/rapidaai/whep-viewer/api/viewer-api/api/health-check"
	"github.com/rapidaai/whep-viewer/api/viewer-api/config"
	"github.com/rapidaai/whep-viewer/pkg/commons"
)

func HealthCheckRoutes(cfg *config.AppConfig, engine *gin.Engine, logger commons.Logger, ready func() bool) {
	logger.Info("Internal HealthCheckRoutes added to engine.")
	apiv1 := engine.Group("")
	hcApi := healthCheckApi.New(cfg, logger, ready)
	{
		apiv1.GET("/readiness/", hcApi.Readiness)
		apiv1.GET("/healthz/", hcApi.Healthz)
	}
}
