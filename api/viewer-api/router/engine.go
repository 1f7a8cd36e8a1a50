// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package viewer_routers

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	internal_telemetry "github.com/rapidaai/whep-viewer/api/viewer-api/internal/telemetry"
	"github.com/rapidaai/whep-viewer/pkg/commons"
)

// NewEngine builds the gin engine with recovery, CORS, request logging and
// request metrics.
func NewEngine(logger commons.Logger, metrics *internal_telemetry.Metrics) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "X-Replay-Seek"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	engine.Use(requestLogger(logger))
	engine.Use(internal_telemetry.RequestMiddleware(metrics))
	return engine
}

func requestLogger(logger commons.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugw("Request handled",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"took", time.Since(start))
	}
}
