// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package health_check_api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rapidaai/whep-viewer/api/viewer-api/config"
	"github.com/rapidaai/whep-viewer/pkg/commons"
)

type healthCheckApi struct {
	cfg    *config.AppConfig
	logger commons.Logger
	ready  func() bool
}

// New returns the readiness and liveness handlers. ready reports whether the
// viewer can serve; nil means always ready.
func New(cfg *config.AppConfig, logger commons.Logger, ready func() bool) *healthCheckApi {
	return &healthCheckApi{cfg: cfg, logger: logger, ready: ready}
}

func (h *healthCheckApi) Readiness(c *gin.Context) {
	if h.ready != nil && !h.ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": h.cfg.Name, "version": h.cfg.Version})
}

func (h *healthCheckApi) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
