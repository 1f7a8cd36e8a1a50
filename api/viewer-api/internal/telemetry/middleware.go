// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_telemetry

import (
	"github.com/gin-gonic/gin"
)

// RequestMiddleware records request count and error count (status >= 400).
func RequestMiddleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		m.IncRequests()
		if c.Writer.Status() >= 400 {
			m.IncErrors()
		}
	}
}
