// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the /v1/viewer/* endpoints.
//
// Example:
//
//	v1 := router.Group("/v1")
//	server.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	viewer := rg.Group("/viewer")
	{
		viewer.GET("/health", h.HandleHealth)

		// Session lifecycle
		viewer.GET("/session", h.HandleGetSession)
		viewer.POST("/session", h.HandleOpen)
		viewer.DELETE("/session", h.HandleClose)
		viewer.POST("/session/retry", h.HandleRetry)
		viewer.POST("/submit", h.HandleSubmit)

		// View controls
		viewer.PUT("/level", h.HandleLevel)
		viewer.POST("/select", h.HandleSelect)

		// Layout output
		viewer.GET("/frame", h.HandleFrame)
		viewer.GET("/export", h.HandleExport)
		viewer.GET("/stream", h.HandleStream)
	}
}
